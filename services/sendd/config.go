package sendd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"payconfirm/core/units"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for sendd.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	Node          NodeConfig    `yaml:"node"`
	Storage       StorageConfig `yaml:"storage"`
	Display       DisplayConfig `yaml:"display"`
	Auth          AuthConfig    `yaml:"auth"`
	RateLimit     RateConfig    `yaml:"rate_limit"`
	Logging       LogConfig     `yaml:"logging"`
	Telemetry     TelemetryConf `yaml:"telemetry"`
}

// NodeConfig describes how to reach the Lightning node.
type NodeConfig struct {
	RPCURL        string   `yaml:"rpc_url"`
	AuthToken     string   `yaml:"auth_token"`
	AuthTokenFile string   `yaml:"auth_token_file"`
	GRPCTarget    string   `yaml:"grpc_target"`
	HealthService string   `yaml:"health_service"`
	PollInterval  Duration `yaml:"poll_interval"`
	Timeout       Duration `yaml:"timeout"`
}

// StorageConfig points at the session and audit stores.
type StorageConfig struct {
	SessionPath string `yaml:"session_path"`
	AuditDSN    string `yaml:"audit_dsn"`
}

// DisplayConfig controls amount formatting in the presentation model.
type DisplayConfig struct {
	BitcoinUnit string  `yaml:"bitcoin_unit"`
	FiatUnit    string  `yaml:"fiat_unit"`
	FiatRate    float64 `yaml:"fiat_rate"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	Enabled        bool     `yaml:"enabled"`
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateConfig throttles the mutating endpoints.
type RateConfig struct {
	SubmitPerSecond float64 `yaml:"submit_per_second"`
	SubmitBurst     int     `yaml:"submit_burst"`
}

// LogConfig mirrors logging.Options.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConf toggles OTLP export.
type TelemetryConf struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Node.normalise(); err != nil {
		return cfg, fmt.Errorf("node: %w", err)
	}
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Node.PollInterval.Duration == 0 {
		cfg.Node.PollInterval.Duration = 2 * time.Second
	}
	if cfg.Node.Timeout.Duration == 0 {
		cfg.Node.Timeout.Duration = 60 * time.Second
	}
	if cfg.Node.HealthService == "" {
		cfg.Node.HealthService = "lnrpc.Lightning"
	}
	if cfg.Storage.SessionPath == "" {
		cfg.Storage.SessionPath = "data/session"
	}
	if cfg.Storage.AuditDSN == "" {
		cfg.Storage.AuditDSN = "data/attempts.db"
	}
	if cfg.Display.BitcoinUnit == "" {
		cfg.Display.BitcoinUnit = string(units.UnitSatoshi)
	}
	if cfg.Display.FiatUnit == "" {
		cfg.Display.FiatUnit = "USD"
	}
	if cfg.RateLimit.SubmitPerSecond <= 0 {
		cfg.RateLimit.SubmitPerSecond = 1
	}
	if cfg.RateLimit.SubmitBurst <= 0 {
		cfg.RateLimit.SubmitBurst = 3
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Node.RPCURL) == "" {
		return fmt.Errorf("node rpc_url must be configured")
	}
	if _, err := units.ParseUnit(cfg.Display.BitcoinUnit); err != nil {
		return err
	}
	if cfg.Display.FiatRate < 0 {
		return fmt.Errorf("display fiat_rate must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be between 0 and 1")
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth enabled but no hmac secret configured")
	}
	return nil
}

func (n *NodeConfig) normalise() error {
	n.RPCURL = strings.TrimSpace(n.RPCURL)
	n.GRPCTarget = strings.TrimSpace(n.GRPCTarget)
	if path := strings.TrimSpace(n.AuthTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read auth_token_file: %w", err)
		}
		n.AuthToken = strings.TrimSpace(string(contents))
	}
	n.AuthToken = strings.TrimSpace(n.AuthToken)
	return nil
}

func (a *AuthConfig) normalise() error {
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	a.HMACSecretEnv = strings.TrimSpace(a.HMACSecretEnv)
	a.HMACSecretFile = strings.TrimSpace(a.HMACSecretFile)
	if a.HMACSecret != "" || !a.Enabled {
		return nil
	}
	switch {
	case a.HMACSecretEnv != "":
		value := strings.TrimSpace(os.Getenv(a.HMACSecretEnv))
		if value == "" {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
		a.HMACSecret = value
	case a.HMACSecretFile != "":
		contents, err := os.ReadFile(a.HMACSecretFile)
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		a.HMACSecret = strings.TrimSpace(string(contents))
	}
	return nil
}
