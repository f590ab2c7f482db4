package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the sendctl client configuration.
type Config struct {
	Endpoint  string `toml:"Endpoint"`
	Token     string `toml:"Token"`
	TokenEnv  string `toml:"TokenEnv"`
	Timeout   string `toml:"Timeout"`
	ReadyWait string `toml:"ReadyWait"`
	// AssumeYes skips the interactive confirmation prompt.
	AssumeYes bool `toml:"AssumeYes"`
}

const (
	defaultEndpoint  = "http://127.0.0.1:7090"
	defaultTimeout   = "2m"
	defaultReadyWait = "2m"
)

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid Endpoint %q", c.Endpoint)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("endpoint must use http or https, got %q", parsed.Scheme)
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid Timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.ReadyWait); err != nil {
		return fmt.Errorf("invalid ReadyWait: %w", err)
	}
	return nil
}

// BearerToken resolves the API token, preferring TokenEnv when it is set.
func (c *Config) BearerToken() string {
	if env := strings.TrimSpace(c.TokenEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.Token)
}

// RequestTimeout returns the parsed per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// ReadyTimeout returns how long sendctl waits for the node to become ready.
func (c *Config) ReadyTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadyWait)
	return d
}

func applyDefaults(cfg *Config) {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if strings.TrimSpace(cfg.Timeout) == "" {
		cfg.Timeout = defaultTimeout
	}
	if strings.TrimSpace(cfg.ReadyWait) == "" {
		cfg.ReadyWait = defaultReadyWait
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Endpoint:  defaultEndpoint,
		TokenEnv:  "SENDCTL_TOKEN",
		Timeout:   defaultTimeout,
		ReadyWait: defaultReadyWait,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
