package sendd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"payconfirm/core/readiness"
	"payconfirm/core/submission"
	"payconfirm/core/units"
	"payconfirm/core/workflow"
	"payconfirm/network"
	"payconfirm/observability/logging"
	telemetry "payconfirm/observability/otel"
	"payconfirm/services/sendd/middleware"
)

// Main initialises and runs the confirmation daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/sendd/config.yaml", "path to sendd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("PAYCONFIRM_ENV"))
	logger := logging.SetupWithOptions("sendd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "sendd",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	unit, err := units.ParseUnit(cfg.Display.BitcoinUnit)
	if err != nil {
		return err
	}

	session, err := OpenSessionStore(cfg.Storage.SessionPath)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()
	// A request left behind by an unclean exit belongs to no workflow.
	if err := session.Clear(context.Background()); err != nil {
		return fmt.Errorf("clear stale session: %w", err)
	}

	attempts, err := OpenAttemptStore(cfg.Storage.AuditDSN)
	if err != nil {
		return err
	}
	defer func() { _ = attempts.Close() }()

	node := NewRPCNodeClient(cfg.Node.RPCURL, cfg.Node.AuthToken, cfg.Node.Timeout.Duration)

	var control network.ControlProbe
	if cfg.Node.GRPCTarget != "" {
		dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := network.Dial(dialCtx, cfg.Node.GRPCTarget, cfg.Node.HealthService)
		cancel()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		control = client
	} else {
		logger.Warn("no grpc_target configured; control channel will never report ready")
	}

	tracker := network.NewStatusTracker(node, control,
		network.WithInterval(cfg.Node.PollInterval.Duration),
		network.WithTrackerLogger(logger),
	)
	manager := workflow.NewManager(logger)

	server, err := NewServer(ServerConfig{
		Node:      node,
		Session:   session,
		Attempts:  attempts,
		Readiness: tracker,
		Manager:   manager,
		Display:   Display{Unit: unit, FiatUnit: cfg.Display.FiatUnit, FiatRate: cfg.Display.FiatRate},
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		Limits: map[string]middleware.RateLimit{
			limitSubmit:   {RatePerSecond: cfg.RateLimit.SubmitPerSecond, Burst: cfg.RateLimit.SubmitBurst},
			limitWorkflow: {RatePerSecond: cfg.RateLimit.SubmitPerSecond, Burst: cfg.RateLimit.SubmitBurst},
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go tracker.Run(stopCtx)
	go forwardReadiness(stopCtx, tracker.Subscribe(), server)
	if err := server.Balances().RefreshBalance(stopCtx); err != nil {
		logger.Warn("initial balance load failed", slog.String("error", err.Error()))
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("sendd listening", slog.String("address", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.End(shutdownCtx, workflow.ReasonShutdown); err != nil && !errors.Is(err, workflow.ErrNoWorkflow) {
			logger.Warn("workflow shutdown cleanup failed", slog.String("error", err.Error()))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func forwardReadiness(ctx context.Context, updates <-chan readiness.Signals, server *Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			server.Publish()
		}
	}
}

// writeTimeout covers a submit request: the payment call and the bounded
// balance refresh that follows it.
func writeTimeout(cfg Config) time.Duration {
	return cfg.Node.Timeout.Duration + submission.RefreshTimeout + 15*time.Second
}
