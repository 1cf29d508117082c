package spendgated

import (
	"context"
	"encoding/hex"
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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"spendgate/audit"
	"spendgate/core/events"
	"spendgate/crypto"
	"spendgate/native/spend"
	"spendgate/native/token"
	"spendgate/observability"
	"spendgate/observability/logging"
	"spendgate/observability/otel"
	"spendgate/storage"
)

// Main wires configuration, storage, the spend engine, and the HTTP surface,
// then serves until interrupted.
func Main() {
	var configPath string
	flag.StringVar(&configPath, "config", "services/spendgated/config.yaml", "path to configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SPENDGATE_ENV"))
	if env == "" {
		env = "development"
	}
	logger := logging.Setup("spendgated", env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "spendgated",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    strings.EqualFold(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), "true"),
			Headers:     otel.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("telemetry init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("spendgated terminated", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	var db storage.Database
	if strings.TrimSpace(cfg.DataDir) != "" {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open data dir: %w", err)
		}
		db = leveldb
	} else {
		logger.Warn("no data_dir configured, spend ledger will not survive restarts")
		db = storage.NewMemDB()
	}
	defer db.Close()

	policies := spend.NewPolicyStore(spend.NewDatabaseStore(db))
	if path := strings.TrimSpace(cfg.PoliciesPath); path != "" {
		if _, err := os.Stat(path); err == nil {
			bootstrap, err := LoadPolicies(path)
			if err != nil {
				return fmt.Errorf("load policies: %w", err)
			}
			for _, entry := range bootstrap {
				if err := policies.SetPolicy(entry.Principal, entry.Policy); err != nil {
					return fmt.Errorf("bootstrap policy %s: %w", entry.Principal, err)
				}
			}
			logger.Info("bootstrap policies loaded", "count", len(bootstrap))
		}
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.Executor.Key, "0x"))
	if err != nil {
		return fmt.Errorf("decode executor key: %w", err)
	}
	executorKey, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("parse executor key: %w", err)
	}
	executor := executorKey.PubKey().Address()

	forwardTarget, err := crypto.DecodeAddress(cfg.Forward.Target)
	if err != nil {
		return fmt.Errorf("decode forward target: %w", err)
	}
	if strings.TrimSpace(cfg.Forward.URL) == "" {
		return fmt.Errorf("forward url must be configured")
	}
	forwarder := NewHTTPForwarder(cfg.Forward.URL, cfg.Forward.Timeout.Duration)

	var emitter events.Emitter = events.NoopEmitter{}
	if strings.TrimSpace(cfg.Audit.Path) != "" {
		sink := audit.NewFileSink(audit.FileSinkConfig{
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		})
		defer sink.Close()
		emitter = sink
	}

	ledger := token.NewLedger(cfg.ChainID)
	engine := spend.NewEngine(ledger, policies, forwarder, executor, forwardTarget,
		spend.WithEmitter(emitter),
		spend.WithPaused(cfg.PauseOnStart),
	)
	observability.Spend().SetPause(cfg.PauseOnStart)

	auth, err := NewAuthenticator(cfg.Admin)
	if err != nil {
		return fmt.Errorf("admin auth: %w", err)
	}
	server := NewServer(engine, auth, cfg.Rate)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server, "spendgated"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("spendgated listening",
			"address", cfg.ListenAddress,
			"executor", executor.String(),
			"forward_target", forwardTarget.String(),
			"paused", cfg.PauseOnStart,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
