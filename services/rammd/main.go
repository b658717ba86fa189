package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ramm/core"
	"ramm/native/ramm"
	"ramm/observability/logging"
	telemetry "ramm/observability/otel"
	"ramm/services/rammd/config"
	"ramm/services/rammd/keeper"
	"ramm/services/rammd/server"
	rammstorage "ramm/services/rammd/storage"
	"ramm/storage"
)

// idempotencyRetention bounds how long Idempotency-Key values replay.
const idempotencyRetention = 24 * time.Hour

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/rammd/config.yaml", "path to rammd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("rammd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("RAMM_ENV"))
	logger := logging.SetupWithOptions("rammd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	sampleRatio := 1.0
	if value := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			sampleRatio = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "rammd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
		SampleRatio: sampleRatio,
	})
	if err != nil {
		log.Fatalf("rammd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := ensureDir(cfg.Storage.Receipts); err != nil {
		log.Fatalf("rammd: prepare receipts path: %v", err)
	}
	receiptsDSN, err := rammstorage.FileDSN(cfg.Storage.Receipts)
	if err != nil {
		log.Fatalf("rammd: resolve receipts DSN: %v", err)
	}
	receipts, err := rammstorage.Open(receiptsDSN)
	if err != nil {
		log.Fatalf("rammd: open receipts: %v", err)
	}
	defer receipts.Close()

	db, err := openState(cfg.Storage, receipts)
	if err != nil {
		log.Fatalf("rammd: open state: %v", err)
	}
	defer db.Close()

	hub := server.NewHub()
	exec := core.NewExecutor(db)
	exec.SetLogger(logger)
	exec.SetEmitter(hub)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootAssets(rootCtx, exec, cfg, logger); err != nil {
		log.Fatalf("rammd: boot assets: %v", err)
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		BearerToken: cfg.Admin.BearerToken,
		JWTSecret:   cfg.Admin.JWT.Secret,
		Issuer:      cfg.Admin.JWT.Issuer,
		Audience:    cfg.Admin.JWT.Audience,
		ClockSkew:   cfg.Admin.JWT.ClockSkew.Duration,
	}, logger)
	if err != nil {
		log.Fatalf("rammd: configure auth: %v", err)
	}
	limiter := server.NewRateLimiter(server.RateLimit{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})

	var tlsConfig *tls.Config
	if !cfg.Admin.TLS.Disable {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		TLS: server.TLSConfig{
			Disabled: cfg.Admin.TLS.Disable,
			CertFile: cfg.Admin.TLS.CertPath,
			KeyFile:  cfg.Admin.TLS.KeyPath,
			Config:   tlsConfig,
		},
	}, exec, receipts, hub, auth, limiter, logger)
	if err != nil {
		log.Fatalf("rammd: server: %v", err)
	}

	if !cfg.Keeper.Disabled {
		k, err := keeper.New(exec, cfg.Keeper.Interval.Duration,
			keeper.WithLogger(logger),
			keeper.WithPruner(receipts, idempotencyRetention))
		if err != nil {
			log.Fatalf("rammd: keeper: %v", err)
		}
		go func() {
			if err := k.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("rammd: keeper exited", slog.String("error", err.Error()))
				stop()
			}
		}()
	}

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("rammd: http server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// openState opens the engine key/value store. The sqlite backend shares the
// receipts connection when both point at the same file.
func openState(cfg config.StorageConfig, receipts *rammstorage.Storage) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendLevelDB:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return storage.NewLevelDB(cfg.Path)
	case config.BackendBolt:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(cfg.Path, nil)
	case config.BackendSQLite:
		if samePath(cfg.Path, cfg.Receipts) {
			return storage.NewSQLiteDB(receipts.DB())
		}
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		dsn, err := rammstorage.FileDSN(cfg.Path)
		if err != nil {
			return nil, err
		}
		return storage.OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// bootAssets initialises configured assets that do not exist yet. Existing
// assets keep their persisted parameters.
func bootAssets(ctx context.Context, exec *core.Executor, cfg config.Config, logger *slog.Logger) error {
	for _, asset := range cfg.Assets {
		params, err := asset.Params()
		if err != nil {
			return fmt.Errorf("asset %s: %w", asset.Mint, err)
		}
		if _, err := exec.InitAsset(ctx, asset.Mint, params); err != nil {
			if errors.Is(err, ramm.ErrAlreadyInitialised) {
				logger.Info("rammd: asset already initialised", slog.String("mint", asset.Mint))
				continue
			}
			return fmt.Errorf("asset %s: %w", asset.Mint, err)
		}
	}
	if cfg.Paused {
		if err := exec.SetPaused(ctx, true); err != nil {
			return fmt.Errorf("engage pause: %w", err)
		}
		logger.Warn("rammd: issue and redeem paused by configuration")
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(strings.TrimSpace(path))
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(strings.TrimSpace(a))
	absB, errB := filepath.Abs(strings.TrimSpace(b))
	return errA == nil && errB == nil && absA == absB
}
