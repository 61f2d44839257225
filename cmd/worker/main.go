package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/hip/service/anchor"
	"github.com/brojonat/hip/service/config"
	"github.com/brojonat/hip/service/db"
	"github.com/brojonat/hip/service/metrics"
	natspkg "github.com/brojonat/hip/service/nats"
	"github.com/brojonat/hip/service/smoke"
	"github.com/brojonat/hip/service/solana"
	"github.com/brojonat/hip/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"workspace", cfg.WorkspaceDir,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize database store
	store := db.NewStore(dbPool, metricsCollector)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply database schema", "error", err)
		os.Exit(1)
	}

	// Start metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Resolve the Anchor workspace and the provider that pays for checks
	root, err := anchor.FindWorkspace(cfg.WorkspaceDir)
	if err != nil {
		logger.Error("failed to find anchor workspace", "error", err)
		os.Exit(1)
	}
	ws, err := anchor.LoadWorkspace(root, logger.With("component", "workspace"))
	if err != nil {
		logger.Error("failed to load anchor workspace", "error", err)
		os.Exit(1)
	}

	defaultCluster, defaultWallet := ws.DefaultCluster(), ws.DefaultWallet()
	if cfg.ProviderURL != "" {
		defaultCluster = cfg.ProviderURL
	}
	if cfg.WalletPath != "" {
		defaultWallet = cfg.WalletPath
	}
	provider, err := solana.ProviderFromEnv(solana.ProviderOptions{
		DefaultCluster: defaultCluster,
		DefaultWallet:  defaultWallet,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Metrics:        metricsCollector,
		Logger:         logger.With("component", "provider"),
	})
	if err != nil {
		logger.Error("failed to configure provider", "error", err)
		os.Exit(1)
	}
	logger.Info("provider configured",
		"cluster", provider.URL,
		"wallet", provider.PublicKey().String(),
		"commitment", provider.Commitment,
	)

	// Runners are built per check so one worker can serve several programs
	runners := func(program, instruction string) temporal.SmokeRunner {
		return smoke.NewRunner(ws, provider, smoke.Options{
			Program:     program,
			Instruction: instruction,
			Out:         io.Discard,
			Metrics:     metricsCollector,
			Logger:      logger.With("component", "smoke"),
		})
	}

	// Initialize NATS publisher. Run events are optional: the worker keeps
	// recording runs without them.
	var publisher temporal.PublisherInterface
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Warn("NATS unavailable, run events will not be published", "url", cfg.NATSURL, "error", err)
	} else {
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Initialize Temporal worker
	workerConfig := temporal.WorkerConfig{
		TemporalHost:            cfg.TemporalHost,
		TemporalNamespace:       cfg.TemporalNamespace,
		TaskQueue:               cfg.TemporalTaskQueue,
		MaxConcurrentActivities: cfg.MaxConcurrentActivities,
		Store:                   store,
		Runners:                 runners,
		Publisher:               publisher,
		Cluster:                 provider.URL,
		Metrics:                 metricsCollector,
		Logger:                  logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	// Register the recurring check for the configured program
	if cfg.SmokeInterval > 0 {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		if err := temporalClient.CreateSmokeSchedule(ctx, cfg.Program, cfg.Instruction, cfg.SmokeInterval); err != nil {
			logger.Error("failed to create smoke schedule", "error", err)
			os.Exit(1)
		}
		temporalClient.Close()
		logger.Info("smoke schedule registered",
			"program", cfg.Program,
			"instruction", cfg.Instruction,
			"interval", cfg.SmokeInterval,
		)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"cluster", provider.URL,
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		if err != nil {
			logger.Error("temporal worker error", "error", err)
			os.Exit(1)
		}
		logger.Info("temporal worker exited")
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop worker gracefully
		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")
	}
	logger.Info("shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
