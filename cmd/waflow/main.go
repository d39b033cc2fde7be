package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waflow/internal/config"
	"waflow/internal/constants"
	"waflow/internal/database"
	"waflow/internal/events"
	"waflow/internal/models"
	"waflow/internal/queue"
	"waflow/internal/ratelimit"
	"waflow/internal/retry"
	"waflow/internal/service"
	"waflow/internal/tracing"
	"waflow/pkg/whatsapp"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("waflow %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting waflow")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyLogLevel(logger, cfg.LogLevel, *verbose)
	if *verbose {
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	}

	// Services read this flag when deciding whether to mask phone numbers
	// and message ids in logs.
	ctx = context.WithValue(ctx, service.VerboseContextKey, *verbose)

	tracingManager := tracing.NewManager(tracing.Config{
		ServiceName:    "waflow",
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Open the database with exponential backoff; on a fresh host the
	// volume may not be ready the instant the process starts.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	bus, err := events.NewBus(cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer bus.Close()

	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}

	limiter := ratelimit.NewLimiter(db, ratelimit.Config{
		DefaultPerMinute: cfg.RateLimit.DefaultPerMinute,
		BucketTTL:        time.Duration(cfg.RateLimit.BucketTTLMinutes) * time.Minute,
		SweepInterval:    time.Duration(cfg.RateLimit.SweepIntervalMin) * time.Minute,
	}, logger)
	limiter.Start(ctx)
	defer limiter.Stop()

	resolver := service.NewTenantResolver(db, logger)
	triggers := service.NewFlowTrigger(db, logger)
	processor := service.NewEventProcessor(db, resolver, triggers, bus, cfg.Processor, cfg.Queue.MaxAttempts, logger)

	waClient := whatsapp.NewClientWithLogger(cfg.Provider.APIBaseURL, &http.Client{
		Timeout: time.Duration(cfg.Provider.TimeoutSec) * time.Second,
	}, logger)
	dispatcher := service.NewMessageDispatcher(db, limiter, waClient, cfg.Provider, bus, logger)

	engine := service.NewFlowEngine(db, q, bus, logger)
	poller := service.NewFlowPoller(db, engine, cfg.Flows, logger)

	ingest := service.NewIngestService(db, q, resolver, cfg.Webhook.VerifyToken, logger)
	retention := service.NewRetentionService(db, cfg.Retention.Days, cfg.Retention.SweepIntervalHours, logger)

	if err := q.Subscribe(queue.KindRawEvent, cfg.Processor.Workers, func(ctx context.Context, job queue.Job) error {
		return processor.ProcessRawEvent(ctx, job.ID)
	}); err != nil {
		return fmt.Errorf("failed to subscribe event processor: %w", err)
	}
	if err := q.Subscribe(queue.KindDispatchMessage, constants.DefaultDispatchWorkers, func(ctx context.Context, job queue.Job) error {
		return dispatcher.DispatchMessage(ctx, job.ID)
	}); err != nil {
		return fmt.Errorf("failed to subscribe dispatcher: %w", err)
	}
	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}

	go retention.Start(ctx)
	defer retention.Stop()

	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start flow poller: %w", err)
	}
	defer poller.Stop()

	// Hot reload: changing log_level in the config file takes effect
	// without a restart. Everything else still needs one.
	watcher := config.NewWatcher(*configPath, logger)
	watcher.OnChange(func(next *models.Config) {
		applyLogLevel(logger, next.LogLevel, *verbose)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.Warnf("Config watcher stopped: %v", err)
		}
	}()

	hub := events.NewWSHub(bus, logger)
	server := NewServer(cfg, ingest, dispatcher, hub, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	if err := q.Stop(shutdownCtx); err != nil {
		logger.Warnf("Failed to drain job queue: %v", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// applyLogLevel sets the logger level from config. The -verbose flag is the
// only way to unlock debug output; a config level can lower verbosity but
// never raise it past info.
func applyLogLevel(logger *logrus.Logger, levelName string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if levelName == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", levelName)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
