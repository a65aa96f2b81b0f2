package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wadispatch/internal/config"
	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/retry"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"
	"wadispatch/pkg/whatsapp"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wadispatch %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

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
	}).Info("Starting wadispatch")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
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

	waClient := whatsapp.NewClient(types.ClientConfig{
		BaseURL:       cfg.WhatsApp.APIBaseURL,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		Timeout:       time.Duration(cfg.WhatsApp.TimeoutSec) * time.Second,
	})

	progress := service.NewProgressHub()
	aggregator := service.NewCampaignAggregator(db, logger)
	resolver := service.NewRecipientResolver(db, cfg.Campaign.MaxRecipients, logger)
	dispatcher := service.NewDispatcher(db, waClient, aggregator, progress, cfg.Pricing, cfg.Campaign, logger)
	runner := service.NewCampaignRunner(db, resolver, dispatcher, aggregator, cfg.Pricing, constants.DefaultRunQueueSize, logger)
	reconciler := service.NewStatusReconciler(db, aggregator, logger)
	payments := service.NewPaymentProcessor(db, logger)

	runner.Start(ctx)
	defer runner.Stop()

	// Resume campaigns stranded in sending status by a previous crash
	interrupted, err := db.ListInterruptedCampaigns(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to list interrupted campaigns")
	} else if len(interrupted) > 0 {
		runner.RecoverInterrupted(ctx, interrupted)
	}

	scheduler := service.NewScheduler(db, runner,
		time.Duration(cfg.Campaign.SchedulerPollSec)*time.Second, cfg.RetentionDays, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	monitor := service.NewDeliveryMonitor(db,
		time.Duration(constants.DefaultStaleCheckIntervalMin)*time.Minute,
		time.Duration(constants.DefaultStaleThresholdHours)*time.Hour, logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	server := NewServer(cfg, db, runner, reconciler, payments, progress, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
