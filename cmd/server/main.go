package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/classify"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/engine"
	"github.com/brandon/mailsync/internal/notify"
	"github.com/brandon/mailsync/internal/store"
)

const shutdownTimeout = 30 * time.Second

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailsync version %s\n", version)
		os.Exit(0)
	}

	// Local .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting mail synchronization engine")

	// Initialize the durable index
	index, err := store.NewIndex(cfg.IndexPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize email index")
	}
	defer index.Close()

	emailStore := store.NewStore(index, logger)

	// Record configured accounts in the index
	for i := range cfg.Accounts {
		if _, err := emailStore.UpsertAccount(&cfg.Accounts[i]); err != nil {
			logger.WithError(err).WithField("account", cfg.Accounts[i].Name).Warn("Failed to index account")
		}
	}

	// Wire up the ingestion pipeline
	classifier := classify.NewClient(cfg.ClassifierAPIKey, cfg.ClassifierModel, cfg.ClassifierBaseURL, cfg.ClassifierTimeout, logger)
	fanout := notify.NewFanout(cfg.WebhookURLs, cfg.PublicBaseURL, cfg.WebhookTimeout, logger)
	pipeline := engine.NewPipeline(emailStore, classifier, fanout, cfg.DedupeFailOpen, logger)

	syncEngine := engine.New(cfg, pipeline, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncEngine.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start synchronization engine")
	}

	// Periodic status report
	statusTicker := time.NewTicker(time.Minute)
	defer statusTicker.Stop()

	go func() {
		for range statusTicker.C {
			for _, state := range syncEngine.Statuses() {
				entry := logger.WithFields(logrus.Fields{
					"account":   state.AccountName,
					"connected": state.Connected,
				})
				if state.Error != "" {
					entry = entry.WithField("error", state.Error)
				}
				entry.Debug("Connection status")
			}
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.WithField("signal", sig).Info("Received shutdown signal")

	syncEngine.Shutdown(shutdownTimeout)
	logger.Info("Shutting down mail synchronization engine")
}
