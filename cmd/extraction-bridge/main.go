package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/showgrid/event-indexer/internal/adapter"
	"github.com/showgrid/event-indexer/internal/bridge"
	"github.com/showgrid/event-indexer/internal/config"
	"github.com/showgrid/event-indexer/internal/geocoder"
	"github.com/showgrid/event-indexer/internal/ingest"
	"github.com/showgrid/event-indexer/internal/logger"
	"github.com/showgrid/event-indexer/internal/matcher"
	"github.com/showgrid/event-indexer/internal/normalizer"
	"github.com/showgrid/event-indexer/internal/providers/jetstream"
	"github.com/showgrid/event-indexer/internal/ratelimit"
	"github.com/showgrid/event-indexer/internal/store"
	"github.com/showgrid/event-indexer/internal/venue"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadExtractionBridgeConfig(*configPath, "")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags:      map[string]string{"service": "extraction-bridge"},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	logger.Info("Starting Extraction Bridge")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Connected to database")

	dataStore := store.NewPGStore(db)

	// Initialize adapters
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	// Build the ingest engine. The bridge handles one batch at a time, so one
	// resolver is enough; ResetRun clears its state between runs.
	rateLimitProxy, err := ratelimit.NewProxy(map[string]ratelimit.Config{
		geocoder.PROVIDER_NAME: {RequestsPerSecond: cfg.Geocoder.RequestsPerSecond},
	})
	if err != nil {
		logger.Fatal("Failed to create rate limit proxy", zap.Error(err))
	}
	defer func() {
		if err := rateLimitProxy.Close(); err != nil {
			logger.Error(err)
		}
	}()

	httpClient := adapter.NewHTTPClient(cfg.Geocoder.Timeout)
	geocodeClient := geocoder.NewClient(httpClient, rateLimitProxy, cfg.Geocoder, jsonAdapter)
	resolver := venue.NewResolver(dataStore, geocodeClient, adapter.NewClock(), cfg.Geocoder.CacheTTL)
	matchEngine := matcher.NewEngine(dataStore, cfg.Matcher)
	pipeline := ingest.NewPipeline(dataStore, normalizer.New(), resolver, matchEngine, jsonAdapter)
	runner := ingest.NewRunner(pipeline, ingest.NewRecorder(dataStore), resolver, cfg.Ingest)

	// Create the batch subscription and the bridge over it
	subscriber, err := jetstream.NewSubscriber(cfg.NATS, natsJS, jsonAdapter)
	if err != nil {
		logger.Fatal("Failed to create batch subscriber", zap.Error(err))
	}
	extractionBridge := bridge.NewBridge(subscriber, dataStore, runner)
	defer extractionBridge.Close()
	logger.Info("Extraction bridge created",
		zap.String("stream", cfg.NATS.StreamName),
		zap.String("consumer", cfg.NATS.ConsumerName))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel for bridge errors
	errCh := make(chan error, 1)

	// Start the bridge
	go func() {
		if err := extractionBridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.Error(err, zap.String("component", "bridge"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	logger.Info("Extraction Bridge stopped")
}
