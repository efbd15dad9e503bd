package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/showgrid/event-indexer/internal/adapter"
	"github.com/showgrid/event-indexer/internal/config"
	"github.com/showgrid/event-indexer/internal/logger"
	"github.com/showgrid/event-indexer/internal/messaging"
	"github.com/showgrid/event-indexer/internal/providers/jetstream"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	batchDir   = flag.String("batches", "batches/", "Directory of extraction batch JSON files")
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
		Tags:      map[string]string{"service": "batch-publisher"},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	logger.Info("Starting Batch Publisher")

	jsonAdapter := adapter.NewJSON()

	publisher, err := jetstream.NewPublisher(cfg.NATS, adapter.NewNatsJetStream(), jsonAdapter)
	if err != nil {
		logger.Fatal("Failed to create publisher", zap.Error(err))
	}
	defer publisher.Close()

	ctx := context.Background()

	if err := publisher.EnsureStream(ctx); err != nil {
		logger.Fatal("Failed to ensure stream", zap.Error(err))
	}

	entries, err := os.ReadDir(*batchDir)
	if err != nil {
		logger.Fatal("Failed to read batch directory", zap.Error(err), zap.String("dir", *batchDir))
	}

	published := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(*batchDir, entry.Name())
		data, err := os.ReadFile(path) //nolint:gosec,G304
		if err != nil {
			logger.Fatal("Failed to read batch file", zap.Error(err), zap.String("path", path))
		}

		var batch messaging.ExtractionBatch
		if err := jsonAdapter.Unmarshal(data, &batch); err != nil {
			logger.Fatal("Failed to parse batch file", zap.Error(err), zap.String("path", path))
		}

		if err := publisher.PublishBatch(ctx, &batch); err != nil {
			logger.Fatal("Failed to publish batch", zap.Error(err), zap.String("path", path))
		}
		logger.Info("Published batch",
			zap.String("batch_id", batch.BatchID),
			zap.String("site_slug", batch.SiteSlug),
			zap.Int("items", len(batch.Items)))
		published++
	}

	logger.Info("Batch Publisher finished", zap.Int("published", published))
}
