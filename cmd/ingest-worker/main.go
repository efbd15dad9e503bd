package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/showgrid/event-indexer/internal/adapter"
	"github.com/showgrid/event-indexer/internal/config"
	"github.com/showgrid/event-indexer/internal/geocoder"
	"github.com/showgrid/event-indexer/internal/ingest"
	"github.com/showgrid/event-indexer/internal/logger"
	"github.com/showgrid/event-indexer/internal/matcher"
	"github.com/showgrid/event-indexer/internal/messaging"
	"github.com/showgrid/event-indexer/internal/normalizer"
	"github.com/showgrid/event-indexer/internal/ratelimit"
	"github.com/showgrid/event-indexer/internal/store"
	"github.com/showgrid/event-indexer/internal/venue"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	batchDir   = flag.String("batches", "batches/", "Directory of extraction batch JSON files")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadIngestWorkerConfig(*configPath, "")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags:      map[string]string{"service": "ingest-worker"},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	logger.Info("Starting Ingest Worker")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
		cfg.Database.ConnMaxIdleTime); err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Connected to database")

	dataStore := store.NewPGStore(db)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Provision configured sites and sources
	if err := provisionSites(ctx, dataStore, cfg.Sites); err != nil {
		logger.Fatal("Failed to provision sites", zap.Error(err))
	}

	// Shared engine pieces
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()
	httpClient := adapter.NewHTTPClient(cfg.Geocoder.Timeout)

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

	geocodeClient := geocoder.NewClient(httpClient, rateLimitProxy, cfg.Geocoder, jsonAdapter)
	matchEngine := matcher.NewEngine(dataStore, cfg.Matcher)
	norm := normalizer.New()

	// newRunner builds a runner with its own venue resolver, so concurrent
	// runs keep separate per-run geocode state. Items within a run always
	// process sequentially; worker.pool_size bounds concurrent runs only.
	newRunner := func() *ingest.Runner {
		resolver := venue.NewResolver(dataStore, geocodeClient, clock, cfg.Geocoder.CacheTTL)
		pipeline := ingest.NewPipeline(dataStore, norm, resolver, matchEngine, jsonAdapter)
		return ingest.NewRunner(pipeline, ingest.NewRecorder(dataStore), resolver, cfg.Ingest)
	}

	batches, err := loadBatches(jsonAdapter, *batchDir)
	if err != nil {
		logger.Fatal("Failed to load extraction batches", zap.Error(err))
	}
	if len(batches) == 0 {
		logger.Info("No extraction batches found", zap.String("dir", *batchDir))
		return
	}
	logger.Info("Loaded extraction batches", zap.Int("count", len(batches)))

	// One ingest run per batch, bounded by the pool
	pool := pond.NewPool(cfg.Worker.PoolSize,
		pond.WithQueueSize(cfg.Worker.QueueSize),
		pond.WithContext(ctx),
	)
	for _, batch := range batches {
		pool.Submit(func() {
			processBatch(ctx, dataStore, newRunner(), batch)
		})
	}
	pool.StopAndWait()

	logger.Info("Ingest Worker finished")
}

// provisionSites upserts the configured sites and their sources
func provisionSites(ctx context.Context, dataStore store.Store, sites []config.SiteSeed) error {
	for _, site := range sites {
		row, err := dataStore.EnsureSite(ctx, store.EnsureSiteInput{
			Slug:        site.Slug,
			DisplayName: site.DisplayName,
			TZName:      site.TZName,
		})
		if err != nil {
			return fmt.Errorf("failed to ensure site %q: %w", site.Slug, err)
		}
		for _, src := range site.Sources {
			if _, err := dataStore.EnsureSource(ctx, store.EnsureSourceInput{
				SiteID:          row.ID,
				Name:            src.Name,
				URL:             src.URL,
				ParserType:      src.ParserType,
				RequiresBrowser: src.RequiresBrowser,
				RateLimitRPS:    src.RateLimitRPS,
				RespectRobots:   src.RespectRobots,
				Active:          src.Active,
			}); err != nil {
				return fmt.Errorf("failed to ensure source %q: %w", src.URL, err)
			}
		}
	}
	return nil
}

// loadBatches reads extraction batch envelopes from a directory of JSON files
func loadBatches(jsonAdapter adapter.JSON, dir string) ([]*messaging.ExtractionBatch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch directory: %w", err)
	}

	var batches []*messaging.ExtractionBatch
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path) //nolint:gosec,G304
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var batch messaging.ExtractionBatch
		if err := jsonAdapter.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := batch.Validate(); err != nil {
			return nil, fmt.Errorf("invalid batch %s: %w", path, err)
		}
		batches = append(batches, &batch)
	}
	return batches, nil
}

// processBatch resolves the batch's site and source and runs the pipeline.
// Failures are logged, not fatal; other batches keep running.
func processBatch(ctx context.Context, dataStore store.Store, runner *ingest.Runner, batch *messaging.ExtractionBatch) {
	site, err := dataStore.GetSiteBySlug(ctx, batch.SiteSlug)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("batch_id", batch.BatchID))
		return
	}
	if site == nil {
		logger.WarnCtx(ctx, "unknown site slug, skipping batch",
			zap.String("site_slug", batch.SiteSlug),
			zap.String("batch_id", batch.BatchID))
		return
	}

	source, err := dataStore.EnsureSource(ctx, store.EnsureSourceInput{
		SiteID: site.ID,
		Name:   batch.SourceURL,
		URL:    batch.SourceURL,
		Active: true,
	})
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("batch_id", batch.BatchID))
		return
	}

	run, summary, err := runner.Run(ctx, site, source, batch.Items)
	if err != nil {
		logger.ErrorCtx(ctx, err,
			zap.String("batch_id", batch.BatchID),
			zap.String("source_url", batch.SourceURL))
		return
	}
	logger.InfoCtx(ctx, "batch ingested",
		zap.Int64("run_id", run.ID),
		zap.String("batch_id", batch.BatchID),
		zap.Int("created", summary.Created),
		zap.Int("merged", summary.Merged),
		zap.Int("flagged", summary.Flagged),
		zap.Int("rejected", summary.Rejected))
}
