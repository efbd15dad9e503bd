// Package bridge connects the message broker to the ingest engine: each
// extraction batch received on the subscription becomes one ingest run.
package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/logger"
	"github.com/showgrid/event-indexer/internal/messaging"
	"github.com/showgrid/event-indexer/internal/store"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// SourceStore resolves batch envelopes to site and source rows
type SourceStore interface {
	GetSiteBySlug(ctx context.Context, slug string) (*schema.Site, error)
	EnsureSource(ctx context.Context, input store.EnsureSourceInput) (*schema.Source, error)
}

// Runner executes one ingest run for a batch
type Runner interface {
	Run(ctx context.Context, site *schema.Site, source *schema.Source, items []domain.RawExtractResult) (*schema.IngestRun, domain.IngestSummary, error)
}

// Bridge defines the interface for the extraction bridge
type Bridge interface {
	// Run starts consuming batches until ctx is done
	Run(ctx context.Context) error
	// Close closes the bridge and cleans up resources
	Close()
}

type bridge struct {
	sub    messaging.Subscriber
	store  SourceStore
	runner Runner
}

// NewBridge creates an extraction bridge over a batch subscription
func NewBridge(sub messaging.Subscriber, sourceStore SourceStore, runner Runner) Bridge {
	return &bridge{
		sub:    sub,
		store:  sourceStore,
		runner: runner,
	}
}

// Run starts consuming extraction batches
func (b *bridge) Run(ctx context.Context) error {
	return b.sub.SubscribeBatches(ctx, b.handleBatch)
}

// handleBatch resolves the batch's site and source and executes one ingest
// run. Unknown sites are dropped (redelivery cannot fix scraper
// misconfiguration); other failures are returned for redelivery, which the
// engine's idempotent writes make safe.
func (b *bridge) handleBatch(ctx context.Context, batch *messaging.ExtractionBatch) error {
	logger.Info("Received extraction batch",
		zap.String("batch_id", batch.BatchID),
		zap.String("site", batch.SiteSlug),
		zap.String("source_url", batch.SourceURL),
		zap.Int("items", len(batch.Items)))

	site, err := b.store.GetSiteBySlug(ctx, batch.SiteSlug)
	if err != nil {
		return fmt.Errorf("failed to look up site %q: %w", batch.SiteSlug, err)
	}
	if site == nil {
		return fmt.Errorf("unknown site %q: %w", batch.SiteSlug, messaging.ErrDropBatch)
	}

	source, err := b.store.EnsureSource(ctx, store.EnsureSourceInput{
		SiteID: site.ID,
		Name:   batch.SourceURL,
		URL:    batch.SourceURL,
		Active: true,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure source %q: %w", batch.SourceURL, err)
	}

	run, summary, err := b.runner.Run(ctx, site, source, batch.Items)
	if err != nil {
		return fmt.Errorf("ingest run for batch %s failed: %w", batch.BatchID, err)
	}

	logger.InfoCtx(ctx, "batch ingested",
		zap.Int64("run_id", run.ID),
		zap.String("batch_id", batch.BatchID),
		zap.Int("created", summary.Created),
		zap.Int("merged", summary.Merged),
		zap.Int("flagged", summary.Flagged),
		zap.Int("rejected", summary.Rejected))
	return nil
}

// Close closes the underlying subscription
func (b *bridge) Close() {
	b.sub.Close()
}
