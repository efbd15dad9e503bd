package ingest

import (
	"context"
	"fmt"

	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// RunStore is the run bookkeeping surface
type RunStore interface {
	CreateIngestRun(ctx context.Context, sourceID int64) (*schema.IngestRun, error)
	FinalizeIngestRun(ctx context.Context, runID int64, status domain.RunStatus, runErr error, summary domain.IngestSummary) error
}

// Recorder opens and finalizes ingest_run rows. A run row is created before
// any item is processed and always reaches a terminal status, so a stuck
// "running" row means the process died mid-run.
type Recorder struct {
	store RunStore
}

// NewRecorder creates a run recorder
func NewRecorder(store RunStore) *Recorder {
	return &Recorder{store: store}
}

// Begin opens a running ingest_run row for the source
func (r *Recorder) Begin(ctx context.Context, sourceID int64) (*schema.IngestRun, error) {
	run, err := r.store.CreateIngestRun(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest run: %w", err)
	}
	return run, nil
}

// Finish writes the terminal status and counters. It deliberately takes a
// fresh context so a run that died of context cancellation still gets its
// failed status recorded.
func (r *Recorder) Finish(ctx context.Context, runID int64, runErr error, summary domain.IngestSummary) error {
	status := domain.RunStatusSuccess
	if runErr != nil {
		status = domain.RunStatusFailed
	}
	if err := r.store.FinalizeIngestRun(ctx, runID, status, runErr, summary); err != nil {
		return fmt.Errorf("failed to finalize ingest run %d: %w", runID, err)
	}
	return nil
}
