package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/showgrid/event-indexer/internal/config"
	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/logger"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// Runner executes complete ingest runs: open the run row, push the batch
// through the pipeline under the run's wall-clock budget, finalize.
type Runner struct {
	pipeline *Pipeline
	recorder *Recorder
	venues   VenueResolver
	cfg      config.IngestConfig
}

// NewRunner creates an ingest runner
func NewRunner(pipeline *Pipeline, recorder *Recorder, venues VenueResolver, cfg config.IngestConfig) *Runner {
	return &Runner{
		pipeline: pipeline,
		recorder: recorder,
		venues:   venues,
		cfg:      cfg,
	}
}

// Run processes one extraction batch for a source. The returned summary is
// whatever the pipeline completed; a run that hit its budget is finalized as
// failed with domain.ErrRunTimeout and still keeps its partial counters.
// Item-level rejections never fail the run.
func (r *Runner) Run(ctx context.Context, site *schema.Site, source *schema.Source, items []domain.RawExtractResult) (*schema.IngestRun, domain.IngestSummary, error) {
	run, err := r.recorder.Begin(ctx, source.ID)
	if err != nil {
		return nil, domain.IngestSummary{}, err
	}

	logger.InfoCtx(ctx, "ingest run started",
		zap.Int64("run_id", run.ID),
		zap.String("site", site.Slug),
		zap.Int64("source_id", source.ID),
		zap.Int("items", len(items)))

	runCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	// Failed geocode addresses are retried once per run, not once forever
	r.venues.ResetRun()

	summary := r.pipeline.ProcessBatch(runCtx, site, source, run.ID, items)

	var runErr error
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		runErr = domain.ErrRunTimeout
	} else if runCtx.Err() != nil {
		runErr = runCtx.Err()
	}

	// Finalize on the parent context so a timed-out run still records failed
	if err := r.recorder.Finish(context.WithoutCancel(ctx), run.ID, runErr, summary); err != nil {
		return run, summary, err
	}

	logger.InfoCtx(ctx, "ingest run finished",
		zap.Int64("run_id", run.ID),
		zap.Int("created", summary.Created),
		zap.Int("merged", summary.Merged),
		zap.Int("flagged", summary.Flagged),
		zap.Int("rejected", summary.Rejected),
		zap.Error(runErr))

	return run, summary, runErr
}
