package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showgrid/event-indexer/internal/bridge"
	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/messaging"
	"github.com/showgrid/event-indexer/internal/store"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// fakeSubscriber hands its queued batches to the handler and records what the
// handler returned for each
type fakeSubscriber struct {
	batches     []*messaging.ExtractionBatch
	handlerErrs []error
	closed      bool
}

func (s *fakeSubscriber) SubscribeBatches(ctx context.Context, handler messaging.BatchHandler) error {
	for _, batch := range s.batches {
		s.handlerErrs = append(s.handlerErrs, handler(ctx, batch))
	}
	return nil
}

func (s *fakeSubscriber) Close() { s.closed = true }

// fakeSourceStore knows one site
type fakeSourceStore struct {
	site    *schema.Site
	siteErr error
	sources []store.EnsureSourceInput
}

func (s *fakeSourceStore) GetSiteBySlug(ctx context.Context, slug string) (*schema.Site, error) {
	if s.siteErr != nil {
		return nil, s.siteErr
	}
	if s.site != nil && s.site.Slug == slug {
		return s.site, nil
	}
	return nil, nil
}

func (s *fakeSourceStore) EnsureSource(ctx context.Context, input store.EnsureSourceInput) (*schema.Source, error) {
	s.sources = append(s.sources, input)
	return &schema.Source{ID: 3, SiteID: input.SiteID, Name: input.Name, URL: input.URL, Active: true}, nil
}

// fakeRunner records batches it was handed
type fakeRunner struct {
	runs [][]domain.RawExtractResult
	err  error
}

func (r *fakeRunner) Run(ctx context.Context, site *schema.Site, source *schema.Source, items []domain.RawExtractResult) (*schema.IngestRun, domain.IngestSummary, error) {
	r.runs = append(r.runs, items)
	return &schema.IngestRun{ID: 1, SourceID: source.ID}, domain.IngestSummary{}, r.err
}

func testBatch() *messaging.ExtractionBatch {
	return &messaging.ExtractionBatch{
		BatchID:   "b-1",
		SiteSlug:  "charleston",
		SourceURL: "https://musicfarm.example.com/calendar",
		Items:     []domain.RawExtractResult{{Title: "Jazz Night"}},
	}
}

func TestBridgeIngestsBatch(t *testing.T) {
	sub := &fakeSubscriber{batches: []*messaging.ExtractionBatch{testBatch()}}
	sourceStore := &fakeSourceStore{site: &schema.Site{ID: 1, Slug: "charleston", TZName: "America/New_York"}}
	runner := &fakeRunner{}

	b := bridge.NewBridge(sub, sourceStore, runner)
	require.NoError(t, b.Run(context.Background()))

	require.Len(t, sub.handlerErrs, 1)
	assert.NoError(t, sub.handlerErrs[0])
	require.Len(t, runner.runs, 1)
	assert.Equal(t, "Jazz Night", runner.runs[0][0].Title)

	// The source is provisioned under the batch's site
	require.Len(t, sourceStore.sources, 1)
	assert.Equal(t, int64(1), sourceStore.sources[0].SiteID)
	assert.Equal(t, "https://musicfarm.example.com/calendar", sourceStore.sources[0].URL)
}

func TestBridgeDropsUnknownSite(t *testing.T) {
	batch := testBatch()
	batch.SiteSlug = "atlantis"
	sub := &fakeSubscriber{batches: []*messaging.ExtractionBatch{batch}}
	sourceStore := &fakeSourceStore{site: &schema.Site{ID: 1, Slug: "charleston"}}
	runner := &fakeRunner{}

	b := bridge.NewBridge(sub, sourceStore, runner)
	require.NoError(t, b.Run(context.Background()))

	require.Len(t, sub.handlerErrs, 1)
	assert.ErrorIs(t, sub.handlerErrs[0], messaging.ErrDropBatch)
	assert.Empty(t, runner.runs)
}

func TestBridgeRetriesSiteLookupFailure(t *testing.T) {
	sub := &fakeSubscriber{batches: []*messaging.ExtractionBatch{testBatch()}}
	sourceStore := &fakeSourceStore{siteErr: errors.New("database down")}
	runner := &fakeRunner{}

	b := bridge.NewBridge(sub, sourceStore, runner)
	require.NoError(t, b.Run(context.Background()))

	require.Len(t, sub.handlerErrs, 1)
	require.Error(t, sub.handlerErrs[0])
	// A transient failure must come back for redelivery, not a drop
	assert.NotErrorIs(t, sub.handlerErrs[0], messaging.ErrDropBatch)
	assert.Empty(t, runner.runs)
}

func TestBridgeRetriesFailedRun(t *testing.T) {
	sub := &fakeSubscriber{batches: []*messaging.ExtractionBatch{testBatch()}}
	sourceStore := &fakeSourceStore{site: &schema.Site{ID: 1, Slug: "charleston", TZName: "America/New_York"}}
	runner := &fakeRunner{err: errors.New("database down")}

	b := bridge.NewBridge(sub, sourceStore, runner)
	require.NoError(t, b.Run(context.Background()))

	require.Len(t, sub.handlerErrs, 1)
	require.Error(t, sub.handlerErrs[0])
	assert.NotErrorIs(t, sub.handlerErrs[0], messaging.ErrDropBatch)
	assert.Len(t, runner.runs, 1)
}

func TestBridgeClose(t *testing.T) {
	sub := &fakeSubscriber{}
	b := bridge.NewBridge(sub, &fakeSourceStore{}, &fakeRunner{})
	b.Close()
	assert.True(t, sub.closed)
}
