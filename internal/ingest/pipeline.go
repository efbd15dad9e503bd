// Package ingest drives one run of the engine: each raw extract result is
// normalized, resolved to a venue, matched against stored events, and written
// as a create or a merge, with the outcome tallied on the run row.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/showgrid/event-indexer/internal/adapter"
	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/logger"
	"github.com/showgrid/event-indexer/internal/normalizer"
	"github.com/showgrid/event-indexer/internal/store"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// EventStore is the write surface the pipeline needs
type EventStore interface {
	CreateEventWithLink(ctx context.Context, input store.CreateEventInput) (*schema.EventInstance, bool, error)
	MergeEventLink(ctx context.Context, input store.MergeEventInput) error
}

// VenueResolver resolves venue names to canonical rows
type VenueResolver interface {
	Resolve(ctx context.Context, siteID int64, event *domain.NormalizedEvent, defaultTZ string) (*schema.Venue, error)
	ResetRun()
}

// Matcher scores an incoming event against stored candidates
type Matcher interface {
	Match(ctx context.Context, siteSlug string, venueID int64, event *domain.NormalizedEvent) (domain.MatchDecision, error)
}

// Pipeline processes raw extract results for one source
type Pipeline struct {
	store      EventStore
	normalizer *normalizer.Normalizer
	venues     VenueResolver
	matcher    Matcher
	json       adapter.JSON
}

// NewPipeline creates an ingest pipeline
func NewPipeline(eventStore EventStore, n *normalizer.Normalizer, venues VenueResolver, m Matcher, json adapter.JSON) *Pipeline {
	return &Pipeline{
		store:      eventStore,
		normalizer: n,
		venues:     venues,
		matcher:    m,
		json:       json,
	}
}

// ProcessBatch runs every item of one extraction batch through the pipeline,
// sequentially in extraction order. The match engine only sees persisted
// events, so two near-duplicates in one batch converge only when the first
// is written before the second is scored. Concurrency belongs at the run
// level, never inside a run.
func (p *Pipeline) ProcessBatch(ctx context.Context, site *schema.Site, source *schema.Source, runID int64, items []domain.RawExtractResult) domain.IngestSummary {
	var summary domain.IngestSummary
	for i := range items {
		summary.Record(p.ProcessItem(ctx, site, source, runID, i, &items[i]))
	}
	return summary
}

// ProcessItem normalizes, matches, and writes one raw extract result.
// Validation failures reject the item; write failures reject it too unless
// the run context is gone, which the runner treats as fatal.
func (p *Pipeline) ProcessItem(ctx context.Context, site *schema.Site, source *schema.Source, runID int64, index int, raw *domain.RawExtractResult) domain.ItemResult {
	event, err := p.normalizer.Normalize(raw, site.TZName)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			logger.Debug("item rejected",
				zap.String("source_url", raw.SourceURL),
				zap.Strings("missing", verr.MissingFields))
		}
		return domain.ItemResult{Index: index, Outcome: domain.OutcomeRejected, Error: err.Error()}
	}

	venueRow, err := p.venues.Resolve(ctx, site.ID, event, site.TZName)
	if err != nil {
		return p.itemError(ctx, index, fmt.Errorf("failed to resolve venue: %w", err))
	}

	decision, err := p.matcher.Match(ctx, site.Slug, venueRow.ID, event)
	if err != nil {
		return p.itemError(ctx, index, err)
	}

	link, err := p.buildLink(source.ID, runID, event)
	if err != nil {
		return p.itemError(ctx, index, err)
	}

	switch decision.Kind {
	case domain.MatchExact, domain.MatchFuzzy:
		return p.merge(ctx, index, decision.EventID, link, event)

	case domain.MatchFlagged:
		return p.create(ctx, index, site, venueRow, event, link, decision)

	default:
		return p.create(ctx, index, site, venueRow, event, link, domain.MatchDecision{Kind: domain.MatchNone})
	}
}

// merge attaches one source's version to an existing canonical event
func (p *Pipeline) merge(ctx context.Context, index int, eventID int64, link store.LinkInput, event *domain.NormalizedEvent) domain.ItemResult {
	err := p.store.MergeEventLink(ctx, store.MergeEventInput{
		EventID:  eventID,
		Link:     link,
		Incoming: *event,
	})
	if err != nil {
		return p.itemError(ctx, index, fmt.Errorf("failed to merge event %d: %w", eventID, err))
	}
	return domain.ItemResult{Index: index, Outcome: domain.OutcomeMerged, EventID: eventID}
}

// create inserts a new canonical event. A flagged decision additionally
// records the near-miss conflict. Losing the exact-key race converges on a
// merge into the winner.
func (p *Pipeline) create(ctx context.Context, index int, site *schema.Site, venueRow *schema.Venue, event *domain.NormalizedEvent, link store.LinkInput, decision domain.MatchDecision) domain.ItemResult {
	input := store.CreateEventInput{
		Event: buildEventRow(site, venueRow, event),
		Link:  link,
	}
	if decision.Kind == domain.MatchFlagged {
		input.NearMissEventID = decision.EventID
		input.NearMissConfidence = decision.Confidence
	}

	created, wasCreated, err := p.store.CreateEventWithLink(ctx, input)
	if err != nil {
		return p.itemError(ctx, index, fmt.Errorf("failed to create event: %w", err))
	}
	if !wasCreated {
		// A concurrent writer owns the exact key now
		return p.merge(ctx, index, created.ID, link, event)
	}

	if decision.Kind == domain.MatchFlagged {
		return domain.ItemResult{Index: index, Outcome: domain.OutcomeFlagged, EventID: created.ID}
	}
	return domain.ItemResult{Index: index, Outcome: domain.OutcomeCreated, EventID: created.ID}
}

func (p *Pipeline) buildLink(sourceID, runID int64, event *domain.NormalizedEvent) (store.LinkInput, error) {
	payload, err := p.json.Marshal(event)
	if err != nil {
		return store.LinkInput{}, fmt.Errorf("failed to marshal normalized payload: %w", err)
	}
	return store.LinkInput{
		SourceID:    sourceID,
		IngestRunID: runID,
		ExternalID:  event.ExternalID,
		SourceURL:   event.SourceURL,
		Normalized:  datatypes.JSON(payload),
	}, nil
}

func (p *Pipeline) itemError(ctx context.Context, index int, err error) domain.ItemResult {
	if ctx.Err() == nil {
		logger.ErrorCtx(ctx, err, zap.Int("item_index", index))
	}
	return domain.ItemResult{Index: index, Outcome: domain.OutcomeRejected, Error: err.Error()}
}

// buildEventRow projects a normalized event onto the display snapshot of a
// new event_instance row
func buildEventRow(site *schema.Site, venueRow *schema.Venue, event *domain.NormalizedEvent) schema.EventInstance {
	row := schema.EventInstance{
		SiteID:            site.ID,
		VenueID:           venueRow.ID,
		Title:             event.Title,
		TitleNorm:         event.TitleNorm,
		ArtistName:        event.ArtistName,
		Description:       event.Description,
		StartsAtUTC:       event.StartMinute(),
		EndsAtUTC:         event.EndsAtUTC,
		DoorsAtUTC:        event.DoorsAtUTC,
		TZName:            event.TZName,
		PriceMin:          event.Price.Min,
		PriceMax:          event.Price.Max,
		Currency:          event.Price.Currency,
		TicketURL:         event.TicketURL,
		AgeRestriction:    string(event.Age),
		IsCancelled:       event.IsCancelled,
		LowConfidenceTime: event.LowConfidenceTime,
	}
	if event.Price.Raw != "" {
		rawText := event.Price.Raw
		row.PriceText = &rawText
	}
	return row
}
