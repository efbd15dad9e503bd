// Package matcher decides whether an incoming normalized event is the same
// real-world event as one already stored. Exact key identity is tried first;
// same-venue candidates inside the time window are then scored fuzzily.
package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/showgrid/event-indexer/internal/config"
	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/store"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// Store is the persistence surface the engine needs
type Store interface {
	GetEventByExactKey(ctx context.Context, venueID int64, titleNorm string, startMinute time.Time) (*schema.EventInstance, error)
	GetEventsByVenueWindow(ctx context.Context, venueID int64, from, to time.Time) ([]*store.EventWithLinkCount, error)
}

// Engine scores incoming events against stored candidates
type Engine struct {
	store Store
	cfg   config.MatcherConfig
}

// NewEngine creates a match engine
func NewEngine(store Store, cfg config.MatcherConfig) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// Match returns the engine's verdict for one normalized event at a resolved
// venue. siteSlug selects per-site threshold overrides. Candidates from other
// venues are never considered.
func (e *Engine) Match(ctx context.Context, siteSlug string, venueID int64, event *domain.NormalizedEvent) (domain.MatchDecision, error) {
	start := event.StartMinute()

	exact, err := e.store.GetEventByExactKey(ctx, venueID, event.TitleNorm, start)
	if err != nil {
		return domain.MatchDecision{}, fmt.Errorf("failed to look up exact key: %w", err)
	}
	if exact != nil {
		return domain.MatchDecision{Kind: domain.MatchExact, EventID: exact.ID, Confidence: 1}, nil
	}

	window := time.Duration(e.cfg.WindowMinutes) * time.Minute
	candidates, err := e.store.GetEventsByVenueWindow(ctx, venueID, start.Add(-window), start.Add(window))
	if err != nil {
		return domain.MatchDecision{}, fmt.Errorf("failed to load window candidates: %w", err)
	}

	best, bestScore := e.pickBest(event, start, window, candidates)
	if best == nil {
		return domain.MatchDecision{Kind: domain.MatchNone}, nil
	}

	thresholds := e.cfg.ThresholdsFor(siteSlug)
	switch {
	case bestScore >= thresholds.AutoMerge:
		return domain.MatchDecision{Kind: domain.MatchFuzzy, EventID: best.ID, Confidence: bestScore}, nil
	case bestScore >= thresholds.Flag:
		return domain.MatchDecision{Kind: domain.MatchFlagged, EventID: best.ID, Confidence: bestScore}, nil
	default:
		return domain.MatchDecision{Kind: domain.MatchNone}, nil
	}
}

// pickBest scores every candidate and returns the winner. Ties go to the
// candidate with more corroborating source links, then to the older row.
func (e *Engine) pickBest(event *domain.NormalizedEvent, start time.Time, window time.Duration, candidates []*store.EventWithLinkCount) (*store.EventWithLinkCount, float64) {
	var best *store.EventWithLinkCount
	var bestScore float64

	for _, candidate := range candidates {
		score := Confidence(
			TitleSimilarity(event.TitleNorm, candidate.TitleNorm),
			TimeProximity(start, candidate.StartsAtUTC, window),
		)
		if best == nil || score > bestScore ||
			(score == bestScore && (candidate.LinkCount > best.LinkCount ||
				(candidate.LinkCount == best.LinkCount && candidate.ID < best.ID))) {
			best = candidate
			bestScore = score
		}
	}
	return best, bestScore
}
