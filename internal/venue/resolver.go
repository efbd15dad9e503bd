// Package venue resolves extracted venue names to canonical venue rows and
// enriches them with geocoded coordinates through a read-through cache.
package venue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/showgrid/event-indexer/internal/adapter"
	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/geocoder"
	"github.com/showgrid/event-indexer/internal/logger"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// Store is the persistence surface the resolver needs
type Store interface {
	GetVenueByNameNorm(ctx context.Context, siteID int64, nameNorm string) (*schema.Venue, error)
	CreateVenue(ctx context.Context, venue *schema.Venue) (*schema.Venue, error)
	UpdateVenue(ctx context.Context, venue *schema.Venue) error
	GetGeocodeCache(ctx context.Context, addressHash string) (*schema.GeocodeCache, error)
	UpsertGeocodeCache(ctx context.Context, entry *schema.GeocodeCache) error
}

// Resolver maps (site, venue name) to a venue row. Venues are created on
// first sighting and only ever enriched afterwards, never merged or deleted.
// Safe for concurrent use within a run.
type Resolver struct {
	store    Store
	geocoder geocoder.Client
	clock    adapter.Clock
	cacheTTL time.Duration

	mu sync.Mutex
	// failed tracks address hashes whose provider lookup failed during the
	// current run, so each address is attempted at most once per run
	failed map[string]struct{}
}

// NewResolver creates a venue resolver
func NewResolver(store Store, geocoderClient geocoder.Client, clock adapter.Clock, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		store:    store,
		geocoder: geocoderClient,
		clock:    clock,
		cacheTTL: cacheTTL,
		failed:   make(map[string]struct{}),
	}
}

// ResetRun clears the per-run failed-address set. Call it at the start of
// each ingest run.
func (r *Resolver) ResetRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = make(map[string]struct{})
}

// Resolve returns the canonical venue for the event's venue name, creating
// it on first sighting. Missing address or coordinates are filled in when
// the event carries them; geocoding failures are never fatal, the venue just
// stays uncoordinated.
func (r *Resolver) Resolve(ctx context.Context, siteID int64, event *domain.NormalizedEvent, defaultTZ string) (*schema.Venue, error) {
	nameNorm := domain.NormalizeTitle(event.VenueName)

	venue, err := r.store.GetVenueByNameNorm(ctx, siteID, nameNorm)
	if err != nil {
		return nil, err
	}

	if venue == nil {
		candidate := &schema.Venue{
			SiteID:   siteID,
			Name:     event.VenueName,
			NameNorm: nameNorm,
			TZName:   defaultTZ,
		}
		if event.VenueAddr != "" {
			addr := event.VenueAddr
			candidate.AddressLine1 = &addr
		}
		venue, err = r.store.CreateVenue(ctx, candidate)
		if err != nil {
			return nil, err
		}
	} else if event.VenueAddr != "" && moreComplete(event.VenueAddr, venue.AddressLine1) {
		// Enrich a venue first seen without an address, or with a less
		// complete one ("32 Ann St" gives way to "32 Ann St, Charleston, SC")
		addr := event.VenueAddr
		venue.AddressLine1 = &addr
		if err := r.store.UpdateVenue(ctx, venue); err != nil {
			return nil, err
		}
	}

	if !venue.HasCoordinates() && venue.AddressLine1 != nil {
		r.geocodeVenue(ctx, venue)
	}

	return venue, nil
}

// moreComplete reports whether the incoming address carries strictly more
// detail than the stored one. Normalized length is the proxy: a longer
// normalized form means more address components, while reorderings and
// punctuation differences compare equal and leave the stored value alone.
func moreComplete(incoming string, stored *string) bool {
	if stored == nil {
		return true
	}
	return len([]rune(domain.NormalizeTitle(incoming))) > len([]rune(domain.NormalizeTitle(*stored)))
}

// geocodeVenue fills the venue's coordinates from the cache or the provider.
// All failures are logged and swallowed.
func (r *Resolver) geocodeVenue(ctx context.Context, venue *schema.Venue) {
	address := *venue.AddressLine1
	normAddr := domain.NormalizeTitle(address)
	hash := AddressHash(normAddr)
	now := r.clock.Now()

	entry, err := r.store.GetGeocodeCache(ctx, hash)
	if err != nil {
		logger.WarnCtx(ctx, "geocode cache read failed", zap.String("address", address), zap.Error(err))
		return
	}

	if entry == nil || entry.Expired(now) {
		if r.attemptedAndFailed(hash) {
			return
		}

		result, gerr := r.geocoder.Geocode(ctx, address)
		if gerr != nil {
			r.markFailed(hash)
			logger.WarnCtx(ctx, "geocode lookup failed",
				zap.String("address", address),
				zap.Int64("venue_id", venue.ID),
				zap.Error(gerr))
			if entry == nil {
				return
			}
			// Refresh failed; the stale entry is still the best answer
		} else {
			entry = &schema.GeocodeCache{
				AddressHash: hash,
				Query:       normAddr,
				Latitude:    result.Latitude,
				Longitude:   result.Longitude,
				Raw:         datatypes.JSON(result.Raw),
				ExpiresAt:   now.Add(r.cacheTTL),
			}
			if err := r.store.UpsertGeocodeCache(ctx, entry); err != nil {
				logger.WarnCtx(ctx, "geocode cache write failed", zap.String("address", address), zap.Error(err))
				// Coordinates are still good for this run
			}
		}
	}

	venue.Latitude = &entry.Latitude
	venue.Longitude = &entry.Longitude
	if err := r.store.UpdateVenue(ctx, venue); err != nil {
		logger.WarnCtx(ctx, "venue coordinate update failed", zap.Int64("venue_id", venue.ID), zap.Error(err))
	}
}

func (r *Resolver) attemptedAndFailed(hash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.failed[hash]
	return ok
}

func (r *Resolver) markFailed(hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[hash] = struct{}{}
}

// AddressHash returns the cache key for a normalized address string
func AddressHash(normalizedAddress string) string {
	sum := sha256.Sum256([]byte(normalizedAddress))
	return hex.EncodeToString(sum[:])
}
