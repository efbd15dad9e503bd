package store

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// EnsureSiteInput describes a configured site to provision
type EnsureSiteInput struct {
	Slug        string
	DisplayName string
	TZName      string
}

// EnsureSourceInput describes a configured source to provision
type EnsureSourceInput struct {
	SiteID          int64
	Name            string
	URL             string
	ParserType      string
	RequiresBrowser bool
	RateLimitRPS    float64
	RespectRobots   bool
	Active          bool
}

// LinkInput holds the attribution fields for one event_source_link row
type LinkInput struct {
	SourceID    int64
	IngestRunID int64
	ExternalID  *string
	SourceURL   string
	// Normalized is the contributing source's own normalized payload
	Normalized datatypes.JSON
}

// CreateEventInput creates a canonical event together with its first
// attribution link, and optionally a conflict marker referencing a near-miss.
type CreateEventInput struct {
	Event schema.EventInstance
	Link  LinkInput
	// NearMissEventID, when non-zero, records an event_conflict row linking the
	// created event to the near-miss it may duplicate
	NearMissEventID int64
	// NearMissConfidence is the fuzzy score that landed in the flagged band
	NearMissConfidence float64
}

// MergeEventInput merges one source's version into an existing canonical
// event: the link row is upserted and the display snapshot is filled per the
// first-writer-wins policy. No prior link is ever deleted or overwritten with
// another source's values.
type MergeEventInput struct {
	EventID int64
	Link    LinkInput
	// Incoming is the merging source's normalized version, used to fill display
	// fields the first writer left empty and to detect divergence
	Incoming domain.NormalizedEvent
}

// EventWithLinkCount pairs a candidate event with its attribution link count,
// used by the match engine's corroboration tie-break
type EventWithLinkCount struct {
	schema.EventInstance
	LinkCount int64 `gorm:"column:link_count"`
}

// Store defines the interface for database operations
type Store interface {
	// EnsureSite inserts a site by slug or returns the existing row
	EnsureSite(ctx context.Context, input EnsureSiteInput) (*schema.Site, error)
	// GetSiteBySlug retrieves a site by its slug
	GetSiteBySlug(ctx context.Context, slug string) (*schema.Site, error)
	// EnsureSource inserts a source by (site, url) or returns the existing row
	EnsureSource(ctx context.Context, input EnsureSourceInput) (*schema.Source, error)
	// GetActiveSources retrieves the active sources for a site
	GetActiveSources(ctx context.Context, siteID int64) ([]*schema.Source, error)

	// CreateIngestRun opens a running ingest_run row for a source
	CreateIngestRun(ctx context.Context, sourceID int64) (*schema.IngestRun, error)
	// FinalizeIngestRun writes the terminal status, error, and counters of a run
	FinalizeIngestRun(ctx context.Context, runID int64, status domain.RunStatus, runErr error, summary domain.IngestSummary) error
	// GetIngestRun retrieves a run by id
	GetIngestRun(ctx context.Context, runID int64) (*schema.IngestRun, error)

	// GetVenueByNameNorm retrieves a venue by its normalized name within a site
	GetVenueByNameNorm(ctx context.Context, siteID int64, nameNorm string) (*schema.Venue, error)
	// CreateVenue inserts a venue, converging on the existing row when a
	// concurrent writer won the (site, name_norm) uniqueness race
	CreateVenue(ctx context.Context, venue *schema.Venue) (*schema.Venue, error)
	// UpdateVenue persists address/geocode enrichment on an existing venue
	UpdateVenue(ctx context.Context, venue *schema.Venue) error

	// GetGeocodeCache retrieves a cache entry by address hash, expired or not
	GetGeocodeCache(ctx context.Context, addressHash string) (*schema.GeocodeCache, error)
	// UpsertGeocodeCache writes or refreshes a cache entry
	UpsertGeocodeCache(ctx context.Context, entry *schema.GeocodeCache) error

	// GetEventByExactKey retrieves the event matching the deterministic key
	// (venue, normalized title, start minute)
	GetEventByExactKey(ctx context.Context, venueID int64, titleNorm string, startMinute time.Time) (*schema.EventInstance, error)
	// GetEventsByVenueWindow retrieves same-venue candidates whose start lies in
	// [from, to], each with its attribution link count
	GetEventsByVenueWindow(ctx context.Context, venueID int64, from, to time.Time) ([]*EventWithLinkCount, error)

	// CreateEventWithLink inserts an event plus its first link in one
	// transaction. When the exact key already exists (a concurrent creator
	// won), the existing event is returned with created=false and no link is
	// written; the caller merges instead.
	CreateEventWithLink(ctx context.Context, input CreateEventInput) (event *schema.EventInstance, created bool, err error)
	// MergeEventLink upserts one source's link on an existing event and fills
	// the display snapshot per the first-writer-wins policy
	MergeEventLink(ctx context.Context, input MergeEventInput) error

	// CountEventSourceLinks returns the number of attribution links on an event
	CountEventSourceLinks(ctx context.Context, eventID int64) (int64, error)
	// GetEventSourceLinks retrieves all attribution links for an event
	GetEventSourceLinks(ctx context.Context, eventID int64) ([]*schema.EventSourceLink, error)
	// GetEventConflicts retrieves the unresolved conflicts for an event
	GetEventConflicts(ctx context.Context, eventID int64) ([]*schema.EventConflict, error)
}
