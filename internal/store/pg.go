package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/showgrid/event-indexer/internal/domain"
	"github.com/showgrid/event-indexer/internal/store/schema"
)

// constraintRaceRetries bounds the re-fetch attempts after a uniqueness race
const constraintRaceRetries = 3

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// Migrate creates or updates the persisted schema surface. The uniqueness
// constraints declared on the models form the durable contract the engine's
// insert-or-fetch semantics rely on.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Site{},
		&schema.Source{},
		&schema.IngestRun{},
		&schema.Venue{},
		&schema.GeocodeCache{},
		&schema.EventInstance{},
		&schema.EventSourceLink{},
		&schema.EventConflict{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// withConstraintRetry re-runs op when it reports a uniqueness race. The race
// means another writer just created the row; the retried op re-fetches and
// converges. Bounded so a persistent storage fault still surfaces.
func withConstraintRetry(ctx context.Context, op func() error) error {
	attempt := func() error {
		err := op()
		if errors.Is(err, domain.ErrConstraintRace) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), constraintRaceRetries), ctx)
	return backoff.Retry(attempt, b)
}

// EnsureSite inserts a site by slug or returns the existing row
func (s *pgStore) EnsureSite(ctx context.Context, input EnsureSiteInput) (*schema.Site, error) {
	site := schema.Site{
		Slug:        input.Slug,
		DisplayName: input.DisplayName,
		TZName:      input.TZName,
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoNothing: true,
	}).Clauses(clause.Returning{Columns: []clause.Column{}}).
		Create(&site).Error; err != nil {
		return nil, fmt.Errorf("failed to create site: %w", err)
	}

	// ID 0 means the slug already existed, fetch the winner
	if site.ID == 0 {
		if err := s.db.WithContext(ctx).Where("slug = ?", input.Slug).First(&site).Error; err != nil {
			return nil, fmt.Errorf("failed to get existing site: %w", err)
		}
	}

	return &site, nil
}

// GetSiteBySlug retrieves a site by its slug
func (s *pgStore) GetSiteBySlug(ctx context.Context, slug string) (*schema.Site, error) {
	var site schema.Site
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&site).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return &site, nil
}

// EnsureSource inserts a source by (site, url) or refreshes the existing
// row's configuration. The config file is the source of truth for politeness.
func (s *pgStore) EnsureSource(ctx context.Context, input EnsureSourceInput) (*schema.Source, error) {
	source := schema.Source{
		SiteID:          input.SiteID,
		Name:            input.Name,
		URL:             input.URL,
		ParserType:      input.ParserType,
		RequiresBrowser: input.RequiresBrowser,
		RateLimitRPS:    input.RateLimitRPS,
		RespectRobots:   input.RespectRobots,
		Active:          input.Active,
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "site_id"}, {Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "parser_type", "requires_browser", "rate_limit_rps", "respect_robots", "active", "updated_at",
		}),
	}).Create(&source).Error; err != nil {
		return nil, fmt.Errorf("failed to ensure source: %w", err)
	}

	if source.ID == 0 {
		if err := s.db.WithContext(ctx).Where("site_id = ? AND url = ?", input.SiteID, input.URL).First(&source).Error; err != nil {
			return nil, fmt.Errorf("failed to get existing source: %w", err)
		}
	}

	return &source, nil
}

// GetActiveSources retrieves the active sources for a site
func (s *pgStore) GetActiveSources(ctx context.Context, siteID int64) ([]*schema.Source, error) {
	var sources []*schema.Source
	err := s.db.WithContext(ctx).
		Where("site_id = ? AND active = ?", siteID, true).
		Order("id").
		Find(&sources).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get active sources: %w", err)
	}
	return sources, nil
}

// CreateIngestRun opens a running ingest_run row for a source
func (s *pgStore) CreateIngestRun(ctx context.Context, sourceID int64) (*schema.IngestRun, error) {
	run := schema.IngestRun{
		SourceID:  sourceID,
		StartedAt: time.Now().UTC(),
		Status:    string(domain.RunStatusRunning),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to create ingest run: %w", err)
	}
	return &run, nil
}

// FinalizeIngestRun writes the terminal status, error, and counters of a run
func (s *pgStore) FinalizeIngestRun(ctx context.Context, runID int64, status domain.RunStatus, runErr error, summary domain.IngestSummary) error {
	updates := map[string]interface{}{
		"status":      string(status),
		"finished_at": time.Now().UTC(),
		"created":     summary.Created,
		"merged":      summary.Merged,
		"flagged":     summary.Flagged,
		"rejected":    summary.Rejected,
	}
	if runErr != nil {
		msg := runErr.Error()
		updates["error"] = msg
	}

	err := s.db.WithContext(ctx).
		Model(&schema.IngestRun{}).
		Where("id = ?", runID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to finalize ingest run: %w", err)
	}
	return nil
}

// GetIngestRun retrieves a run by id
func (s *pgStore) GetIngestRun(ctx context.Context, runID int64) (*schema.IngestRun, error) {
	var run schema.IngestRun
	if err := s.db.WithContext(ctx).First(&run, runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ingest run: %w", err)
	}
	return &run, nil
}

// GetVenueByNameNorm retrieves a venue by its normalized name within a site
func (s *pgStore) GetVenueByNameNorm(ctx context.Context, siteID int64, nameNorm string) (*schema.Venue, error) {
	var venue schema.Venue
	err := s.db.WithContext(ctx).
		Where("site_id = ? AND name_norm = ?", siteID, nameNorm).
		First(&venue).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get venue: %w", err)
	}
	return &venue, nil
}

// CreateVenue inserts a venue, converging on the existing row when a
// concurrent writer won the (site, name_norm) uniqueness race
func (s *pgStore) CreateVenue(ctx context.Context, venue *schema.Venue) (*schema.Venue, error) {
	var result *schema.Venue

	err := withConstraintRetry(ctx, func() error {
		v := *venue
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site_id"}, {Name: "name_norm"}},
			DoNothing: true,
		}).Clauses(clause.Returning{Columns: []clause.Column{}}).
			Create(&v).Error; err != nil {
			return fmt.Errorf("failed to create venue: %w", err)
		}

		if v.ID != 0 {
			result = &v
			return nil
		}

		// Someone else just created it, fetch their row
		existing, err := s.GetVenueByNameNorm(ctx, venue.SiteID, venue.NameNorm)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrConstraintRace
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateVenue persists address/geocode enrichment on an existing venue
func (s *pgStore) UpdateVenue(ctx context.Context, venue *schema.Venue) error {
	venue.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(venue).Error; err != nil {
		return fmt.Errorf("failed to update venue: %w", err)
	}
	return nil
}

// GetGeocodeCache retrieves a cache entry by address hash, expired or not.
// Expiry is the caller's concern; an expired entry still carries the last
// known coordinates.
func (s *pgStore) GetGeocodeCache(ctx context.Context, addressHash string) (*schema.GeocodeCache, error) {
	var entry schema.GeocodeCache
	err := s.db.WithContext(ctx).Where("address_hash = ?", addressHash).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get geocode cache entry: %w", err)
	}
	return &entry, nil
}

// UpsertGeocodeCache writes or refreshes a cache entry. Concurrent writers
// for the same address converge on the last write; both wrote the same
// provider answer, so the race is harmless.
func (s *pgStore) UpsertGeocodeCache(ctx context.Context, entry *schema.GeocodeCache) error {
	entry.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"query", "latitude", "longitude", "raw", "expires_at", "updated_at",
		}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to upsert geocode cache entry: %w", err)
	}
	return nil
}

// GetEventByExactKey retrieves the event matching the deterministic key
// (venue, normalized title, start minute)
func (s *pgStore) GetEventByExactKey(ctx context.Context, venueID int64, titleNorm string, startMinute time.Time) (*schema.EventInstance, error) {
	var event schema.EventInstance
	err := s.db.WithContext(ctx).
		Where("venue_id = ? AND title_norm = ? AND starts_at_utc = ?", venueID, titleNorm, startMinute).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event by exact key: %w", err)
	}
	return &event, nil
}

// GetEventsByVenueWindow retrieves same-venue candidates whose start lies in
// [from, to], each with its attribution link count
func (s *pgStore) GetEventsByVenueWindow(ctx context.Context, venueID int64, from, to time.Time) ([]*EventWithLinkCount, error) {
	var results []*EventWithLinkCount
	err := s.db.WithContext(ctx).
		Table("event_instance").
		Select("event_instance.*, COUNT(event_source_link.id) AS link_count").
		Joins("LEFT JOIN event_source_link ON event_source_link.event_instance_id = event_instance.id").
		Where("event_instance.venue_id = ? AND event_instance.starts_at_utc BETWEEN ? AND ?", venueID, from, to).
		Group("event_instance.id").
		Order("event_instance.id").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get venue window candidates: %w", err)
	}
	return results, nil
}

// CreateEventWithLink inserts an event plus its first link in one
// transaction. When another writer created the same exact key first, the
// existing event is returned with created=false and nothing is written.
func (s *pgStore) CreateEventWithLink(ctx context.Context, input CreateEventInput) (*schema.EventInstance, bool, error) {
	var (
		event   schema.EventInstance
		created bool
	)

	err := withConstraintRetry(ctx, func() error {
		event = input.Event
		created = false

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "venue_id"}, {Name: "title_norm"}, {Name: "starts_at_utc"}},
				DoNothing: true,
			}).Clauses(clause.Returning{Columns: []clause.Column{}}).
				Create(&event).Error; err != nil {
				return fmt.Errorf("failed to create event instance: %w", err)
			}

			// ID 0 means a concurrent creator won the exact-key race; hand the
			// existing row back so the caller merges into it instead
			if event.ID == 0 {
				var existing schema.EventInstance
				err := tx.Where("venue_id = ? AND title_norm = ? AND starts_at_utc = ?",
					input.Event.VenueID, input.Event.TitleNorm, input.Event.StartsAtUTC).
					First(&existing).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrConstraintRace
				}
				if err != nil {
					return fmt.Errorf("failed to get existing event: %w", err)
				}
				event = existing
				return nil
			}

			created = true

			link := schema.EventSourceLink{
				EventInstanceID: event.ID,
				SourceID:        input.Link.SourceID,
				IngestRunID:     input.Link.IngestRunID,
				ExternalID:      input.Link.ExternalID,
				SourceURL:       input.Link.SourceURL,
				Normalized:      input.Link.Normalized,
			}
			if err := tx.Create(&link).Error; err != nil {
				return fmt.Errorf("failed to create event source link: %w", err)
			}

			if input.NearMissEventID != 0 {
				conflict := schema.EventConflict{
					EventInstanceID:     event.ID,
					NearEventInstanceID: input.NearMissEventID,
					Confidence:          input.NearMissConfidence,
				}
				if err := tx.Create(&conflict).Error; err != nil {
					return fmt.Errorf("failed to create event conflict: %w", err)
				}
			}

			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}

	return &event, created, nil
}

// MergeEventLink upserts one source's link on an existing event and fills the
// display snapshot per the first-writer-wins policy. Divergent incoming
// values never overwrite the snapshot; they set the field_conflict flag.
func (s *pgStore) MergeEventLink(ctx context.Context, input MergeEventInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event schema.EventInstance
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", input.EventID).
			First(&event).Error; err != nil {
			return fmt.Errorf("failed to lock event for merge: %w", err)
		}

		updates := snapshotUpdates(&event, &input.Incoming)
		if len(updates) > 0 {
			updates["updated_at"] = time.Now().UTC()
			if err := tx.Model(&schema.EventInstance{}).Where("id = ?", event.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update event snapshot: %w", err)
			}
		}

		link := schema.EventSourceLink{
			EventInstanceID: input.EventID,
			SourceID:        input.Link.SourceID,
			IngestRunID:     input.Link.IngestRunID,
			ExternalID:      input.Link.ExternalID,
			SourceURL:       input.Link.SourceURL,
			Normalized:      input.Link.Normalized,
			UpdatedAt:       time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "event_instance_id"}, {Name: "source_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"ingest_run_id", "external_id", "source_url", "normalized", "updated_at",
			}),
		}).Create(&link).Error; err != nil {
			return fmt.Errorf("failed to upsert event source link: %w", err)
		}

		return nil
	})
}

// snapshotUpdates computes the display-snapshot changes for a merge: empty
// fields are filled from the incoming version (first writer wins, later
// writers only supplement), and divergent non-empty values raise the
// field_conflict flag instead of overwriting.
func snapshotUpdates(event *schema.EventInstance, inc *domain.NormalizedEvent) map[string]interface{} {
	updates := map[string]interface{}{}
	conflict := false

	if event.ArtistName == nil && inc.ArtistName != nil {
		updates["artist_name"] = *inc.ArtistName
	}
	if event.Description == nil && inc.Description != nil {
		updates["description"] = *inc.Description
	}
	if event.EndsAtUTC == nil && inc.EndsAtUTC != nil {
		updates["ends_at_utc"] = *inc.EndsAtUTC
	}
	if event.DoorsAtUTC == nil && inc.DoorsAtUTC != nil {
		updates["doors_at_utc"] = *inc.DoorsAtUTC
	}

	switch {
	case event.PriceMin == nil && event.PriceMax == nil && inc.Price.Min != nil:
		updates["price_min"] = *inc.Price.Min
		updates["price_max"] = *inc.Price.Max
		updates["currency"] = inc.Price.Currency
	case event.PriceMin != nil && inc.Price.Min != nil && *event.PriceMin != *inc.Price.Min:
		conflict = true
	case event.PriceMax != nil && inc.Price.Max != nil && *event.PriceMax != *inc.Price.Max:
		conflict = true
	}
	if event.PriceText == nil && inc.Price.Raw != "" {
		updates["price_text"] = inc.Price.Raw
	}

	if event.TicketURL == nil && inc.TicketURL != nil {
		updates["ticket_url"] = *inc.TicketURL
	} else if event.TicketURL != nil && inc.TicketURL != nil && *event.TicketURL != *inc.TicketURL {
		conflict = true
	}

	if event.AgeRestriction == string(domain.AgeUnknown) && inc.Age != domain.AgeUnknown {
		updates["age_restriction"] = string(inc.Age)
	} else if inc.Age != domain.AgeUnknown && event.AgeRestriction != string(domain.AgeUnknown) && event.AgeRestriction != string(inc.Age) {
		conflict = true
	}

	// Cancellation is monotonic: any source announcing a cancellation wins
	if inc.IsCancelled && !event.IsCancelled {
		updates["is_cancelled"] = true
	}

	if conflict && !event.FieldConflict {
		updates["field_conflict"] = true
	}

	return updates
}

// CountEventSourceLinks returns the number of attribution links on an event
func (s *pgStore) CountEventSourceLinks(ctx context.Context, eventID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&schema.EventSourceLink{}).
		Where("event_instance_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count event source links: %w", err)
	}
	return count, nil
}

// GetEventSourceLinks retrieves all attribution links for an event
func (s *pgStore) GetEventSourceLinks(ctx context.Context, eventID int64) ([]*schema.EventSourceLink, error) {
	var links []*schema.EventSourceLink
	err := s.db.WithContext(ctx).
		Where("event_instance_id = ?", eventID).
		Order("source_id").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get event source links: %w", err)
	}
	return links, nil
}

// GetEventConflicts retrieves the unresolved conflicts for an event
func (s *pgStore) GetEventConflicts(ctx context.Context, eventID int64) ([]*schema.EventConflict, error) {
	var conflicts []*schema.EventConflict
	err := s.db.WithContext(ctx).
		Where("event_instance_id = ? AND resolved = ?", eventID, false).
		Order("id").
		Find(&conflicts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get event conflicts: %w", err)
	}
	return conflicts, nil
}
