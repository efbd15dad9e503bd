package schema

import "time"

// EventInstance represents the event_instance table - one canonical,
// deduplicated occurrence. The row holds the displayed snapshot; each
// contributing source's own values live on its event_source_link row.
// The unique index on (venue_id, title_norm, starts_at_utc) is the
// exact-match key; starts_at_utc is stored truncated to the minute.
type EventInstance struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// SiteID references the owning site
	SiteID int64 `gorm:"column:site_id;not null;index"`
	// VenueID references the resolved venue
	VenueID int64 `gorm:"column:venue_id;not null;uniqueIndex:idx_event_exact_key,priority:1;index:idx_event_venue_start,priority:1"`
	// Title is the displayed event title
	Title string `gorm:"column:title;not null;type:text"`
	// TitleNorm is the lowercased, whitespace-collapsed title used for matching
	TitleNorm string `gorm:"column:title_norm;not null;type:text;uniqueIndex:idx_event_exact_key,priority:2"`
	// ArtistName is the headline artist, when the source distinguishes it
	ArtistName *string `gorm:"column:artist_name;type:text"`
	// Description is the displayed long-form description
	Description *string `gorm:"column:description;type:text"`
	// StartsAtUTC is the start instant, truncated to the minute
	StartsAtUTC time.Time `gorm:"column:starts_at_utc;not null;type:timestamptz;uniqueIndex:idx_event_exact_key,priority:3;index:idx_event_venue_start,priority:2"`
	// EndsAtUTC is the end instant, when known
	EndsAtUTC *time.Time `gorm:"column:ends_at_utc;type:timestamptz"`
	// DoorsAtUTC is the doors-open instant, when known
	DoorsAtUTC *time.Time `gorm:"column:doors_at_utc;type:timestamptz"`
	// TZName is the IANA timezone the source-local times were interpreted in
	TZName string `gorm:"column:tz_name;not null;type:text"`
	// PriceMin is the displayed minimum price, nil for donation/unparseable
	PriceMin *float64 `gorm:"column:price_min"`
	// PriceMax is the displayed maximum price, nil for donation/unparseable
	PriceMax *float64 `gorm:"column:price_max"`
	// PriceText is the raw source price text kept for display fallback
	PriceText *string `gorm:"column:price_text;type:text"`
	// Currency is the ISO currency code for the price range
	Currency string `gorm:"column:currency;not null;type:text;default:'USD'"`
	// TicketURL is the displayed ticketing link
	TicketURL *string `gorm:"column:ticket_url;type:text"`
	// AgeRestriction is one of all_ages, 18+, 21+, unknown
	AgeRestriction string `gorm:"column:age_restriction;not null;type:text;default:'unknown'"`
	// IsCancelled marks events announced as cancelled
	IsCancelled bool `gorm:"column:is_cancelled;not null;default:false"`
	// LowConfidenceTime marks start times produced by the evening-hours heuristic
	LowConfidenceTime bool `gorm:"column:low_confidence_time;not null;default:false"`
	// FieldConflict marks events whose sources reported divergent display values
	FieldConflict bool `gorm:"column:field_conflict;not null;default:false"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	Venue       Venue             `gorm:"foreignKey:VenueID"`
	SourceLinks []EventSourceLink `gorm:"foreignKey:EventInstanceID;constraint:OnDelete:CASCADE"`
	Conflicts   []EventConflict   `gorm:"foreignKey:EventInstanceID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the EventInstance model
func (EventInstance) TableName() string {
	return "event_instance"
}
