package schema

import (
	"time"

	"gorm.io/datatypes"
)

// EventSourceLink represents the event_source_link table - the attribution
// record tying one canonical event to one contributing source's version.
// Unique per (event_instance, source): a source updates its own row across
// reruns but never creates a second link to the same canonical event, and a
// merge never deletes another source's row.
type EventSourceLink struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// EventInstanceID references the canonical event
	EventInstanceID int64 `gorm:"column:event_instance_id;not null;uniqueIndex:idx_event_source_link,priority:1"`
	// SourceID references the contributing source
	SourceID int64 `gorm:"column:source_id;not null;uniqueIndex:idx_event_source_link,priority:2"`
	// IngestRunID references the run that last wrote this link
	IngestRunID int64 `gorm:"column:ingest_run_id;not null"`
	// ExternalID is the source's own identifier for the listing, when it has one
	ExternalID *string `gorm:"column:external_id;type:text"`
	// SourceURL is the listing URL at the source
	SourceURL string `gorm:"column:source_url;not null;type:text"`
	// Normalized is this source's own normalized payload, retained verbatim
	// for auditability regardless of what the display snapshot shows
	Normalized datatypes.JSON `gorm:"column:normalized;type:jsonb"`
	// CreatedAt is the timestamp when this link was first written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp of the last rerun update
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	EventInstance EventInstance `gorm:"foreignKey:EventInstanceID"`
	Source        Source        `gorm:"foreignKey:SourceID"`
}

// TableName specifies the table name for the EventSourceLink model
func (EventSourceLink) TableName() string {
	return "event_source_link"
}
