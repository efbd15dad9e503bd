package schema

import "time"

// EventConflict represents the event_conflict table - a pending ambiguous
// match surfaced for manual review. Written when fuzzy confidence fell in the
// flagged band: the candidate was created as its own event and linked here to
// the near-miss it may duplicate. Additive only; never blocks the pipeline.
type EventConflict struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// EventInstanceID references the newly created event
	EventInstanceID int64 `gorm:"column:event_instance_id;not null;index"`
	// NearEventInstanceID references the existing near-miss event
	NearEventInstanceID int64 `gorm:"column:near_event_instance_id;not null"`
	// Confidence is the fuzzy score that landed in the flagged band
	Confidence float64 `gorm:"column:confidence;not null"`
	// Resolved is set by an admin after reviewing the pair
	Resolved bool `gorm:"column:resolved;not null;default:false"`
	// CreatedAt is the timestamp when this conflict was recorded
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`

	// Associations
	EventInstance EventInstance `gorm:"foreignKey:EventInstanceID"`
}

// TableName specifies the table name for the EventConflict model
func (EventConflict) TableName() string {
	return "event_conflict"
}
