package schema

import "time"

// IngestRun represents the ingest_run table - one execution of crawling a
// source. Created at crawl start, finalized at crawl end; immutable after the
// terminal status write.
type IngestRun struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// SourceID references the crawled source
	SourceID int64 `gorm:"column:source_id;not null;index"`
	// StartedAt is when the run began
	StartedAt time.Time `gorm:"column:started_at;not null;default:now();type:timestamptz"`
	// FinishedAt is when the run reached a terminal status, nil while running
	FinishedAt *time.Time `gorm:"column:finished_at;type:timestamptz"`
	// Status is one of running, success, failed
	Status string `gorm:"column:status;not null;type:text;default:'running'"`
	// Error holds the failure message for failed runs
	Error *string `gorm:"column:error;type:text"`
	// Created counts events created by this run
	Created int `gorm:"column:created;not null;default:0"`
	// Merged counts events merged into existing instances by this run
	Merged int `gorm:"column:merged;not null;default:0"`
	// Flagged counts events created with a pending conflict by this run
	Flagged int `gorm:"column:flagged;not null;default:0"`
	// Rejected counts items rejected by validation in this run
	Rejected int `gorm:"column:rejected;not null;default:0"`

	// Associations
	Source Source `gorm:"foreignKey:SourceID"`
}

// TableName specifies the table name for the IngestRun model
func (IngestRun) TableName() string {
	return "ingest_run"
}
