package schema

import "time"

// Source represents the source table - one crawlable origin (URL/API)
// belonging to a site, with its politeness configuration and parser tag.
// Created by configuration, updated rarely.
type Source struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// SiteID references the owning site
	SiteID int64 `gorm:"column:site_id;not null;uniqueIndex:idx_source_site_url,priority:1"`
	// Name is the human-readable source name
	Name string `gorm:"column:name;not null;type:text"`
	// URL is the crawl entry point, unique within a site
	URL string `gorm:"column:url;not null;type:text;uniqueIndex:idx_source_site_url,priority:2"`
	// ParserType tags which extractor shape this source produces
	ParserType string `gorm:"column:parser_type;not null;type:text"`
	// RequiresBrowser indicates the fetch layer must render JavaScript
	RequiresBrowser bool `gorm:"column:requires_browser;not null;default:false"`
	// RateLimitRPS is the politeness rate for the fetch layer
	RateLimitRPS float64 `gorm:"column:rate_limit_rps;not null;default:1"`
	// RespectRobots indicates robots.txt compliance for the fetch layer
	RespectRobots bool `gorm:"column:respect_robots;not null;default:true"`
	// Active indicates whether the source is scheduled for crawling
	Active bool `gorm:"column:active;not null;default:true"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	Site       Site        `gorm:"foreignKey:SiteID"`
	IngestRuns []IngestRun `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Source model
func (Source) TableName() string {
	return "source"
}
