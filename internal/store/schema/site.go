package schema

import "time"

// Site represents the site table - one geographic scene (e.g., a metro area)
// scoping all sources, venues, and events. Immutable once created.
type Site struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Slug is the unique identifier for the scene (e.g., "charleston")
	Slug string `gorm:"column:slug;not null;uniqueIndex;type:text"`
	// DisplayName is the human-readable scene name
	DisplayName string `gorm:"column:display_name;not null;type:text"`
	// TZName is the default IANA timezone for venues in this scene
	TZName string `gorm:"column:tz_name;not null;type:text"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`

	// Associations
	Sources []Source `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE"`
	Venues  []Venue  `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Site model
func (Site) TableName() string {
	return "site"
}
