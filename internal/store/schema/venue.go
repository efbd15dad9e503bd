package schema

import "time"

// Venue represents the venue table - one physical location, unique per
// (site, normalized name). Created on first sighting, enriched when richer
// address data arrives later, never deleted automatically and never merged.
type Venue struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// SiteID references the owning site
	SiteID int64 `gorm:"column:site_id;not null;uniqueIndex:idx_venue_site_name,priority:1"`
	// Name is the venue name as first seen
	Name string `gorm:"column:name;not null;type:text"`
	// NameNorm is the lowercased, whitespace-collapsed name used for identity
	NameNorm string `gorm:"column:name_norm;not null;type:text;uniqueIndex:idx_venue_site_name,priority:2"`
	// AddressLine1 is the first street address line
	AddressLine1 *string `gorm:"column:address_line1;type:text"`
	// AddressLine2 is the second street address line
	AddressLine2 *string `gorm:"column:address_line2;type:text"`
	// City is the venue city
	City *string `gorm:"column:city;type:text"`
	// State is the venue state or region
	State *string `gorm:"column:state;type:text"`
	// PostalCode is the venue postal code
	PostalCode *string `gorm:"column:postal_code;type:text"`
	// Country is the ISO country code
	Country string `gorm:"column:country;not null;type:text;default:'US'"`
	// Latitude is the resolved latitude, nil until geocoded
	Latitude *float64 `gorm:"column:latitude"`
	// Longitude is the resolved longitude, nil until geocoded
	Longitude *float64 `gorm:"column:longitude"`
	// TZName is the IANA timezone local times at this venue are interpreted in
	TZName string `gorm:"column:tz_name;not null;type:text"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	Site   Site            `gorm:"foreignKey:SiteID"`
	Events []EventInstance `gorm:"foreignKey:VenueID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Venue model
func (Venue) TableName() string {
	return "venue"
}

// HasCoordinates reports whether the venue has been geocoded
func (v *Venue) HasCoordinates() bool {
	return v.Latitude != nil && v.Longitude != nil
}
