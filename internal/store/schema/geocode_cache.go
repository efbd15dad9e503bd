package schema

import (
	"time"

	"gorm.io/datatypes"
)

// GeocodeCache represents the geocode_cache table - provider results keyed by
// a hash of the normalized address string. Multiple venues sharing an address
// share one entry; an expired entry triggers a fresh provider lookup.
type GeocodeCache struct {
	// AddressHash is the sha256 hex digest of the normalized address string
	AddressHash string `gorm:"column:address_hash;primaryKey;type:text"`
	// Query is the normalized address the provider was asked for
	Query string `gorm:"column:query;not null;type:text"`
	// Latitude is the resolved latitude
	Latitude float64 `gorm:"column:latitude;not null"`
	// Longitude is the resolved longitude
	Longitude float64 `gorm:"column:longitude;not null"`
	// Raw is the raw provider response payload
	Raw datatypes.JSON `gorm:"column:raw;type:jsonb"`
	// ExpiresAt is the forward expiry; entries past it are refreshed on read
	ExpiresAt time.Time `gorm:"column:expires_at;not null;type:timestamptz"`
	// CreatedAt is the timestamp when this entry was first written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp of the last refresh
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the GeocodeCache model
func (GeocodeCache) TableName() string {
	return "geocode_cache"
}

// Expired reports whether the entry is past its forward expiry
func (g *GeocodeCache) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}
