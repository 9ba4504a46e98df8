package geo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EntityType is the fixed place taxonomy. Every canonical entity is exactly
// one of these, immutable after creation.
type EntityType string

const (
	TypeNational EntityType = "national"
	TypeState    EntityType = "state"
	TypeMetro    EntityType = "metro"
	TypeCounty   EntityType = "county"
	TypeCity     EntityType = "city"
	TypeZipArea  EntityType = "zip_area"
)

// Level returns the hierarchy level: 0=national, 1=state, 2=metro/county,
// 3=city, 4=zip-area. Unknown types return -1.
func (t EntityType) Level() int {
	switch t {
	case TypeNational:
		return 0
	case TypeState:
		return 1
	case TypeMetro, TypeCounty:
		return 2
	case TypeCity:
		return 3
	case TypeZipArea:
		return 4
	}
	return -1
}

// Valid reports whether t is one of the six known entity types.
func (t EntityType) Valid() bool {
	return t.Level() >= 0
}

// NumLevels bounds ancestor traversal: no primary path is longer than the
// number of hierarchy levels.
const NumLevels = 5

type MatchType string

const (
	MatchExact          MatchType = "exact"
	MatchNormalizedName MatchType = "normalized_name"
	MatchFuzzy          MatchType = "fuzzy"
	MatchSpatial        MatchType = "spatial"
	MatchManualCreated  MatchType = "manual_created"
)

// GeographicEntity is the canonical deduplicated record for one physical
// place. The natural key (type, normalized_name, state) backs the atomic
// insert-if-absent used when concurrent workers race to create the same
// entity.
type GeographicEntity struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Type           EntityType `gorm:"uniqueIndex:idx_geo_entities_natural,priority:1" json:"type"`
	Name           string     `json:"name"`
	NormalizedName string     `gorm:"uniqueIndex:idx_geo_entities_natural,priority:2" json:"normalized_name"`
	State          string     `gorm:"uniqueIndex:idx_geo_entities_natural,priority:3" json:"state"`
	// Geometry is an optional GeoJSON Polygon or MultiPolygon.
	Geometry   datatypes.JSON `json:"geometry,omitempty"`
	Population *int64         `json:"population,omitempty"`
	Latitude   *float64       `json:"latitude,omitempty"`
	Longitude  *float64       `json:"longitude,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// IdentifierMapping records that one provider's raw reference resolves to a
// canonical entity. (source, source_id) is unique, which makes re-processing
// the same provider record idempotent.
type IdentifierMapping struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	Source      string    `gorm:"uniqueIndex:idx_geo_mappings_ref,priority:1" json:"source"`
	SourceID    string    `gorm:"uniqueIndex:idx_geo_mappings_ref,priority:2" json:"source_id"`
	EntityID    uuid.UUID `gorm:"type:uuid;index" json:"entity_id"`
	MatchType   MatchType `json:"match_type"`
	Confidence  float64   `json:"confidence"`
	NeedsReview bool      `gorm:"index" json:"needs_review"`
	CreatedAt   time.Time `json:"created_at"`
}
