package hierarchy

import (
	"github.com/google/uuid"

	"github.com/th309/Realestate-sub002/internal/geo"
)

// Derivation records how an edge was produced.
type Derivation string

const (
	DerivationDirect     Derivation = "direct"
	DerivationTransitive Derivation = "transitive"
	DerivationSpatial    Derivation = "spatial_fallback"
)

// BoundaryRelationship is one authoritative parent/child overlap tuple,
// bulk-loaded per vintage and immutable within it. Endpoint codes are
// resolved to canonical entity ids at ingest time.
type BoundaryRelationship struct {
	ID                uint           `gorm:"primaryKey"`
	Vintage           string         `gorm:"uniqueIndex:idx_geo_boundary_tuple,priority:1"`
	ParentType        geo.EntityType `gorm:"uniqueIndex:idx_geo_boundary_tuple,priority:2"`
	ParentCode        string         `gorm:"uniqueIndex:idx_geo_boundary_tuple,priority:3"`
	ChildType         geo.EntityType `gorm:"uniqueIndex:idx_geo_boundary_tuple,priority:4"`
	ChildCode         string         `gorm:"uniqueIndex:idx_geo_boundary_tuple,priority:5"`
	ParentEntityID    uuid.UUID      `gorm:"type:uuid;index"`
	ChildEntityID     uuid.UUID      `gorm:"type:uuid;index"`
	OverlapPercentage float64
	IsPrimary         bool
}

// HierarchyEdge is a derived containment edge. The table is a materialized
// view of the boundary relationships plus transitive and spatial inference;
// it is never hand-authored and is fully reconciled on every rebuild.
type HierarchyEdge struct {
	ChildID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"child_id"`
	ParentID uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"parent_id"`
	// ChildType/ParentType are denormalized from the entities so primary
	// invariants and prune scoping never need a join.
	ChildType         geo.EntityType `gorm:"index" json:"child_type"`
	ParentType        geo.EntityType `json:"parent_type"`
	ChildLevel        int            `json:"child_level"`
	IsPrimary         bool           `json:"is_primary"`
	OverlapPercentage float64        `json:"overlap_percentage"`
	Derivation        Derivation     `json:"derivation"`
}
