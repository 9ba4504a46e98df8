package hierarchy

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/th309/Realestate-sub002/internal/geo"
	"github.com/th309/Realestate-sub002/internal/geometry"
)

// minSpatialOverlap is the smallest intersection share recorded as a
// secondary edge; slivers from boundary digitization noise fall below it.
const minSpatialOverlap = 1.0

// SpatialEngine fills hierarchy gaps by geometry. It activates only for
// entities that still have zero parent edges at their expected level after
// the authoritative pass, and only when the orphan carries geometry.
// Authoritative relationships always win; geometric containment is strictly
// a fallback.
type SpatialEngine struct {
	log *slog.Logger
}

func NewSpatialEngine(log *slog.Logger) *SpatialEngine {
	if log == nil {
		log = slog.Default()
	}
	return &SpatialEngine{log: log}
}

// Fill appends spatial-fallback edges to the desired set in place. Orphans
// without geometry are flagged unresolved on the report; they stay in the
// entity set either way.
func (se *SpatialEngine) Fill(ctx context.Context, desired EdgeSet, entities map[uuid.UUID]*geo.GeographicEntity, report *RebuildReport) {
	parsed := map[uuid.UUID]geom.Geometry{}
	geomOf := func(id uuid.UUID) (geom.Geometry, bool) {
		if g, ok := parsed[id]; ok {
			return g, !g.IsEmpty()
		}
		e := entities[id]
		if e == nil || len(e.Geometry) == 0 {
			parsed[id] = geom.Geometry{}
			return geom.Geometry{}, false
		}
		g, err := geometry.Parse(e.Geometry)
		if err != nil {
			se.log.Warn("unparseable entity geometry", "entity", id, "err", err)
			g = geom.Geometry{}
		}
		parsed[id] = g
		return g, !g.IsEmpty()
	}

	// Candidate parents per type, id-ordered for deterministic scans.
	byType := map[geo.EntityType][]uuid.UUID{}
	for id, e := range entities {
		byType[e.Type] = append(byType[e.Type], id)
	}
	for t := range byType {
		ids := byType[t]
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	}

	for _, childType := range []geo.EntityType{geo.TypeZipArea, geo.TypeCity, geo.TypeCounty, geo.TypeMetro} {
		parentType := expectedParent[childType]
		for _, childID := range byType[childType] {
			if hasParentOfType(desired[childID], parentType) {
				continue
			}

			child := entities[childID]
			childGeom, ok := geomOf(childID)
			if !ok {
				report.AddUnresolved(UnresolvedEntity{
					EntityID: childID,
					Name:     child.Name,
					Type:     childType,
					Reason:   "no authoritative " + string(parentType) + " relationship and no geometry",
				})
				continue
			}

			edges := se.containmentEdges(childID, childType, parentType, childGeom, byType[parentType], geomOf)
			if len(edges) == 0 {
				report.AddUnresolved(UnresolvedEntity{
					EntityID: childID,
					Name:     child.Name,
					Type:     childType,
					Reason:   "geometry intersects no candidate " + string(parentType),
				})
				continue
			}
			desired[childID] = append(desired[childID], edges...)
		}
	}
}

func hasParentOfType(edges []HierarchyEdge, t geo.EntityType) bool {
	for _, e := range edges {
		if e.ParentType == t {
			return true
		}
	}
	return false
}

// containmentEdges scores every intersecting candidate by intersection area
// over orphan area. The highest share is primary; an exact tie goes to the
// candidate scanned first, which is the lexicographically smaller id.
func (se *SpatialEngine) containmentEdges(childID uuid.UUID, childType, parentType geo.EntityType, childGeom geom.Geometry, candidates []uuid.UUID, geomOf func(uuid.UUID) (geom.Geometry, bool)) []HierarchyEdge {
	var edges []HierarchyEdge
	bestIdx := -1
	bestShare := 0.0

	for _, candID := range candidates {
		candGeom, ok := geomOf(candID)
		if !ok {
			continue
		}
		share, err := geometry.OverlapPercent(childGeom, candGeom)
		if err != nil {
			se.log.Warn("overlap computation failed", "child", childID, "candidate", candID, "err", err)
			continue
		}
		if share < minSpatialOverlap {
			continue
		}
		edges = append(edges, HierarchyEdge{
			ChildID:           childID,
			ParentID:          candID,
			ChildType:         childType,
			ParentType:        parentType,
			ChildLevel:        childType.Level(),
			OverlapPercentage: share,
			Derivation:        DerivationSpatial,
		})
		if share > bestShare {
			bestShare = share
			bestIdx = len(edges) - 1
		}
	}
	if bestIdx >= 0 {
		edges[bestIdx].IsPrimary = true
	}
	return edges
}
