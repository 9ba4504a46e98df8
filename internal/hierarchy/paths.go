package hierarchy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/th309/Realestate-sub002/internal/geo"
)

// PathAccessor is the read-only traversal surface over the materialized
// edge table.
type PathAccessor struct {
	db *gorm.DB
}

func NewPathAccessor(db *gorm.DB) *PathAccessor {
	return &PathAccessor{db: db}
}

// GetAncestors returns the entity's single primary containment path,
// ordered root first and ending at the entity itself. Traversal follows
// only is_primary edges, stepping to the nearest coarser parent each time
// (county preferred over metro on a level tie, then the smaller id), so the
// path is deterministic. More than NumLevels steps means the builder let a
// cycle through; that is a bug, reported loudly as ErrCycleDetected.
func (p *PathAccessor) GetAncestors(ctx context.Context, id uuid.UUID) ([]geo.GeographicEntity, error) {
	var path []uuid.UUID
	current := id

	for step := 0; ; step++ {
		if step >= geo.NumLevels {
			return nil, fmt.Errorf("ancestors of %s: %w", id, ErrCycleDetected)
		}
		path = append(path, current)

		var edges []HierarchyEdge
		if err := p.db.WithContext(ctx).
			Where("child_id = ? AND is_primary = ?", current, true).
			Find(&edges).Error; err != nil {
			return nil, fmt.Errorf("ancestors of %s: %w", id, err)
		}
		next, ok := pickPrimaryParent(edges)
		if !ok {
			break
		}
		current = next
	}

	// Load and order root-first.
	byID := map[uuid.UUID]geo.GeographicEntity{}
	var loaded []geo.GeographicEntity
	if err := p.db.WithContext(ctx).Where("id IN ?", path).Find(&loaded).Error; err != nil {
		return nil, fmt.Errorf("ancestors of %s: %w", id, err)
	}
	for _, e := range loaded {
		byID[e.ID] = e
	}

	out := make([]geo.GeographicEntity, 0, len(path))
	for i := len(path) - 1; i >= 0; i-- {
		e, ok := byID[path[i]]
		if !ok {
			return nil, fmt.Errorf("ancestors of %s: edge references missing entity %s", id, path[i])
		}
		out = append(out, e)
	}
	return out, nil
}

// pickPrimaryParent chooses the next hop among a child's primary edges.
// Only strictly coarser parents qualify (a county's metro overlap is a
// sibling relationship, not a step up). Among those the nearest level wins,
// county beats metro on the shared level, and the smaller parent id settles
// anything left.
func pickPrimaryParent(edges []HierarchyEdge) (uuid.UUID, bool) {
	best := -1
	for i, e := range edges {
		if e.ParentType.Level() >= e.ChildLevel {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := edges[best]
		switch {
		case e.ParentType.Level() > b.ParentType.Level():
			best = i
		case e.ParentType.Level() == b.ParentType.Level():
			if e.ParentType == geo.TypeCounty && b.ParentType == geo.TypeMetro {
				best = i
			} else if e.ParentType == b.ParentType && e.ParentID.String() < b.ParentID.String() {
				best = i
			}
		}
	}
	if best < 0 {
		return uuid.Nil, false
	}
	return edges[best].ParentID, true
}

// GetDescendants returns every entity contained in the given one, following
// all edges (not just primary) so overlapping zips and cities are included.
// typeFilter narrows the result to one entity type; nil returns everything.
func (p *PathAccessor) GetDescendants(ctx context.Context, id uuid.UUID, typeFilter *geo.EntityType) ([]geo.GeographicEntity, error) {
	visited := map[uuid.UUID]bool{id: true}
	frontier := []uuid.UUID{id}
	var collected []uuid.UUID

	// The visited set already prevents loops; the depth guard is the safety
	// net demanded of traversal code.
	for depth := 0; len(frontier) > 0; depth++ {
		if depth > geo.NumLevels {
			return nil, fmt.Errorf("descendants of %s: %w", id, ErrCycleDetected)
		}

		var edges []HierarchyEdge
		if err := p.db.WithContext(ctx).
			Where("parent_id IN ?", frontier).
			Find(&edges).Error; err != nil {
			return nil, fmt.Errorf("descendants of %s: %w", id, err)
		}

		frontier = frontier[:0]
		for _, e := range edges {
			if visited[e.ChildID] {
				continue
			}
			visited[e.ChildID] = true
			frontier = append(frontier, e.ChildID)
			collected = append(collected, e.ChildID)
		}
	}

	if len(collected) == 0 {
		return []geo.GeographicEntity{}, nil
	}

	q := p.db.WithContext(ctx).Where("id IN ?", collected)
	if typeFilter != nil {
		q = q.Where("type = ?", *typeFilter)
	}
	var out []geo.GeographicEntity
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("descendants of %s: %w", id, err)
	}
	return out, nil
}
