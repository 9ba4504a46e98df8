package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/th309/Realestate-sub002/internal/geo"
)

// expectedParent is the parent type whose absence leaves a child orphaned
// and eligible for spatial fallback.
var expectedParent = map[geo.EntityType]geo.EntityType{
	geo.TypeZipArea: geo.TypeCounty,
	geo.TypeCity:    geo.TypeCounty,
	geo.TypeCounty:  geo.TypeState,
	geo.TypeMetro:   geo.TypeState,
	geo.TypeState:   geo.TypeNational,
}

// EdgeSet is the desired materialized edge set for one rebuild, grouped by
// child entity.
type EdgeSet map[uuid.UUID][]HierarchyEdge

// Builder materializes hierarchy edges from the ingested boundary tuples:
// direct edges copied verbatim, transitive edges composed through a shared
// intermediate level, and a diff-based reconcile against the stored edge
// table.
type Builder struct {
	db      *gorm.DB
	store   *geo.Store
	workers int
	log     *slog.Logger
}

func NewBuilder(db *gorm.DB, store *geo.Store, workers int, log *slog.Logger) *Builder {
	if workers < 1 {
		workers = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{db: db, store: store, workers: workers, log: log}
}

// ComputeDesired derives the full desired edge set for a vintage. The
// returned pair map extends the ingest-processed pairs with the transitive
// pairs whose both inputs were processed; reconcile uses it to decide which
// stale edges are safe to prune.
func (b *Builder) ComputeDesired(ctx context.Context, vintage string, entities map[uuid.UUID]*geo.GeographicEntity, processed map[Pair]bool) (EdgeSet, map[Pair]bool, error) {
	var rels []BoundaryRelationship
	if err := b.db.WithContext(ctx).
		Where("vintage = ?", vintage).
		Order("id").
		Find(&rels).Error; err != nil {
		return nil, nil, fmt.Errorf("load boundary relationships: %w", err)
	}

	desired := EdgeSet{}
	add := func(e HierarchyEdge) {
		// First writer wins on (child, parent): duplicate tuples and
		// direct-over-transitive collisions resolve deterministically.
		for _, existing := range desired[e.ChildID] {
			if existing.ParentID == e.ParentID {
				return
			}
		}
		desired[e.ChildID] = append(desired[e.ChildID], e)
	}

	byPair := map[Pair][]BoundaryRelationship{}
	for _, r := range rels {
		byPair[Pair{Child: r.ChildType, Parent: r.ParentType}] = append(
			byPair[Pair{Child: r.ChildType, Parent: r.ParentType}], r)
		add(HierarchyEdge{
			ChildID:           r.ChildEntityID,
			ParentID:          r.ParentEntityID,
			ChildType:         r.ChildType,
			ParentType:        r.ParentType,
			ChildLevel:        r.ChildType.Level(),
			IsPrimary:         r.IsPrimary,
			OverlapPercentage: r.OverlapPercentage,
			Derivation:        DerivationDirect,
		})
	}

	derived := map[Pair]bool{}
	for p, ok := range processed {
		derived[p] = ok
	}

	countyMetro := byPair[Pair{Child: geo.TypeCounty, Parent: geo.TypeMetro}]
	countyState := byPair[Pair{Child: geo.TypeCounty, Parent: geo.TypeState}]
	cityCounty := byPair[Pair{Child: geo.TypeCity, Parent: geo.TypeCounty}]

	// metro -> state through member counties.
	for _, e := range composeThrough(invertToParents(countyMetro), countyState, entities) {
		e.ChildType = geo.TypeMetro
		e.ParentType = geo.TypeState
		e.ChildLevel = geo.TypeMetro.Level()
		add(e)
	}
	derived[Pair{Child: geo.TypeMetro, Parent: geo.TypeState}] =
		processed[Pair{Child: geo.TypeCounty, Parent: geo.TypeMetro}] &&
			processed[Pair{Child: geo.TypeCounty, Parent: geo.TypeState}]

	// city -> metro through the city's counties.
	for _, e := range composeThrough(childLinks(cityCounty), countyMetro, entities) {
		e.ChildType = geo.TypeCity
		e.ParentType = geo.TypeMetro
		e.ChildLevel = geo.TypeCity.Level()
		add(e)
	}
	derived[Pair{Child: geo.TypeCity, Parent: geo.TypeMetro}] =
		processed[Pair{Child: geo.TypeCity, Parent: geo.TypeCounty}] &&
			processed[Pair{Child: geo.TypeCounty, Parent: geo.TypeMetro}]

	// Every state hangs off the single national root.
	national := geo.GeographicEntity{
		Type:           geo.TypeNational,
		Name:           "United States",
		NormalizedName: "united states",
	}
	if _, err := b.store.EnsureEntity(ctx, &national); err != nil {
		return nil, nil, err
	}
	entities[national.ID] = &national
	for id, e := range entities {
		if e.Type != geo.TypeState {
			continue
		}
		add(HierarchyEdge{
			ChildID:           id,
			ParentID:          national.ID,
			ChildType:         geo.TypeState,
			ParentType:        geo.TypeNational,
			ChildLevel:        geo.TypeState.Level(),
			IsPrimary:         true,
			OverlapPercentage: 100,
			Derivation:        DerivationTransitive,
		})
	}
	derived[Pair{Child: geo.TypeState, Parent: geo.TypeNational}] = true

	return desired, derived, nil
}

// link is one hop used in transitive composition: intermediate entity plus
// the overlap share of the composed child inside it.
type link struct {
	child        uuid.UUID
	intermediate uuid.UUID
	share        float64
}

// invertToParents turns intermediate->parent tuples (county->metro) into
// hops keyed by the composed child (the metro), weighting by the share of
// the intermediate inside it.
func invertToParents(rels []BoundaryRelationship) []link {
	out := make([]link, 0, len(rels))
	for _, r := range rels {
		out = append(out, link{child: r.ParentEntityID, intermediate: r.ChildEntityID, share: r.OverlapPercentage / 100})
	}
	return out
}

// childLinks turns child->intermediate tuples (city->county) into hops.
func childLinks(rels []BoundaryRelationship) []link {
	out := make([]link, 0, len(rels))
	for _, r := range rels {
		out = append(out, link{child: r.ChildEntityID, intermediate: r.ParentEntityID, share: r.OverlapPercentage / 100})
	}
	return out
}

// composeThrough joins hops (child -> intermediate) with the intermediate's
// own parent tuples, aggregating an overlap-weighted measure per candidate
// parent. The weight unit is the intermediate's population when every
// intermediate on the child's hops has one, else a plain count. The largest
// aggregate wins is_primary; every candidate's overlap_percentage is its
// proportional share. Exactly equal aggregates tie-break on the smaller
// parent id.
func composeThrough(hops []link, parentRels []BoundaryRelationship, entities map[uuid.UUID]*geo.GeographicEntity) []HierarchyEdge {
	parentsOf := map[uuid.UUID][]BoundaryRelationship{}
	for _, r := range parentRels {
		parentsOf[r.ChildEntityID] = append(parentsOf[r.ChildEntityID], r)
	}

	hopsByChild := map[uuid.UUID][]link{}
	for _, h := range hops {
		hopsByChild[h.child] = append(hopsByChild[h.child], h)
	}

	children := make([]uuid.UUID, 0, len(hopsByChild))
	for c := range hopsByChild {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].String() < children[j].String() })

	var out []HierarchyEdge
	for _, child := range children {
		childHops := hopsByChild[child]

		usePopulation := true
		for _, h := range childHops {
			e := entities[h.intermediate]
			if e == nil || e.Population == nil {
				usePopulation = false
				break
			}
		}

		weights := map[uuid.UUID]float64{}
		for _, h := range childHops {
			unit := 1.0
			if usePopulation {
				unit = float64(*entities[h.intermediate].Population)
			}
			for _, pr := range parentsOf[h.intermediate] {
				weights[pr.ParentEntityID] += h.share * (pr.OverlapPercentage / 100) * unit
			}
		}
		if len(weights) == 0 {
			continue
		}

		parents := make([]uuid.UUID, 0, len(weights))
		for p := range weights {
			parents = append(parents, p)
		}
		sort.Slice(parents, func(i, j int) bool { return parents[i].String() < parents[j].String() })

		// Summation order is fixed so repeated rebuilds produce bit-identical
		// percentages.
		total := 0.0
		for _, p := range parents {
			total += weights[p]
		}

		best := parents[0]
		for _, p := range parents[1:] {
			if weights[p] > weights[best] {
				best = p
			}
		}

		for _, p := range parents {
			out = append(out, HierarchyEdge{
				ChildID:           child,
				ParentID:          p,
				IsPrimary:         p == best,
				OverlapPercentage: weights[p] / total * 100,
				Derivation:        DerivationTransitive,
			})
		}
	}
	return out
}

// validateEdgeSet checks one child's desired edges against the structural
// invariants before they are written.
func validateEdgeSet(edges []HierarchyEdge) error {
	primaries := map[geo.EntityType]int{}
	perType := map[geo.EntityType]int{}
	for _, e := range edges {
		if e.OverlapPercentage < 0 || e.OverlapPercentage > 100 {
			return &InvariantViolation{
				ChildID:    e.ChildID,
				ParentType: e.ParentType,
				Reason:     fmt.Sprintf("overlap_percentage %.4f out of range", e.OverlapPercentage),
			}
		}
		perType[e.ParentType]++
		if e.IsPrimary {
			primaries[e.ParentType]++
		}
	}
	for t, n := range perType {
		if primaries[t] != 1 {
			return &InvariantViolation{
				ChildID:    edges[0].ChildID,
				ParentType: t,
				Reason:     fmt.Sprintf("%d primary edges across %d parents (want exactly 1)", primaries[t], n),
			}
		}
	}
	return nil
}

// Reconcile applies the desired edge set to the stored table. Each child's
// edges are replaced as one atomic unit; a reader never observes a child
// with zero or two primary parents of one type. Stored edges absent from the
// desired set are deleted only when their level pair was processed this run,
// so a missing extract never wipes a level it didn't cover. Children left
// untouched by the run lose their edges only through the same prunable
// check.
func (b *Builder) Reconcile(ctx context.Context, desired EdgeSet, prunable func(HierarchyEdge) bool, report *RebuildReport) error {
	var existing []HierarchyEdge
	if err := b.db.WithContext(ctx).Find(&existing).Error; err != nil {
		return fmt.Errorf("load existing edges: %w", err)
	}
	existingByChild := map[uuid.UUID][]HierarchyEdge{}
	for _, e := range existing {
		existingByChild[e.ChildID] = append(existingByChild[e.ChildID], e)
	}

	children := map[uuid.UUID]bool{}
	for c := range desired {
		children[c] = true
	}
	for c := range existingByChild {
		children[c] = true
	}
	ordered := make([]uuid.UUID, 0, len(children))
	for c := range children {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	pool := pond.NewPool(b.workers)
	for _, child := range ordered {
		pool.Submit(func() {
			b.reconcileChild(ctx, child, desired[child], existingByChild[child], prunable, report)
		})
	}
	pool.StopAndWait()
	return nil
}

func (b *Builder) reconcileChild(ctx context.Context, child uuid.UUID, want, have []HierarchyEdge, prunable func(HierarchyEdge) bool, report *RebuildReport) {
	if len(want) > 0 {
		if err := validateEdgeSet(want); err != nil {
			// Never silently fixed: the child keeps its previous edge set
			// and the violation is reported with full context.
			b.log.Error("edge set rejected", "child", child, "err", err)
			report.CountChildSkipped()
			return
		}
	}

	haveByParent := map[uuid.UUID]HierarchyEdge{}
	for _, e := range have {
		haveByParent[e.ParentID] = e
	}
	wantByParent := map[uuid.UUID]bool{}
	for _, e := range want {
		wantByParent[e.ParentID] = true
	}

	var created, updated, pruned int
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range want {
			prev, ok := haveByParent[e.ParentID]
			switch {
			case !ok:
				if err := tx.Create(&e).Error; err != nil {
					return err
				}
				created++
			case prev != e:
				if err := tx.Model(&HierarchyEdge{}).
					Where("child_id = ? AND parent_id = ?", e.ChildID, e.ParentID).
					Updates(map[string]any{
						"child_type":         e.ChildType,
						"parent_type":        e.ParentType,
						"child_level":        e.ChildLevel,
						"is_primary":         e.IsPrimary,
						"overlap_percentage": e.OverlapPercentage,
						"derivation":         e.Derivation,
					}).Error; err != nil {
					return err
				}
				updated++
			}
		}
		for _, e := range have {
			if wantByParent[e.ParentID] || !prunable(e) {
				continue
			}
			if err := tx.Where("child_id = ? AND parent_id = ?", e.ChildID, e.ParentID).
				Delete(&HierarchyEdge{}).Error; err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		b.log.Error("edge write failed", "child", child, "err", err)
		report.CountChildSkipped()
		return
	}
	report.CountEdges(created, updated, pruned)
}
