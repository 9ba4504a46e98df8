package hierarchy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/th309/Realestate-sub002/internal/geo"
)

// Service runs the full rebuild pipeline: ingest the vintage's boundary
// extracts, materialize direct and transitive edges, fill gaps spatially,
// then reconcile the edge table. The job is idempotent and safe to re-run
// to completion; there is no mid-run cancellation beyond ctx.
type Service struct {
	db       *gorm.DB
	store    *geo.Store
	resolver *geo.Resolver
	workers  int
	log      *slog.Logger
}

func NewService(db *gorm.DB, store *geo.Store, resolver *geo.Resolver, workers int, log *slog.Logger) *Service {
	if workers < 1 {
		workers = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, store: store, resolver: resolver, workers: workers, log: log}
}

// Rebuild executes one full rebuild from a vintage manifest and returns the
// run summary. Per-record problems are counted on the report; only
// structural failures (unreadable manifest, storage down) return an error.
func (s *Service) Rebuild(ctx context.Context, manifestPath string) (*RebuildReport, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	report := NewRebuildReport(m.Vintage)
	s.log.Info("rebuild started", "vintage", m.Vintage, "levels", len(m.Levels))

	ingester := NewIngester(s.db, s.store, s.resolver, s.workers, s.log)
	processed, err := ingester.IngestVintage(ctx, m, report)
	if err != nil {
		return nil, fmt.Errorf("ingest vintage %s: %w", m.Vintage, err)
	}

	entities, err := s.loadEntities(ctx)
	if err != nil {
		return nil, err
	}

	builder := NewBuilder(s.db, s.store, s.workers, s.log)
	desired, derivedPairs, err := builder.ComputeDesired(ctx, m.Vintage, entities, processed)
	if err != nil {
		return nil, fmt.Errorf("compute edges for vintage %s: %w", m.Vintage, err)
	}

	NewSpatialEngine(s.log).Fill(ctx, desired, entities, report)

	// Spatial edges are recomputed from scratch for every orphan each run,
	// so stale ones are always safe to drop; direct and transitive edges
	// are only prunable when their level pair was processed this run.
	prunable := func(e HierarchyEdge) bool {
		return e.Derivation == DerivationSpatial ||
			derivedPairs[Pair{Child: e.ChildType, Parent: e.ParentType}]
	}
	if err := builder.Reconcile(ctx, desired, prunable, report); err != nil {
		return nil, fmt.Errorf("reconcile edges for vintage %s: %w", m.Vintage, err)
	}

	report.Finish()
	s.log.Info("rebuild finished",
		"vintage", m.Vintage,
		"edges_created", report.EdgesCreated,
		"edges_updated", report.EdgesUpdated,
		"edges_pruned", report.EdgesPruned,
		"children_skipped", report.ChildrenSkipped,
		"record_errors", report.RecordErrors,
		"unresolved", len(report.Unresolved))
	return report, nil
}

func (s *Service) loadEntities(ctx context.Context) (map[uuid.UUID]*geo.GeographicEntity, error) {
	out := map[uuid.UUID]*geo.GeographicEntity{}
	for _, t := range []geo.EntityType{geo.TypeNational, geo.TypeState, geo.TypeMetro, geo.TypeCounty, geo.TypeCity, geo.TypeZipArea} {
		list, err := s.store.EntitiesByType(ctx, t)
		if err != nil {
			return nil, err
		}
		for i := range list {
			out[list[i].ID] = &list[i]
		}
	}
	return out, nil
}
