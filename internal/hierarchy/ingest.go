package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/th309/Realestate-sub002/internal/geo"
	"github.com/th309/Realestate-sub002/internal/geometry"
)

// Pair identifies one adjacent (childType, parentType) level pair.
type Pair struct {
	Child  geo.EntityType
	Parent geo.EntityType
}

func (p Pair) String() string {
	return string(p.Child) + "->" + string(p.Parent)
}

// Ingester loads one vintage of authoritative boundary tuples, resolving
// both endpoints of every tuple to canonical entity ids on a bounded worker
// pool.
type Ingester struct {
	db       *gorm.DB
	store    *geo.Store
	resolver *geo.Resolver
	workers  int
	log      *slog.Logger
}

func NewIngester(db *gorm.DB, store *geo.Store, resolver *geo.Resolver, workers int, log *slog.Logger) *Ingester {
	if workers < 1 {
		workers = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingester{db: db, store: store, resolver: resolver, workers: workers, log: log}
}

// codeRef builds the source-scoped external id for a boundary area code.
// Codes are only unique per type (state "06" vs county "06037" differ, but
// place and zip codes can collide), so the type is part of the id.
func codeRef(t geo.EntityType, code string) string {
	return string(t) + ":" + code
}

// IngestVintage replaces the stored tuples for every level whose extract is
// present and applies geometry extracts. It returns the set of pairs that
// were fully processed; pairs whose extract is missing are skipped and
// reported, leaving previously materialized edges for that pair untouched.
func (ing *Ingester) IngestVintage(ctx context.Context, m *Manifest, report *RebuildReport) (map[Pair]bool, error) {
	processed := map[Pair]bool{}

	for _, level := range m.Levels {
		pair := Pair{Child: level.ChildType, Parent: level.ParentType}
		path := m.Path(level.File)

		tuples, rowErrs, err := ParseExtract(path)
		if err != nil {
			// Structural: this level is skipped, the run continues.
			reason := err.Error()
			if os.IsNotExist(err) {
				reason = ErrSourceDataMissing.Error()
			}
			ing.log.Error("skipping level", "pair", pair.String(), "file", path, "err", err)
			report.SkipLevel(pair.String(), reason)
			continue
		}
		for range rowErrs {
			report.CountRecordError()
		}
		for _, re := range rowErrs {
			ing.log.Warn("bad extract row", "pair", pair.String(), "line", re.Line, "msg", re.Msg)
		}

		if err := ing.ingestLevel(ctx, m, level, tuples, report); err != nil {
			return nil, err
		}
		processed[pair] = true
	}

	for _, g := range m.Geometries {
		if err := ing.ingestGeometries(ctx, m, g, report); err != nil {
			ing.log.Error("skipping geometry extract", "type", g.Type, "err", err)
			report.SkipLevel("geometry:"+string(g.Type), err.Error())
		}
	}

	return processed, nil
}

func (ing *Ingester) ingestLevel(ctx context.Context, m *Manifest, level LevelExtract, tuples []Tuple, report *RebuildReport) error {
	type resolved struct {
		row BoundaryRelationship
		ok  bool
	}
	results := make([]resolved, len(tuples))

	pool := pond.NewPool(ing.workers)
	for i := range tuples {
		pool.Submit(func() {
			t := tuples[i]

			parent, perr := ing.resolveEndpoint(ctx, m.Source, level.ParentType, t.ParentCode, t.ParentName, t.ParentState, nil, report)
			child, cerr := ing.resolveEndpoint(ctx, m.Source, level.ChildType, t.ChildCode, t.ChildName, t.ChildState, t.ChildPopulation, report)
			if perr != nil || cerr != nil {
				report.CountRecordError()
				return
			}

			results[i] = resolved{
				row: BoundaryRelationship{
					Vintage:           m.Vintage,
					ParentType:        level.ParentType,
					ParentCode:        t.ParentCode,
					ChildType:         level.ChildType,
					ChildCode:         t.ChildCode,
					ParentEntityID:    parent,
					ChildEntityID:     child,
					OverlapPercentage: t.Overlap,
					IsPrimary:         t.IsPrimary,
				},
				ok: true,
			}
		})
	}
	pool.StopAndWait()

	// Dedup within the extract; the unique tuple index is the backstop.
	seen := map[string]bool{}
	var rows []BoundaryRelationship
	for _, r := range results {
		if !r.ok {
			continue
		}
		key := r.row.ParentCode + "|" + r.row.ChildCode
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, r.row)
	}

	// Replace the level's tuple set in one transaction so a re-run reflects
	// exactly the current extract, including removed tuples.
	return ing.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("vintage = ? AND parent_type = ? AND child_type = ?",
			m.Vintage, level.ParentType, level.ChildType).
			Delete(&BoundaryRelationship{}).Error; err != nil {
			return fmt.Errorf("clear level %s: %w", level.Pair(), err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("insert level %s: %w", level.Pair(), err)
		}
		return nil
	})
}

func (ing *Ingester) resolveEndpoint(ctx context.Context, source string, t geo.EntityType, code, name, state string, population *int64, report *RebuildReport) (uuid.UUID, error) {
	res, err := ing.resolver.Resolve(ctx, geo.Record{
		Source:     source,
		ExternalID: codeRef(t, code),
		Name:       name,
		Type:       t,
		StateHint:  state,
	})
	if err != nil {
		ing.log.Warn("endpoint resolution failed", "type", t, "code", code, "err", err)
		return uuid.Nil, err
	}
	report.CountResolution(res.MatchType, res.Ambiguous)

	if population != nil {
		if err := ing.store.UpdateFacts(ctx, res.EntityID, nil, population, nil, nil); err != nil {
			ing.log.Warn("population update failed", "entity", res.EntityID, "err", err)
		}
	}
	return res.EntityID, nil
}

func (ing *Ingester) ingestGeometries(ctx context.Context, m *Manifest, g GeometryExtract, report *RebuildReport) error {
	rows, rowErrs, err := ParseGeometryExtract(m.Path(g.File))
	if err != nil {
		return err
	}
	for range rowErrs {
		report.CountRecordError()
	}

	pool := pond.NewPool(ing.workers)
	for i := range rows {
		pool.Submit(func() {
			row := rows[i]
			res, err := ing.resolver.Resolve(ctx, geo.Record{
				Source:     m.Source,
				ExternalID: codeRef(g.Type, row.Code),
				Name:       row.Name,
				Type:       g.Type,
				StateHint:  row.State,
			})
			if err != nil {
				report.CountRecordError()
				return
			}
			report.CountResolution(res.MatchType, res.Ambiguous)

			var lat, lng *float64
			raw := []byte(row.GeoJSON)
			if parsed, err := geometry.Parse(raw); err != nil {
				ing.log.Warn("bad geometry", "type", g.Type, "code", row.Code, "err", err)
				report.CountRecordError()
				raw = nil
			} else if la, ln, ok := geometry.Centroid(parsed); ok {
				lat, lng = &la, &ln
			}

			if err := ing.store.UpdateFacts(ctx, res.EntityID, raw, row.Population, lat, lng); err != nil {
				ing.log.Warn("geometry update failed", "entity", res.EntityID, "err", err)
				report.CountRecordError()
			}
		})
	}
	pool.StopAndWait()
	return nil
}
