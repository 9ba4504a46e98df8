package hierarchy_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/th309/Realestate-sub002/internal/geo"
	"github.com/th309/Realestate-sub002/internal/hierarchy"
)

const laManifest = `vintage: "2023"
source: tiger
levels:
  - parent_type: state
    child_type: county
    file: county_state.csv
  - parent_type: metro
    child_type: county
    file: county_metro.csv
  - parent_type: county
    child_type: zip_area
    file: zip_county.csv
`

const laCountyState = `parent_code,parent_name,parent_state,child_code,child_name,child_state,overlap_percentage,is_primary
06,California,CA,06037,Los Angeles County,CA,100,true
`

const laCountyMetro = `parent_code,parent_name,child_code,child_name,child_state,overlap_percentage,is_primary
31080,"Los Angeles-Long Beach-Anaheim, CA",06037,Los Angeles County,CA,100,true
`

const laZipCounty = `parent_code,parent_name,parent_state,child_code,child_name,child_state,overlap_percentage,is_primary
06037,Los Angeles County,CA,90210,90210,CA,100,true
`

func writeLAVintage(t *testing.T) (dir, manifestPath string) {
	t.Helper()
	dir = t.TempDir()
	manifestPath = writeFile(t, dir, "manifest.yaml", laManifest)
	writeFile(t, dir, "county_state.csv", laCountyState)
	writeFile(t, dir, "county_metro.csv", laCountyMetro)
	writeFile(t, dir, "zip_county.csv", laZipCounty)
	return dir, manifestPath
}

// TestRebuild_FullChain ingests a small vintage covering every level and
// checks the materialized edges: three direct, one transitive metro->state,
// one state->national.
func TestRebuild_FullChain(t *testing.T) {
	svc, db := newTestService(t)
	_, manifestPath := writeLAVintage(t)

	report, err := svc.Rebuild(context.Background(), manifestPath)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if report.EdgesCreated != 5 {
		t.Errorf("edges created = %d, want 5", report.EdgesCreated)
	}
	if report.RecordErrors != 0 || report.ChildrenSkipped != 0 {
		t.Errorf("record errors = %d, children skipped = %d, want 0/0",
			report.RecordErrors, report.ChildrenSkipped)
	}
	if len(report.Unresolved) != 0 {
		t.Errorf("unresolved entities: %+v", report.Unresolved)
	}

	for _, pair := range []struct {
		child, parent geo.EntityType
		derivation    hierarchy.Derivation
	}{
		{geo.TypeCounty, geo.TypeState, hierarchy.DerivationDirect},
		{geo.TypeCounty, geo.TypeMetro, hierarchy.DerivationDirect},
		{geo.TypeZipArea, geo.TypeCounty, hierarchy.DerivationDirect},
		{geo.TypeMetro, geo.TypeState, hierarchy.DerivationTransitive},
		{geo.TypeState, geo.TypeNational, hierarchy.DerivationTransitive},
	} {
		e := findEdge(t, db, pair.child, pair.parent)
		if !e.IsPrimary {
			t.Errorf("%s->%s edge not primary", pair.child, pair.parent)
		}
		if e.OverlapPercentage != 100 {
			t.Errorf("%s->%s overlap = %v, want 100", pair.child, pair.parent, e.OverlapPercentage)
		}
		if e.Derivation != pair.derivation {
			t.Errorf("%s->%s derivation = %s, want %s", pair.child, pair.parent, e.Derivation, pair.derivation)
		}
	}
}

// TestRebuild_AncestorPath walks the primary path from the ingested zip all
// the way to the national root.
func TestRebuild_AncestorPath(t *testing.T) {
	svc, db := newTestService(t)
	_, manifestPath := writeLAVintage(t)
	ctx := context.Background()

	if _, err := svc.Rebuild(ctx, manifestPath); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	zip := findEdge(t, db, geo.TypeZipArea, geo.TypeCounty).ChildID
	path, err := hierarchy.NewPathAccessor(db).GetAncestors(ctx, zip)
	if err != nil {
		t.Fatalf("GetAncestors: %v", err)
	}

	// The county's metro overlap is a same-level edge, not a step up, so the
	// primary path runs county -> state directly.
	want := []string{"United States", "California", "Los Angeles County", "90210"}
	if len(path) != len(want) {
		t.Fatalf("path has %d entities, want %d: %+v", len(path), len(want), path)
	}
	for i, name := range want {
		if path[i].Name != name {
			t.Errorf("path[%d] = %q, want %q", i, path[i].Name, name)
		}
	}
}

// TestRebuild_Idempotent re-runs an unchanged vintage: no edge churn, and
// every endpoint resolves through its recorded mapping.
func TestRebuild_Idempotent(t *testing.T) {
	svc, db := newTestService(t)
	_, manifestPath := writeLAVintage(t)
	ctx := context.Background()

	if _, err := svc.Rebuild(ctx, manifestPath); err != nil {
		t.Fatalf("first Rebuild: %v", err)
	}
	before := loadEdges(t, db)

	report, err := svc.Rebuild(ctx, manifestPath)
	if err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}
	if report.EdgesCreated != 0 || report.EdgesUpdated != 0 || report.EdgesPruned != 0 {
		t.Errorf("second run changed edges: created=%d updated=%d pruned=%d",
			report.EdgesCreated, report.EdgesUpdated, report.EdgesPruned)
	}
	if report.ResolvedByMatchType[geo.MatchExact] == 0 {
		t.Error("second run resolved nothing via recorded mappings")
	}

	after := loadEdges(t, db)
	if len(after) != len(before) {
		t.Fatalf("edge count drifted: %d -> %d", len(before), len(after))
	}
	for k, e := range before {
		if after[k] != e {
			t.Errorf("edge %s drifted: %+v -> %+v", k, e, after[k])
		}
	}
}

// TestRebuild_PopulationWeightedTransitive splits a metro across two states
// through member counties with populations and checks the derived shares.
func TestRebuild_PopulationWeightedTransitive(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()

	manifestPath := writeFile(t, dir, "manifest.yaml", `vintage: "2023"
levels:
  - parent_type: state
    child_type: county
    file: county_state.csv
  - parent_type: metro
    child_type: county
    file: county_metro.csv
`)
	writeFile(t, dir, "county_state.csv",
		`parent_code,parent_name,parent_state,child_code,child_name,child_state,overlap_percentage,is_primary
17,Illinois,IL,17031,Cook County,IL,100,true
18,Indiana,IN,18089,Lake County,IN,100,true
`)
	writeFile(t, dir, "county_metro.csv",
		`parent_code,parent_name,child_code,child_name,child_state,overlap_percentage,is_primary,child_population
16980,"Chicago-Naperville-Elgin, IL-IN-WI",17031,Cook County,IL,100,true,700000
16980,"Chicago-Naperville-Elgin, IL-IN-WI",18089,Lake County,IN,100,true,300000
`)

	if _, err := svc.Rebuild(context.Background(), manifestPath); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	var edges []hierarchy.HierarchyEdge
	if err := db.Where("child_type = ? AND parent_type = ?", geo.TypeMetro, geo.TypeState).
		Find(&edges).Error; err != nil {
		t.Fatalf("load metro edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("metro has %d state edges, want 2: %+v", len(edges), edges)
	}

	shares := map[bool]float64{}
	primaries := 0
	for _, e := range edges {
		shares[e.IsPrimary] = e.OverlapPercentage
		if e.IsPrimary {
			primaries++
		}
	}
	if primaries != 1 {
		t.Fatalf("metro has %d primary state edges, want 1", primaries)
	}
	if math.Abs(shares[true]-70) > 1e-9 || math.Abs(shares[false]-30) > 1e-9 {
		t.Errorf("state shares = %v/%v, want 70/30 with the larger primary", shares[true], shares[false])
	}
}

// TestRebuild_PrunesStaleEdges repoints the zip extract at a different
// county and re-runs; the old edge must disappear.
func TestRebuild_PrunesStaleEdges(t *testing.T) {
	svc, db := newTestService(t)
	dir, manifestPath := writeLAVintage(t)
	ctx := context.Background()

	if _, err := svc.Rebuild(ctx, manifestPath); err != nil {
		t.Fatalf("first Rebuild: %v", err)
	}
	oldEdge := findEdge(t, db, geo.TypeZipArea, geo.TypeCounty)

	writeFile(t, dir, "zip_county.csv",
		`parent_code,parent_name,parent_state,child_code,child_name,child_state,overlap_percentage,is_primary
06059,Orange County,CA,90210,90210,CA,100,true
`)
	report, err := svc.Rebuild(ctx, manifestPath)
	if err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}
	if report.EdgesPruned != 1 {
		t.Errorf("edges pruned = %d, want 1", report.EdgesPruned)
	}

	var count int64
	if err := db.Model(&hierarchy.HierarchyEdge{}).
		Where("child_id = ? AND parent_id = ?", oldEdge.ChildID, oldEdge.ParentID).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Error("stale zip edge survived the rebuild")
	}

	newEdge := findEdge(t, db, geo.TypeZipArea, geo.TypeCounty)
	if newEdge.ParentID == oldEdge.ParentID {
		t.Error("zip still points at the old county")
	}
}

// TestRebuild_MissingExtractSkipsLevel deletes one extract between runs: the
// level is reported skipped and its previously materialized edges survive.
func TestRebuild_MissingExtractSkipsLevel(t *testing.T) {
	svc, db := newTestService(t)
	dir, manifestPath := writeLAVintage(t)
	ctx := context.Background()

	if _, err := svc.Rebuild(ctx, manifestPath); err != nil {
		t.Fatalf("first Rebuild: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "zip_county.csv")); err != nil {
		t.Fatalf("remove extract: %v", err)
	}

	report, err := svc.Rebuild(ctx, manifestPath)
	if err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}
	if len(report.LevelsSkipped) != 1 {
		t.Fatalf("levels skipped = %v, want exactly the zip level", report.LevelsSkipped)
	}
	if report.EdgesPruned != 0 {
		t.Errorf("edges pruned = %d, want 0", report.EdgesPruned)
	}

	// The edge built from the now-missing extract is still there.
	findEdge(t, db, geo.TypeZipArea, geo.TypeCounty)
}

// TestRebuild_RejectsDoublePrimary gives one zip two primary county parents;
// the child's edge set is rejected whole and nothing partial is written.
func TestRebuild_RejectsDoublePrimary(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()

	manifestPath := writeFile(t, dir, "manifest.yaml", `vintage: "2023"
levels:
  - parent_type: county
    child_type: zip_area
    file: zip_county.csv
`)
	writeFile(t, dir, "zip_county.csv",
		`parent_code,parent_name,parent_state,child_code,child_name,child_state,overlap_percentage,is_primary
06037,Los Angeles County,CA,90650,90650,CA,60,true
06059,Orange County,CA,90650,90650,CA,40,true
`)

	report, err := svc.Rebuild(context.Background(), manifestPath)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if report.ChildrenSkipped != 1 {
		t.Errorf("children skipped = %d, want 1", report.ChildrenSkipped)
	}

	var count int64
	if err := db.Model(&hierarchy.HierarchyEdge{}).
		Where("child_type = ?", geo.TypeZipArea).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("invalid edge set was partially written: %d zip edges", count)
	}
}

// TestRebuild_BadRowsAreCountedNotFatal mixes malformed rows into an
// extract; good rows still produce edges.
func TestRebuild_BadRowsAreCountedNotFatal(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()

	manifestPath := writeFile(t, dir, "manifest.yaml", `vintage: "2023"
levels:
  - parent_type: county
    child_type: zip_area
    file: zip_county.csv
`)
	writeFile(t, dir, "zip_county.csv",
		`parent_code,parent_name,parent_state,child_code,child_name,child_state,overlap_percentage,is_primary
06037,Los Angeles County,CA,90210,90210,CA,100,true
06037,Los Angeles County,CA,90211,90211,CA,140,true
06037,Los Angeles County,CA,,90212,CA,100,true
`)

	report, err := svc.Rebuild(context.Background(), manifestPath)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if report.RecordErrors != 2 {
		t.Errorf("record errors = %d, want 2", report.RecordErrors)
	}

	e := findEdge(t, db, geo.TypeZipArea, geo.TypeCounty)
	if !e.IsPrimary || e.OverlapPercentage != 100 {
		t.Errorf("good row produced wrong edge: %+v", e)
	}
}

// writeSpatialVintage lays down a vintage with geometry extracts: two
// counties under one state, shapes for both, and an orphan zip spanning them
// 60/40 with no authoritative zip tuple.
func writeSpatialVintage(t *testing.T) (dir, manifestPath string) {
	t.Helper()
	dir = t.TempDir()
	manifestPath = writeFile(t, dir, "manifest.yaml", `vintage: "2023"
levels:
  - parent_type: state
    child_type: county
    file: county_state.csv
geometries:
  - type: county
    file: county_geoms.csv
  - type: zip_area
    file: zip_geoms.csv
`)
	writeFile(t, dir, "county_state.csv",
		`parent_code,parent_name,parent_state,child_code,child_name,child_state,overlap_percentage,is_primary
06,California,CA,06111,West County,CA,100,true
06,California,CA,06113,East County,CA,100,true
`)
	writeFile(t, dir, "county_geoms.csv",
		"code,name,state,geometry\n"+
			"06111,West County,CA,"+quoteCSV(`{"type":"Polygon","coordinates":[[[0,0],[6,0],[6,10],[0,10],[0,0]]]}`)+"\n"+
			"06113,East County,CA,"+quoteCSV(`{"type":"Polygon","coordinates":[[[6,0],[10,0],[10,10],[6,10],[6,0]]]}`)+"\n")
	writeFile(t, dir, "zip_geoms.csv",
		"code,name,state,geometry\n"+
			"99990,99990,CA,"+quoteCSV(`{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}`)+"\n")
	return dir, manifestPath
}

// TestRebuild_SpatialFallbackFromGeometryExtracts runs the whole pipeline
// for an orphan zip: geometry extracts give shapes to the zip and two
// counties, no authoritative zip tuple exists, and spatial inference splits
// the zip 60/40 across them.
func TestRebuild_SpatialFallbackFromGeometryExtracts(t *testing.T) {
	svc, db := newTestService(t)
	_, manifestPath := writeSpatialVintage(t)

	report, err := svc.Rebuild(context.Background(), manifestPath)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if len(report.Unresolved) != 0 {
		t.Errorf("unresolved entities: %+v", report.Unresolved)
	}

	var edges []hierarchy.HierarchyEdge
	if err := db.Where("child_type = ?", geo.TypeZipArea).Find(&edges).Error; err != nil {
		t.Fatalf("load zip edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("zip has %d edges, want 2: %+v", len(edges), edges)
	}
	for _, e := range edges {
		if e.Derivation != hierarchy.DerivationSpatial {
			t.Errorf("derivation = %s, want %s", e.Derivation, hierarchy.DerivationSpatial)
		}
		if e.IsPrimary && math.Abs(e.OverlapPercentage-60) > 0.01 {
			t.Errorf("primary edge overlap = %v, want 60", e.OverlapPercentage)
		}
		if !e.IsPrimary && math.Abs(e.OverlapPercentage-40) > 0.01 {
			t.Errorf("secondary edge overlap = %v, want 40", e.OverlapPercentage)
		}
	}

	// Centroids were derived from the extracts along the way.
	var west geo.GeographicEntity
	if err := db.Where("normalized_name = ?", "west").First(&west).Error; err != nil {
		t.Fatalf("load west county: %v", err)
	}
	if west.Latitude == nil || west.Longitude == nil {
		t.Error("geometry extract did not set the county centroid")
	}
}

func quoteCSV(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// TestRebuild_SpatialEdgesReprunedOnGeometryChange moves the orphan zip's
// shape fully into the second county between runs. The first run's spatial
// edges are stale and must be pruned, or the zip ends up with two primary
// county parents.
func TestRebuild_SpatialEdgesReprunedOnGeometryChange(t *testing.T) {
	svc, db := newTestService(t)
	dir, manifestPath := writeSpatialVintage(t)
	ctx := context.Background()

	if _, err := svc.Rebuild(ctx, manifestPath); err != nil {
		t.Fatalf("first Rebuild: %v", err)
	}

	writeFile(t, dir, "zip_geoms.csv",
		"code,name,state,geometry\n"+
			"99990,99990,CA,"+quoteCSV(`{"type":"Polygon","coordinates":[[[6,0],[10,0],[10,10],[6,10],[6,0]]]}`)+"\n")

	report, err := svc.Rebuild(ctx, manifestPath)
	if err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}
	if report.EdgesPruned != 1 {
		t.Errorf("edges pruned = %d, want 1", report.EdgesPruned)
	}

	var edges []hierarchy.HierarchyEdge
	if err := db.Where("child_type = ?", geo.TypeZipArea).Find(&edges).Error; err != nil {
		t.Fatalf("load zip edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("zip has %d county edges after geometry change, want 1: %+v", len(edges), edges)
	}
	e := edges[0]
	if !e.IsPrimary || math.Abs(e.OverlapPercentage-100) > 0.01 {
		t.Errorf("surviving edge = %+v, want primary at 100%%", e)
	}

	var east geo.GeographicEntity
	if err := db.Where("normalized_name = ?", "east").First(&east).Error; err != nil {
		t.Fatalf("load east county: %v", err)
	}
	if e.ParentID != east.ID {
		t.Errorf("zip parent = %s, want the east county %s", e.ParentID, east.ID)
	}
}

// TestRebuild_TransitiveTieBreaksOnSmallerID splits a metro across two
// states through equally weighted counties: the aggregates tie exactly, and
// the state with the lexicographically smaller id must win is_primary on
// every run.
func TestRebuild_TransitiveTieBreaksOnSmallerID(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()

	manifestPath := writeFile(t, dir, "manifest.yaml", `vintage: "2023"
levels:
  - parent_type: state
    child_type: county
    file: county_state.csv
  - parent_type: metro
    child_type: county
    file: county_metro.csv
`)
	writeFile(t, dir, "county_state.csv",
		`parent_code,parent_name,parent_state,child_code,child_name,child_state,overlap_percentage,is_primary
17,Illinois,IL,17031,Cook County,IL,100,true
18,Indiana,IN,18089,Lake County,IN,100,true
`)
	// No county populations: both counties weigh one unit, an exact tie.
	writeFile(t, dir, "county_metro.csv",
		`parent_code,parent_name,child_code,child_name,child_state,overlap_percentage,is_primary
16980,"Chicago-Naperville-Elgin, IL-IN-WI",17031,Cook County,IL,100,true
16980,"Chicago-Naperville-Elgin, IL-IN-WI",18089,Lake County,IN,100,true
`)

	if _, err := svc.Rebuild(context.Background(), manifestPath); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	var edges []hierarchy.HierarchyEdge
	if err := db.Where("child_type = ? AND parent_type = ?", geo.TypeMetro, geo.TypeState).
		Order("parent_id").Find(&edges).Error; err != nil {
		t.Fatalf("load metro edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("metro has %d state edges, want 2: %+v", len(edges), edges)
	}
	for _, e := range edges {
		if math.Abs(e.OverlapPercentage-50) > 1e-9 {
			t.Errorf("tied share = %v, want 50", e.OverlapPercentage)
		}
	}
	smaller, larger := edges[0], edges[1]
	if smaller.ParentID.String() > larger.ParentID.String() {
		smaller, larger = larger, smaller
	}
	if !smaller.IsPrimary || larger.IsPrimary {
		t.Errorf("primary flags: smaller id %s = %v, larger id %s = %v; tie must go to the smaller id",
			smaller.ParentID, smaller.IsPrimary, larger.ParentID, larger.IsPrimary)
	}

	// The tie-break is part of the idempotence contract.
	report, err := svc.Rebuild(context.Background(), manifestPath)
	if err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}
	if report.EdgesCreated != 0 || report.EdgesUpdated != 0 || report.EdgesPruned != 0 {
		t.Errorf("tied rebuild not idempotent: created=%d updated=%d pruned=%d",
			report.EdgesCreated, report.EdgesUpdated, report.EdgesPruned)
	}
}
