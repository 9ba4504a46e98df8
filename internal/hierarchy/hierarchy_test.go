package hierarchy_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/th309/Realestate-sub002/internal/geo"
	"github.com/th309/Realestate-sub002/internal/hierarchy"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	// One connection so every worker goroutine sees the same in-memory db.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&geo.GeographicEntity{},
		&geo.IdentifierMapping{},
		&hierarchy.BoundaryRelationship{},
		&hierarchy.HierarchyEdge{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func quietLog() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestService(t *testing.T) (*hierarchy.Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	store := geo.NewStore(db)
	resolver := geo.NewResolver(store, quietLog())
	return hierarchy.NewService(db, store, resolver, 4, quietLog()), db
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func loadEdges(t *testing.T, db *gorm.DB) map[string]hierarchy.HierarchyEdge {
	t.Helper()
	var edges []hierarchy.HierarchyEdge
	if err := db.Find(&edges).Error; err != nil {
		t.Fatalf("load edges: %v", err)
	}
	out := map[string]hierarchy.HierarchyEdge{}
	for _, e := range edges {
		out[string(e.ChildType)+"->"+string(e.ParentType)+":"+e.ChildID.String()+":"+e.ParentID.String()] = e
	}
	return out
}

func findEdge(t *testing.T, db *gorm.DB, childType, parentType geo.EntityType) hierarchy.HierarchyEdge {
	t.Helper()
	var e hierarchy.HierarchyEdge
	if err := db.Where("child_type = ? AND parent_type = ?", childType, parentType).First(&e).Error; err != nil {
		t.Fatalf("no %s->%s edge: %v", childType, parentType, err)
	}
	return e
}
