package hierarchy

import (
	"log"

	"github.com/th309/Realestate-sub002/internal/db"
	"github.com/th309/Realestate-sub002/internal/geo"
)

var (
	service  *Service
	accessor *PathAccessor
)

func Init() {
	if err := db.EnsureSchema(db.DB, "geo"); err != nil {
		log.Fatal("Failed to create geo schema: ", err)
	}

	if err := db.DB.AutoMigrate(&BoundaryRelationship{}, &HierarchyEdge{}); err != nil {
		log.Fatal("Failed to auto-migrate hierarchy tables", err)
	}

	service = NewService(db.DB, geo.DefaultStore(), geo.DefaultResolver(), 8, nil)
	accessor = NewPathAccessor(db.DB)
}

// DefaultService exposes the package rebuild service after Init.
func DefaultService() *Service { return service }

// DefaultAccessor exposes the package path accessor after Init.
func DefaultAccessor() *PathAccessor { return accessor }
