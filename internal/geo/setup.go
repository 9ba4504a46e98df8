package geo

import (
	"log"

	"github.com/th309/Realestate-sub002/internal/db"
)

var (
	store    *Store
	resolver *Resolver
)

func Init() {
	// Ensure the geo schema exists first
	if err := db.EnsureSchema(db.DB, "geo"); err != nil {
		log.Fatal("Failed to create geo schema: ", err)
	}

	if err := db.DB.AutoMigrate(&GeographicEntity{}, &IdentifierMapping{}); err != nil {
		log.Fatal("Failed to auto-migrate geo tables", err)
	}

	store = NewStore(db.DB)
	resolver = NewResolver(store, nil)
}

// DefaultStore exposes the package store to collaborating packages after
// Init.
func DefaultStore() *Store { return store }

// DefaultResolver exposes the package resolver after Init.
func DefaultResolver() *Resolver { return resolver }
