package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/th309/Realestate-sub002/internal/db"
	"github.com/th309/Realestate-sub002/internal/geo"
	"github.com/th309/Realestate-sub002/internal/hierarchy"
)

func main() {
	var (
		manifestPath = flag.String("manifest", "", "path to the vintage manifest YAML (required)")
		dbURL        = flag.String("db", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
		workers      = flag.Int("workers", 8, "resolution/edge-write worker pool size")
		jsonOut      = flag.Bool("json", false, "print the rebuild report as JSON")
	)
	_ = godotenv.Load(".env.local")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))

	if *manifestPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *dbURL == "" {
		log.Error("--db not provided and DATABASE_URL not set")
		os.Exit(2)
	}

	conn, err := db.Open(*dbURL)
	if err != nil {
		log.Error("connect", "err", err)
		os.Exit(1)
	}
	if err := db.EnsureSchema(conn, "geo"); err != nil {
		log.Error("ensure schema", "err", err)
		os.Exit(1)
	}
	if err := conn.AutoMigrate(
		&geo.GeographicEntity{}, &geo.IdentifierMapping{},
		&hierarchy.BoundaryRelationship{}, &hierarchy.HierarchyEdge{},
	); err != nil {
		log.Error("migrate", "err", err)
		os.Exit(1)
	}

	store := geo.NewStore(conn)
	resolver := geo.NewResolver(store, log)
	service := hierarchy.NewService(conn, store, resolver, *workers, log)

	report, err := service.Rebuild(context.Background(), *manifestPath)
	if err != nil {
		log.Error("rebuild failed", "err", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Error("encode report", "err", err)
			os.Exit(1)
		}
		return
	}

	log.Info("rebuild summary",
		"vintage", report.Vintage,
		"resolved", report.ResolvedByMatchType,
		"edges_created", report.EdgesCreated,
		"edges_updated", report.EdgesUpdated,
		"edges_pruned", report.EdgesPruned,
		"children_skipped", report.ChildrenSkipped,
		"levels_skipped", report.LevelsSkipped,
		"record_errors", report.RecordErrors,
		"unresolved", len(report.Unresolved))
	for _, u := range report.Unresolved {
		log.Warn("needs manual mapping", "entity", u.EntityID, "type", u.Type, "name", u.Name, "reason", u.Reason)
	}
}
