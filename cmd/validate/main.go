// Command validate runs a strict-mode resolution pass over a provider
// records CSV: every record must resolve to an existing canonical entity,
// and nothing is created. Exits non-zero when unresolved records remain.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/th309/Realestate-sub002/internal/db"
	"github.com/th309/Realestate-sub002/internal/geo"
)

func main() {
	var (
		csvPath = flag.String("csv", "", "path to the records CSV (required)")
		dbURL   = flag.String("db", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
		workers = flag.Int("workers", 8, "resolution worker pool size")
	)
	_ = godotenv.Load(".env.local")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))

	if *csvPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *dbURL == "" {
		log.Error("--db not provided and DATABASE_URL not set")
		os.Exit(2)
	}

	records, err := loadRecords(*csvPath)
	if err != nil {
		log.Error("load records", "err", err)
		os.Exit(1)
	}

	conn, err := db.Open(*dbURL)
	if err != nil {
		log.Error("connect", "err", err)
		os.Exit(1)
	}

	resolver := geo.NewResolver(geo.NewStore(conn), log)
	results := resolver.ResolveBatch(context.Background(), records, *workers, true)

	notFound := 0
	failed := 0
	for _, r := range results {
		switch {
		case errors.Is(r.Err, geo.ErrResolutionNotFound):
			notFound++
			log.Warn("unresolved record",
				"source", r.Record.Source, "external_id", r.Record.ExternalID,
				"type", r.Record.Type, "name", r.Record.Name)
		case r.Err != nil:
			failed++
			log.Error("record failed", "source", r.Record.Source, "external_id", r.Record.ExternalID, "err", r.Err)
		}
	}

	log.Info("validation finished",
		"records", len(results), "unresolved", notFound, "errors", failed)
	if notFound > 0 || failed > 0 {
		os.Exit(1)
	}
}

func loadRecords(path string) ([]geo.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.New("csv has no data rows")
	}

	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []geo.Record
	for _, rec := range rows[1:] {
		record := geo.Record{
			Source:     get(rec, "source"),
			ExternalID: get(rec, "external_id"),
			Name:       get(rec, "name"),
			Type:       geo.EntityType(get(rec, "type")),
			StateHint:  get(rec, "state_hint"),
		}
		if raw := get(rec, "latitude"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				record.Latitude = &v
			}
		}
		if raw := get(rec, "longitude"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				record.Longitude = &v
			}
		}
		out = append(out, record)
	}
	return out, nil
}
