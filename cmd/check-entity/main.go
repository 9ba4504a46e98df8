// Command check-entity spot-checks one canonical entity: its identifier
// mappings and its materialized hierarchy edges, straight from SQL.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/lib/pq"
)

func main() {
	var (
		entityID = flag.String("id", "", "canonical entity id (uuid)")
		source   = flag.String("source", "", "limit mappings to one provider")
		roles    = flag.String("roles", "child,parent", "edge roles to show (child,parent)")
	)
	godotenv.Load(".env.local")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if *entityID == "" {
		flag.Usage()
		os.Exit(2)
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("DB connection error: %v", err)
	}
	defer db.Close()

	var name, typ, state string
	err = db.QueryRow(`
		SELECT name, type, state
		FROM geo.geographic_entities
		WHERE id = $1
	`, *entityID).Scan(&name, &typ, &state)
	if err != nil {
		log.Fatalf("Entity lookup error: %v", err)
	}
	fmt.Printf("Entity %s: %s (%s, %q)\n\n", *entityID, name, typ, state)

	mq := `
		SELECT source, source_id, match_type, confidence, needs_review
		FROM geo.identifier_mappings
		WHERE entity_id = $1
	`
	args := []any{*entityID}
	if *source != "" {
		mq += " AND source = $2"
		args = append(args, *source)
	}
	mq += " ORDER BY source, source_id"

	rows, err := db.Query(mq, args...)
	if err != nil {
		log.Fatalf("Mappings query error: %v", err)
	}
	defer rows.Close()

	fmt.Println("=== Mappings ===")
	for rows.Next() {
		var src, sid, mt string
		var conf float64
		var review bool
		if err := rows.Scan(&src, &sid, &mt, &conf, &review); err != nil {
			log.Fatalf("Scan error: %v", err)
		}
		note := ""
		if review {
			note = " [needs review]"
		}
		fmt.Printf("  - %s/%s -> %s (%.2f)%s\n", src, sid, mt, conf, note)
	}
	fmt.Println()

	wanted := pq.Array(strings.Split(*roles, ","))
	eq := `
		SELECT role, other.name, other.type, e.is_primary, e.overlap_percentage, e.derivation
		FROM (
			SELECT 'child' AS role, parent_id AS other_id, is_primary, overlap_percentage, derivation
			FROM geo.hierarchy_edges WHERE child_id = $1
			UNION ALL
			SELECT 'parent' AS role, child_id AS other_id, is_primary, overlap_percentage, derivation
			FROM geo.hierarchy_edges WHERE parent_id = $1
		) e
		JOIN geo.geographic_entities other ON other.id = e.other_id
		WHERE e.role = ANY($2)
		ORDER BY e.role, other.type, other.name
	`
	erows, err := db.Query(eq, *entityID, wanted)
	if err != nil {
		log.Fatalf("Edges query error: %v", err)
	}
	defer erows.Close()

	fmt.Println("=== Edges ===")
	for erows.Next() {
		var role, otherName, otherType, derivation string
		var primary bool
		var overlap float64
		if err := erows.Scan(&role, &otherName, &otherType, &primary, &overlap, &derivation); err != nil {
			log.Fatalf("Scan error: %v", err)
		}
		mark := ""
		if primary {
			mark = " *primary*"
		}
		if role == "child" {
			fmt.Printf("  - contained in %s (%s) %.1f%% via %s%s\n", otherName, otherType, overlap, derivation, mark)
		} else {
			fmt.Printf("  - contains %s (%s) %.1f%% via %s%s\n", otherName, otherType, overlap, derivation, mark)
		}
	}
}
