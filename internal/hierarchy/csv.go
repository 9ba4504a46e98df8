package hierarchy

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Tuple is one parsed boundary-relationship row. Types come from the
// manifest level, not the file.
type Tuple struct {
	ParentCode      string
	ParentName      string
	ParentState     string
	ChildCode       string
	ChildName       string
	ChildState      string
	Overlap         float64
	IsPrimary       bool
	ChildPopulation *int64
}

// GeometryRow is one row of an optional geometry extract: canonical shape
// and population data for entities of a single type.
type GeometryRow struct {
	Code       string
	Name       string
	State      string
	Population *int64
	GeoJSON    string
}

// RowError is a per-record parse failure; it is counted and reported, never
// fatal for the level.
type RowError struct {
	Line int
	Msg  string
}

func readCSV(path string) ([][]string, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, errors.New("csv has no data rows")
	}

	header := records[0]
	// Handle BOM on first header cell
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	return records, col, nil
}

func get(rec []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// ParseExtract reads one level-pair extract. A missing column or unreadable
// file is structural and returned as the error; malformed rows are skipped
// and returned as RowErrors.
func ParseExtract(path string) ([]Tuple, []RowError, error) {
	records, col, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}

	req := []string{"parent_code", "parent_name", "child_code", "child_name", "overlap_percentage", "is_primary"}
	for _, k := range req {
		if _, ok := col[k]; !ok {
			return nil, nil, fmt.Errorf("missing required column: %s", k)
		}
	}

	var out []Tuple
	var rowErrs []RowError

	for rowIdx := 1; rowIdx < len(records); rowIdx++ {
		rec := records[rowIdx]
		line := rowIdx + 1

		t := Tuple{
			ParentCode:  get(rec, col, "parent_code"),
			ParentName:  get(rec, col, "parent_name"),
			ParentState: get(rec, col, "parent_state"),
			ChildCode:   get(rec, col, "child_code"),
			ChildName:   get(rec, col, "child_name"),
			ChildState:  get(rec, col, "child_state"),
		}
		if t.ParentCode == "" || t.ChildCode == "" {
			rowErrs = append(rowErrs, RowError{line, "parent_code and child_code are required"})
			continue
		}

		overlap, err := strconv.ParseFloat(get(rec, col, "overlap_percentage"), 64)
		if err != nil || overlap < 0 || overlap > 100 {
			rowErrs = append(rowErrs, RowError{line, fmt.Sprintf("bad overlap_percentage %q", get(rec, col, "overlap_percentage"))})
			continue
		}
		t.Overlap = overlap

		primary, err := strconv.ParseBool(get(rec, col, "is_primary"))
		if err != nil {
			rowErrs = append(rowErrs, RowError{line, fmt.Sprintf("bad is_primary %q", get(rec, col, "is_primary"))})
			continue
		}
		t.IsPrimary = primary

		if raw := get(rec, col, "child_population"); raw != "" {
			pop, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || pop < 0 {
				rowErrs = append(rowErrs, RowError{line, fmt.Sprintf("bad child_population %q", raw)})
				continue
			}
			t.ChildPopulation = &pop
		}

		out = append(out, t)
	}

	return out, rowErrs, nil
}

// ParseGeometryExtract reads an optional per-type geometry/population file.
func ParseGeometryExtract(path string) ([]GeometryRow, []RowError, error) {
	records, col, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}

	for _, k := range []string{"code", "name", "geometry"} {
		if _, ok := col[k]; !ok {
			return nil, nil, fmt.Errorf("missing required column: %s", k)
		}
	}

	var out []GeometryRow
	var rowErrs []RowError

	for rowIdx := 1; rowIdx < len(records); rowIdx++ {
		rec := records[rowIdx]
		line := rowIdx + 1

		g := GeometryRow{
			Code:    get(rec, col, "code"),
			Name:    get(rec, col, "name"),
			State:   get(rec, col, "state"),
			GeoJSON: get(rec, col, "geometry"),
		}
		if g.Code == "" || g.Name == "" {
			rowErrs = append(rowErrs, RowError{line, "code and name are required"})
			continue
		}
		if raw := get(rec, col, "population"); raw != "" {
			pop, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || pop < 0 {
				rowErrs = append(rowErrs, RowError{line, fmt.Sprintf("bad population %q", raw)})
				continue
			}
			g.Population = &pop
		}

		out = append(out, g)
	}

	return out, rowErrs, nil
}
