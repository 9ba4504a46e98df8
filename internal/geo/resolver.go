package geo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agnivade/levenshtein"
	"github.com/alitto/pond/v2"
	"github.com/golang/geo/s2"
	"github.com/google/uuid"
)

const (
	// fuzzyThreshold mirrors the pg_trgm default-ish floor: anything below
	// is noise, not a match.
	fuzzyThreshold = 0.30
	// Two fuzzy candidates scoring within this window are re-ranked by edit
	// distance before being declared ambiguous.
	fuzzyAmbiguityWindow = 0.02
	// maxCentroidKm caps the nearest-centroid step; a coordinate farther
	// than this from every known centroid is no match.
	maxCentroidKm = 100.0

	earthRadiusKm = 6371.0

	spatialConfidence = 0.70
)

// Record is the uniform raw-reference shape handed over by upstream
// importers.
type Record struct {
	Source     string     `json:"source"`
	ExternalID string     `json:"external_id"`
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	StateHint  string     `json:"state_hint,omitempty"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
}

// Resolution is the outcome of one cascade run.
type Resolution struct {
	EntityID   uuid.UUID `json:"entity_id"`
	MatchType  MatchType `json:"match_type"`
	Confidence float64   `json:"confidence"`
	// Created is true when the cascade exhausted every match strategy and
	// minted a new canonical entity.
	Created bool `json:"created"`
	// Ambiguous is true when a fuzzy step had no clear winner and the
	// cascade fell through; the recorded mapping is flagged for review.
	Ambiguous bool `json:"ambiguous"`
}

// Resolver maps raw provider references to canonical entity ids via a fixed
// strategy cascade: exact mapping, normalized name, trigram fuzzy, nearest
// centroid, create. Given an unchanged entity store, identical input always
// yields an identical resolution.
type Resolver struct {
	store *Store
	log   *slog.Logger
}

func NewResolver(store *Store, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, log: log}
}

// Resolve runs the cascade, creating a new entity when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, rec Record) (Resolution, error) {
	return r.resolve(ctx, rec, false)
}

// ResolveStrict runs the cascade but returns ErrResolutionNotFound instead
// of creating an entity; the error also matches ErrResolutionAmbiguous when
// a fuzzy step saw tied candidates. Used by validation passes.
func (r *Resolver) ResolveStrict(ctx context.Context, rec Record) (Resolution, error) {
	return r.resolve(ctx, rec, true)
}

func (r *Resolver) resolve(ctx context.Context, rec Record, strict bool) (Resolution, error) {
	if !rec.Type.Valid() {
		return Resolution{}, fmt.Errorf("resolve %s/%s: invalid type %q", rec.Source, rec.ExternalID, rec.Type)
	}

	// 1. Existing mapping.
	if m, err := r.store.FindMapping(ctx, rec.Source, rec.ExternalID); err != nil {
		return Resolution{}, err
	} else if m != nil {
		return Resolution{EntityID: m.EntityID, MatchType: MatchExact, Confidence: 1}, nil
	}

	normalized, extracted := NormalizeName(rec.Name)
	state := rec.StateHint
	if state == "" {
		state = extracted
	}

	ambiguous := false

	// 2. Normalized-name match scoped to (type, state).
	if normalized != "" {
		matches, err := r.store.FindByNormalizedName(ctx, rec.Type, normalized, state)
		if err != nil {
			return Resolution{}, err
		}
		switch len(matches) {
		case 1:
			return r.record(ctx, rec, matches[0].ID, MatchNormalizedName, 0.95, false, false)
		case 0:
			// fall through to fuzzy
		default:
			// Same normalized name in several states and no state hint to
			// pick one. Guessing here would be wrong half the time.
			ambiguous = true
			r.log.Warn("normalized-name match ambiguous",
				"source", rec.Source, "external_id", rec.ExternalID,
				"name", rec.Name, "candidates", len(matches))
		}
	}

	// 3. Trigram fuzzy match over the same candidate scope.
	if normalized != "" {
		candidates, err := r.store.Candidates(ctx, rec.Type, state)
		if err != nil {
			return Resolution{}, err
		}
		winner, score, fuzzyAmbiguous := pickFuzzy(normalized, candidates)
		if fuzzyAmbiguous {
			ambiguous = true
			r.log.Warn("fuzzy match ambiguous",
				"source", rec.Source, "external_id", rec.ExternalID,
				"name", rec.Name, "score", score)
		} else if winner != nil {
			return r.record(ctx, rec, winner.ID, MatchFuzzy, score, ambiguous, ambiguous)
		}
	}

	// 4. Nearest centroid of the same type.
	if rec.Latitude != nil && rec.Longitude != nil {
		candidates, err := r.store.Candidates(ctx, rec.Type, state)
		if err != nil {
			return Resolution{}, err
		}
		if nearest := nearestByCentroid(*rec.Latitude, *rec.Longitude, candidates); nearest != nil {
			return r.record(ctx, rec, nearest.ID, MatchSpatial, spatialConfidence, ambiguous, ambiguous)
		}
	}

	if strict {
		if ambiguous {
			return Resolution{}, fmt.Errorf("resolve %s/%s (%s %q): %w: %w",
				rec.Source, rec.ExternalID, rec.Type, rec.Name, ErrResolutionAmbiguous, ErrResolutionNotFound)
		}
		return Resolution{}, fmt.Errorf("resolve %s/%s (%s %q): %w",
			rec.Source, rec.ExternalID, rec.Type, rec.Name, ErrResolutionNotFound)
	}

	// 5. Create a fresh canonical entity, flagged for review.
	entity := GeographicEntity{
		Type:           rec.Type,
		Name:           rec.Name,
		NormalizedName: normalized,
		State:          state,
		Latitude:       rec.Latitude,
		Longitude:      rec.Longitude,
	}
	created, err := r.store.EnsureEntity(ctx, &entity)
	if err != nil {
		return Resolution{}, err
	}
	res, err := r.record(ctx, rec, entity.ID, MatchManualCreated, 0, true, ambiguous)
	if err != nil {
		return Resolution{}, err
	}
	res.Created = created
	return res, nil
}

// record persists the mapping and returns the resolution. If another worker
// recorded the same (source, externalId) first, the stored mapping wins so
// every caller observes one answer.
func (r *Resolver) record(ctx context.Context, rec Record, entityID uuid.UUID, mt MatchType, confidence float64, needsReview, ambiguous bool) (Resolution, error) {
	m := IdentifierMapping{
		Source:      rec.Source,
		SourceID:    rec.ExternalID,
		EntityID:    entityID,
		MatchType:   mt,
		Confidence:  confidence,
		NeedsReview: needsReview,
	}
	if err := r.store.SaveMapping(ctx, &m); err != nil {
		return Resolution{}, err
	}
	return Resolution{
		EntityID:   m.EntityID,
		MatchType:  m.MatchType,
		Confidence: m.Confidence,
		Ambiguous:  ambiguous,
	}, nil
}

// pickFuzzy scores candidates by trigram similarity and returns the winner,
// its score, and whether the result was ambiguous. Candidates within the
// ambiguity window of the best score are re-ranked by edit distance; an
// exact tie after that is ambiguous.
func pickFuzzy(normalized string, candidates []GeographicEntity) (*GeographicEntity, float64, bool) {
	best := -1.0
	var contenders []int
	for i := range candidates {
		score := TrigramSimilarity(normalized, candidates[i].NormalizedName)
		if score < fuzzyThreshold {
			continue
		}
		switch {
		case score > best+fuzzyAmbiguityWindow:
			best = score
			contenders = contenders[:0]
			contenders = append(contenders, i)
		case score >= best-fuzzyAmbiguityWindow:
			if score > best {
				best = score
			}
			contenders = append(contenders, i)
		}
	}
	if len(contenders) == 0 {
		return nil, 0, false
	}
	if len(contenders) == 1 {
		return &candidates[contenders[0]], best, false
	}

	bestDist := -1
	winner := -1
	tied := false
	for _, i := range contenders {
		d := levenshtein.ComputeDistance(normalized, candidates[i].NormalizedName)
		switch {
		case bestDist < 0 || d < bestDist:
			bestDist = d
			winner = i
			tied = false
		case d == bestDist:
			tied = true
		}
	}
	if tied {
		return nil, best, true
	}
	return &candidates[winner], best, false
}

// nearestByCentroid returns the closest candidate with a known centroid
// within maxCentroidKm, or nil. Candidates arrive id-ordered, and only a
// strictly smaller distance replaces the running best, so equidistant
// candidates resolve to the lexicographically smaller id.
func nearestByCentroid(lat, lng float64, candidates []GeographicEntity) *GeographicEntity {
	from := s2.LatLngFromDegrees(lat, lng)
	bestKm := maxCentroidKm
	var nearest *GeographicEntity
	for i := range candidates {
		c := &candidates[i]
		if c.Latitude == nil || c.Longitude == nil {
			continue
		}
		km := from.Distance(s2.LatLngFromDegrees(*c.Latitude, *c.Longitude)).Radians() * earthRadiusKm
		if km < bestKm {
			bestKm = km
			nearest = c
		}
	}
	return nearest
}

// BatchResult pairs a record with its resolution outcome.
type BatchResult struct {
	Record     Record
	Resolution Resolution
	Err        error
}

// ResolveBatch resolves independent records on a bounded worker pool. A
// failed record is captured in its result and never aborts the batch.
func (r *Resolver) ResolveBatch(ctx context.Context, records []Record, workers int, strict bool) []BatchResult {
	if workers < 1 {
		workers = 1
	}
	results := make([]BatchResult, len(records))
	pool := pond.NewPool(workers)
	for i := range records {
		pool.Submit(func() {
			rec := records[i]
			res, err := r.resolve(ctx, rec, strict)
			results[i] = BatchResult{Record: rec, Resolution: res, Err: err}
		})
	}
	pool.StopAndWait()
	return results
}
