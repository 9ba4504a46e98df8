package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps the canonical entity and mapping tables. All methods are safe
// for concurrent use by resolution workers.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (*GeographicEntity, error) {
	var e GeographicEntity
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	return &e, nil
}

func (s *Store) EntitiesByType(ctx context.Context, t EntityType) ([]GeographicEntity, error) {
	var out []GeographicEntity
	if err := s.db.WithContext(ctx).
		Where("type = ?", t).
		Order("id").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("entities by type %s: %w", t, err)
	}
	return out, nil
}

// FindMapping returns the mapping for (source, sourceID), or nil when none
// exists yet.
func (s *Store) FindMapping(ctx context.Context, source, sourceID string) (*IdentifierMapping, error) {
	var m IdentifierMapping
	err := s.db.WithContext(ctx).
		Where("source = ? AND source_id = ?", source, sourceID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping %s/%s: %w", source, sourceID, err)
	}
	return &m, nil
}

// SaveMapping inserts the mapping unless (source, source_id) already exists,
// in which case the existing row wins and m is overwritten with it. Losing
// the race to another worker is not an error; both workers resolved the same
// provider record.
func (s *Store) SaveMapping(ctx context.Context, m *IdentifierMapping) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "source_id"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return fmt.Errorf("save mapping %s/%s: %w", m.Source, m.SourceID, res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := s.FindMapping(ctx, m.Source, m.SourceID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("save mapping %s/%s: conflict row vanished", m.Source, m.SourceID)
		}
		*m = *existing
	}
	return nil
}

// FindByNormalizedName returns entities of the given type whose normalized
// name matches. An empty state searches every state; results are id-ordered
// so callers see a deterministic candidate order.
func (s *Store) FindByNormalizedName(ctx context.Context, t EntityType, normalized, state string) ([]GeographicEntity, error) {
	q := s.db.WithContext(ctx).Where("type = ? AND normalized_name = ?", t, normalized)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var out []GeographicEntity
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find by normalized name: %w", err)
	}
	return out, nil
}

// Candidates returns the fuzzy/spatial candidate set for one (type, state)
// scope. An empty state returns all entities of the type.
func (s *Store) Candidates(ctx context.Context, t EntityType, state string) ([]GeographicEntity, error) {
	q := s.db.WithContext(ctx).Where("type = ?", t)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var out []GeographicEntity
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("candidates for %s/%s: %w", t, state, err)
	}
	return out, nil
}

// EnsureEntity creates the entity if no entity with its natural key
// (type, normalized_name, state) exists yet, otherwise loads the existing
// one into e. The insert-if-absent is a single ON CONFLICT DO NOTHING, so
// two workers racing on the same key can never create two canonical
// entities. Returns whether this call created the row.
func (s *Store) EnsureEntity(ctx context.Context, e *GeographicEntity) (bool, error) {
	if !e.Type.Valid() {
		return false, fmt.Errorf("ensure entity %q: invalid type %q", e.Name, e.Type)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}, {Name: "normalized_name"}, {Name: "state"}},
		DoNothing: true,
	}).Create(e)
	if res.Error != nil {
		return false, fmt.Errorf("ensure entity %q: %w", e.Name, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Lost the race (or the entity predates this call): load the winner.
	var existing GeographicEntity
	if err := s.db.WithContext(ctx).
		Where("type = ? AND normalized_name = ? AND state = ?", e.Type, e.NormalizedName, e.State).
		First(&existing).Error; err != nil {
		return false, fmt.Errorf("ensure entity %q: reload after conflict: %w", e.Name, err)
	}
	*e = existing
	return false, nil
}

// UpdateFacts fills in optional entity facts (geometry, population,
// centroid) as authoritative data becomes available. Nil arguments leave the
// stored value untouched; name, type and id never change here.
func (s *Store) UpdateFacts(ctx context.Context, id uuid.UUID, geometry []byte, population *int64, lat, lng *float64) error {
	updates := map[string]any{}
	if geometry != nil {
		updates["geometry"] = geometry
	}
	if population != nil {
		updates["population"] = *population
	}
	if lat != nil && lng != nil {
		updates["latitude"] = *lat
		updates["longitude"] = *lng
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Model(&GeographicEntity{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("update facts for %s: %w", id, err)
	}
	return nil
}

// MappingsNeedingReview lists manual-created and ambiguous mappings for the
// review queue, oldest first.
func (s *Store) MappingsNeedingReview(ctx context.Context) ([]IdentifierMapping, error) {
	var out []IdentifierMapping
	if err := s.db.WithContext(ctx).
		Where("needs_review = ?", true).
		Order("created_at").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("mappings needing review: %w", err)
	}
	return out, nil
}
