package hierarchy

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/th309/Realestate-sub002/internal/geo"
)

// UnresolvedEntity is a record or entity the rebuild could not place; it is
// surfaced for manual mapping, never silently dropped.
type UnresolvedEntity struct {
	EntityID   uuid.UUID      `json:"entity_id,omitempty"`
	Source     string         `json:"source,omitempty"`
	ExternalID string         `json:"external_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Type       geo.EntityType `json:"type"`
	Reason     string         `json:"reason"`
}

// RebuildReport is the summary every rebuild returns: resolution counts by
// match type, edge churn, skipped levels, and the manual-attention list.
// Counters are safe for concurrent workers.
type RebuildReport struct {
	mu sync.Mutex

	Vintage    string    `json:"vintage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	ResolvedByMatchType map[geo.MatchType]int `json:"resolved_by_match_type"`
	RecordErrors        int                   `json:"record_errors"`
	AmbiguousCount      int                   `json:"ambiguous_count"`

	EdgesCreated    int `json:"edges_created"`
	EdgesUpdated    int `json:"edges_updated"`
	EdgesPruned     int `json:"edges_pruned"`
	ChildrenSkipped int `json:"children_skipped"`

	LevelsSkipped []string           `json:"levels_skipped,omitempty"`
	Unresolved    []UnresolvedEntity `json:"unresolved,omitempty"`
}

func NewRebuildReport(vintage string) *RebuildReport {
	return &RebuildReport{
		Vintage:             vintage,
		StartedAt:           time.Now().UTC(),
		ResolvedByMatchType: map[geo.MatchType]int{},
	}
}

func (r *RebuildReport) CountResolution(mt geo.MatchType, ambiguous bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResolvedByMatchType[mt]++
	if ambiguous {
		r.AmbiguousCount++
	}
}

func (r *RebuildReport) CountRecordError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecordErrors++
}

func (r *RebuildReport) SkipLevel(pair, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LevelsSkipped = append(r.LevelsSkipped, pair+": "+reason)
}

func (r *RebuildReport) AddUnresolved(u UnresolvedEntity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unresolved = append(r.Unresolved, u)
}

func (r *RebuildReport) CountEdges(created, updated, pruned int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EdgesCreated += created
	r.EdgesUpdated += updated
	r.EdgesPruned += pruned
}

func (r *RebuildReport) CountChildSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ChildrenSkipped++
}

func (r *RebuildReport) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now().UTC()
}
