package hierarchy

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/th309/Realestate-sub002/internal/geo"
)

var (
	// ErrCycleDetected means a traversal exceeded the hierarchy depth. The
	// builder guarantees acyclicity, so hitting this is a loud bug signal,
	// never something to swallow.
	ErrCycleDetected = errors.New("hierarchy cycle detected")

	// ErrSourceDataMissing marks a level whose boundary extract is absent;
	// only that level's edge construction is skipped.
	ErrSourceDataMissing = errors.New("boundary source data missing")
)

// InvariantViolation reports an edge set that would break a structural
// guarantee (wrong primary count for a parent type, overlap out of range).
// It aborts only the affected child's write.
type InvariantViolation struct {
	ChildID    uuid.UUID
	ParentType geo.EntityType
	Reason     string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation for child %s (parent type %s): %s",
		e.ChildID, e.ParentType, e.Reason)
}
