package storage

import (
	"context"

	"github.com/openclerk/recordsync/internal/models"
)

// ConflictStorage defines the conflict-review queue. At most one conflict
// per record is eligible for resolution at a time: later conflicts for the
// same (collection, document ID) queue behind the head and surface only
// after it is resolved.
type ConflictStorage interface {
	// EnqueueConflict appends a conflict to the record's queue.
	EnqueueConflict(ctx context.Context, c *models.Conflict) error

	// GetConflict retrieves a conflict by ID.
	// Returns ErrConflictNotFound if it doesn't exist.
	GetConflict(ctx context.Context, id string) (*models.Conflict, error)

	// ConflictHead returns the oldest unresolved conflict for a record, or
	// ErrConflictNotFound if there is none.
	ConflictHead(ctx context.Context, collection, id string) (*models.Conflict, error)

	// UnresolvedHeads returns up to limit head conflicts eligible for
	// automatic resolution (oldest unresolved per record, manual-review
	// ones excluded), oldest first.
	UnresolvedHeads(ctx context.Context, limit int) ([]*models.Conflict, error)

	// ListUnresolved returns every unresolved conflict, including those
	// awaiting manual review. Consumed by the UI review surface.
	ListUnresolved(ctx context.Context) ([]*models.Conflict, error)

	// MarkResolved records a resolution. A resolution flagged for manual
	// review leaves the conflict unresolved but removes it from the
	// automatic queue.
	MarkResolved(ctx context.Context, id string, res *models.Resolution) error
}
