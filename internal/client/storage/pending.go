package storage

import (
	"context"

	"github.com/openclerk/recordsync/internal/models"
)

// PendingStorage defines the queue of local mutations awaiting server
// acknowledgment. Entries are ordered FIFO per (collection, document ID).
type PendingStorage interface {
	// EnqueuePending appends a pending change to the record's queue.
	EnqueuePending(ctx context.Context, change *models.PendingChange) error

	// ListPending returns the queued changes for a record in FIFO order without
	// removing them.
	ListPending(ctx context.Context, collection, id string) ([]*models.PendingChange, error)

	// DrainPending returns and removes the queued changes for a record.
	DrainPending(ctx context.Context, collection, id string) ([]*models.PendingChange, error)

	// RemovePending deletes the identified changes from a record's queue.
	// IDs with no queued entry are ignored.
	RemovePending(ctx context.Context, collection, id string, changeIDs []string) error

	// CountPending returns the number of queued changes for a record.
	CountPending(ctx context.Context, collection, id string) (int, error)

	// CountAllPending returns the number of queued changes across all records.
	CountAllPending(ctx context.Context) (int, error)
}
