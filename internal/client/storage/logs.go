package storage

import (
	"context"

	"github.com/openclerk/recordsync/internal/models"
)

// ChangeLogStorage defines the append-only change audit log. Entries are
// never mutated; retention is an external concern.
type ChangeLogStorage interface {
	// AppendChange adds an entry to the log.
	AppendChange(ctx context.Context, entry *models.ChangeLogEntry) error

	// RecentChanges returns up to n entries, newest first.
	RecentChanges(ctx context.Context, n int) ([]*models.ChangeLogEntry, error)
}

// DeltaLogStorage defines the delta audit log: every delta the engine
// processed, for conflict reconstruction and debugging.
type DeltaLogStorage interface {
	// AppendDelta adds a delta to the log.
	AppendDelta(ctx context.Context, d *models.Delta) error

	// RecentDeltas returns up to n deltas, newest first.
	RecentDeltas(ctx context.Context, n int) ([]*models.Delta, error)
}
