package storage

import (
	"context"
	"time"
)

// MetadataStorage defines the engine's durable cross-restart metadata: the
// change-feed resume token and the last full-sync timestamp. Everything
// else the engine keeps is ordinary record data.
type MetadataStorage interface {
	// SaveResumeToken persists the committed resume token. Callers must
	// only save a token after the corresponding event has been fully
	// processed (applied or queued as a conflict).
	SaveResumeToken(ctx context.Context, token string) error

	// GetResumeToken retrieves the committed resume token.
	// Returns "" if no token has been persisted yet.
	GetResumeToken(ctx context.Context) (string, error)

	// SaveLastFullSync persists the time of the last full resync.
	SaveLastFullSync(ctx context.Context, t time.Time) error

	// GetLastFullSync retrieves the time of the last full resync.
	// Returns the zero time if no full sync has been performed.
	GetLastFullSync(ctx context.Context) (time.Time, error)
}
