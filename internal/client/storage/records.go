package storage

import (
	"context"

	"github.com/openclerk/recordsync/internal/models"
)

// RecordStorage defines the durable keyed record store. Writes are atomic
// per (collection, document ID); every mutating call appends a change-log
// entry in the same transaction. I/O failures are returned to the caller so
// it can distinguish "no record" (ErrRecordNotFound) from "storage
// unavailable".
type RecordStorage interface {
	// GetRecord retrieves a record by collection and document ID.
	// Returns ErrRecordNotFound if the record doesn't exist.
	GetRecord(ctx context.Context, collection, id string) (*models.Record, error)

	// PutLocal stores a local mutation: sync state becomes local for new
	// records and dirty for existing ones, and the conflict version is
	// incremented. Used by UI collaborators writing offline-first.
	PutLocal(ctx context.Context, rec *models.Record) error

	// PutSynced stores a server-acknowledged version: sync state becomes
	// synced, last-synced is set, the conflict version is kept as given.
	PutSynced(ctx context.Context, rec *models.Record, actor models.Actor) error

	// PutDirty stores merged fields on a record that still carries
	// unacknowledged local edits: sync state stays dirty and the conflict
	// version is kept as given.
	PutDirty(ctx context.Context, rec *models.Record, actor models.Actor) error

	// DeleteRecord removes a record.
	DeleteRecord(ctx context.Context, collection, id string, actor models.Actor) error

	// ListRecords returns all records of a collection.
	ListRecords(ctx context.Context, collection string) ([]*models.Record, error)
}
