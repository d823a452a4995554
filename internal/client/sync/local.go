package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openclerk/recordsync/internal/client/storage"
	"github.com/openclerk/recordsync/internal/delta"
	"github.com/openclerk/recordsync/internal/models"
)

// Read returns the local version of a record regardless of sync state.
func (s *service) Read(ctx context.Context, collection, id string) (*models.Record, error) {
	return s.store.GetRecord(ctx, collection, id)
}

// ListRecords returns all local records of a collection.
func (s *service) ListRecords(ctx context.Context, collection string) ([]*models.Record, error) {
	return s.store.ListRecords(ctx, collection)
}

// Write applies a field patch to the local record, queues the resulting
// delta for the server, and returns the stored record. Writes succeed
// offline; the caller never waits on the network.
func (s *service) Write(ctx context.Context, collection, id string, patch models.Fields) (*models.Record, error) {
	current, err := s.store.GetRecord(ctx, collection, id)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return nil, fmt.Errorf("read record: %w", err)
	}

	after := &models.Record{Collection: collection, DocumentID: id, Fields: models.Fields{}}
	if current != nil {
		after.Fields = current.Fields.Clone()
	}
	for path, v := range patch {
		delta.SetField(after.Fields, path, v)
	}

	d := delta.Create(current, after, delta.CreateOptions{
		Timestamp: s.clock.Now(),
		Source:    models.SourceClient,
	})
	if current != nil && len(d.Changes) == 0 {
		return current, nil
	}

	if err := s.store.PutLocal(ctx, after); err != nil {
		return nil, fmt.Errorf("put local: %w", err)
	}
	if err := s.store.EnqueuePending(ctx, &models.PendingChange{
		QueuedAt:   time.Now().UTC(),
		ID:         uuid.NewString(),
		Collection: collection,
		DocumentID: id,
		Delta:      d,
	}); err != nil {
		return nil, fmt.Errorf("enqueue pending: %w", err)
	}
	if err := s.store.AppendDelta(ctx, d); err != nil {
		return nil, fmt.Errorf("append delta log: %w", err)
	}

	stored, err := s.store.GetRecord(ctx, collection, id)
	if err != nil {
		return nil, fmt.Errorf("read back record: %w", err)
	}
	s.notifier.notify(collection, id, stored)
	return stored, nil
}

// Delete removes a record locally and queues a delete delta for the server.
func (s *service) Delete(ctx context.Context, collection, id string) error {
	current, err := s.store.GetRecord(ctx, collection, id)
	if err != nil {
		return err
	}

	d := delta.Create(current, nil, delta.CreateOptions{
		Timestamp: s.clock.Now(),
		Source:    models.SourceClient,
	})

	if err := s.store.DeleteRecord(ctx, collection, id, models.ActorClient); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := s.store.EnqueuePending(ctx, &models.PendingChange{
		QueuedAt:   time.Now().UTC(),
		ID:         uuid.NewString(),
		Collection: collection,
		DocumentID: id,
		Delta:      d,
	}); err != nil {
		return fmt.Errorf("enqueue pending: %w", err)
	}
	if err := s.store.AppendDelta(ctx, d); err != nil {
		return fmt.Errorf("append delta log: %w", err)
	}

	s.notifier.notify(collection, id, nil)
	return nil
}

// PendingCount returns the number of unacknowledged local changes queued
// for a record.
func (s *service) PendingCount(ctx context.Context, collection, id string) (int, error) {
	return s.store.CountPending(ctx, collection, id)
}

// Subscribe registers a change callback for a record. The returned function
// unsubscribes; it is safe to call more than once.
func (s *service) Subscribe(collection, id string, fn func(*models.Record)) func() {
	return s.notifier.subscribe(collection, id, fn)
}

// Resync re-seeds a collection from a server snapshot, commits the snapshot
// cursor as the new resume token, and resumes the paused stream. Pending
// local changes stay queued: they are still unacknowledged edits on top of
// the new baseline. Local records absent from the snapshot were deleted
// server-side during the gap and are removed, unless unacknowledged local
// edits are still queued for them.
func (s *service) Resync(ctx context.Context, collection string, records []*models.Record, cursor string) error {
	existing, err := s.store.ListRecords(ctx, collection)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	seeded := make(map[string]bool, len(records))
	for _, rec := range records {
		seeded[rec.DocumentID] = true
		if err := s.store.PutSynced(ctx, rec, models.ActorServer); err != nil {
			return fmt.Errorf("seed record %s/%s: %w", rec.Collection, rec.DocumentID, err)
		}
		s.notifier.notify(rec.Collection, rec.DocumentID, rec)
	}

	for _, rec := range existing {
		if seeded[rec.DocumentID] {
			continue
		}
		queued, err := s.store.CountPending(ctx, collection, rec.DocumentID)
		if err != nil {
			return fmt.Errorf("count pending: %w", err)
		}
		if queued > 0 {
			continue
		}
		err = s.store.DeleteRecord(ctx, collection, rec.DocumentID, models.ActorServer)
		if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			return fmt.Errorf("remove stale record %s/%s: %w", collection, rec.DocumentID, err)
		}
		s.notifier.notify(collection, rec.DocumentID, nil)
	}
	if cursor != "" {
		if err := s.store.SaveResumeToken(ctx, cursor); err != nil {
			return fmt.Errorf("save resume token: %w", err)
		}
	}
	if err := s.store.SaveLastFullSync(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("save last full sync: %w", err)
	}
	s.source.Resume()
	s.logger.Info("full resync completed",
		"collection", collection,
		"records", len(records),
		"cursor", cursor)
	return nil
}
