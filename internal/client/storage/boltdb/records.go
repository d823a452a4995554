package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/openclerk/recordsync/internal/client/storage"
	"github.com/openclerk/recordsync/internal/models"
)

// GetRecord retrieves a record by collection and document ID
func (s *Storage) GetRecord(ctx context.Context, collection, id string) (*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var rec *models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return storage.ErrRecordNotFound
		}

		data := bucket.Get(recordKey(collection, id))
		if data == nil {
			return storage.ErrRecordNotFound
		}

		rec = &models.Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// PutLocal stores a local mutation. New records become local, existing ones
// dirty; the conflict version is incremented either way. This transition is
// the hook the sync engine uses to detect edits made while offline.
func (s *Storage) PutLocal(ctx context.Context, rec *models.Record) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}

		key := recordKey(rec.Collection, rec.DocumentID)
		stored := rec.Clone()
		op := models.OpUpdate

		existing := bucket.Get(key)
		if existing == nil {
			stored.SyncState = models.SyncStateLocal
			stored.ConflictVersion = 1
			op = models.OpInsert
		} else {
			var prev models.Record
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("failed to unmarshal existing record: %w", err)
			}
			stored.SyncState = models.SyncStateDirty
			stored.ConflictVersion = prev.ConflictVersion + 1
			stored.LastSynced = prev.LastSynced
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}

		return appendChangeLog(tx, rec.Collection, rec.DocumentID, op, models.ActorClient)
	})
	if err != nil {
		return fmt.Errorf("put local transaction failed: %w", err)
	}

	return nil
}

// PutSynced stores a server-acknowledged version of a record
func (s *Storage) PutSynced(ctx context.Context, rec *models.Record, actor models.Actor) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}

		stored := rec.Clone()
		stored.SyncState = models.SyncStateSynced
		stored.LastSynced = time.Now().UTC()

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if err := bucket.Put(recordKey(rec.Collection, rec.DocumentID), data); err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}

		return appendChangeLog(tx, rec.Collection, rec.DocumentID, models.OpReplace, actor)
	})
	if err != nil {
		return fmt.Errorf("put synced transaction failed: %w", err)
	}

	return nil
}

// PutDirty stores merged fields on a record that still has unacknowledged
// local edits. Sync state stays dirty; conflict version is kept as given.
func (s *Storage) PutDirty(ctx context.Context, rec *models.Record, actor models.Actor) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return fmt.Errorf("records bucket not found")
		}

		stored := rec.Clone()
		stored.SyncState = models.SyncStateDirty

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if err := bucket.Put(recordKey(rec.Collection, rec.DocumentID), data); err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}

		return appendChangeLog(tx, rec.Collection, rec.DocumentID, models.OpUpdate, actor)
	})
	if err != nil {
		return fmt.Errorf("put dirty transaction failed: %w", err)
	}

	return nil
}

// DeleteRecord removes a record
func (s *Storage) DeleteRecord(ctx context.Context, collection, id string, actor models.Actor) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return storage.ErrRecordNotFound
		}

		key := recordKey(collection, id)
		if bucket.Get(key) == nil {
			return storage.ErrRecordNotFound
		}
		if err := bucket.Delete(key); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}

		return appendChangeLog(tx, collection, id, models.OpDelete, actor)
	})
	if err != nil {
		return err
	}

	return nil
}

// ListRecords returns all records of a collection
func (s *Storage) ListRecords(ctx context.Context, collection string) ([]*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []*models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		if bucket == nil {
			return nil
		}

		prefix := []byte(collection + "/")
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec models.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	return records, nil
}
