package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/openclerk/recordsync/internal/client/storage"
	"github.com/openclerk/recordsync/internal/models"
)

// EnqueuePending appends a pending change to the record's queue
func (s *Storage) EnqueuePending(ctx context.Context, change *models.PendingChange) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return fmt.Errorf("pending bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate pending sequence: %w", err)
		}

		data, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("failed to marshal pending change: %w", err)
		}

		key := seqKey(queuePrefix(change.Collection, change.DocumentID), seq)
		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to enqueue pending change: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue transaction failed: %w", err)
	}

	return nil
}

// ListPending returns the queued changes for a record in FIFO order
func (s *Storage) ListPending(ctx context.Context, collection, id string) ([]*models.PendingChange, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var changes []*models.PendingChange

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return nil
		}

		prefix := queuePrefix(collection, id)
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var change models.PendingChange
			if err := json.Unmarshal(v, &change); err != nil {
				return fmt.Errorf("failed to unmarshal pending change: %w", err)
			}
			changes = append(changes, &change)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending changes: %w", err)
	}

	return changes, nil
}

// DrainPending returns and removes the queued changes for a record
func (s *Storage) DrainPending(ctx context.Context, collection, id string) ([]*models.PendingChange, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var changes []*models.PendingChange

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return nil
		}

		prefix := queuePrefix(collection, id)
		var keys [][]byte

		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var change models.PendingChange
			if err := json.Unmarshal(v, &change); err != nil {
				return fmt.Errorf("failed to unmarshal pending change: %w", err)
			}
			changes = append(changes, &change)
			keys = append(keys, append([]byte(nil), k...))
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to remove pending change: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain transaction failed: %w", err)
	}

	return changes, nil
}

// RemovePending deletes the identified changes from a record's queue. IDs
// with no queued entry are ignored, so a retried removal is harmless.
func (s *Storage) RemovePending(ctx context.Context, collection, id string, changeIDs []string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	if len(changeIDs) == 0 {
		return nil
	}

	wanted := make(map[string]bool, len(changeIDs))
	for _, cid := range changeIDs {
		wanted[cid] = true
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return nil
		}

		prefix := queuePrefix(collection, id)
		var keys [][]byte

		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var change models.PendingChange
			if err := json.Unmarshal(v, &change); err != nil {
				return fmt.Errorf("failed to unmarshal pending change: %w", err)
			}
			if wanted[change.ID] {
				keys = append(keys, append([]byte(nil), k...))
			}
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to remove pending change: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove transaction failed: %w", err)
	}

	return nil
}

// CountPending returns the number of queued changes for a record
func (s *Storage) CountPending(ctx context.Context, collection, id string) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var count int

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return nil
		}

		prefix := queuePrefix(collection, id)
		c := bucket.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}

	return count, nil
}

// CountAllPending returns the number of queued changes across all records
func (s *Storage) CountAllPending(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var count int

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			count++
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}

	return count, nil
}
