package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/openclerk/recordsync/internal/client/storage"
	"github.com/openclerk/recordsync/internal/models"
)

// AppendChange adds an audit entry to the change log. Record mutations log
// themselves in the same transaction; this entry point is for callers
// outside the store (the orchestrator logging resolver actions).
func (s *Storage) AppendChange(ctx context.Context, entry *models.ChangeLogEntry) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketChangeLog)
		if bucket == nil {
			return fmt.Errorf("changelog bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate changelog sequence: %w", err)
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal changelog entry: %w", err)
		}
		if err := bucket.Put(seqKey(nil, seq), data); err != nil {
			return fmt.Errorf("failed to append changelog entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append change transaction failed: %w", err)
	}

	return nil
}

// RecentChanges returns up to n change-log entries, newest first
func (s *Storage) RecentChanges(ctx context.Context, n int) ([]*models.ChangeLogEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var entries []*models.ChangeLogEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketChangeLog)
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			var entry models.ChangeLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal changelog entry: %w", err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent changes: %w", err)
	}

	return entries, nil
}

// AppendDelta adds a delta to the delta audit log
func (s *Storage) AppendDelta(ctx context.Context, d *models.Delta) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDeltaLog)
		if bucket == nil {
			return fmt.Errorf("deltalog bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate deltalog sequence: %w", err)
		}

		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal delta: %w", err)
		}
		if err := bucket.Put(seqKey(nil, seq), data); err != nil {
			return fmt.Errorf("failed to append delta: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append delta transaction failed: %w", err)
	}

	return nil
}

// RecentDeltas returns up to n deltas, newest first
func (s *Storage) RecentDeltas(ctx context.Context, n int) ([]*models.Delta, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var deltas []*models.Delta

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDeltaLog)
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.Last(); k != nil && len(deltas) < n; k, v = c.Prev() {
			var d models.Delta
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("failed to unmarshal delta: %w", err)
			}
			deltas = append(deltas, &d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent deltas: %w", err)
	}

	return deltas, nil
}
