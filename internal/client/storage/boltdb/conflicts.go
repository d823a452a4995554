package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/openclerk/recordsync/internal/client/storage"
	"github.com/openclerk/recordsync/internal/models"
)

// EnqueueConflict appends a conflict to the record's queue
func (s *Storage) EnqueueConflict(ctx context.Context, c *models.Conflict) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return fmt.Errorf("conflicts bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate conflict sequence: %w", err)
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal conflict: %w", err)
		}

		key := seqKey(queuePrefix(c.Collection, c.DocumentID), seq)
		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to enqueue conflict: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue conflict transaction failed: %w", err)
	}

	return nil
}

// GetConflict retrieves a conflict by ID. The queue is keyed by record, so this is
// a scan; conflict queues stay small (they drain every batch tick).
func (s *Storage) GetConflict(ctx context.Context, id string) (*models.Conflict, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var found *models.Conflict

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return storage.ErrConflictNotFound
		}

		err := bucket.ForEach(func(k, v []byte) error {
			var c models.Conflict
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to unmarshal conflict: %w", err)
			}
			if c.ID == id {
				found = &c
			}
			return nil
		})
		if err != nil {
			return err
		}
		if found == nil {
			return storage.ErrConflictNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}

// ConflictHead returns the oldest unresolved conflict for a record
func (s *Storage) ConflictHead(ctx context.Context, collection, id string) (*models.Conflict, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var head *models.Conflict

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return storage.ErrConflictNotFound
		}

		prefix := queuePrefix(collection, id)
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var conflict models.Conflict
			if err := json.Unmarshal(v, &conflict); err != nil {
				return fmt.Errorf("failed to unmarshal conflict: %w", err)
			}
			if !conflict.Resolved {
				head = &conflict
				return nil
			}
		}
		return storage.ErrConflictNotFound
	})
	if err != nil {
		return nil, err
	}

	return head, nil
}

// UnresolvedHeads returns up to limit conflicts eligible for automatic
// resolution: the oldest unresolved, non-manual conflict of each record,
// oldest first. Conflicts queued behind an unresolved head stay hidden
// until the head resolves.
func (s *Storage) UnresolvedHeads(ctx context.Context, limit int) ([]*models.Conflict, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var heads []*models.Conflict

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return nil
		}

		seen := make(map[string]bool)
		return bucket.ForEach(func(k, v []byte) error {
			var c models.Conflict
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to unmarshal conflict: %w", err)
			}
			recKey := c.Collection + "/" + c.DocumentID
			if seen[recKey] {
				return nil
			}
			if c.Resolved {
				return nil
			}
			// Head of this record's queue. Manual-review heads block the
			// queue but are not eligible for automatic resolution.
			seen[recKey] = true
			if c.ManualReview {
				return nil
			}
			heads = append(heads, &c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect unresolved heads: %w", err)
	}

	// Keys order by record, not age; sort so the batch drains the oldest
	// conflicts first.
	sort.Slice(heads, func(i, j int) bool {
		return heads[i].CreatedAt.Before(heads[j].CreatedAt)
	})
	if len(heads) > limit {
		heads = heads[:limit]
	}
	return heads, nil
}

// ListUnresolved returns every unresolved conflict
func (s *Storage) ListUnresolved(ctx context.Context) ([]*models.Conflict, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var conflicts []*models.Conflict

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var c models.Conflict
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to unmarshal conflict: %w", err)
			}
			if !c.Resolved {
				conflicts = append(conflicts, &c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved conflicts: %w", err)
	}

	return conflicts, nil
}

// MarkResolved records a resolution for a conflict
func (s *Storage) MarkResolved(ctx context.Context, id string, res *models.Resolution) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if bucket == nil {
			return storage.ErrConflictNotFound
		}

		var key []byte
		var conflict *models.Conflict

		err := bucket.ForEach(func(k, v []byte) error {
			if conflict != nil {
				return nil
			}
			var c models.Conflict
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to unmarshal conflict: %w", err)
			}
			if c.ID == id {
				conflict = &c
				key = append([]byte(nil), k...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if conflict == nil {
			return storage.ErrConflictNotFound
		}

		conflict.Resolution = res
		conflict.ManualReview = res.RequiresManualReview
		conflict.Resolved = !res.RequiresManualReview

		data, err := json.Marshal(conflict)
		if err != nil {
			return fmt.Errorf("failed to marshal conflict: %w", err)
		}
		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to save conflict: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return nil
}
