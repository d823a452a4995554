package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/openclerk/recordsync/internal/client/storage"
)

const (
	keyResumeToken  = "resume_token"
	keyLastFullSync = "last_full_sync"
)

// SaveResumeToken persists the committed change-feed resume token
func (s *Storage) SaveResumeToken(ctx context.Context, token string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		if err := bucket.Put([]byte(keyResumeToken), []byte(token)); err != nil {
			return fmt.Errorf("failed to save resume token: %w", err)
		}
		return nil
	})
}

// GetResumeToken retrieves the committed resume token.
// Returns "" if no token has been persisted yet.
func (s *Storage) GetResumeToken(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}

	var token string

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		if data := bucket.Get([]byte(keyResumeToken)); data != nil {
			token = string(data)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get resume token: %w", err)
	}

	return token, nil
}

// SaveLastFullSync persists the time of the last full resync
func (s *Storage) SaveLastFullSync(ctx context.Context, t time.Time) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
		if err := bucket.Put([]byte(keyLastFullSync), buf); err != nil {
			return fmt.Errorf("failed to save last full sync: %w", err)
		}
		return nil
	})
}

// GetLastFullSync retrieves the time of the last full resync.
// Returns the zero time if no full sync has been performed.
func (s *Storage) GetLastFullSync(ctx context.Context) (time.Time, error) {
	if s.db == nil {
		return time.Time{}, storage.ErrStorageClosed
	}

	var t time.Time

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		data := bucket.Get([]byte(keyLastFullSync))
		if data == nil {
			return nil
		}
		t = time.Unix(0, int64(binary.BigEndian.Uint64(data))).UTC()
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last full sync: %w", err)
	}

	return t, nil
}
