package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/openclerk/recordsync/internal/models"
)

var (
	// BoltDB bucket names
	bucketRecords   = []byte("records")
	bucketPending   = []byte("pending")
	bucketConflicts = []byte("conflicts")
	bucketChangeLog = []byte("changelog")
	bucketDeltaLog  = []byte("deltalog")
	bucketMetadata  = []byte("metadata")
)

// Storage is the BoltDB implementation of the local store. Bolt serializes
// write transactions, which gives every mutating call the per-key atomicity
// the sync engine relies on; readers proceed concurrently.
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance.
// dbPath is the path to the BoltDB database file.
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initBuckets creates the required buckets if they don't exist
func (s *Storage) initBuckets() error {
	buckets := [][]byte{
		bucketRecords,
		bucketPending,
		bucketConflicts,
		bucketChangeLog,
		bucketDeltaLog,
		bucketMetadata,
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// recordKey builds the bucket key for a (collection, document ID) pair.
func recordKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

// queuePrefix builds the key prefix for a record's queue entries.
func queuePrefix(collection, id string) []byte {
	return []byte(collection + "/" + id + "/")
}

// seqKey appends a big-endian sequence number to a prefix so bucket
// iteration order matches insertion order.
func seqKey(prefix []byte, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// appendChangeLog writes an audit entry inside the caller's transaction so
// the mutation and its log line commit atomically.
func appendChangeLog(tx *bbolt.Tx, collection, id string, op models.Operation, actor models.Actor) error {
	bucket := tx.Bucket(bucketChangeLog)
	if bucket == nil {
		return fmt.Errorf("changelog bucket not found")
	}

	seq, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate changelog sequence: %w", err)
	}

	entry := models.ChangeLogEntry{
		ID:         uuid.NewString(),
		Collection: collection,
		DocumentID: id,
		Operation:  op,
		Actor:      actor,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal changelog entry: %w", err)
	}

	if err := bucket.Put(seqKey(nil, seq), data); err != nil {
		return fmt.Errorf("failed to append changelog entry: %w", err)
	}
	return nil
}
