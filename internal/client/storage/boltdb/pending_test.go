package boltdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclerk/recordsync/internal/models"
)

func testPendingChange(collection, id, path string) *models.PendingChange {
	return &models.PendingChange{
		ID:         uuid.NewString(),
		Collection: collection,
		DocumentID: id,
		QueuedAt:   time.Now().UTC(),
		Delta: &models.Delta{
			Collection: collection,
			DocumentID: id,
			Operation:  models.OpUpdate,
			Source:     models.SourceClient,
			Timestamp:  time.Now().UTC(),
			Changes: []models.FieldChange{
				{Path: path, Old: models.Absent(), New: models.String("v")},
			},
		},
	}
}

func TestStorage_PendingQueueFIFO(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	var ids []string
	for i := 0; i < 5; i++ {
		change := testPendingChange("permits", "p-1", fmt.Sprintf("field_%d", i))
		ids = append(ids, change.ID)
		require.NoError(t, store.EnqueuePending(ctx, change))
	}

	changes, err := store.ListPending(ctx, "permits", "p-1")
	require.NoError(t, err)
	require.Len(t, changes, 5)
	for i, change := range changes {
		assert.Equal(t, ids[i], change.ID)
	}
}

func TestStorage_PendingQueuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	require.NoError(t, store.EnqueuePending(ctx, testPendingChange("permits", "p-1", "a")))
	require.NoError(t, store.EnqueuePending(ctx, testPendingChange("permits", "p-2", "b")))
	require.NoError(t, store.EnqueuePending(ctx, testPendingChange("licenses", "p-1", "c")))

	changes, err := store.ListPending(ctx, "permits", "p-1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "a", changes[0].Delta.Changes[0].Path)

	count, err := store.CountPending(ctx, "permits", "p-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	total, err := store.CountAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestStorage_RemovePending(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	first := testPendingChange("permits", "p-1", "a")
	second := testPendingChange("permits", "p-1", "b")
	third := testPendingChange("permits", "p-1", "c")
	require.NoError(t, store.EnqueuePending(ctx, first))
	require.NoError(t, store.EnqueuePending(ctx, second))
	require.NoError(t, store.EnqueuePending(ctx, third))

	// Unknown IDs are ignored; only the named entry goes.
	require.NoError(t, store.RemovePending(ctx, "permits", "p-1", []string{second.ID, uuid.NewString()}))

	changes, err := store.ListPending(ctx, "permits", "p-1")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, first.ID, changes[0].ID)
	assert.Equal(t, third.ID, changes[1].ID)

	// An empty ID list removes nothing.
	require.NoError(t, store.RemovePending(ctx, "permits", "p-1", nil))
	count, err := store.CountPending(ctx, "permits", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStorage_DrainPending(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	require.NoError(t, store.EnqueuePending(ctx, testPendingChange("permits", "p-1", "a")))
	require.NoError(t, store.EnqueuePending(ctx, testPendingChange("permits", "p-1", "b")))
	require.NoError(t, store.EnqueuePending(ctx, testPendingChange("permits", "p-2", "c")))

	drained, err := store.DrainPending(ctx, "permits", "p-1")
	require.NoError(t, err)
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].Delta.Changes[0].Path)
	assert.Equal(t, "b", drained[1].Delta.Changes[0].Path)

	count, err := store.CountPending(ctx, "permits", "p-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	// The other record's queue is untouched.
	count, err = store.CountPending(ctx, "permits", "p-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Draining an empty queue is not an error.
	drained, err = store.DrainPending(ctx, "permits", "p-1")
	require.NoError(t, err)
	assert.Empty(t, drained)
}
