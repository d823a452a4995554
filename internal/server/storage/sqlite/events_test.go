package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclerk/recordsync/internal/server/storage"
	"github.com/openclerk/recordsync/pkg/api"
)

func createTestLog(t *testing.T) *Storage {
	t.Helper()

	store, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	return store
}

func testEvent(collection, id string) api.ChangeEvent {
	return api.ChangeEvent{
		Type:       api.EventUpdate,
		Collection: collection,
		DocumentID: id,
		Timestamp:  time.Now().UTC(),
	}
}

func TestStorage_AppendEventAssignsSequences(t *testing.T) {
	ctx := context.Background()
	store := createTestLog(t)

	first, err := store.AppendEvent(ctx, testEvent("permits", "p-1"))
	require.NoError(t, err)
	second, err := store.AppendEvent(ctx, testEvent("permits", "p-2"))
	require.NoError(t, err)
	assert.Greater(t, second, first)

	oldest, err := store.OldestSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, oldest)

	latest, err := store.LatestSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, latest)
}

func TestStorage_AppendEventIdempotentOnEventID(t *testing.T) {
	ctx := context.Background()
	store := createTestLog(t)

	ev := testEvent("permits", "p-1")
	ev.EventID = "publisher-assigned-id"

	first, err := store.AppendEvent(ctx, ev)
	require.NoError(t, err)

	// A publisher retry with the same event ID gets the original sequence
	// and stores nothing new.
	again, err := store.AppendEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	events, _, err := store.EventsSince(ctx, 0, nil, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStorage_EventsSincePagination(t *testing.T) {
	ctx := context.Background()
	store := createTestLog(t)

	for i := 0; i < 5; i++ {
		_, err := store.AppendEvent(ctx, testEvent("permits", fmt.Sprintf("p-%d", i)))
		require.NoError(t, err)
	}

	events, hasMore, err := store.EventsSince(ctx, 0, nil, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, hasMore)
	assert.Equal(t, "p-0", events[0].Event.DocumentID)
	// Rendered cursors match the assigned positions.
	assert.Equal(t, storage.Cursor(events[0].Seq), events[0].Event.Cursor)

	events, hasMore, err = store.EventsSince(ctx, events[2].Seq, nil, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.False(t, hasMore)
	assert.Equal(t, "p-3", events[0].Event.DocumentID)
	assert.Equal(t, "p-4", events[1].Event.DocumentID)
}

func TestStorage_EventsSinceFiltersCollections(t *testing.T) {
	ctx := context.Background()
	store := createTestLog(t)

	_, err := store.AppendEvent(ctx, testEvent("permits", "p-1"))
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, testEvent("licenses", "l-1"))
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, testEvent("permits", "p-2"))
	require.NoError(t, err)

	events, _, err := store.EventsSince(ctx, 0, []string{"permits"}, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "permits", ev.Event.Collection)
	}

	events, _, err = store.EventsSince(ctx, 0, []string{"permits", "licenses"}, 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestStorage_EmptyLog(t *testing.T) {
	ctx := context.Background()
	store := createTestLog(t)

	_, err := store.OldestSeq(ctx)
	assert.ErrorIs(t, err, storage.ErrLogEmpty)

	_, err = store.LatestSeq(ctx)
	assert.ErrorIs(t, err, storage.ErrLogEmpty)

	events, hasMore, err := store.EventsSince(ctx, 0, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, hasMore)
}

func TestStorage_Prune(t *testing.T) {
	ctx := context.Background()
	store := createTestLog(t)

	old := testEvent("permits", "p-1")
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	_, err := store.AppendEvent(ctx, old)
	require.NoError(t, err)

	_, err = store.AppendEvent(ctx, testEvent("permits", "p-2"))
	require.NoError(t, err)

	pruned, err := store.Prune(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	// The retained event keeps its original sequence; the gap is what
	// makes stale resume positions detectable.
	oldest, err := store.OldestSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), oldest)
}
