package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclerk/recordsync/internal/server/jwt"
	"github.com/openclerk/recordsync/internal/server/storage"
	"github.com/openclerk/recordsync/internal/server/storage/sqlite"
	"github.com/openclerk/recordsync/pkg/api"
)

type feedFixture struct {
	log    *sqlite.Storage
	hub    *Hub
	tokens *jwt.Service
	url    string
}

func newFeedFixture(t *testing.T, heartbeat time.Duration) *feedFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	log, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, log.Close()) })

	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	tokens := jwt.NewService("test-secret", time.Hour)
	handler := NewStreamHandler(logger, log, hub, tokens, heartbeat)

	srv := httptest.NewServer(http.HandlerFunc(handler.Stream))
	t.Cleanup(srv.Close)

	return &feedFixture{
		log:    log,
		hub:    hub,
		tokens: tokens,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *feedFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	token, err := f.tokens.Issue("clerk-workstation-1")
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.Dial(f.url+query, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads one non-heartbeat event with a deadline.
func readEvent(t *testing.T, conn *websocket.Conn) api.ChangeEvent {
	t.Helper()

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev api.ChangeEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == api.EventHeartbeat {
			continue
		}
		return ev
	}
}

func appendTestEvent(t *testing.T, log *sqlite.Storage, collection, id string, ts time.Time) int64 {
	t.Helper()

	seq, err := log.AppendEvent(context.Background(), api.ChangeEvent{
		Type:          api.EventUpdate,
		Collection:    collection,
		DocumentID:    id,
		UpdatedFields: json.RawMessage(`{"status":"approved"}`),
		Timestamp:     ts,
	})
	require.NoError(t, err)
	return seq
}

func TestStreamHandler_RejectsUnauthenticated(t *testing.T) {
	f := newFeedFixture(t, time.Minute)

	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamHandler_RejectsMalformedCursor(t *testing.T) {
	f := newFeedFixture(t, time.Minute)

	token, err := f.tokens.Issue("device-1")
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	_, resp, err := websocket.DefaultDialer.Dial(f.url+"?cursor=not-a-cursor", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamHandler_ReplaysFromCursor(t *testing.T) {
	f := newFeedFixture(t, time.Minute)

	now := time.Now().UTC()
	first := appendTestEvent(t, f.log, "permits", "p-1", now)
	appendTestEvent(t, f.log, "permits", "p-2", now)
	appendTestEvent(t, f.log, "permits", "p-3", now)

	conn := f.dial(t, "?cursor="+storage.Cursor(first))

	ev := readEvent(t, conn)
	assert.Equal(t, "p-2", ev.DocumentID)
	ev = readEvent(t, conn)
	assert.Equal(t, "p-3", ev.DocumentID)
	// Replayed events carry their log positions as cursors.
	assert.Equal(t, storage.Cursor(first+2), ev.Cursor)
}

func TestStreamHandler_LiveEventsAfterReplay(t *testing.T) {
	f := newFeedFixture(t, time.Minute)

	now := time.Now().UTC()
	appendTestEvent(t, f.log, "permits", "p-1", now)

	// No cursor: live-only from the latest position.
	conn := f.dial(t, "")

	// Give the handler a moment to subscribe before broadcasting.
	time.Sleep(50 * time.Millisecond)

	seq := appendTestEvent(t, f.log, "permits", "p-2", time.Now().UTC())
	f.hub.Broadcast(storage.StoredEvent{
		Seq: seq,
		Event: api.ChangeEvent{
			Type:       api.EventUpdate,
			Collection: "permits",
			DocumentID: "p-2",
			Cursor:     storage.Cursor(seq),
		},
	})

	ev := readEvent(t, conn)
	assert.Equal(t, "p-2", ev.DocumentID)
	assert.Equal(t, storage.Cursor(seq), ev.Cursor)
}

func TestStreamHandler_FiltersCollections(t *testing.T) {
	f := newFeedFixture(t, time.Minute)

	now := time.Now().UTC()
	first := appendTestEvent(t, f.log, "permits", "p-1", now)
	appendTestEvent(t, f.log, "licenses", "l-1", now)
	appendTestEvent(t, f.log, "permits", "p-2", now)

	conn := f.dial(t, "?cursor="+storage.Cursor(first)+"&collections=permits")

	ev := readEvent(t, conn)
	assert.Equal(t, "p-2", ev.DocumentID)
}

func TestStreamHandler_StaleCursorSignalsResync(t *testing.T) {
	f := newFeedFixture(t, time.Minute)

	old := time.Now().UTC().Add(-48 * time.Hour)
	first := appendTestEvent(t, f.log, "permits", "p-1", old)
	appendTestEvent(t, f.log, "permits", "p-2", old)
	appendTestEvent(t, f.log, "permits", "p-3", time.Now().UTC())

	pruned, err := f.log.Prune(context.Background(), time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), pruned)

	// The client resumes from a position that has been pruned away.
	conn := f.dial(t, "?cursor="+storage.Cursor(first))

	ev := readEvent(t, conn)
	assert.Equal(t, api.EventStaleCursor, ev.Type)

	// The server closes after signaling; no events follow.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestStreamHandler_Heartbeats(t *testing.T) {
	f := newFeedFixture(t, 20*time.Millisecond)

	conn := f.dial(t, "")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev api.ChangeEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, api.EventHeartbeat, ev.Type)
}
