package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclerk/recordsync/internal/server/storage"
	"github.com/openclerk/recordsync/internal/server/storage/sqlite"
	"github.com/openclerk/recordsync/pkg/api"
)

// sinkStub records broadcast events.
type sinkStub struct {
	mu     sync.Mutex
	events []storage.StoredEvent
}

func (s *sinkStub) Broadcast(ev storage.StoredEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkStub) all() []storage.StoredEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.StoredEvent(nil), s.events...)
}

func newPublishHandler(t *testing.T) (*PublishHandler, *sinkStub) {
	t.Helper()

	log, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, log.Close()) })

	sink := &sinkStub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPublishHandler(logger, log, sink), sink
}

func postEvents(t *testing.T, h *PublishHandler, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.Publish(rec, req)
	return rec
}

func TestPublishHandler_AppendsAndBroadcasts(t *testing.T) {
	h, sink := newPublishHandler(t)

	rec := postEvents(t, h, api.PublishRequest{Events: []api.ChangeEvent{
		{
			Type:       api.EventInsert,
			Collection: "permits",
			DocumentID: "p-1",
			PostImage:  json.RawMessage(`{"owner":"registry"}`),
		},
		{
			Type:       api.EventDelete,
			Collection: "permits",
			DocumentID: "p-2",
		},
	}})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.PublishResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Cursors, 2)
	assert.Less(t, resp.Cursors[0], resp.Cursors[1])

	broadcast := sink.all()
	require.Len(t, broadcast, 2)
	assert.Equal(t, resp.Cursors[0], broadcast[0].Event.Cursor)
	assert.Equal(t, "p-1", broadcast[0].Event.DocumentID)
}

func TestPublishHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		ev   api.ChangeEvent
	}{
		{
			name: "insert without post image",
			ev:   api.ChangeEvent{Type: api.EventInsert, Collection: "permits", DocumentID: "p-1"},
		},
		{
			name: "replace without post image",
			ev:   api.ChangeEvent{Type: api.EventReplace, Collection: "permits", DocumentID: "p-1"},
		},
		{
			name: "update without changes",
			ev:   api.ChangeEvent{Type: api.EventUpdate, Collection: "permits", DocumentID: "p-1"},
		},
		{
			name: "unknown type",
			ev:   api.ChangeEvent{Type: "upsert", Collection: "permits", DocumentID: "p-1"},
		},
		{
			name: "missing collection",
			ev:   api.ChangeEvent{Type: api.EventDelete, DocumentID: "p-1"},
		},
		{
			name: "missing document id",
			ev:   api.ChangeEvent{Type: api.EventDelete, Collection: "permits"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sink := newPublishHandler(t)

			rec := postEvents(t, h, api.PublishRequest{Events: []api.ChangeEvent{tt.ev}})

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, sink.all())
		})
	}
}

func TestPublishHandler_RejectsEmptyAndMalformedBodies(t *testing.T) {
	h, _ := newPublishHandler(t)

	rec := postEvents(t, h, api.PublishRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader([]byte("{not json")))
	raw := httptest.NewRecorder()
	h.Publish(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	raw = httptest.NewRecorder()
	h.Publish(raw, req)
	assert.Equal(t, http.StatusMethodNotAllowed, raw.Code)
}

func TestPublishHandler_BroadcastMatchesStoredEvent(t *testing.T) {
	log, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, log.Close()) })

	sink := &sinkStub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewPublishHandler(logger, log, sink)

	rec := postEvents(t, h, api.PublishRequest{Events: []api.ChangeEvent{{
		Type:       api.EventInsert,
		Collection: "permits",
		DocumentID: "p-1",
		PostImage:  json.RawMessage(`{"owner":"registry"}`),
	}}})
	require.Equal(t, http.StatusOK, rec.Code)

	// Defaults are assigned before the append, so live subscribers and
	// replay readers see the same event id and timestamp.
	broadcast := sink.all()
	require.Len(t, broadcast, 1)
	assert.NotEmpty(t, broadcast[0].Event.EventID)
	assert.False(t, broadcast[0].Event.Timestamp.IsZero())

	stored, _, err := log.EventsSince(context.Background(), 0, nil, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0].Event.EventID, broadcast[0].Event.EventID)
	assert.True(t, stored[0].Event.Timestamp.Equal(broadcast[0].Event.Timestamp))
}

func TestPublishHandler_DuplicateEventIDsReturnSameCursor(t *testing.T) {
	h, _ := newPublishHandler(t)

	ev := api.ChangeEvent{
		Type:       api.EventInsert,
		Collection: "permits",
		DocumentID: "p-1",
		EventID:    "publisher-id-1",
		PostImage:  json.RawMessage(`{"owner":"registry"}`),
	}

	first := postEvents(t, h, api.PublishRequest{Events: []api.ChangeEvent{ev}})
	require.Equal(t, http.StatusOK, first.Code)
	second := postEvents(t, h, api.PublishRequest{Events: []api.ChangeEvent{ev}})
	require.Equal(t, http.StatusOK, second.Code)

	var firstResp, secondResp api.PublishResponse
	require.NoError(t, json.NewDecoder(first.Body).Decode(&firstResp))
	require.NoError(t, json.NewDecoder(second.Body).Decode(&secondResp))
	assert.Equal(t, firstResp.Cursors, secondResp.Cursors)
}
