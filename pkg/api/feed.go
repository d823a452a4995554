// Package api defines the wire types of the change feed protocol shared by
// the sync engine and the feed server.
package api

import (
	"encoding/json"
	"time"
)

// Change feed event types. Heartbeats carry no payload; stale cursor tells
// the client its resume position has been pruned and a full resync is
// required.
const (
	EventInsert      = "insert"
	EventUpdate      = "update"
	EventDelete      = "delete"
	EventReplace     = "replace"
	EventHeartbeat   = "heartbeat"
	EventStaleCursor = "stale_cursor"
)

// ChangeEvent is one event on the server change feed. PostImage is the full
// document after the change (insert, replace, and optionally update);
// UpdatedFields and RemovedFields describe update events field by field.
// Cursor is an opaque, ordered position the client may resume from.
type ChangeEvent struct {
	Timestamp     time.Time       `json:"timestamp,omitzero"`
	Type          string          `json:"type"`
	Collection    string          `json:"collection,omitempty"`
	DocumentID    string          `json:"document_id,omitempty"`
	Cursor        string          `json:"cursor,omitempty"`
	EventID       string          `json:"event_id,omitempty"`
	PostImage     json.RawMessage `json:"post_image,omitempty"`
	UpdatedFields json.RawMessage `json:"updated_fields,omitempty"`
	RemovedFields []string        `json:"removed_fields,omitempty"`
}

// Heartbeat returns a heartbeat event.
func Heartbeat() ChangeEvent {
	return ChangeEvent{Type: EventHeartbeat, Timestamp: time.Now().UTC()}
}

// PublishRequest is the body of POST /api/v1/events: one or more events to
// append to the feed. The server assigns cursors; event IDs are kept if
// provided (publisher-side idempotency) and generated otherwise.
type PublishRequest struct {
	Events []ChangeEvent `json:"events"`
}

// PublishResponse reports the assigned positions of published events.
type PublishResponse struct {
	Cursors []string `json:"cursors"`
}
