package models

import "time"

// Actor identifies who performed a mutation, for the change audit log.
type Actor string

const (
	ActorClient   Actor = "client"
	ActorServer   Actor = "server"
	ActorResolver Actor = "resolver"
)

// PendingChange is a local mutation not yet acknowledged by the server.
// It is retained until superseded by a conflict resolution or until the
// corresponding server acknowledgment arrives.
type PendingChange struct {
	QueuedAt   time.Time `json:"queued_at"`
	ID         string    `json:"id"` // UUID
	Collection string    `json:"collection"`
	DocumentID string    `json:"document_id"`
	Delta      *Delta    `json:"delta"`
}

// Side attributes a resolved field to one side of a conflict.
type Side string

const (
	SideClient Side = "client"
	SideServer Side = "server"
	SideMerged Side = "merged"
)

// Resolution is the outcome of conflict resolution: either a merged delta
// ready to apply, or a manual-review flag. Decisions records, per field
// path, which side's value survived; every field present in either input
// delta must appear here unless the conflict went to manual review.
type Resolution struct {
	Merged               *Delta          `json:"merged,omitempty"`
	Decisions            map[string]Side `json:"decisions,omitempty"`
	Strategy             string          `json:"strategy"`
	RequiresManualReview bool            `json:"requires_manual_review"`
}

// Conflict pairs a client delta and a server delta that touch the same
// record concurrently. Resolution stays nil until the resolver (or a human
// reviewer) decides. ManualReview marks a conflict the resolver declined to
// decide automatically; it stays unresolved until a reviewer picks a delta.
//
// PendingIDs records which pending changes were folded into ClientDelta
// when the conflict was detected. Resolution supersedes exactly those
// entries; edits queued after detection stay pending.
type Conflict struct {
	CreatedAt    time.Time   `json:"created_at"`
	ID           string      `json:"id"` // UUID
	Collection   string      `json:"collection"`
	DocumentID   string      `json:"document_id"`
	ClientDelta  *Delta      `json:"client_delta"`
	ServerDelta  *Delta      `json:"server_delta"`
	PendingIDs   []string    `json:"pending_ids,omitempty"`
	Resolution   *Resolution `json:"resolution,omitempty"`
	Resolved     bool        `json:"resolved"`
	ManualReview bool        `json:"manual_review"`
}

// ChangeLogEntry is an append-only audit record of a single mutation to the
// local store. Entries are never mutated; pruning is an external retention
// concern.
type ChangeLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	ID         string    `json:"id"` // UUID
	Collection string    `json:"collection"`
	DocumentID string    `json:"document_id"`
	Operation  Operation `json:"operation"`
	Actor      Actor     `json:"actor"`
}
