package models

import "time"

// SyncState tags a record's relationship to the last known
// server-acknowledged version.
type SyncState string

const (
	// SyncStateLocal marks a record created locally and never synced.
	SyncStateLocal SyncState = "local"
	// SyncStateDirty marks a record with local edits not yet acknowledged.
	SyncStateDirty SyncState = "dirty"
	// SyncStateSynced marks a record matching the server-acknowledged version.
	SyncStateSynced SyncState = "synced"
)

// Record is a locally stored document identified by (collection, document
// ID), holding an arbitrary field map plus sync metadata. Records are owned
// by the local store: UI collaborators mutate them through local-first
// writes, the sync engine resets them to synced.
type Record struct {
	LastSynced      time.Time `json:"last_synced"`
	Collection      string    `json:"collection"`
	DocumentID      string    `json:"document_id"`
	Fields          Fields    `json:"fields"`
	SyncState       SyncState `json:"sync_state"`
	ConflictVersion int64     `json:"conflict_version"` // incremented on every local mutation
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = r.Fields.Clone()
	return &out
}
