package models

import (
	"sort"
	"time"
)

// Operation classifies the record transition a delta describes.
type Operation string

const (
	OpInsert  Operation = "insert"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpReplace Operation = "replace"
)

// Source identifies which side of the sync boundary produced a delta.
type Source string

const (
	SourceClient Source = "client"
	SourceServer Source = "server"
)

// FieldChange records a single field transition inside a delta. Path is a
// dot-separated field path; absence on either side is the absent Value
// variant (the field did not exist / was removed).
type FieldChange struct {
	Path string `json:"path"`
	Old  Value  `json:"old"`
	New  Value  `json:"new"`
}

// Delta is an immutable, structured representation of the difference
// between two versions of a record. For inserts the before image is absent,
// for deletes the after image is absent. Cursor carries the change-stream
// position of the originating server event, empty for client deltas.
type Delta struct {
	Timestamp  time.Time     `json:"timestamp"`
	Collection string        `json:"collection"`
	DocumentID string        `json:"document_id"`
	Cursor     string        `json:"cursor,omitempty"`
	Changes    []FieldChange `json:"changes"`
	Operation  Operation     `json:"operation"`
	Source     Source        `json:"source"`
}

// NewerThan compares two deltas for last-write-wins ordering:
// later timestamp wins, equal timestamps fall to the server side so both
// replicas converge on the authoritative writer.
func (d *Delta) NewerThan(other *Delta) bool {
	if d.Timestamp.After(other.Timestamp) {
		return true
	}
	if d.Timestamp.Before(other.Timestamp) {
		return false
	}
	return d.Source == SourceServer && other.Source != SourceServer
}

// FieldPaths returns the distinct field paths touched by the delta, sorted.
func (d *Delta) FieldPaths() []string {
	seen := make(map[string]struct{}, len(d.Changes))
	paths := make([]string, 0, len(d.Changes))
	for _, ch := range d.Changes {
		if _, ok := seen[ch.Path]; ok {
			continue
		}
		seen[ch.Path] = struct{}{}
		paths = append(paths, ch.Path)
	}
	sort.Strings(paths)
	return paths
}

// ChangeFor returns the last change entry for the given path; within a
// delta the last writer for a duplicate path wins.
func (d *Delta) ChangeFor(path string) (FieldChange, bool) {
	for i := len(d.Changes) - 1; i >= 0; i-- {
		if d.Changes[i].Path == path {
			return d.Changes[i], true
		}
	}
	return FieldChange{}, false
}

// Overlaps reports whether two deltas touch at least one common field path,
// or either one is a whole-record operation (delete or replace).
func (d *Delta) Overlaps(other *Delta) bool {
	if d.Operation == OpDelete || d.Operation == OpReplace ||
		other.Operation == OpDelete || other.Operation == OpReplace {
		return true
	}
	paths := make(map[string]struct{}, len(d.Changes))
	for _, ch := range d.Changes {
		paths[ch.Path] = struct{}{}
	}
	for _, ch := range other.Changes {
		if _, ok := paths[ch.Path]; ok {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the delta.
func (d *Delta) Clone() *Delta {
	if d == nil {
		return nil
	}
	out := *d
	out.Changes = make([]FieldChange, len(d.Changes))
	for i, ch := range d.Changes {
		out.Changes[i] = FieldChange{Path: ch.Path, Old: ch.Old.Clone(), New: ch.New.Clone()}
	}
	return &out
}
