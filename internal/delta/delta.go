// Package delta computes and applies structural differences between record
// versions. Both operations are pure: inputs are never mutated and no code
// path panics over the closed value variant set.
package delta

import (
	"sort"
	"strings"
	"time"

	"github.com/openclerk/recordsync/internal/models"
)

// CreateOptions tunes delta creation. Timestamp and Cursor are carried into
// the delta metadata unchanged.
type CreateOptions struct {
	Timestamp time.Time
	Cursor    string
	Source    models.Source
	// Replace tags the delta as a whole-record replacement instead of an
	// update when both images are present.
	Replace bool
}

// Create computes the structural difference between two versions of a
// record. A nil before image yields an insert, a nil after image a delete,
// otherwise an update (or replace, per options). One change entry is
// emitted per field whose value differs structurally; nested maps are
// diffed per field with dot-separated paths, arrays and scalars as whole
// values. Field order is deterministic (sorted paths).
func Create(before, after *models.Record, opts CreateOptions) *models.Delta {
	d := &models.Delta{
		Timestamp: opts.Timestamp,
		Cursor:    opts.Cursor,
		Source:    opts.Source,
		Operation: models.OpUpdate,
	}

	switch {
	case before == nil && after == nil:
		// No-op transition. An empty update keeps the function total.
		return d
	case before == nil:
		d.Operation = models.OpInsert
		d.Collection = after.Collection
		d.DocumentID = after.DocumentID
		d.Changes = diffFields(nil, after.Fields)
		return d
	case after == nil:
		d.Operation = models.OpDelete
		d.Collection = before.Collection
		d.DocumentID = before.DocumentID
		d.Changes = diffFields(before.Fields, nil)
		return d
	default:
		if opts.Replace {
			d.Operation = models.OpReplace
		}
		d.Collection = after.Collection
		d.DocumentID = after.DocumentID
		d.Changes = diffFields(before.Fields, after.Fields)
		return d
	}
}

// Apply applies a delta to a base record and returns the resulting version.
// Delete deltas return nil. Changes apply in list order; the last writer
// within the delta wins for duplicate paths. A change whose new value is
// absent removes the field. Apply only reads the new side of each change,
// which makes re-applying the same delta idempotent.
func Apply(rec *models.Record, d *models.Delta) *models.Record {
	if d.Operation == models.OpDelete {
		return nil
	}

	out := &models.Record{
		Collection: d.Collection,
		DocumentID: d.DocumentID,
		Fields:     models.Fields{},
	}
	if rec != nil {
		out.Fields = rec.Fields.Clone()
		out.SyncState = rec.SyncState
		out.LastSynced = rec.LastSynced
		out.ConflictVersion = rec.ConflictVersion
	}

	for _, ch := range d.Changes {
		SetField(out.Fields, ch.Path, ch.New)
	}
	return out
}

// Invert reverses a delta: old and new values swap, the change list order
// reverses so sequential last-writer semantics invert, and insert and
// delete swap operations. Invert(Invert(d)) is equivalent to d up to change
// ordering.
func Invert(d *models.Delta) *models.Delta {
	out := d.Clone()
	switch d.Operation {
	case models.OpInsert:
		out.Operation = models.OpDelete
	case models.OpDelete:
		out.Operation = models.OpInsert
	}
	n := len(out.Changes)
	inv := make([]models.FieldChange, n)
	for i, ch := range out.Changes {
		inv[n-1-i] = models.FieldChange{Path: ch.Path, Old: ch.New, New: ch.Old}
	}
	out.Changes = inv
	return out
}

// diffFields walks both field maps and emits one change per differing path.
func diffFields(before, after models.Fields) []models.FieldChange {
	var changes []models.FieldChange
	for _, key := range unionKeys(before, after) {
		diffValue(&changes, key, fieldOrAbsent(before, key), fieldOrAbsent(after, key))
	}
	return changes
}

// diffValue recurses into map pairs so nested edits produce dotted paths;
// every other differing pair is a whole-value change.
func diffValue(changes *[]models.FieldChange, path string, old, new models.Value) {
	if old.Equal(new) {
		return
	}
	om, oldIsMap := old.AsMap()
	nm, newIsMap := new.AsMap()
	if oldIsMap && newIsMap {
		for _, key := range unionMapKeys(om, nm) {
			diffValue(changes, path+"."+key, mapOrAbsent(om, key), mapOrAbsent(nm, key))
		}
		return
	}
	*changes = append(*changes, models.FieldChange{Path: path, Old: old.Clone(), New: new.Clone()})
}

// SetField writes a value at a dot-separated path, creating intermediate
// maps as needed. An absent value removes the leaf; removing through a
// missing intermediate is a no-op.
func SetField(fields models.Fields, path string, v models.Value) {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		if v.IsAbsent() {
			delete(fields, path)
		} else {
			fields[path] = v.Clone()
		}
		return
	}

	cur := fields
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		m, isMap := next.AsMap()
		if !ok || !isMap {
			if v.IsAbsent() {
				return
			}
			m = map[string]models.Value{}
			cur[part] = models.Map(m)
		}
		cur = m
	}

	leaf := parts[len(parts)-1]
	if v.IsAbsent() {
		delete(cur, leaf)
	} else {
		cur[leaf] = v.Clone()
	}
}

// FieldAt returns the value at a dot-separated path, absent when the path
// does not exist.
func FieldAt(fields models.Fields, path string) models.Value {
	parts := strings.Split(path, ".")
	cur := fieldOrAbsent(fields, parts[0])
	for _, part := range parts[1:] {
		m, ok := cur.AsMap()
		if !ok {
			return models.Absent()
		}
		cur = mapOrAbsent(m, part)
	}
	return cur
}

func fieldOrAbsent(f models.Fields, key string) models.Value {
	if f == nil {
		return models.Absent()
	}
	if v, ok := f[key]; ok {
		return v
	}
	return models.Absent()
}

func mapOrAbsent(m map[string]models.Value, key string) models.Value {
	if v, ok := m[key]; ok {
		return v
	}
	return models.Absent()
}

func unionKeys(a, b models.Fields) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionMapKeys(a, b map[string]models.Value) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
