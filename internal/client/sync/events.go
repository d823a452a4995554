package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openclerk/recordsync/internal/client/storage"
	"github.com/openclerk/recordsync/internal/delta"
	"github.com/openclerk/recordsync/internal/models"
	"github.com/openclerk/recordsync/pkg/api"
)

// ErrCursorRegression is returned when an incoming event carries a cursor
// behind the committed resume token. It means the feed position is no
// longer trustworthy and a full resync is needed.
var ErrCursorRegression = errors.New("sync: event cursor behind committed resume token")

// handleEvent routes one server change event: direct apply when the record
// has no unacknowledged local state, silent merge when local and server
// edits touch disjoint fields, conflict otherwise. The resume token is NOT
// committed here; Run commits it only after this returns nil.
func (s *service) handleEvent(ctx context.Context, ev *api.ChangeEvent) error {
	s.clock.Observe(ev.Timestamp)

	current, err := s.store.GetRecord(ctx, ev.Collection, ev.DocumentID)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return fmt.Errorf("read record: %w", err)
	}

	serverDelta, err := s.buildServerDelta(current, ev)
	if err != nil {
		return err
	}

	pending, err := s.store.ListPending(ctx, ev.Collection, ev.DocumentID)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	queueBlocked := false
	if _, err := s.store.ConflictHead(ctx, ev.Collection, ev.DocumentID); err == nil {
		queueBlocked = true
	} else if !errors.Is(err, storage.ErrConflictNotFound) {
		return fmt.Errorf("check conflict head: %w", err)
	}

	// A feed echo of the head pending change is the server acknowledging
	// it, not a concurrent edit.
	if len(pending) > 0 && !queueBlocked && acknowledges(current, serverDelta, ev, pending[0]) {
		return s.acknowledgeHead(ctx, ev, pending[0], current)
	}

	if serverDelta == nil {
		// Update that changes nothing we do not already have.
		return nil
	}
	if err := s.store.AppendDelta(ctx, serverDelta); err != nil {
		return fmt.Errorf("append delta log: %w", err)
	}

	if len(pending) == 0 && !queueBlocked {
		return s.applyServerDelta(ctx, current, serverDelta)
	}

	clientDelta := combinePending(ev.Collection, ev.DocumentID, pending)

	// Disjoint field sets merge silently: server fields land, local edits
	// stay queued, no conflict is recorded.
	if !queueBlocked && !serverDelta.Overlaps(clientDelta) {
		return s.mergeServerDelta(ctx, current, serverDelta)
	}

	conflict := &models.Conflict{
		CreatedAt:   time.Now().UTC(),
		ID:          uuid.NewString(),
		Collection:  ev.Collection,
		DocumentID:  ev.DocumentID,
		ClientDelta: clientDelta,
		ServerDelta: serverDelta,
		PendingIDs:  pendingIDs(pending),
	}
	if err := s.store.EnqueueConflict(ctx, conflict); err != nil {
		return fmt.Errorf("enqueue conflict: %w", err)
	}
	s.count(func(r *Result) { r.DetectedConflicts++ })
	s.logger.Info("conflict detected",
		"collection", ev.Collection,
		"document_id", ev.DocumentID,
		"conflict_id", conflict.ID,
		"queued_behind_head", queueBlocked)
	return nil
}

// acknowledges reports whether a server event is the feed echo of the head
// pending change: it restates the local state (applying it would change
// nothing) and covers every path the head delta wrote. d is the delta built
// from the event against the current record; nil means the event is a
// no-op locally.
func acknowledges(current *models.Record, d *models.Delta, ev *api.ChangeEvent, head *models.PendingChange) bool {
	if head.Delta == nil {
		return false
	}
	if head.Delta.Operation == models.OpDelete {
		return ev.Type == api.EventDelete && current == nil
	}
	if ev.Type == api.EventDelete {
		return false
	}

	if d != nil {
		for _, ch := range d.Changes {
			if !ch.New.Equal(ch.Old) {
				return false
			}
		}
	}

	// Post-image events restate the whole document, so they cover the head
	// by construction. Field-level updates must touch every path the head
	// delta wrote.
	if ev.Type == api.EventUpdate && len(ev.PostImage) == 0 {
		touched := make(map[string]bool)
		if d != nil {
			for _, ch := range d.Changes {
				touched[ch.Path] = true
			}
		}
		for _, p := range ev.RemovedFields {
			touched[p] = true
		}
		for _, ch := range head.Delta.Changes {
			if !touched[ch.Path] {
				return false
			}
		}
	}
	return true
}

// acknowledgeHead retires the head pending change the server just echoed.
// The record becomes synced only once the queue is empty; later edits still
// await their own echoes.
func (s *service) acknowledgeHead(ctx context.Context, ev *api.ChangeEvent, head *models.PendingChange, current *models.Record) error {
	if err := s.store.RemovePending(ctx, ev.Collection, ev.DocumentID, []string{head.ID}); err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	remaining, err := s.store.CountPending(ctx, ev.Collection, ev.DocumentID)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	s.count(func(r *Result) { r.AcknowledgedChanges++ })
	s.logger.Info("pending change acknowledged",
		"collection", ev.Collection,
		"document_id", ev.DocumentID,
		"change_id", head.ID,
		"remaining", remaining)

	if remaining > 0 || current == nil {
		return nil
	}
	if err := s.store.PutSynced(ctx, current, models.ActorServer); err != nil {
		return fmt.Errorf("put synced: %w", err)
	}
	return nil
}

func pendingIDs(pending []*models.PendingChange) []string {
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	return ids
}

func (s *service) applyServerDelta(ctx context.Context, current *models.Record, d *models.Delta) error {
	next := delta.Apply(current, d)
	if next == nil {
		err := s.store.DeleteRecord(ctx, d.Collection, d.DocumentID, models.ActorServer)
		if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			return fmt.Errorf("delete record: %w", err)
		}
	} else {
		if err := s.store.PutSynced(ctx, next, models.ActorServer); err != nil {
			return fmt.Errorf("put synced: %w", err)
		}
	}
	s.count(func(r *Result) { r.AppliedEvents++ })
	s.notifier.notify(d.Collection, d.DocumentID, next)
	return nil
}

func (s *service) mergeServerDelta(ctx context.Context, current *models.Record, d *models.Delta) error {
	next := delta.Apply(current, d)
	if next == nil {
		err := s.store.DeleteRecord(ctx, d.Collection, d.DocumentID, models.ActorServer)
		if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			return fmt.Errorf("delete record: %w", err)
		}
	} else {
		if err := s.store.PutDirty(ctx, next, models.ActorServer); err != nil {
			return fmt.Errorf("put dirty: %w", err)
		}
	}
	s.count(func(r *Result) { r.MergedEvents++ })
	s.notifier.notify(d.Collection, d.DocumentID, next)
	return nil
}

// buildServerDelta turns a feed event into a delta against the current
// local record. Update events without a post image are reconstructed from
// updated_fields / removed_fields; a nil return means the event is a no-op.
func (s *service) buildServerDelta(current *models.Record, ev *api.ChangeEvent) (*models.Delta, error) {
	opts := delta.CreateOptions{
		Timestamp: ev.Timestamp,
		Cursor:    ev.Cursor,
		Source:    models.SourceServer,
	}

	switch ev.Type {
	case api.EventInsert, api.EventReplace:
		fields, err := models.FieldsFromJSON(ev.PostImage)
		if err != nil {
			return nil, fmt.Errorf("decode post image: %w", err)
		}
		after := &models.Record{
			Collection: ev.Collection,
			DocumentID: ev.DocumentID,
			Fields:     fields,
		}
		opts.Replace = ev.Type == api.EventReplace
		return delta.Create(current, after, opts), nil

	case api.EventDelete:
		if current != nil {
			return delta.Create(current, nil, opts), nil
		}
		// Delete of a record we never had; keep the delta for the audit
		// trail and idempotent replay.
		return &models.Delta{
			Timestamp:  ev.Timestamp,
			Collection: ev.Collection,
			DocumentID: ev.DocumentID,
			Cursor:     ev.Cursor,
			Operation:  models.OpDelete,
			Source:     models.SourceServer,
		}, nil

	case api.EventUpdate:
		if len(ev.PostImage) > 0 {
			fields, err := models.FieldsFromJSON(ev.PostImage)
			if err != nil {
				return nil, fmt.Errorf("decode post image: %w", err)
			}
			after := &models.Record{
				Collection: ev.Collection,
				DocumentID: ev.DocumentID,
				Fields:     fields,
			}
			d := delta.Create(current, after, opts)
			if d == nil || len(d.Changes) == 0 {
				return nil, nil
			}
			return d, nil
		}
		return updateDelta(current, ev)

	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// updateDelta builds a field-by-field delta from updated_fields and
// removed_fields. Old sides come from the current local record so the
// delta log records what was overwritten.
func updateDelta(current *models.Record, ev *api.ChangeEvent) (*models.Delta, error) {
	var updated map[string]any
	if len(ev.UpdatedFields) > 0 {
		if err := json.Unmarshal(ev.UpdatedFields, &updated); err != nil {
			return nil, fmt.Errorf("decode updated fields: %w", err)
		}
	}

	var base models.Fields
	if current != nil {
		base = current.Fields
	}

	paths := make([]string, 0, len(updated))
	for p := range updated {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	changes := make([]models.FieldChange, 0, len(paths)+len(ev.RemovedFields))
	for _, p := range paths {
		v, err := models.ValueFromAny(updated[p])
		if err != nil {
			return nil, fmt.Errorf("decode updated field %q: %w", p, err)
		}
		changes = append(changes, models.FieldChange{
			Path: p,
			Old:  delta.FieldAt(base, p),
			New:  v,
		})
	}
	for _, p := range ev.RemovedFields {
		changes = append(changes, models.FieldChange{
			Path: p,
			Old:  delta.FieldAt(base, p),
			New:  models.Absent(),
		})
	}
	if len(changes) == 0 {
		return nil, nil
	}

	return &models.Delta{
		Timestamp:  ev.Timestamp,
		Collection: ev.Collection,
		DocumentID: ev.DocumentID,
		Cursor:     ev.Cursor,
		Changes:    changes,
		Operation:  models.OpUpdate,
		Source:     models.SourceServer,
	}, nil
}

// combinePending folds a record's pending queue into one client-side delta
// for conflict comparison. An empty queue yields an empty update delta (the
// record is only blocked by an unresolved conflict head).
func combinePending(collection, id string, pending []*models.PendingChange) *models.Delta {
	out := &models.Delta{
		Collection: collection,
		DocumentID: id,
		Operation:  models.OpUpdate,
		Source:     models.SourceClient,
	}
	for _, p := range pending {
		if p.Delta == nil {
			continue
		}
		out.Changes = append(out.Changes, p.Delta.Clone().Changes...)
		if p.Delta.Timestamp.After(out.Timestamp) {
			out.Timestamp = p.Delta.Timestamp
		}
		switch p.Delta.Operation {
		case models.OpDelete:
			out.Operation = models.OpDelete
		case models.OpReplace:
			if out.Operation != models.OpDelete {
				out.Operation = models.OpReplace
			}
		}
	}
	return out
}

// commitCursor persists the resume token for an event that has been fully
// processed. Cursors are zero-padded so lexicographic order matches feed
// order; a cursor behind the committed token is a regression.
func (s *service) commitCursor(ctx context.Context, ev *api.ChangeEvent) error {
	if ev.Cursor == "" {
		return nil
	}
	stored, err := s.store.GetResumeToken(ctx)
	if err != nil {
		return fmt.Errorf("read resume token: %w", err)
	}
	if stored != "" && ev.Cursor < stored {
		return fmt.Errorf("%w: got %s, have %s", ErrCursorRegression, ev.Cursor, stored)
	}
	if err := s.store.SaveResumeToken(ctx, ev.Cursor); err != nil {
		return fmt.Errorf("save resume token: %w", err)
	}
	return nil
}
