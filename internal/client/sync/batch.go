package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openclerk/recordsync/internal/client/storage"
	"github.com/openclerk/recordsync/internal/delta"
	"github.com/openclerk/recordsync/internal/models"
)

// batchLoop drives periodic conflict resolution. Ticks are skipped, not
// queued, when the previous batch is still running.
func (s *service) batchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processBatch(ctx)
		}
	}
}

// processBatch resolves up to BatchSize conflict heads. A failed resolution
// is logged and left queued for the next tick; it never blocks the rest of
// the batch.
func (s *service) processBatch(ctx context.Context) {
	if !s.batchBusy.CompareAndSwap(false, true) {
		s.count(func(r *Result) { r.SkippedTicks++ })
		return
	}
	defer s.batchBusy.Store(false)

	heads, err := s.store.UnresolvedHeads(ctx, s.opts.BatchSize)
	if err != nil {
		s.logger.Error("failed to list conflict heads", "error", err)
		return
	}

	for _, c := range heads {
		strategy := s.resolver.For(c.Collection)
		res, err := strategy.Resolve(ctx, c)
		if err != nil {
			s.logger.Warn("conflict resolution failed, will retry",
				"conflict_id", c.ID,
				"collection", c.Collection,
				"error", err)
			continue
		}

		if res.RequiresManualReview {
			if err := s.store.MarkResolved(ctx, c.ID, res); err != nil {
				s.logger.Error("failed to flag conflict for review",
					"conflict_id", c.ID, "error", err)
				continue
			}
			s.count(func(r *Result) { r.ManualReviews++ })
			s.logger.Info("conflict requires manual review",
				"conflict_id", c.ID,
				"collection", c.Collection,
				"document_id", c.DocumentID,
				"strategy", res.Strategy)
			continue
		}

		if err := s.applyResolution(ctx, c, res); err != nil {
			s.logger.Error("failed to apply resolution",
				"conflict_id", c.ID, "error", err)
			continue
		}
		s.count(func(r *Result) { r.ResolvedConflicts++ })
		s.logger.Info("conflict resolved",
			"conflict_id", c.ID,
			"collection", c.Collection,
			"document_id", c.DocumentID,
			"strategy", res.Strategy)
	}
}

// applyResolution writes the merged delta to the store, retires the pending
// changes the conflict snapshotted, and marks the conflict resolved. Edits
// queued after the conflict was detected are not part of the resolution:
// they stay pending and keep the record dirty.
func (s *service) applyResolution(ctx context.Context, c *models.Conflict, res *models.Resolution) error {
	if res.Merged == nil {
		return fmt.Errorf("resolution for conflict %s has no merged delta", c.ID)
	}

	current, err := s.store.GetRecord(ctx, c.Collection, c.DocumentID)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return fmt.Errorf("read record: %w", err)
	}

	// Only the entries folded into the conflict's client delta are
	// superseded by the merged delta.
	if err := s.store.RemovePending(ctx, c.Collection, c.DocumentID, c.PendingIDs); err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	remaining, err := s.store.CountPending(ctx, c.Collection, c.DocumentID)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}

	next := delta.Apply(current, res.Merged)
	switch {
	case next == nil:
		err := s.store.DeleteRecord(ctx, c.Collection, c.DocumentID, models.ActorResolver)
		if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			return fmt.Errorf("delete record: %w", err)
		}
	case remaining > 0:
		if err := s.store.PutDirty(ctx, next, models.ActorResolver); err != nil {
			return fmt.Errorf("put dirty: %w", err)
		}
	default:
		if err := s.store.PutSynced(ctx, next, models.ActorResolver); err != nil {
			return fmt.Errorf("put synced: %w", err)
		}
	}
	if err := s.store.AppendDelta(ctx, res.Merged); err != nil {
		return fmt.Errorf("append delta log: %w", err)
	}

	if err := s.store.MarkResolved(ctx, c.ID, res); err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}

	s.notifier.notify(c.Collection, c.DocumentID, next)
	return nil
}

// ListConflicts returns every unresolved conflict, manual-review included.
func (s *service) ListConflicts(ctx context.Context) ([]*models.Conflict, error) {
	return s.store.ListUnresolved(ctx)
}

// ResolveConflict applies a reviewer-chosen delta to a conflict. Used for
// conflicts automatic resolution declined, but accepted for any unresolved
// conflict.
func (s *service) ResolveConflict(ctx context.Context, conflictID string, chosen *models.Delta) error {
	c, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("load conflict: %w", err)
	}
	if c.Resolved {
		return fmt.Errorf("conflict %s is already resolved", conflictID)
	}
	if chosen == nil {
		return fmt.Errorf("chosen delta is required")
	}

	res := &models.Resolution{
		Merged:   chosen.Clone(),
		Strategy: "manual",
	}
	if err := s.applyResolution(ctx, c, res); err != nil {
		return err
	}
	s.count(func(r *Result) { r.ResolvedConflicts++ })
	return nil
}
