// Package resolve decides the outcome of concurrent client and server edits
// to the same record. A Strategy either produces a merged delta covering
// every contested field or flags the conflict for manual review; partial
// resolutions are never produced.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openclerk/recordsync/internal/models"
)

//go:generate go tool moq -out strategy_mock.go . Strategy

// Strategy resolves a single conflict between a client delta and a server
// delta touching the same record.
type Strategy interface {
	// Resolve returns a resolution covering every field present in either
	// input delta, or one flagged RequiresManualReview.
	Resolve(ctx context.Context, c *models.Conflict) (*models.Resolution, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx context.Context, c *models.Conflict) (*models.Resolution, error)

// Resolve implements Strategy.
func (f StrategyFunc) Resolve(ctx context.Context, c *models.Conflict) (*models.Resolution, error) {
	return f(ctx, c)
}

// TimestampWins resolves every contested field in favor of the delta with
// the later timestamp. Equal timestamps fall to the server side.
func TimestampWins() Strategy {
	return StrategyFunc(func(ctx context.Context, c *models.Conflict) (*models.Resolution, error) {
		winner := models.SideServer
		if c.ClientDelta.NewerThan(c.ServerDelta) {
			winner = models.SideClient
		}
		return mergeBySide(c, "timestamp-wins", func(path string) models.Side { return winner })
	})
}

// ClientWins resolves every contested field in favor of the client delta.
// Used for collections where local annotations are authoritative.
func ClientWins() Strategy {
	return StrategyFunc(func(ctx context.Context, c *models.Conflict) (*models.Resolution, error) {
		return mergeBySide(c, "client-wins", func(path string) models.Side { return models.SideClient })
	})
}

// ServerWins resolves every contested field in favor of the server delta.
func ServerWins() Strategy {
	return StrategyFunc(func(ctx context.Context, c *models.Conflict) (*models.Resolution, error) {
		return mergeBySide(c, "server-wins", func(path string) models.Side { return models.SideServer })
	})
}

// MergeFields resolves contested fields by a per-field priority table.
// Fields absent from the table default to timestamp-wins (server on ties).
func MergeFields(priority map[string]models.Side) Strategy {
	return StrategyFunc(func(ctx context.Context, c *models.Conflict) (*models.Resolution, error) {
		tsWinner := models.SideServer
		if c.ClientDelta.NewerThan(c.ServerDelta) {
			tsWinner = models.SideClient
		}
		return mergeBySide(c, "merge-fields", func(path string) models.Side {
			if side, ok := priority[path]; ok {
				return side
			}
			return tsWinner
		})
	})
}

// VetoFunc inspects a conflict before automatic resolution. Returning true
// vetoes the inner strategy and routes the conflict to manual review.
type VetoFunc func(ctx context.Context, c *models.Conflict) (veto bool, err error)

// Custom wraps a strategy with a collection-specific veto.
func Custom(inner Strategy, veto VetoFunc) Strategy {
	return StrategyFunc(func(ctx context.Context, c *models.Conflict) (*models.Resolution, error) {
		vetoed, err := veto(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("custom veto failed: %w", err)
		}
		if vetoed {
			return &models.Resolution{Strategy: "custom", RequiresManualReview: true}, nil
		}
		res, err := inner.Resolve(ctx, c)
		if err != nil {
			return nil, err
		}
		res.Strategy = "custom"
		return res, nil
	})
}

// ManualOnly always routes conflicts to manual review.
func ManualOnly() Strategy {
	return StrategyFunc(func(ctx context.Context, c *models.Conflict) (*models.Resolution, error) {
		return &models.Resolution{Strategy: "manual", RequiresManualReview: true}, nil
	})
}

// mergeBySide is the shared merge core. It walks the union of field paths
// from both deltas and picks, per path, the side chosen by pick. A field
// touched by only one side keeps that side's change regardless of pick: the
// other side did not contradict it, and dropping it would lose a change.
// Whole-record operations (delete, replace) cannot be merged field by
// field; the picked side's delta wins outright, and when the pick differs
// across paths the conflict goes to manual review instead.
func mergeBySide(c *models.Conflict, strategy string, pick func(path string) models.Side) (*models.Resolution, error) {
	if c.ClientDelta == nil || c.ServerDelta == nil {
		return nil, fmt.Errorf("conflict %s is missing a delta", c.ID)
	}

	if wholeRecord(c.ClientDelta) || wholeRecord(c.ServerDelta) {
		return resolveWholeRecord(c, strategy, pick)
	}

	merged := &models.Delta{
		Collection: c.ServerDelta.Collection,
		DocumentID: c.ServerDelta.DocumentID,
		Operation:  models.OpUpdate,
		Source:     models.SourceServer,
		Timestamp:  laterTimestamp(c),
		Cursor:     c.ServerDelta.Cursor,
	}
	decisions := map[string]models.Side{}

	for _, path := range unionPaths(c.ClientDelta, c.ServerDelta) {
		clientCh, clientHas := c.ClientDelta.ChangeFor(path)
		serverCh, serverHas := c.ServerDelta.ChangeFor(path)

		switch {
		case clientHas && !serverHas:
			merged.Changes = append(merged.Changes, clientCh)
			decisions[path] = models.SideClient
		case serverHas && !clientHas:
			merged.Changes = append(merged.Changes, serverCh)
			decisions[path] = models.SideServer
		case pick(path) == models.SideClient:
			merged.Changes = append(merged.Changes, clientCh)
			decisions[path] = models.SideClient
		default:
			merged.Changes = append(merged.Changes, serverCh)
			decisions[path] = models.SideServer
		}
	}

	return &models.Resolution{
		Merged:    merged,
		Decisions: decisions,
		Strategy:  strategy,
	}, nil
}

// resolveWholeRecord handles conflicts where at least one side is a delete
// or replace. The pick for every contested path must agree on a single
// winner; a split pick cannot be expressed against a whole-record operation
// and goes to manual review.
func resolveWholeRecord(c *models.Conflict, strategy string, pick func(path string) models.Side) (*models.Resolution, error) {
	paths := unionPaths(c.ClientDelta, c.ServerDelta)
	if len(paths) == 0 {
		// Both sides deleted; either delta applies identically.
		paths = []string{""}
	}

	winner := pick(paths[0])
	for _, path := range paths[1:] {
		if pick(path) != winner {
			return &models.Resolution{Strategy: strategy, RequiresManualReview: true}, nil
		}
	}

	src := c.ServerDelta
	if winner == models.SideClient {
		src = c.ClientDelta
	}
	merged := src.Clone()
	merged.Cursor = c.ServerDelta.Cursor

	decisions := make(map[string]models.Side, len(paths))
	for _, path := range paths {
		if path != "" {
			decisions[path] = winner
		}
	}
	return &models.Resolution{
		Merged:    merged,
		Decisions: decisions,
		Strategy:  strategy,
	}, nil
}

// unionPaths returns the sorted union of field paths touched by two deltas.
func unionPaths(a, b *models.Delta) []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, d := range []*models.Delta{a, b} {
		for _, p := range d.FieldPaths() {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func wholeRecord(d *models.Delta) bool {
	return d.Operation == models.OpDelete || d.Operation == models.OpReplace
}

func laterTimestamp(c *models.Conflict) time.Time {
	if c.ClientDelta.Timestamp.After(c.ServerDelta.Timestamp) {
		return c.ClientDelta.Timestamp
	}
	return c.ServerDelta.Timestamp
}
