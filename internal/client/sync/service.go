// Package sync coordinates the local store, the delta engine, the conflict
// resolver, and the change stream into the offline-first engine the UI
// talks to. All UI reads and writes go through Service; the engine pushes
// server changes into the store in the background.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openclerk/recordsync/internal/client/storage"
	"github.com/openclerk/recordsync/internal/client/stream"
	"github.com/openclerk/recordsync/internal/clock"
	"github.com/openclerk/recordsync/internal/models"
	"github.com/openclerk/recordsync/internal/resolve"
)

//go:generate go tool moq -out eventsource_mock.go . EventSource

// EventSource abstracts the change stream client so the engine can be
// driven by a fake in tests.
type EventSource interface {
	// Run maintains the stream connection until ctx is cancelled or the
	// reconnect budget is exhausted.
	Run(ctx context.Context) error

	// Events returns the channel of decoded feed events.
	Events() <-chan stream.Event

	// Pause closes the connection and holds off reconnecting.
	Pause()

	// Resume lifts a pause; the next reconnect replays from the committed
	// resume token.
	Resume()
}

// Store bundles the local store facets the engine needs. The boltdb
// implementation satisfies all of them.
type Store interface {
	storage.RecordStorage
	storage.PendingStorage
	storage.ConflictStorage
	storage.DeltaLogStorage
	storage.MetadataStorage
}

// Options holds the engine tunables.
type Options struct {
	// OnResyncRequired, when set, is called after the engine paused the
	// stream because a full resync is needed (stale or regressing resume
	// token). The argument is the collection that triggered it, "" when
	// unknown. The engine stays paused until Resync is called.
	OnResyncRequired func(collection string)

	// BatchInterval is the conflict batch processor tick.
	BatchInterval time.Duration

	// BatchSize caps conflicts resolved per tick.
	BatchSize int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() *Options {
	return &Options{
		BatchInterval: 100 * time.Millisecond,
		BatchSize:     16,
	}
}

// Result counts what the engine has done since start. Snapshot via Stats.
type Result struct {
	AppliedEvents       int // server events applied directly
	MergedEvents        int // server events merged onto dirty records
	AcknowledgedChanges int // pending changes retired by their feed echo
	DetectedConflicts   int
	ResolvedConflicts   int
	ManualReviews       int
	SkippedTicks        int // batch ticks skipped because the previous one ran long
}

// Service is the engine facade the UI collaborators use.
type Service interface {
	// Run drives the engine until ctx is cancelled: consumes stream
	// events and runs the conflict batch processor.
	Run(ctx context.Context) error

	// Read returns the local version of a record, regardless of sync
	// state. Returns storage.ErrRecordNotFound if it does not exist.
	Read(ctx context.Context, collection, id string) (*models.Record, error)

	// Write applies a field patch locally and queues the resulting delta
	// for the server. An absent value in the patch removes the field.
	// Returns the stored record.
	Write(ctx context.Context, collection, id string, patch models.Fields) (*models.Record, error)

	// Delete removes a record locally and queues a delete delta.
	Delete(ctx context.Context, collection, id string) error

	// ListRecords returns all local records of a collection.
	ListRecords(ctx context.Context, collection string) ([]*models.Record, error)

	// PendingCount returns the number of unacknowledged local changes for
	// a record.
	PendingCount(ctx context.Context, collection, id string) (int, error)

	// Subscribe registers a callback invoked after every change to the
	// given record; a nil record means it was deleted. The returned
	// function unsubscribes.
	Subscribe(collection, id string, fn func(*models.Record)) func()

	// ListConflicts returns every unresolved conflict, including those
	// awaiting manual review.
	ListConflicts(ctx context.Context) ([]*models.Conflict, error)

	// ResolveConflict applies a reviewer-chosen delta to a conflict that
	// automatic resolution declined.
	ResolveConflict(ctx context.Context, conflictID string, chosen *models.Delta) error

	// Resync re-seeds a collection from a server snapshot, commits the
	// accompanying cursor, and resumes the stream.
	Resync(ctx context.Context, collection string, records []*models.Record, cursor string) error

	// Stats returns a snapshot of the engine counters.
	Stats() Result
}

type service struct {
	store    Store
	resolver *resolve.Registry
	source   EventSource
	opts     *Options
	logger   *slog.Logger
	clock    *clock.Clock

	notifier  notifier
	batchBusy atomic.Bool

	mu    sync.Mutex
	stats Result
}

// NewService creates the sync engine. A nil opts uses DefaultOptions.
func NewService(store Store, resolver *resolve.Registry, source EventSource, opts *Options, logger *slog.Logger) Service {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = DefaultOptions().BatchInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	return &service{
		store:    store,
		resolver: resolver,
		source:   source,
		opts:     opts,
		logger:   logger,
		clock:    clock.New(),
	}
}

// Run consumes stream events and drives the batch processor until ctx is
// cancelled. A failed event is never skipped: the engine forces the stream
// to reconnect, which replays from the last committed resume token.
func (s *service) Run(ctx context.Context) error {
	sourceErr := make(chan error, 1)
	go func() { sourceErr <- s.source.Run(ctx) }()
	go s.batchLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sourceErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case ev := <-s.source.Events():
			if ev.ResyncRequired {
				s.logger.Warn("full resync required, stream paused")
				if s.opts.OnResyncRequired != nil {
					s.opts.OnResyncRequired("")
				}
				continue
			}
			if ev.Change == nil {
				continue
			}
			if err := s.handleEvent(ctx, ev.Change); err != nil {
				s.logger.Error("event processing failed, forcing replay",
					"collection", ev.Change.Collection,
					"document_id", ev.Change.DocumentID,
					"error", err)
				s.source.Pause()
				s.source.Resume()
				continue
			}
			if err := s.commitCursor(ctx, ev.Change); err != nil {
				if errors.Is(err, ErrCursorRegression) {
					s.logger.Error("cursor regression, pausing for resync",
						"collection", ev.Change.Collection,
						"cursor", ev.Change.Cursor)
					s.source.Pause()
					if s.opts.OnResyncRequired != nil {
						s.opts.OnResyncRequired(ev.Change.Collection)
					}
					continue
				}
				s.logger.Error("failed to commit resume token", "error", err)
			}
		}
	}
}

// Stats returns a snapshot of the engine counters.
func (s *service) Stats() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *service) count(apply func(*Result)) {
	s.mu.Lock()
	apply(&s.stats)
	s.mu.Unlock()
}
