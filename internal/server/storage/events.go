package storage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/openclerk/recordsync/pkg/api"
)

// StoredEvent is one change feed event with its assigned log position.
type StoredEvent struct {
	Seq   int64
	Event api.ChangeEvent
}

// EventLog defines the durable, strictly ordered change feed. Every
// appended event gets a monotonically increasing sequence; appends are
// idempotent on event ID so publishers can safely retry.
type EventLog interface {
	// AppendEvent stores an event and returns its sequence. Re-appending
	// an event ID returns the previously assigned sequence.
	AppendEvent(ctx context.Context, ev api.ChangeEvent) (int64, error)

	// EventsSince returns up to limit events with a sequence strictly
	// greater than afterSeq, oldest first, restricted to the given
	// collections (all collections when empty). The bool reports whether
	// more events remain.
	EventsSince(ctx context.Context, afterSeq int64, collections []string, limit int) ([]StoredEvent, bool, error)

	// OldestSeq returns the lowest sequence still retained, or ErrLogEmpty.
	// Resume positions older than this are stale.
	OldestSeq(ctx context.Context) (int64, error)

	// LatestSeq returns the highest assigned sequence, or ErrLogEmpty.
	LatestSeq(ctx context.Context) (int64, error)

	// Prune removes events older than the cutoff and returns how many
	// were deleted. Clients resuming from pruned positions get a stale
	// cursor signal.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

var cursorPattern = regexp.MustCompile(`^\d{20}$`)

// Cursor renders a sequence as an opaque client cursor. Zero padding keeps
// lexicographic order equal to numeric order.
func Cursor(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

// ParseCursor converts a client cursor back to a sequence.
// Returns ErrBadCursor for anything but a zero-padded decimal.
func ParseCursor(cursor string) (int64, error) {
	if !cursorPattern.MatchString(cursor) {
		return 0, fmt.Errorf("%w: %q", ErrBadCursor, cursor)
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadCursor, cursor)
	}
	return seq, nil
}
