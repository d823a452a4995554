package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclerk/recordsync/internal/server/storage"
	"github.com/openclerk/recordsync/pkg/api"
)

// AppendEvent stores an event and returns its assigned sequence. Events
// with a known event ID are not stored twice: retrying publishers get the
// original sequence back.
func (s *Storage) AppendEvent(ctx context.Context, ev api.ChangeEvent) (int64, error) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	// The stored payload never carries a cursor: positions are assigned
	// here and rendered at read time.
	ev.Cursor = ""

	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	query := `
		INSERT OR IGNORE INTO events (event_id, event_type, collection, document_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		ev.EventID, ev.Type, ev.Collection, ev.DocumentID, string(payload), ev.Timestamp.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Duplicate publish; return the sequence assigned the first time.
		var seq int64
		err := s.db.QueryRowContext(ctx,
			"SELECT seq FROM events WHERE event_id = ?", ev.EventID).Scan(&seq)
		if err != nil {
			return 0, fmt.Errorf("failed to look up duplicate event: %w", err)
		}
		return seq, nil
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return seq, nil
}

// EventsSince returns up to limit events after the given sequence, oldest
// first, optionally restricted to a set of collections.
func (s *Storage) EventsSince(ctx context.Context, afterSeq int64, collections []string, limit int) ([]storage.StoredEvent, bool, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT seq, payload FROM events WHERE seq > ?"
	args := []any{afterSeq}
	if len(collections) > 0 {
		placeholders := strings.Repeat("?,", len(collections))
		query += " AND collection IN (" + placeholders[:len(placeholders)-1] + ")"
		for _, c := range collections {
			args = append(args, c)
		}
	}
	// One extra row tells us whether more events remain.
	query += " ORDER BY seq ASC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []storage.StoredEvent
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, false, fmt.Errorf("failed to scan event: %w", err)
		}

		var ev api.ChangeEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal event %d: %w", seq, err)
		}
		ev.Cursor = storage.Cursor(seq)
		events = append(events, storage.StoredEvent{Seq: seq, Event: ev})
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate events: %w", err)
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}

// OldestSeq returns the lowest retained sequence.
func (s *Storage) OldestSeq(ctx context.Context) (int64, error) {
	return s.boundSeq(ctx, "SELECT MIN(seq) FROM events")
}

// LatestSeq returns the highest assigned sequence.
func (s *Storage) LatestSeq(ctx context.Context) (int64, error) {
	return s.boundSeq(ctx, "SELECT MAX(seq) FROM events")
}

func (s *Storage) boundSeq(ctx context.Context, query string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, query).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !seq.Valid) {
		return 0, storage.ErrLogEmpty
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query sequence bound: %w", err)
	}
	return seq.Int64, nil
}

// Prune removes events older than the cutoff.
func (s *Storage) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}
