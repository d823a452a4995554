package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclerk/recordsync/internal/server/jwt"
	"github.com/openclerk/recordsync/internal/server/middleware"
	"github.com/openclerk/recordsync/internal/server/storage"
	"github.com/openclerk/recordsync/pkg/api"
)

const (
	replayPage   = 200
	writeTimeout = 10 * time.Second
)

// StreamHandler serves GET /api/v1/stream: authenticates, upgrades to a
// websocket, replays events after the client's cursor, then tails the hub
// with periodic heartbeats.
type StreamHandler struct {
	logger    *slog.Logger
	log       storage.EventLog
	hub       *Hub
	tokens    *jwt.Service
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// NewStreamHandler creates a stream handler. heartbeat is the interval
// announced to clients; their watchdogs assume roughly twice this.
func NewStreamHandler(logger *slog.Logger, log storage.EventLog, hub *Hub, tokens *jwt.Service, heartbeat time.Duration) *StreamHandler {
	return &StreamHandler{
		logger:    logger,
		log:       log,
		hub:       hub,
		tokens:    tokens,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Stream handles one feed connection.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	subject, err := middleware.Authenticate(h.tokens, r)
	if err != nil {
		h.logger.Warn("stream rejected", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var collections []string
	if raw := r.URL.Query().Get("collections"); raw != "" {
		collections = strings.Split(raw, ",")
	}

	afterSeq, stale, err := h.resumePosition(r.Context(), r.URL.Query().Get("cursor"))
	if err != nil {
		if errors.Is(err, storage.ErrBadCursor) {
			http.Error(w, "Bad Request: malformed cursor", http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to resolve resume position", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if stale {
		// The client's position was pruned from the log; it must do a
		// full resync before streaming again.
		h.logger.Info("stale cursor, resync required", "subject", subject)
		_ = writeEvent(conn, api.ChangeEvent{
			Type:      api.EventStaleCursor,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	h.logger.Info("stream connected",
		"subject", subject,
		"collections", collections,
		"after_seq", afterSeq)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side only detects client close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	// Subscribe before replaying so nothing published in between is lost;
	// duplicates are filtered by sequence below.
	sub := h.hub.subscribe(collections)
	defer h.hub.drop(sub)

	lastSent := afterSeq
	for {
		events, hasMore, err := h.log.EventsSince(ctx, lastSent, collections, replayPage)
		if err != nil {
			h.logger.Error("replay failed", "subject", subject, "error", err)
			return
		}
		for _, ev := range events {
			if err := writeEvent(conn, ev.Event); err != nil {
				return
			}
			lastSent = ev.Seq
		}
		if !hasMore {
			break
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := writeEvent(conn, api.Heartbeat()); err != nil {
				return
			}

		case ev, ok := <-sub.send:
			if !ok {
				// Dropped by the hub as a slow consumer.
				return
			}
			if ev.Seq <= lastSent {
				continue
			}
			if err := writeEvent(conn, ev.Event); err != nil {
				return
			}
			lastSent = ev.Seq
		}
	}
}

// resumePosition maps the cursor query parameter to a starting sequence.
// No cursor means live-only: start after the latest event. A cursor older
// than the oldest retained event is stale.
func (h *StreamHandler) resumePosition(ctx context.Context, cursor string) (afterSeq int64, stale bool, err error) {
	if cursor == "" {
		latest, err := h.log.LatestSeq(ctx)
		if errors.Is(err, storage.ErrLogEmpty) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		return latest, false, nil
	}

	afterSeq, err = storage.ParseCursor(cursor)
	if err != nil {
		return 0, false, err
	}

	oldest, err := h.log.OldestSeq(ctx)
	if errors.Is(err, storage.ErrLogEmpty) {
		return afterSeq, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	// afterSeq+1 is the first event the client expects; anything below
	// oldest has been pruned.
	if afterSeq+1 < oldest {
		return afterSeq, true, nil
	}
	return afterSeq, false, nil
}

func writeEvent(conn *websocket.Conn, ev api.ChangeEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
