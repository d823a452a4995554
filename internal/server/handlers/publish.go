package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openclerk/recordsync/internal/server/middleware"
	"github.com/openclerk/recordsync/internal/server/storage"
	"github.com/openclerk/recordsync/pkg/api"
)

// EventSink receives appended events for live fan-out to connected
// stream clients.
type EventSink interface {
	Broadcast(ev storage.StoredEvent)
}

// PublishHandler handles POST /api/v1/events: the ingestion side of the
// change feed. Records services push their mutations here; the handler
// assigns cursors and fans events out to live streams.
type PublishHandler struct {
	logger *slog.Logger
	log    storage.EventLog
	sink   EventSink
}

// NewPublishHandler creates a new publish handler. sink may be nil when no
// live fan-out is wanted (tests).
func NewPublishHandler(logger *slog.Logger, log storage.EventLog, sink EventSink) *PublishHandler {
	return &PublishHandler{
		logger: logger,
		log:    log,
		sink:   sink,
	}
}

// Publish handles POST /api/v1/events.
func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 {
		http.Error(w, "Bad Request: no events", http.StatusBadRequest)
		return
	}

	cursors := make([]string, 0, len(req.Events))
	for i := range req.Events {
		ev := req.Events[i]
		if err := validateEvent(&ev); err != nil {
			http.Error(w, fmt.Sprintf("Bad Request: event %d: %v", i, err), http.StatusBadRequest)
			return
		}

		// Defaults are assigned before the append so live subscribers see
		// the same event replay readers will.
		if ev.EventID == "" {
			ev.EventID = uuid.NewString()
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}

		seq, err := h.log.AppendEvent(r.Context(), ev)
		if err != nil {
			h.logger.Error("failed to append event",
				"collection", ev.Collection,
				"document_id", ev.DocumentID,
				"error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		ev.Cursor = storage.Cursor(seq)
		cursors = append(cursors, ev.Cursor)
		if h.sink != nil {
			h.sink.Broadcast(storage.StoredEvent{Seq: seq, Event: ev})
		}
	}

	h.logger.Info("events published",
		"count", len(cursors),
		"publisher", middleware.Subject(r.Context()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(api.PublishResponse{Cursors: cursors}); err != nil {
		h.logger.Error("failed to encode publish response", slog.Any("error", err))
	}
}

func validateEvent(ev *api.ChangeEvent) error {
	switch ev.Type {
	case api.EventInsert, api.EventReplace:
		if len(ev.PostImage) == 0 {
			return fmt.Errorf("%s event requires a post image", ev.Type)
		}
	case api.EventUpdate:
		if len(ev.PostImage) == 0 && len(ev.UpdatedFields) == 0 && len(ev.RemovedFields) == 0 {
			return fmt.Errorf("update event carries no changes")
		}
	case api.EventDelete:
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.Collection == "" || ev.DocumentID == "" {
		return fmt.Errorf("collection and document_id are required")
	}
	return nil
}
