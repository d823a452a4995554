// Package feed serves the live change feed over websockets: replay from a
// resume cursor, then live tail with heartbeats.
package feed

import (
	"context"
	"log/slog"

	"github.com/openclerk/recordsync/internal/server/storage"
)

// subscriber is one connected stream client. A nil collections set means
// all collections.
type subscriber struct {
	send        chan storage.StoredEvent
	collections map[string]struct{}
}

func (s *subscriber) wants(collection string) bool {
	if len(s.collections) == 0 {
		return true
	}
	_, ok := s.collections[collection]
	return ok
}

// Hub fans published events out to connected subscribers. All subscriber
// set mutations go through the Run loop, so no locking is needed.
type Hub struct {
	logger      *slog.Logger
	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan storage.StoredEvent
	subscribers map[*subscriber]struct{}
}

// NewHub creates a hub. Start it with Run before subscribing.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan storage.StoredEvent, 64),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Run dispatches events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for sub := range h.subscribers {
				close(sub.send)
			}
			h.subscribers = make(map[*subscriber]struct{})
			return

		case sub := <-h.register:
			h.subscribers[sub] = struct{}{}
			h.logger.Debug("stream subscriber registered", "total", len(h.subscribers))

		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			h.logger.Debug("stream subscriber unregistered", "total", len(h.subscribers))

		case ev := <-h.broadcast:
			for sub := range h.subscribers {
				if !sub.wants(ev.Event.Collection) {
					continue
				}
				select {
				case sub.send <- ev:
				default:
					// Slow consumer. Dropping it is safe: the client
					// reconnects and replays from its resume cursor.
					delete(h.subscribers, sub)
					close(sub.send)
					h.logger.Warn("dropped slow stream subscriber")
				}
			}
		}
	}
}

// Broadcast hands a stored event to the hub for fan-out. Implements the
// publish handler's sink.
func (h *Hub) Broadcast(ev storage.StoredEvent) {
	h.broadcast <- ev
}

func (h *Hub) subscribe(collections []string) *subscriber {
	sub := &subscriber{
		send: make(chan storage.StoredEvent, 32),
	}
	if len(collections) > 0 {
		sub.collections = make(map[string]struct{}, len(collections))
		for _, c := range collections {
			sub.collections[c] = struct{}{}
		}
	}
	h.register <- sub
	return sub
}

func (h *Hub) drop(sub *subscriber) {
	h.unregister <- sub
}
