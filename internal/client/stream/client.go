// Package stream maintains the long-lived, resumable connection to the
// server change feed: resume-token attachment on connect, heartbeat
// watchdog while connected, and exponential backoff across reconnects.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclerk/recordsync/internal/client/storage"
	"github.com/openclerk/recordsync/pkg/api"
)

// ErrMaxAttempts is returned by Run when the reconnect budget is exhausted.
// The engine surfaces it to the caller instead of retrying forever.
var ErrMaxAttempts = errors.New("stream: reconnect attempts exhausted")

// State is the connection state of the stream client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Settings holds the stream client tunables.
type Settings struct {
	// OnStateChange, when set, is called on every state transition.
	OnStateChange func(State)

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the server's announced heartbeat period. The
	// watchdog treats silence longer than twice this as a dead connection.
	HeartbeatInterval time.Duration

	// BaseDelay is the first reconnect delay; attempt n waits
	// BaseDelay << (n-1).
	BaseDelay time.Duration

	// MaxAttempts caps consecutive failed connection attempts.
	MaxAttempts int
}

// DefaultSettings returns the production defaults.
func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout:  5 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		BaseDelay:         500 * time.Millisecond,
		MaxAttempts:       8,
	}
}

// Event is one item on the client's outbound channel: either a change feed
// event or a resync-required signal after the server rejected the resume
// token as stale.
type Event struct {
	Change         *api.ChangeEvent
	ResyncRequired bool
}

// Client consumes the server change feed. The zero value is not usable;
// construct with New and drive with Run.
type Client struct {
	metadata   storage.MetadataStorage
	settings   *Settings
	logger     *slog.Logger
	events     chan Event
	serverURL  string
	authToken  string
	collection []string

	mu            sync.Mutex
	conn          *websocket.Conn
	resumeCh      chan struct{} // non-nil while paused; closed on Resume
	state         State
	lastHeartbeat time.Time
}

// New creates a stream client. collections is the server-side allow-list
// filter; metadata supplies the persisted resume token on every connect.
func New(serverURL, authToken string, collections []string, metadata storage.MetadataStorage, settings *Settings, logger *slog.Logger) *Client {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Client{
		serverURL:  serverURL,
		authToken:  authToken,
		collection: collections,
		metadata:   metadata,
		settings:   settings,
		logger:     logger,
		events:     make(chan Event, 16),
		state:      StateDisconnected,
	}
}

// Events returns the channel of inbound feed events and control signals.
func (c *Client) Events() <-chan Event { return c.events }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastHeartbeat returns the time any event was last received.
func (c *Client) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Pause closes the connection and suspends reconnection without losing the
// resume token. Safe to call from any goroutine; takes effect immediately.
func (c *Client) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeCh == nil {
		c.resumeCh = make(chan struct{})
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Resume restarts consumption from the last persisted resume token.
func (c *Client) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
}

// Run drives the connection state machine until the context is canceled or
// the reconnect budget is exhausted. It is the only goroutine that touches
// the websocket read side.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := c.waitResumed(ctx); err != nil {
			return err
		}

		c.setState(StateConnecting)
		conn, err := c.connect(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			if attempt >= c.settings.MaxAttempts {
				c.logger.Error("stream connection failed permanently",
					"attempts", attempt, "error", err)
				return fmt.Errorf("%w: %v", ErrMaxAttempts, err)
			}
			delay := c.settings.BaseDelay << uint(attempt-1)
			c.logger.Warn("stream connect failed, backing off",
				"attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.setConn(conn)

		// A Pause issued while the dial was in flight had no connection to
		// close; honor it before reading anything.
		if c.isPaused() {
			c.setConn(nil)
			conn.Close()
			c.setState(StateDisconnected)
			continue
		}

		c.setState(StateConnected)
		c.logger.Info("stream connected", "url", c.serverURL)

		readErr := c.readLoop(ctx, conn)

		c.setConn(nil)
		conn.Close()
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.isPaused() {
			continue
		}
		c.logger.Warn("stream disconnected", "error", readErr)
	}
}

// connect dials the feed with the persisted resume token and the
// collections filter attached to the request.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.metadata.GetResumeToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load resume token: %w", err)
	}

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	q := u.Query()
	if token != "" {
		q.Set("cursor", token)
	}
	if len(c.collection) > 0 {
		q.Set("collections", strings.Join(c.collection, ","))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: c.settings.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return conn, nil
}

// readLoop reads events until the connection dies or the watchdog fires.
// The read deadline doubles as the watchdog: if nothing (heartbeats
// included) arrives within 2 × HeartbeatInterval the read fails and the
// connection is treated as dead.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(2 * c.settings.HeartbeatInterval)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		var ev api.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed event: transport-level failure, reconnect and
			// replay from the committed token rather than skip it.
			return fmt.Errorf("malformed event: %w", err)
		}

		c.touchHeartbeat()

		switch ev.Type {
		case api.EventHeartbeat:
			continue
		case api.EventStaleCursor:
			c.logger.Warn("server rejected resume token as stale",
				"collection", ev.Collection)
			// Pause before signaling so a resync can re-seed the store and
			// Resume explicitly; auto-resuming from an arbitrary point
			// would silently lose events.
			c.Pause()
			if err := c.emit(ctx, Event{ResyncRequired: true}); err != nil {
				return err
			}
			return nil
		default:
			if err := c.emit(ctx, Event{Change: &ev}); err != nil {
				return err
			}
		}
	}
}

func (c *Client) emit(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) waitResumed(ctx context.Context) error {
	c.mu.Lock()
	ch := c.resumeCh
	c.mu.Unlock()
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (c *Client) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeCh != nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) touchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.settings.OnStateChange != nil {
		c.settings.OnStateChange(s)
	}
}
