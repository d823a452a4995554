// Package clock provides a hybrid logical clock for stamping local edits.
// Timestamps track wall time but never repeat and never run backwards,
// even across wall clock regressions, so last-write-wins comparisons stay
// stable. Observing server timestamps keeps local edits ordered after the
// changes they were made on top of.
package clock

import (
	"sync"
	"time"
)

// Clock issues strictly increasing timestamps close to wall time.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// New creates a clock backed by the system wall clock.
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewWithNow creates a clock with an injected time source. Used for
// testing.
func NewWithNow(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns a timestamp strictly greater than every timestamp previously
// returned or observed. When the wall clock has not advanced past the last
// issued timestamp, the clock steps forward by one microsecond instead.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	if now.After(c.last) {
		c.last = now
	} else {
		c.last = c.last.Add(time.Microsecond)
	}
	return c.last
}

// Observe advances the clock past a remote timestamp. Subsequent local
// timestamps order after it.
func (c *Clock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.After(c.last) {
		c.last = t
	}
}
