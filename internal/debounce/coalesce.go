// Package debounce provides the rate-limited emission building block shared
// by the dispatcher's progress stream and the editor's autocomplete
// refresh: emit immediately when enough time has passed, otherwise
// schedule exactly one trailing emit at the interval boundary.
package debounce

import (
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between coalesced emits.
const DefaultInterval = 150 * time.Millisecond

// Coalescer rate-limits calls to an emit function. Schedule(false) emits
// at once if at least the interval has passed since the last emit, else
// arms a trailing timer for the boundary. Schedule(true) bypasses
// coalescing for terminal states. The coalescer owns its timer; Cancel
// must be called on resolution.
type Coalescer struct {
	mu       sync.Mutex
	interval time.Duration
	emit     func()
	now      func() time.Time

	lastEmit time.Time
	timer    *time.Timer
	stopped  bool
}

// CoalescerOption configures a Coalescer.
type CoalescerOption func(*Coalescer)

// WithInterval overrides the default 150ms spacing.
func WithInterval(d time.Duration) CoalescerOption {
	return func(c *Coalescer) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock substitutes the wall clock, for deterministic tests.
func WithClock(now func() time.Time) CoalescerOption {
	return func(c *Coalescer) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoalescer builds a coalescer around emit.
func NewCoalescer(emit func(), opts ...CoalescerOption) *Coalescer {
	c := &Coalescer{
		interval: DefaultInterval,
		emit:     emit,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schedule requests an emit. flush bypasses coalescing and fires
// immediately, cancelling any pending trailing emit.
func (c *Coalescer) Schedule(flush bool) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	now := c.now()
	if flush || c.lastEmit.IsZero() || now.Sub(c.lastEmit) >= c.interval {
		c.stopTimerLocked()
		c.lastEmit = now
		c.mu.Unlock()
		c.emit()
		return
	}

	if c.timer != nil {
		// A trailing emit is already armed for the boundary.
		c.mu.Unlock()
		return
	}

	wait := c.interval - now.Sub(c.lastEmit)
	c.timer = time.AfterFunc(wait, c.fireTrailing)
	c.mu.Unlock()
}

func (c *Coalescer) fireTrailing() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.lastEmit = c.now()
	c.mu.Unlock()
	c.emit()
}

// Cancel stops any pending trailing emit and prevents future ones.
func (c *Coalescer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.stopTimerLocked()
}

func (c *Coalescer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
