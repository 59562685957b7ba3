// Package testutil provides deterministic clocks and id generators for
// tests and the scenario harness. Wiring them into an engine via
// engine.WithClock and engine.WithIDGenerator makes execution traces
// byte-identical across runs, which is what golden snapshots require.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe deterministic clock. Each call to Now advances
// the clock by a fixed step, so successive executions get distinct,
// strictly increasing timestamps without touching the real wall clock.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a clock starting at start. Each Now call returns the
// current time and then advances by step. A zero step leaves the clock
// frozen at start.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start, step: step}
}

// NewFrozenClock creates a clock that always returns start.
func NewFrozenClock(start time.Time) *Clock {
	return NewClock(start, 0)
}

// Now returns the current clock value and advances by the configured step.
//
// Thread-safe: uses a mutex to protect the cursor.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Peek returns the value the next Now call will return, without advancing.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to start. After Reset the next Now call returns
// start again, so a scenario can be replayed with identical timestamps.
func (c *Clock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = start
}
