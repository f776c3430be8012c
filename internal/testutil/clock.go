// Package testutil provides deterministic collaborators for tests: a stepping
// clock, a scripted in-memory remote and a queue wrapper that injects storage
// failures.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a FakeClock.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// FakeClock is a thread-safe clock that advances by a fixed step on every
// call to Now. This keeps capture timestamps and pass summaries identical
// across runs of the same scenario.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFakeClock creates a clock starting at start. The first call to Now
// returns start; each later call returns the previous value plus step.
//
// A zero start means Epoch.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start, step: step}
}

// Now returns the current time and advances the clock by step.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the time the next Now call will return, without advancing.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
