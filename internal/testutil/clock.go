package testutil

import (
	"sync"
	"time"
)

// DeterministicClock provides a thread-safe time source for tests.
//
// Each call to Now returns the current instant and advances the clock by a
// fixed step, so repeated runs of the same scenario produce byte-identical
// timestamps in event logs and golden snapshots.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu      sync.Mutex
	start   time.Time
	current time.Time
	step    time.Duration
}

// NewDeterministicClock creates a clock starting at start and advancing by
// step on every Now call.
//
// A zero step freezes the clock: every Now returns start.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{start: start, current: start, step: step}
}

// Now returns the current instant and advances the clock by one step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// Current returns the next instant Now would return, without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d without emitting an instant.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Reset rewinds the clock to its start instant.
//
// Used for test reuse. After Reset(), Now() returns the start instant again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.start
}
