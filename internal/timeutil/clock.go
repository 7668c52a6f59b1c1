// Package timeutil provides a testable abstraction over wall-clock time.
//
// The detector stamps trigger intervals with Clock.Now and the lighting
// scheduler waits on Clock.After, so tests can drive both with a MockClock
// instead of sleeping.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the subset of the time package used by the counter.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// MockClock is a manually controlled clock for testing.
//
// Now only changes when Set, Advance or Tick is called. Channels returned by
// After fire once the mock time reaches their deadline.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	step    time.Duration
	waiters []*mockWaiter
}

type mockWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time. If an auto-step is configured the clock
// advances by that step after each call, which gives every reading a distinct,
// strictly increasing timestamp.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	now := c.now
	step := c.step
	c.mu.Unlock()
	if step > 0 {
		c.Advance(step)
	}
	return now
}

// SetAutoStep makes every call to Now advance the clock by d afterwards.
// A zero duration disables auto-stepping.
func (c *MockClock) SetAutoStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}

// Set sets the mock clock to a specific time and fires due waiters.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	c.fire()
}

// Advance moves the mock clock forward by d and fires due waiters.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fire()
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(t)
}

// After returns a channel that receives the mock time once it has advanced by d.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	w := &mockWaiter{deadline: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	c.fire()
	return w.ch
}

// Pending returns the number of After channels that have not fired yet.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *MockClock) fire() {
	c.mu.Lock()
	now := c.now
	var due, rest []*mockWaiter
	for _, w := range c.waiters {
		if !now.Before(w.deadline) {
			due = append(due, w)
		} else {
			rest = append(rest, w)
		}
	}
	c.waiters = rest
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, w := range due {
		w.ch <- now
	}
}
