// Package clock wraps the system clock so that a fake clock can be injected
// for tests. Components that reason about session expiry must read time
// through a Clock rather than calling time.Now directly.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time as fractional seconds since the Unix epoch.
type Clock interface {
	Now() float64
}

// System reads the OS wall clock.
type System struct{}

func (System) Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// TestClock is a settable clock for tests.
type TestClock struct {
	mu  sync.Mutex
	now float64
}

// NewTestClock returns a TestClock starting at the given timestamp.
func NewTestClock(start float64) *TestClock {
	return &TestClock{now: start}
}

func (c *TestClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to an absolute timestamp.
func (c *TestClock) Set(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by the given number of seconds.
func (c *TestClock) Advance(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}
