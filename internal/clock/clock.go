// Package clock abstracts the time operations used by polling loops so tests
// can drive them deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used by the gate and supervisor.
type Clock interface {
	// Now returns the current time. Real clocks carry a monotonic reading.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Stepping is a fake Clock whose time only moves when Sleep or After is
// called: each call advances the clock by d and returns immediately.
// It suits single-goroutine polling loops. Safe for concurrent use.
type Stepping struct {
	mu      sync.Mutex
	current time.Time
	slept   time.Duration
}

// NewStepping returns a Stepping clock starting at initial.
func NewStepping(initial time.Time) *Stepping {
	return &Stepping{current: initial}
}

// Now returns the current fake time.
func (c *Stepping) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep advances the fake time by d.
func (c *Stepping) Sleep(d time.Duration) {
	c.advance(d)
}

// After advances the fake time by d and returns an already-fired channel.
func (c *Stepping) After(d time.Duration) <-chan time.Time {
	now := c.advance(d)
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the clock forward without counting as a sleep.
func (c *Stepping) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Slept returns the total duration passed to Sleep and After.
func (c *Stepping) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

func (c *Stepping) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.current = c.current.Add(d)
		c.slept += d
	}
	return c.current
}
