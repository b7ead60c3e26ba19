// Package timeutil provides a testable abstraction over the clock used for
// sample timestamps, move timeouts and control-loop pacing.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
//
// Timestamps returned by RealClock.Now carry Go's monotonic reading, so
// differences between them are immune to wall-clock steps. Code that
// differentiates samples must only subtract times obtained from the same
// Clock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker holds a channel that delivers ticks of a clock at intervals.
type Ticker interface {
	// C returns the channel on which the ticks are delivered.
	C() <-chan time.Time

	// Stop turns off a ticker.
	Stop()
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time, including its monotonic reading.
func (RealClock) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// Sleep pauses the current goroutine for at least the duration d.
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// After waits for the duration to elapse and then sends the current time.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewTicker returns a new Ticker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.t.C }
func (t realTicker) Stop()               { t.t.Stop() }

// MockClock is a manually controlled clock for testing. Time only moves when
// Set or Advance is called; channels returned by After and NewTicker fire
// from within those calls.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	waiters []*mockWaiter
}

type mockWaiter struct {
	ch       chan time.Time
	deadline time.Time
	interval time.Duration // zero for one-shot waiters
	stopped  bool
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set moves the clock to t, which may lie in the past. Waiters whose
// deadline has passed fire.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	c.fire()
}

// Advance moves the clock forward by d and fires expired waiters.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.fire()
}

// Sleep records the sleep duration, advances the clock by it, and returns.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// After returns a channel that receives the mocked time once the clock has
// been advanced by d.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	w := c.add(d, 0)
	if d <= 0 {
		c.fire()
	}
	return w.ch
}

// NewTicker creates a ticker that fires each time the clock crosses a
// multiple of d.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	return &mockTicker{clock: c, w: c.add(d, d)}
}

// Waiters returns the number of pending After and ticker channels.
func (c *MockClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *MockClock) add(d, interval time.Duration) *mockWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &mockWaiter{
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
		interval: interval,
	}
	c.waiters = append(c.waiters, w)
	return w
}

func (c *MockClock) fire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})

	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if c.now.Before(w.deadline) {
			kept = append(kept, w)
			continue
		}
		select {
		case w.ch <- c.now:
		default:
		}
		if w.interval > 0 {
			for !c.now.Before(w.deadline) {
				w.deadline = w.deadline.Add(w.interval)
			}
			kept = append(kept, w)
		}
	}
	c.waiters = kept
}

type mockTicker struct {
	clock *MockClock
	w     *mockWaiter
}

func (t *mockTicker) C() <-chan time.Time { return t.w.ch }

func (t *mockTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.w.stopped = true
}
