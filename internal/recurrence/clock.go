package recurrence

import (
	"sync"
	"time"
)

// Clock is the only source of "now" used by the recurrence engine and the
// scheduler.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// System returns the wall clock in UTC.
func System() Clock { return ClockFunc(func() time.Time { return time.Now().UTC() }) }

// Offset shifts c by d. A zero offset returns c unchanged.
func Offset(c Clock, d time.Duration) Clock {
	if d == 0 {
		return c
	}
	return ClockFunc(func() time.Time { return c.Now().Add(d) })
}

// ManualClock is a settable clock for tests and previews.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(t time.Time) *ManualClock { return &ManualClock{now: t} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
