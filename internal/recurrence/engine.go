package recurrence

import (
	"sort"
	"time"

	"almanac/internal/order"
)

// Engine evaluates orders against a clock.
type Engine struct {
	clock Clock
}

func New(clock Clock) *Engine {
	if clock == nil {
		clock = System()
	}
	return &Engine{clock: clock}
}

func (e *Engine) Now() time.Time { return e.clock.Now() }

// Next returns the next occurrence of o for the slot identified by day
// (nil for non-weekly orders). ok is false when the slot is dead.
func (e *Engine) Next(o order.WorkOrder, day *time.Weekday) (time.Time, bool) {
	return nextAt(e.clock.Now(), o, day, time.Time{})
}

// NextAfter is Next for a slot that previously fired at prev. Weekly slots
// are held to the minimum-interval gate. Other orders are computed as if now
// were strictly after prev so a delivery that arrives early or exactly on
// time cannot return the instant that just fired.
func (e *Engine) NextAfter(o order.WorkOrder, day *time.Weekday, prev time.Time) (time.Time, bool) {
	now := e.clock.Now()
	if day == nil && !prev.IsZero() && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return nextAt(now, o, day, prev)
}

// Occurrence is one previewed fire instant.
type Occurrence struct {
	At  time.Time
	Day *time.Weekday
}

// Preview lists up to n upcoming occurrences of o across all its slots in
// chronological order.
func (e *Engine) Preview(o order.WorkOrder, n int) []Occurrence {
	if n <= 0 {
		return nil
	}
	now := e.clock.Now()
	var out []Occurrence
	for _, slot := range o.Slots() {
		t, ok := nextAt(now, o, slot.Day, time.Time{})
		for i := 0; ok && i < n; i++ {
			out = append(out, Occurrence{At: t, Day: slot.Day})
			if !o.IsPeriodic() {
				break
			}
			if slot.Day != nil {
				t, ok = nextAt(t, o, slot.Day, t)
			} else {
				t, ok = nextAt(t.Add(time.Nanosecond), o, nil, time.Time{})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func nextAt(now time.Time, o order.WorkOrder, day *time.Weekday, prev time.Time) (time.Time, bool) {
	if day == nil {
		return NextInterval(now, o.StartTime, o.EndTime, o.Interval)
	}
	var t time.Time
	if prev.IsZero() {
		t = NextWeekday(now, o.StartTime, *day)
	} else {
		t = NextWeekdayAfter(now, o.StartTime, *day, prev, o.Interval)
	}
	if o.HasEnd() && !t.Before(o.EndTime) {
		return time.Time{}, false
	}
	return t, true
}
