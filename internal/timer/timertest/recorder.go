// Package timertest provides a recording timer.Port for tests.
package timertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"almanac/internal/order"
	"almanac/internal/timer"
)

// Arm is one armed registration.
type Arm struct {
	Alarm     timer.Alarm
	At        time.Time
	Every     time.Duration
	Repeating bool
}

// Recorder keeps the currently armed registrations in memory and never
// delivers anything. Set ArmErr or CancelErr to make the next calls fail.
type Recorder struct {
	mu        sync.Mutex
	armed     map[order.Key]Arm
	cancels   []order.Key
	arms      int
	ArmErr    error
	CancelErr error
}

var _ timer.Port = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{armed: map[order.Key]Arm{}}
}

func (r *Recorder) ArmExact(_ context.Context, at time.Time, a timer.Alarm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ArmErr != nil {
		return r.ArmErr
	}
	r.arms++
	r.armed[a.Key] = Arm{Alarm: a, At: at}
	return nil
}

func (r *Recorder) ArmRepeating(_ context.Context, first time.Time, every time.Duration, a timer.Alarm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ArmErr != nil {
		return r.ArmErr
	}
	r.arms++
	r.armed[a.Key] = Arm{Alarm: a, At: first, Every: every, Repeating: true}
	return nil
}

func (r *Recorder) Cancel(_ context.Context, key order.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CancelErr != nil {
		return r.CancelErr
	}
	r.cancels = append(r.cancels, key)
	delete(r.armed, key)
	return nil
}

// Armed returns the registration for key.
func (r *Recorder) Armed(key order.Key) (Arm, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.armed[key]
	return a, ok
}

// Keys lists armed keys in ascending order.
func (r *Recorder) Keys() []order.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]order.Key, 0, len(r.armed))
	for k := range r.armed {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// ArmCount is the number of successful arm calls so far.
func (r *Recorder) ArmCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.arms
}

// Cancelled returns every key passed to Cancel, in call order.
func (r *Recorder) Cancelled() []order.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]order.Key(nil), r.cancels...)
}

// Fire builds the delivery the armed registration for key would produce.
func (r *Recorder) Fire(key order.Key, delivered time.Time) (timer.Fire, bool) {
	a, ok := r.Armed(key)
	if !ok {
		return timer.Fire{}, false
	}
	return timer.Fire{Alarm: a.Alarm, Scheduled: a.At, Delivered: delivered}, true
}
