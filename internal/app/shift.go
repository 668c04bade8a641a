package app

import (
	"context"
	"time"

	"almanac/internal/timer"
)

// shiftedPort translates between the scheduler clock, which may run at an
// offset, and the wall clock the underlying timer arms against.
type shiftedPort struct {
	timer.Port
	off time.Duration
}

func shiftPort(p timer.Port, off time.Duration) timer.Port {
	if off == 0 {
		return p
	}
	return shiftedPort{Port: p, off: off}
}

func (s shiftedPort) ArmExact(ctx context.Context, at time.Time, a timer.Alarm) error {
	return s.Port.ArmExact(ctx, at.Add(-s.off), a)
}

func (s shiftedPort) ArmRepeating(ctx context.Context, first time.Time, every time.Duration, a timer.Alarm) error {
	return s.Port.ArmRepeating(ctx, first.Add(-s.off), every, a)
}

// shiftFire maps a wall-clock delivery back onto the scheduler clock.
func shiftFire(f timer.Fire, off time.Duration) timer.Fire {
	if off == 0 {
		return f
	}
	f.Scheduled = f.Scheduled.Add(off)
	f.Delivered = f.Delivered.Add(off)
	return f
}
