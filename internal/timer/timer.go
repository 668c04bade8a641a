// Package timer is the boundary to whatever delivers wake-ups at requested
// instants. The scheduler only ever talks to a Port; Local is the
// in-process implementation used by the daemon.
package timer

import (
	"context"
	"time"

	"almanac/internal/order"
)

// Alarm identifies what a delivery is for.
type Alarm struct {
	Key     order.Key
	OrderID order.ID
	Day     *time.Weekday
}

// Fire is one delivery of an armed alarm.
type Fire struct {
	Alarm
	Scheduled time.Time // the instant the alarm was armed for
	Delivered time.Time // when the timer actually went off
}

// Port arms and cancels alarms. Arming a key that is already armed replaces
// the previous registration. Cancel is idempotent.
//
// Deliveries are never earlier than requested but may be late, and there is
// no ordering guarantee across keys.
type Port interface {
	ArmExact(ctx context.Context, at time.Time, a Alarm) error
	ArmRepeating(ctx context.Context, first time.Time, every time.Duration, a Alarm) error
	Cancel(ctx context.Context, key order.Key) error
}
