package scheduler

import (
	"time"

	"github.com/cockroachdb/errors"

	"almanac/internal/order"
)

// ErrKeyCollision marks an attempt to arm a key already owned by a
// different order, or to schedule two different orders under one id in a
// single batch. It is a caller defect, not a transient failure.
var ErrKeyCollision = errors.New("timer key collision")

// DefaultIDOffset is where auto-assigned ids start.
const DefaultIDOffset int64 = 1_000_000

type registration struct {
	order     order.WorkOrder
	day       *time.Weekday
	next      time.Time
	repeating bool
}

func (r registration) same(o registration) bool {
	return r.order.ID == o.order.ID && r.next.Equal(o.next) && r.repeating == o.repeating &&
		r.order.Interval == o.order.Interval
}

// Armed describes one armed key.
type Armed struct {
	Key       order.Key
	OrderID   order.ID
	Tag       string
	Day       *time.Weekday
	Next      time.Time
	Repeating bool
}
