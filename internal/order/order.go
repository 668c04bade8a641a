package order

import (
	"strconv"
	"time"
)

// ID identifies a work order. Positive values are real ids.
type ID int64

const (
	// NoID marks an order that has not been assigned an id yet.
	NoID ID = -1
	// DeadID is returned when an order could not be scheduled because it has
	// no remaining occurrence.
	DeadID ID = -2
)

const (
	// Week is the only interval granularity allowed for weekly orders.
	Week = 7 * 24 * time.Hour
	// MinInterval is the smallest interval accepted for an open-ended
	// repeating order without weekdays.
	MinInterval = 15 * time.Minute
)

func (id ID) Valid() bool { return id > 0 }

func (id ID) String() string {
	switch id {
	case NoID:
		return "NO_ID"
	case DeadID:
		return "DEAD_ID"
	}
	return strconv.FormatInt(int64(id), 10)
}

// WorkOrder describes what to run (Tag, Payload) and when (StartTime,
// EndTime, Days, Interval).
//
// A zero EndTime means "no end". A zero Interval means single-shot unless
// Days is set, in which case Interval must be a positive multiple of Week.
type WorkOrder struct {
	ID        ID
	Tag       string
	Payload   Payload
	StartTime time.Time
	EndTime   time.Time
	Days      DaySet
	Interval  time.Duration
}

func (o WorkOrder) IsPeriodic() bool { return o.Interval > 0 }
func (o WorkOrder) HasEnd() bool     { return !o.EndTime.IsZero() }
func (o WorkOrder) IsWeekly() bool   { return !o.Days.Empty() }

// Repeating reports whether the order can be handed to a repeating timer:
// periodic, no weekday context and no end time.
func (o WorkOrder) Repeating() bool {
	return o.IsPeriodic() && !o.IsWeekly() && !o.HasEnd()
}

// WithID returns a copy of o carrying id.
func (o WorkOrder) WithID(id ID) WorkOrder {
	cp := o
	cp.ID = id
	cp.Payload = o.Payload.Clone()
	return cp
}

// Slot is one timer registration an order occupies.
type Slot struct {
	Key Key
	Day *time.Weekday // nil for non-weekly orders
}

// Slots lists the timer registrations of o, one per configured weekday for
// weekly orders and a single one otherwise. Only multi-day weekly orders
// use day-qualified keys.
func (o WorkOrder) Slots() []Slot {
	if !o.IsWeekly() {
		return []Slot{{Key: PlainKey(o.ID)}}
	}
	days := o.Days.Weekdays()
	out := make([]Slot, 0, len(days))
	for _, d := range days {
		d := d
		k := PlainKey(o.ID)
		if len(days) > 1 {
			k = DayKey(o.ID, d)
		}
		out = append(out, Slot{Key: k, Day: &d})
	}
	return out
}

// Keys returns the keys of Slots.
func (o WorkOrder) Keys() []Key {
	slots := o.Slots()
	out := make([]Key, len(slots))
	for i, s := range slots {
		out[i] = s.Key
	}
	return out
}

// Key identifies a single timer registration. Day is the ISO weekday
// (Monday=1 .. Sunday=7) of one slot of a multi-day weekly order and 0 for
// every other order, so plain and day keys never overlap and a key always
// names its owner.
type Key struct {
	ID  ID
	Day int
}

func PlainKey(id ID) Key { return Key{ID: id} }

// DayKey derives the key of one weekday of a multi-day weekly order.
func DayKey(id ID, d time.Weekday) Key { return Key{ID: id, Day: ISOWeekday(d)} }

// String renders "id" for plain keys and "id/day" for day keys.
func (k Key) String() string {
	s := strconv.FormatInt(int64(k.ID), 10)
	if k.Day == 0 {
		return s
	}
	return s + "/" + strconv.Itoa(k.Day)
}

// Less orders keys by id, then day.
func (k Key) Less(o Key) bool {
	if k.ID != o.ID {
		return k.ID < o.ID
	}
	return k.Day < o.Day
}
