package order

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidOrder marks construction errors.
var ErrInvalidOrder = errors.New("invalid work order")

func invalidf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidOrder)
}

// Builder assembles a WorkOrder. Errors are collected and reported by Build.
type Builder struct {
	o   WorkOrder
	err error
}

// New starts a builder for an order dispatched to the handler registered
// under tag.
func New(tag string) *Builder {
	return &Builder{o: WorkOrder{ID: NoID, Tag: tag}}
}

// ID sets a caller supplied id instead of letting the scheduler assign one.
func (b *Builder) ID(id ID) *Builder {
	b.o.ID = id
	return b
}

func (b *Builder) StartAt(t time.Time) *Builder {
	b.o.StartTime = t
	return b
}

func (b *Builder) EndAt(t time.Time) *Builder {
	b.o.EndTime = t
	return b
}

// On adds weekdays; the order becomes a weekly order.
func (b *Builder) On(days ...time.Weekday) *Builder {
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			b.fail(invalidf("invalid weekday %d", int(d)))
			continue
		}
		b.o.Days = b.o.Days.Add(d)
	}
	return b
}

func (b *Builder) Every(d time.Duration) *Builder {
	b.o.Interval = d
	return b
}

// Put stores a payload value. Unsupported value types fail Build.
func (b *Builder) Put(key string, v any) *Builder {
	nv, err := Normalize(v)
	if err != nil {
		b.fail(errors.Wrapf(err, "payload key %q", key))
		return b
	}
	if b.o.Payload == nil {
		b.o.Payload = Payload{}
	}
	b.o.Payload[key] = nv
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates and returns the order. The start time is normalized to a
// fixed zone carrying its own offset.
func (b *Builder) Build() (WorkOrder, error) {
	if b.err != nil {
		return WorkOrder{}, b.err
	}
	o := b.o.WithID(b.o.ID)
	o.StartTime = InFixedZone(o.StartTime)
	if o.HasEnd() {
		o.EndTime = InFixedZone(o.EndTime)
	}
	if err := o.Validate(); err != nil {
		return WorkOrder{}, err
	}
	return o, nil
}

// Validate checks the construction invariants of o.
func (o WorkOrder) Validate() error {
	if strings.TrimSpace(o.Tag) == "" {
		return invalidf("tag required")
	}
	if o.StartTime.IsZero() {
		return invalidf("start time required")
	}
	if o.Interval < 0 {
		return invalidf("negative interval %s", o.Interval)
	}
	if o.HasEnd() {
		_, so := o.StartTime.Zone()
		_, eo := o.EndTime.Zone()
		if so != eo {
			return invalidf("start offset %s differs from end offset %s", offsetString(so), offsetString(eo))
		}
		if !o.StartTime.Before(o.EndTime) {
			return invalidf("start time %s not before end time %s", o.StartTime.Format(time.RFC3339), o.EndTime.Format(time.RFC3339))
		}
	}
	if o.IsWeekly() {
		if o.Interval == 0 {
			return invalidf("weekly order requires an interval")
		}
		if o.Interval%Week != 0 {
			return invalidf("weekly interval %s is not a multiple of a week", o.Interval)
		}
	} else if o.IsPeriodic() && !o.HasEnd() && o.Interval < MinInterval {
		return invalidf("interval %s below minimum %s", o.Interval, MinInterval)
	}
	return nil
}

// InFixedZone re-expresses t in a fixed zone named after its UTC offset.
func InFixedZone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	_, off := t.Zone()
	return t.In(time.FixedZone(offsetString(off), off))
}

func offsetString(off int) string {
	sign := '+'
	if off < 0 {
		sign = '-'
		off = -off
	}
	h := off / 3600
	m := (off % 3600) / 60
	return string(sign) + twoDigits(h) + ":" + twoDigits(m)
}

func twoDigits(n int) string {
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}
