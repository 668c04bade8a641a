package order

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// DaySet is a set of weekdays, bit i set for time.Weekday(i).
type DaySet uint8

// Days builds a set from weekdays.
func Days(days ...time.Weekday) DaySet {
	var s DaySet
	for _, d := range days {
		s = s.Add(d)
	}
	return s
}

func (s DaySet) Add(d time.Weekday) DaySet {
	if d < time.Sunday || d > time.Saturday {
		return s
	}
	return s | 1<<uint(d)
}

func (s DaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }
func (s DaySet) Empty() bool             { return s&0x7f == 0 }

func (s DaySet) Len() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Weekdays returns the days in ISO order, Monday first.
func (s DaySet) Weekdays() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for iso := 1; iso <= 7; iso++ {
		d := WeekdayFromISO(iso)
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// String renders the set as a comma separated list of ISO weekday numbers,
// e.g. "1,3,5". This is also the persisted form.
func (s DaySet) String() string {
	days := s.Weekdays()
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(ISOWeekday(d))
	}
	return strings.Join(parts, ",")
}

var dayNames = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// ParseDaySet parses a list of ISO weekday numbers or English day names
// separated by commas or spaces. An empty string is the empty set.
func ParseDaySet(s string) (DaySet, error) {
	var out DaySet
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if d, ok := dayNames[f]; ok {
			out = out.Add(d)
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > 7 {
			return 0, errors.Mark(errors.Newf("invalid weekday %q", f), ErrInvalidOrder)
		}
		out = out.Add(WeekdayFromISO(n))
	}
	return out, nil
}

// ISOWeekday maps Monday..Sunday to 1..7.
func ISOWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func WeekdayFromISO(n int) time.Weekday {
	return time.Weekday(n % 7)
}
