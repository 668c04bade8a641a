package recurrence

import "time"

// NextWeekday returns the first instant strictly after now that falls on day
// at the time-of-day of start, evaluated in start's zone. When today is day
// and that time-of-day has not passed yet, today is used; otherwise the
// result is at least one day and at most seven days away.
func NextWeekday(now, start time.Time, day time.Weekday) time.Time {
	loc := start.Location()
	n := now.In(loc)
	cand := atTimeOfDay(n, start)
	diff := (int(day) - int(n.Weekday()) + 7) % 7
	cand = cand.AddDate(0, 0, diff)
	if !cand.After(n) {
		cand = cand.AddDate(0, 0, 7)
	}
	return cand
}

// NextWeekdayAfter applies the minimum-interval gate on top of NextWeekday.
//
// If less than interval has elapsed between prev and now, the result is the
// first occurrence of day at start's time-of-day that is not before
// prev+interval. Otherwise it is NextWeekday(now, start, day).
func NextWeekdayAfter(now, start time.Time, day time.Weekday, prev time.Time, interval time.Duration) time.Time {
	if interval <= 0 || prev.IsZero() || now.Sub(prev) >= interval {
		return NextWeekday(now, start, day)
	}
	earliest := prev.Add(interval).In(start.Location())
	cand := atTimeOfDay(earliest, start)
	cand = cand.AddDate(0, 0, (int(day)-int(earliest.Weekday())+7)%7)
	if cand.Before(earliest) {
		cand = cand.AddDate(0, 0, 7)
	}
	return cand
}

// NextInterval computes the next instant of a non-weekly order.
//
// A start after now is returned verbatim. Otherwise the order needs an
// interval: the result is start + k*interval for the smallest k with a result
// not before now. ok is false when there is no such instant or when it is at
// or after end (a zero end means no end).
func NextInterval(now, start, end time.Time, interval time.Duration) (time.Time, bool) {
	next := start
	if !start.After(now) {
		if interval <= 0 {
			return time.Time{}, false
		}
		elapsed := now.Sub(start)
		k := elapsed / interval
		if elapsed%interval != 0 {
			k++
		}
		next = start.Add(k * interval)
	}
	if !end.IsZero() && !next.Before(end) {
		return time.Time{}, false
	}
	return next, true
}

func atTimeOfDay(date, tod time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), tod.Second(), tod.Nanosecond(), date.Location())
}
