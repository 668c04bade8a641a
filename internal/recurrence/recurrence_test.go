package recurrence

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/order"
)

var plus7 = time.FixedZone("+07:00", 7*3600)

func ms(n int64) time.Time { return time.UnixMilli(n).UTC() }

func TestNextIntervalScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		now      time.Time
		start    time.Time
		end      time.Time
		interval time.Duration
		want     time.Time
		ok       bool
	}{
		{"future one-shot returns start", ms(2000), ms(5000), time.Time{}, 0, ms(5000), true},
		{"past one-shot is dead", ms(2000), ms(1000), time.Time{}, 0, time.Time{}, false},
		{"start equal to now without interval is dead", ms(2000), ms(2000), time.Time{}, 0, time.Time{}, false},
		{"advances whole intervals", ms(2000), ms(1000), time.Time{}, 600 * time.Millisecond, ms(2200), true},
		{"end reached is dead", ms(2000), ms(1000), ms(2100), 600 * time.Millisecond, time.Time{}, false},
		{"end equal to next is dead", ms(2000), ms(1000), ms(2200), 600 * time.Millisecond, time.Time{}, false},
		{"end after next", ms(2000), ms(1000), ms(2201), 600 * time.Millisecond, ms(2200), true},
		{"exact multiple lands on now", ms(2200), ms(1000), time.Time{}, 600 * time.Millisecond, ms(2200), true},
		{"future start beyond end is dead", ms(2000), ms(5000), ms(4000), 0, time.Time{}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextInterval(tt.now, tt.start, tt.end, tt.interval)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextWeekdayTieBreak(t *testing.T) {
	t.Parallel()

	// Thursday 2024-03-07 09:30:00.5 +07:00
	start := time.Date(2024, 1, 4, 9, 30, 0, 500, plus7)
	thursday := time.Date(2024, 3, 7, 9, 30, 0, 500, plus7)

	tests := []struct {
		name string
		now  time.Time
		day  time.Weekday
		want time.Time
	}{
		{"later today", thursday.Add(-time.Hour), time.Thursday, thursday},
		{"one nanosecond before", thursday.Add(-time.Nanosecond), time.Thursday, thursday},
		{"exactly now advances a week", thursday, time.Thursday, thursday.AddDate(0, 0, 7)},
		{"earlier today advances a week", thursday.Add(time.Second), time.Thursday, thursday.AddDate(0, 0, 7)},
		{"tomorrow", thursday, time.Friday, thursday.AddDate(0, 0, 1)},
		{"yesterday wraps", thursday, time.Wednesday, thursday.AddDate(0, 0, 6)},
		{"now in another zone", thursday.Add(-time.Hour).UTC(), time.Thursday, thursday},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NextWeekday(tt.now, start, tt.day)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}

func TestMinimumIntervalGateScenario(t *testing.T) {
	t.Parallel()

	prev := time.Date(2024, 3, 4, 8, 0, 0, 0, plus7) // Monday
	start := time.Date(2024, 2, 5, 8, 0, 0, 0, plus7)
	now := prev.AddDate(0, 0, 6)

	got := NextWeekdayAfter(now, start, time.Monday, prev, 14*24*time.Hour)
	assert.True(t, prev.AddDate(0, 0, 14).Equal(got), "got %v", got)

	// Without the gate the next Monday is only a week away.
	assert.True(t, prev.AddDate(0, 0, 7).Equal(NextWeekday(now, start, time.Monday)))
}

func TestMinimumIntervalGateSameDateEarlierTime(t *testing.T) {
	t.Parallel()

	// The fire arrived late (10:00) for an 08:00 order; prev+interval is a
	// Monday 10:00 so Monday 08:00 of that date is too early.
	prev := time.Date(2024, 3, 4, 10, 0, 0, 0, plus7)
	start := time.Date(2024, 2, 5, 8, 0, 0, 0, plus7)
	got := NextWeekdayAfter(prev.Add(time.Minute), start, time.Monday, prev, order.Week)
	assert.True(t, time.Date(2024, 3, 18, 8, 0, 0, 0, plus7).Equal(got), "got %v", got)
}

func TestWeekdayProperties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	origin := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2000; i++ {
		now := origin.Add(time.Duration(rng.Int63n(int64(4 * 365 * 24 * time.Hour))))
		off := (rng.Intn(27) - 12) * 3600
		start := origin.Add(time.Duration(rng.Int63n(int64(365*24*time.Hour)))).In(time.FixedZone("", off))
		day := time.Weekday(rng.Intn(7))
		interval := time.Duration(1+rng.Intn(4)) * order.Week

		got := NextWeekday(now, start, day)
		require.False(t, got.Before(now), "weekly result %v before now %v", got, now)
		require.Equal(t, day, got.Weekday())
		require.True(t, got.Sub(now) <= order.Week)

		prev := now.Add(-time.Duration(rng.Int63n(int64(interval + order.Week))))
		gated := NextWeekdayAfter(now, start, day, prev, interval)
		require.True(t, gated.Sub(prev) >= interval, "gate violated: prev %v next %v interval %v", prev, gated, interval)
		require.Equal(t, day, gated.In(start.Location()).Weekday())
		require.False(t, gated.Before(now))
	}
}

func TestIntervalProperties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	origin := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2000; i++ {
		start := origin.Add(time.Duration(rng.Int63n(int64(30 * 24 * time.Hour))))
		interval := time.Duration(1+rng.Int63n(int64(48*time.Hour))) + time.Millisecond
		now := start.Add(time.Duration(rng.Int63n(int64(60 * 24 * time.Hour))))
		end := now.Add(time.Duration(rng.Int63n(int64(72 * time.Hour))))

		got, ok := NextInterval(now, start, end, interval)

		// The unique start+k*interval in [now, end), if any.
		k := now.Sub(start) / interval
		if start.Add(k * interval).Before(now) {
			k++
		}
		want := start.Add(k * interval)
		if !want.Before(end) {
			require.False(t, ok, "expected dead: start %v now %v end %v interval %v", start, now, end, interval)
			continue
		}
		require.True(t, ok)
		require.True(t, want.Equal(got))
		require.Zero(t, got.Sub(start)%interval)
		require.False(t, got.Before(now))
		require.True(t, got.Sub(now) < interval)

		again, ok := NextInterval(now, start, end, interval)
		require.True(t, ok)
		require.True(t, got.Equal(again))
	}
}

func TestEngineNextAfterGenericStrictlyLater(t *testing.T) {
	t.Parallel()

	clock := NewManualClock(ms(2200))
	e := New(clock)
	o := order.WorkOrder{ID: 1, StartTime: ms(1000), Interval: 600 * time.Millisecond}

	got, ok := e.Next(o, nil)
	require.True(t, ok)
	assert.True(t, ms(2200).Equal(got))

	got, ok = e.NextAfter(o, nil, ms(2200))
	require.True(t, ok)
	assert.True(t, ms(2800).Equal(got))
}

func TestEngineWeeklyHonorsEnd(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 4, 8, 0, 0, 0, plus7)
	clock := NewManualClock(time.Date(2024, 3, 5, 0, 0, 0, 0, plus7))
	e := New(clock)
	mon := time.Monday
	o := order.WorkOrder{ID: 1, StartTime: start, EndTime: time.Date(2024, 3, 11, 8, 0, 0, 0, plus7), Days: order.Days(mon), Interval: order.Week}

	_, ok := e.Next(o, &mon)
	assert.False(t, ok, "next Monday equals the end time")

	o.EndTime = o.EndTime.Add(time.Second)
	got, ok := e.Next(o, &mon)
	require.True(t, ok)
	assert.True(t, time.Date(2024, 3, 11, 8, 0, 0, 0, plus7).Equal(got))
}

func TestPreview(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 4, 8, 0, 0, 0, plus7)
	e := New(NewManualClock(time.Date(2024, 3, 6, 12, 0, 0, 0, plus7))) // Wednesday
	o := order.WorkOrder{ID: 1, StartTime: start, Days: order.Days(time.Monday, time.Thursday), Interval: order.Week}

	got := e.Preview(o, 4)
	require.Len(t, got, 4)
	want := []time.Time{
		time.Date(2024, 3, 7, 8, 0, 0, 0, plus7),
		time.Date(2024, 3, 11, 8, 0, 0, 0, plus7),
		time.Date(2024, 3, 14, 8, 0, 0, 0, plus7),
		time.Date(2024, 3, 18, 8, 0, 0, 0, plus7),
	}
	for i := range want {
		assert.True(t, want[i].Equal(got[i].At), "occurrence %d: got %v want %v", i, got[i].At, want[i])
	}

	oneShot := order.WorkOrder{ID: 2, StartTime: start.AddDate(0, 1, 0)}
	got = e.Preview(oneShot, 3)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Day)
}
