package timer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"almanac/internal/order"
	logx "almanac/pkg/logx"
)

var ErrStopped = errors.New("timer stopped")

// Local delivers alarms inside the current process. Exact alarms use
// time.AfterFunc, repeating alarms run on a cron runner with a fixed-interval
// schedule anchored at the first instant.
type Local struct {
	mu      sync.Mutex
	log     logx.Logger
	sink    func(Fire)
	c       *cron.Cron
	entries map[order.Key]*localEntry
	ver     map[order.Key]uint64
	stopped bool
}

type localEntry struct {
	alarm  Alarm
	at     time.Time
	every  time.Duration
	timer  *time.Timer
	cronID cron.EntryID
}

// Pending describes one armed alarm.
type Pending struct {
	Alarm Alarm
	Next  time.Time
	Every time.Duration
}

func NewLocal(sink func(Fire), log logx.Logger) *Local {
	return &Local{
		log:     log.With(logx.String("comp", "timer")),
		sink:    sink,
		c:       cron.New(cron.WithLocation(time.UTC)),
		entries: map[order.Key]*localEntry{},
		ver:     map[order.Key]uint64{},
	}
}

func (l *Local) Start() {
	l.c.Start()
}

// Stop cancels every pending alarm and waits for running cron jobs.
func (l *Local) Stop(ctx context.Context) {
	l.mu.Lock()
	l.stopped = true
	for k, e := range l.entries {
		l.dropLocked(k, e)
	}
	l.mu.Unlock()

	select {
	case <-l.c.Stop().Done():
	case <-ctx.Done():
	}
}

func (l *Local) ArmExact(ctx context.Context, at time.Time, a Alarm) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}
	k := a.Key
	if old, ok := l.entries[k]; ok {
		l.dropLocked(k, old)
	}
	// bump version to ignore stale callbacks from replaced timers
	ver := l.ver[k] + 1
	l.ver[k] = ver

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	e := &localEntry{alarm: a, at: at}
	e.timer = time.AfterFunc(delay, func() {
		l.mu.Lock()
		cur, ok := l.entries[k]
		if !ok || cur != e || l.ver[k] != ver {
			l.mu.Unlock()
			return
		}
		delete(l.entries, k)
		l.mu.Unlock()

		l.deliver(Fire{Alarm: a, Scheduled: at, Delivered: time.Now().UTC()})
	})
	l.entries[k] = e
	l.log.Debug("alarm armed", logx.Stringer("key", k), logx.Time("at", at))
	return nil
}

func (l *Local) ArmRepeating(ctx context.Context, first time.Time, every time.Duration, a Alarm) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if every <= 0 {
		return errors.Newf("repeating alarm for key %s needs a positive interval", a.Key)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}
	k := a.Key
	if old, ok := l.entries[k]; ok {
		l.dropLocked(k, old)
	}
	sched := repeatSchedule{first: first, every: every}
	e := &localEntry{alarm: a, at: first, every: every}
	e.cronID = l.c.Schedule(sched, cron.FuncJob(func() {
		now := time.Now().UTC()
		l.deliver(Fire{Alarm: a, Scheduled: sched.latest(now), Delivered: now})
	}))
	l.entries[k] = e
	l.log.Debug("repeating alarm armed", logx.Stringer("key", k), logx.Time("first", first), logx.Duration("every", every))
	return nil
}

func (l *Local) Cancel(ctx context.Context, key order.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		l.dropLocked(key, e)
		l.log.Debug("alarm cancelled", logx.Stringer("key", key))
	}
	return nil
}

// Pending lists armed alarms ordered by next delivery.
func (l *Local) Pending() []Pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	out := make([]Pending, 0, len(l.entries))
	for _, e := range l.entries {
		next := e.at
		if e.every > 0 {
			next = repeatSchedule{first: e.at, every: e.every}.Next(now)
		}
		out = append(out, Pending{Alarm: e.alarm, Next: next, Every: e.every})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

func (l *Local) dropLocked(k order.Key, e *localEntry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.cronID != 0 {
		l.c.Remove(e.cronID)
	}
	delete(l.entries, k)
	l.ver[k]++
}

func (l *Local) deliver(f Fire) {
	if l.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("alarm sink panic", logx.Stringer("key", f.Key), logx.Any("panic", r))
		}
	}()
	l.sink(f)
}

// repeatSchedule fires at first and every interval after it.
type repeatSchedule struct {
	first time.Time
	every time.Duration
}

func (s repeatSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	k := t.Sub(s.first)/s.every + 1
	return s.first.Add(k * s.every)
}

// latest is the most recent occurrence not after t.
func (s repeatSchedule) latest(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	k := t.Sub(s.first) / s.every
	return s.first.Add(k * s.every)
}
