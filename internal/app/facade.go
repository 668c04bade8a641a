package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"almanac/internal/dispatch"
	"almanac/internal/eventbus"
	"almanac/internal/order"
	"almanac/internal/recurrence"
	"almanac/internal/storage"
	"almanac/internal/task/scheduler"
	"almanac/internal/timer"
	"almanac/internal/wake"
	logx "almanac/pkg/logx"
)

// ErrNotInitialized is returned by scheduling calls made before Start.
var ErrNotInitialized = errors.New("scheduler not initialized")

// FacadeDeps are the collaborators of a Facade.
type FacadeDeps struct {
	Clock      recurrence.Clock
	Scheduler  *scheduler.Service
	Dispatcher *dispatch.Dispatcher
	Writer     *storage.Writer
	Wake       wake.Locker
	MaxHold    time.Duration
	Bus        eventbus.Bus
	Log        logx.Logger
}

// Facade sequences the orchestrator with persistence and dispatch. Every
// scheduling call arms timers first and then persists, so storage latency
// never delays arming.
type Facade struct {
	log     logx.Logger
	bus     eventbus.Bus
	clock   recurrence.Clock
	sched   *scheduler.Service
	disp    *dispatch.Dispatcher
	writer  *storage.Writer
	wake    wake.Locker
	maxHold time.Duration

	startMu sync.Mutex
	started atomic.Bool

	warn *rate.Limiter
}

func NewFacade(d FacadeDeps) *Facade {
	if d.Clock == nil {
		d.Clock = recurrence.System()
	}
	if d.Wake == nil {
		d.Wake = wake.Nop{}
	}
	if d.MaxHold <= 0 {
		d.MaxHold = wake.DefaultMaxHold
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Facade{
		log:     d.Log.With(logx.String("comp", "facade")),
		bus:     d.Bus,
		clock:   d.Clock,
		sched:   d.Scheduler,
		disp:    d.Dispatcher,
		writer:  d.Writer,
		wake:    d.Wake,
		maxHold: d.MaxHold,
		warn:    rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
}

// Register binds a handler to tag. Handlers may be registered before or
// after Start; fires for an unregistered tag are recorded as NO_HANDLER.
func (f *Facade) Register(tag string, h dispatch.Handler) error {
	return f.disp.Registry().Register(tag, h)
}

// Start recovers every persisted order and opens the facade for scheduling.
// Orders that are dead are deleted. Orders that fail to re-arm are logged
// and left in storage so the next start retries them.
func (f *Facade) Start(ctx context.Context) error {
	f.startMu.Lock()
	defer f.startMu.Unlock()
	if f.started.Load() {
		return nil
	}

	if err := f.writer.Barrier(ctx); err != nil {
		return errors.Wrap(err, "storage barrier")
	}
	orders, err := f.writer.Store().List(ctx)
	if err != nil {
		return errors.Wrap(err, "list persisted orders")
	}
	dead, rerr := f.sched.Recover(ctx, orders)
	if rerr != nil {
		f.log.Warn("some orders could not be re-armed", logx.Err(rerr))
	}
	if len(dead) > 0 {
		if err := f.writer.Do(ctx, "recover.delete_dead", func(ctx context.Context, st storage.Store) error {
			return st.DeleteAll(ctx, dead)
		}); err != nil {
			return errors.Wrap(err, "delete dead orders")
		}
	}
	f.started.Store(true)
	f.log.Info("scheduler started", logx.Int("orders", len(orders)), logx.Int("dead", len(dead)))
	return nil
}

// Stop closes the facade. Armed timers and persisted orders are left as
// they are; the caller stops the timer.
func (f *Facade) Stop() {
	f.startMu.Lock()
	f.started.Store(false)
	f.startMu.Unlock()
}

func (f *Facade) Started() bool { return f.started.Load() }

func (f *Facade) ready() error {
	if !f.started.Load() {
		return ErrNotInitialized
	}
	return nil
}

// Schedule validates, arms and persists o. It returns the assigned id or
// order.DeadID, in which case any previously persisted copy is deleted.
func (f *Facade) Schedule(ctx context.Context, o order.WorkOrder) (order.ID, error) {
	if err := f.ready(); err != nil {
		return order.DeadID, err
	}
	if err := o.Validate(); err != nil {
		return order.DeadID, err
	}

	prev, armed := f.armedVersion(o.ID)
	id, err := f.sched.Schedule(ctx, o)
	if err != nil {
		// a failed arm releases every key of the id, including prev's
		f.rollback(ctx, o, prev, armed)
		return order.DeadID, err
	}
	if id == order.DeadID {
		if o.ID.Valid() {
			if err := f.writer.Do(ctx, "schedule.delete_dead", deleteOrder(o.ID)); err != nil {
				return order.DeadID, errors.Wrapf(err, "delete dead order %d", o.ID)
			}
		}
		return order.DeadID, nil
	}

	o = o.WithID(id)
	if err := f.writer.Do(ctx, "schedule.save", func(ctx context.Context, st storage.Store) error {
		return st.Save(ctx, o)
	}); err != nil {
		f.rollback(ctx, o, prev, armed)
		return order.DeadID, errors.Wrapf(err, "save order %d", id)
	}
	f.log.Debug("order scheduled", logx.Int64("id", int64(id)), logx.String("tag", o.Tag))
	return id, nil
}

// ScheduleAll schedules every order and persists the live ones in a single
// SaveAll. Dead orders that already had an id are deleted. The returned ids
// follow the input order. Two orders sharing an id fail the batch with
// scheduler.ErrKeyCollision before anything is armed. Any later failure
// restores what this call replaced.
func (f *Facade) ScheduleAll(ctx context.Context, orders []order.WorkOrder) ([]order.ID, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	seen := make(map[order.ID]int, len(orders))
	for i, o := range orders {
		if err := o.Validate(); err != nil {
			return nil, errors.Wrapf(err, "order %d", i)
		}
		if !o.ID.Valid() {
			continue
		}
		if j, dup := seen[o.ID]; dup {
			return nil, errors.Mark(
				errors.AssertionFailedf("orders %d and %d share id %d", j, i, int64(o.ID)),
				scheduler.ErrKeyCollision,
			)
		}
		seen[o.ID] = i
	}

	type replaced struct {
		o     order.WorkOrder
		prev  order.WorkOrder
		armed bool
	}
	ids := make([]order.ID, len(orders))
	var (
		live []order.WorkOrder
		dead []order.ID
		undo []replaced
	)
	restore := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			f.rollback(ctx, undo[i].o, undo[i].prev, undo[i].armed)
		}
	}
	for i, o := range orders {
		prev, armed := f.armedVersion(o.ID)
		id, err := f.sched.Schedule(ctx, o)
		if err != nil {
			undo = append(undo, replaced{o: o, prev: prev, armed: armed})
			restore()
			return nil, errors.Wrapf(err, "order %d", i)
		}
		ids[i] = id
		if id == order.DeadID {
			undo = append(undo, replaced{o: o, prev: prev, armed: armed})
			if o.ID.Valid() {
				dead = append(dead, o.ID)
			}
			continue
		}
		o = o.WithID(id)
		undo = append(undo, replaced{o: o, prev: prev, armed: armed})
		live = append(live, o)
	}

	if err := f.writer.Do(ctx, "schedule_all", func(ctx context.Context, st storage.Store) error {
		if err := st.SaveAll(ctx, live); err != nil {
			return err
		}
		if len(dead) == 0 {
			return nil
		}
		return st.DeleteAll(ctx, dead)
	}); err != nil {
		restore()
		return nil, errors.Wrap(err, "persist orders")
	}
	f.log.Debug("orders scheduled", logx.Int("live", len(live)), logx.Int("dead", len(dead)))
	return ids, nil
}

// Unschedule cancels every timer of id and deletes the order. Unknown ids
// are not an error.
func (f *Facade) Unschedule(ctx context.Context, id order.ID) error {
	if err := f.ready(); err != nil {
		return err
	}
	o, found, err := f.find(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		o = order.WorkOrder{ID: id}
	}
	if err := f.sched.Unschedule(ctx, o); err != nil {
		return errors.Wrapf(err, "unschedule order %d", id)
	}
	if !found {
		return nil
	}
	return errors.Wrapf(f.writer.Do(ctx, "unschedule.delete", deleteOrder(id)), "delete order %d", id)
}

// UnscheduleAll cancels and deletes every persisted order.
func (f *Facade) UnscheduleAll(ctx context.Context) error {
	if err := f.ready(); err != nil {
		return err
	}
	orders, err := f.Orders(ctx)
	if err != nil {
		return err
	}
	var errs error
	ids := make([]order.ID, 0, len(orders))
	for _, o := range orders {
		if err := f.sched.Unschedule(ctx, o); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "unschedule order %d", o.ID))
			continue
		}
		ids = append(ids, o.ID)
	}
	if len(ids) > 0 {
		if err := f.writer.Do(ctx, "unschedule_all", func(ctx context.Context, st storage.Store) error {
			return st.DeleteAll(ctx, ids)
		}); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "delete orders"))
		}
	}
	return errs
}

// Deliver handles one timer delivery: it re-arms or purges the order and
// then hands it to its handler. Outcomes are recorded as order events and
// never returned; it is the timer's sink.
//
// Deliveries that arrive while the facade is stopped are dropped; the order
// stays persisted and is re-armed by the next Start.
func (f *Facade) Deliver(ctx context.Context, fire timer.Fire) {
	delivered := f.clock.Now()
	if !f.started.Load() {
		f.log.Debug("delivery while stopped dropped", logx.Stringer("key", fire.Key))
		return
	}
	release, err := f.wake.Acquire(ctx, "order "+fire.OrderID.String(), f.maxHold)
	if err != nil {
		f.warnf("wake hold unavailable", logx.Err(err))
		release = func() {}
	}

	ev := order.Event{
		WorkID:        fire.OrderID,
		ScheduledTime: fire.Scheduled,
		DeliveredTime: delivered,
		Day:           fire.Day,
	}
	if !fire.OrderID.Valid() {
		ev.Kind = order.EventInvalidID
		f.record(ev, false)
		release()
		return
	}

	o, found, err := f.find(ctx, fire.OrderID)
	if err != nil {
		// The order may well exist; keep it recurring from the armed copy.
		f.warnf("fire lookup failed", logx.Int64("id", int64(fire.OrderID)), logx.Err(err))
		if armed, ok := f.sched.Order(fire.OrderID); ok {
			if _, rerr := f.sched.Reschedule(ctx, armed, fire); rerr != nil {
				f.warnf("reschedule failed", logx.Int64("id", int64(fire.OrderID)), logx.Err(rerr))
			}
		}
		ev.Kind = order.EventLookupFailed
		ev.Detail = err.Error()
		f.record(ev, false)
		release()
		return
	}
	if !found {
		// Nothing to run; stop the timer from firing again.
		if uerr := f.sched.Unschedule(ctx, order.WorkOrder{ID: fire.OrderID}); uerr != nil {
			f.warnf("cancel orphan timer failed", logx.Int64("id", int64(fire.OrderID)), logx.Err(uerr))
		}
		ev.Kind = order.EventMissingOrder
		f.record(ev, false)
		release()
		return
	}

	id, err := f.sched.Reschedule(ctx, o, fire)
	if err != nil {
		f.warnf("reschedule failed", logx.Int64("id", int64(o.ID)), logx.Err(err))
	}
	purge := id == order.DeadID

	eventbus.Publish(f.bus, eventbus.OrderFired, eventbus.OrderSignal{
		OrderID: int64(o.ID), Key: fire.Key.String(), Tag: o.Tag, At: fire.Scheduled,
	})

	var once sync.Once
	finish := func(kind order.EventKind, detail string) {
		once.Do(func() {
			ev.Kind = kind
			ev.Detail = detail
			f.record(ev, purge)
			release()
		})
	}

	err = f.disp.Dispatch(ctx, dispatch.Work{Order: o, Fire: fire}, func(herr error) {
		if herr != nil {
			finish(order.EventHandlerFailed, herr.Error())
			return
		}
		finish(order.EventSuccess, "")
	})
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrNoHandler):
		finish(order.EventNoHandler, "no handler for tag "+o.Tag)
	default:
		finish(order.EventHandlerFailed, err.Error())
	}
}

// Find returns a persisted order.
func (f *Facade) Find(ctx context.Context, id order.ID) (order.WorkOrder, bool, error) {
	return f.find(ctx, id)
}

// Orders lists persisted orders by id.
func (f *Facade) Orders(ctx context.Context) ([]order.WorkOrder, error) {
	if err := f.writer.Barrier(ctx); err != nil {
		return nil, err
	}
	return f.writer.Store().List(ctx)
}

// Events returns the firing history of id.
func (f *Facade) Events(ctx context.Context, id order.ID) ([]order.Event, error) {
	if err := f.writer.Barrier(ctx); err != nil {
		return nil, err
	}
	return f.writer.Store().Events(ctx, id)
}

// Armed lists armed timer keys by next fire time.
func (f *Facade) Armed() []scheduler.Armed {
	return f.sched.Snapshot()
}

func (f *Facade) find(ctx context.Context, id order.ID) (order.WorkOrder, bool, error) {
	if err := f.writer.Barrier(ctx); err != nil {
		return order.WorkOrder{}, false, err
	}
	return f.writer.Store().Find(ctx, id)
}

// record appends ev and, for an order that has no occurrence left, deletes
// the order afterwards. Both go through the writer so they stay ordered
// after any earlier save of the same id.
func (f *Facade) record(ev order.Event, purge bool) {
	f.writer.Enqueue("event.append", func(ctx context.Context, st storage.Store) error {
		return st.AppendEvent(ctx, ev)
	})
	if purge {
		f.writer.Enqueue("fire.delete_dead", deleteOrder(ev.WorkID))
	}
	lvl := f.log.Debug
	if ev.Kind != order.EventSuccess {
		lvl = f.log.Info
	}
	lvl("order fired",
		logx.Int64("id", int64(ev.WorkID)),
		logx.String("kind", string(ev.Kind)),
		logx.Time("scheduled", ev.ScheduledTime),
		logx.Duration("lag", ev.DeliveredTime.Sub(ev.ScheduledTime)),
		logx.Bool("last", purge),
	)
	eventbus.Publish(f.bus, eventbus.OrderEvent, eventbus.OrderSignal{
		OrderID: int64(ev.WorkID), At: ev.ScheduledTime, Kind: string(ev.Kind), Detail: ev.Detail,
	})
}

// armedVersion returns the version of id armed before a call replaces it.
func (f *Facade) armedVersion(id order.ID) (order.WorkOrder, bool) {
	if !id.Valid() {
		return order.WorkOrder{}, false
	}
	return f.sched.Order(id)
}

// rollback undoes a schedule whose persistence failed: the version that was
// armed before is armed again, an order that was new is unscheduled.
func (f *Facade) rollback(ctx context.Context, o, prev order.WorkOrder, armed bool) {
	if armed {
		if _, err := f.sched.Schedule(ctx, prev); err != nil {
			f.log.Warn("rollback re-arm failed", logx.Int64("id", int64(prev.ID)), logx.Err(err))
		}
		return
	}
	if !o.ID.Valid() {
		return
	}
	if err := f.sched.Unschedule(ctx, o); err != nil {
		f.log.Warn("rollback unschedule failed", logx.Int64("id", int64(o.ID)), logx.Err(err))
	}
}

func (f *Facade) warnf(msg string, fields ...logx.Field) {
	if f.warn.Allow() {
		f.log.Warn(msg, fields...)
	}
}

func deleteOrder(id order.ID) storage.WriteFunc {
	return func(ctx context.Context, st storage.Store) error {
		return st.Delete(ctx, id)
	}
}
