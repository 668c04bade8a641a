package scheduler

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"almanac/internal/eventbus"
	"almanac/internal/order"
	"almanac/internal/recurrence"
	"almanac/internal/timer"
	logx "almanac/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	rec   *recurrence.Engine
	timer timer.Port

	lastID int64
	keys   map[order.Key]registration
	owned  map[order.ID][]order.Key
}

type Option func(*Service)

// WithIDOffset sets the first auto-assigned id minus one.
func WithIDOffset(n int64) Option {
	return func(s *Service) {
		if n >= 0 {
			s.lastID = n - 1
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func New(clock recurrence.Clock, tp timer.Port, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "scheduler")),
		rec:    recurrence.New(clock),
		timer:  tp,
		lastID: DefaultIDOffset - 1,
		keys:   map[order.Key]registration{},
		owned:  map[order.ID][]order.Key{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Recurrence exposes the engine used for next-instant computations.
func (s *Service) Recurrence() *recurrence.Engine { return s.rec }

// Seed makes sure auto-assigned ids stay above maxID.
func (s *Service) Seed(maxID order.ID) {
	s.mu.Lock()
	if int64(maxID) > s.lastID {
		s.lastID = int64(maxID)
	}
	s.mu.Unlock()
}

// Schedule arms every live key of o and returns its id, assigning one when
// o has none. DeadID means o has no remaining occurrence; any key it owned
// before is released and the caller should drop its persisted copy.
//
// Scheduling an id again is idempotent for unchanged keys and replaces
// registrations whose next instant changed. Keys the order no longer
// occupies are cancelled. A key owned by another order fails the whole call
// with ErrKeyCollision before anything is armed.
//
// Caller supplied ids reserve themselves: later auto-assigned ids are always
// above the highest id seen and never reuse an armed one.
func (s *Service) Schedule(ctx context.Context, o order.WorkOrder) (order.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID.Valid() {
		if int64(o.ID) > s.lastID {
			s.lastID = int64(o.ID)
		}
	} else {
		id, err := s.nextIDLocked()
		if err != nil {
			return order.DeadID, err
		}
		o = o.WithID(id)
	}
	return s.scheduleLocked(ctx, o)
}

func (s *Service) nextIDLocked() (order.ID, error) {
	for s.lastID < math.MaxInt64 {
		s.lastID++
		if _, taken := s.owned[order.ID(s.lastID)]; !taken {
			return order.ID(s.lastID), nil
		}
	}
	return order.NoID, errors.New("order id space exhausted")
}

func (s *Service) scheduleLocked(ctx context.Context, o order.WorkOrder) (order.ID, error) {
	repeating := o.Repeating()
	var live []registration
	var liveKeys []order.Key
	for _, slot := range o.Slots() {
		next, ok := s.rec.Next(o, slot.Day)
		if !ok {
			continue
		}
		live = append(live, registration{order: o, day: slot.Day, next: next, repeating: repeating})
		liveKeys = append(liveKeys, slot.Key)
	}

	if len(live) == 0 {
		if err := s.releaseLocked(ctx, o.ID, nil); err != nil {
			return order.DeadID, err
		}
		s.log.Debug("order dead at schedule", logx.Int64("id", int64(o.ID)), logx.String("tag", o.Tag))
		eventbus.Publish(s.bus, eventbus.OrderDead, eventbus.OrderSignal{OrderID: int64(o.ID), Tag: o.Tag})
		return order.DeadID, nil
	}

	for _, k := range liveKeys {
		if cur, ok := s.keys[k]; ok && cur.order.ID != o.ID {
			return order.DeadID, errors.Mark(
				errors.AssertionFailedf("key %s is owned by order %d; refusing to arm it for order %d", k, int64(cur.order.ID), int64(o.ID)),
				ErrKeyCollision,
			)
		}
	}

	if err := s.releaseLocked(ctx, o.ID, liveKeys); err != nil {
		return order.DeadID, err
	}

	s.owned[o.ID] = liveKeys
	for i, reg := range live {
		k := liveKeys[i]
		if cur, ok := s.keys[k]; ok && cur.same(reg) {
			s.keys[k] = reg
			continue
		}
		if err := s.armLocked(ctx, k, reg); err != nil {
			s.log.Warn("arming failed", logx.Int64("id", int64(o.ID)), logx.Stringer("key", k), logx.Err(err))
			if rerr := s.releaseLocked(ctx, o.ID, nil); rerr != nil {
				err = errors.CombineErrors(err, rerr)
			}
			return order.DeadID, errors.Wrapf(err, "arm order %d", o.ID)
		}
	}
	return o.ID, nil
}

// Reschedule re-arms the key that produced fire after its handler was
// dispatched. Weekly keys are held to the minimum-interval gate relative to
// the fired instant; other orders move strictly past it.
//
// It returns DeadID when o has no armed key left (the caller purges it) and
// also when the fired key is no longer owned by o, e.g. because o was
// unscheduled while the delivery was in flight.
func (s *Service) Reschedule(ctx context.Context, o order.WorkOrder, fire timer.Fire) (order.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.keys[fire.Key]
	if !ok || reg.order.ID != o.ID {
		s.log.Debug("fired key not owned", logx.Int64("id", int64(o.ID)), logx.Stringer("key", fire.Key))
		if len(s.owned[o.ID]) == 0 {
			return order.DeadID, nil
		}
		return o.ID, nil
	}
	if reg.repeating && o.Repeating() {
		// The repeating timer keeps going on its own.
		reg.order = o
		reg.next = fire.Scheduled.Add(o.Interval)
		s.keys[fire.Key] = reg
		return o.ID, nil
	}

	day := fire.Day
	if day == nil {
		day = reg.day
	}
	next, ok := s.rec.NextAfter(o, day, fire.Scheduled)
	if !ok {
		s.dropKeyLocked(o.ID, fire.Key)
		if err := s.timer.Cancel(ctx, fire.Key); err != nil {
			s.log.Warn("cancel after last occurrence failed", logx.Stringer("key", fire.Key), logx.Err(err))
		}
		if len(s.owned[o.ID]) > 0 {
			return o.ID, nil
		}
		delete(s.owned, o.ID)
		s.log.Debug("order dead after fire", logx.Int64("id", int64(o.ID)))
		eventbus.Publish(s.bus, eventbus.OrderDead, eventbus.OrderSignal{OrderID: int64(o.ID), Key: fire.Key.String(), Tag: o.Tag})
		return order.DeadID, nil
	}

	nreg := registration{order: o, day: day, next: next}
	if err := s.armLocked(ctx, fire.Key, nreg); err != nil {
		return o.ID, errors.Wrapf(err, "re-arm order %d", o.ID)
	}
	return o.ID, nil
}

// Unschedule cancels every key o owns, plus any key o would occupy that no
// other order owns. Unscheduling an order with nothing armed is a no-op.
func (s *Service) Unschedule(ctx context.Context, o order.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := len(s.owned[o.ID]) > 0
	err := s.releaseLocked(ctx, o.ID, nil)
	for _, k := range o.Keys() {
		if _, taken := s.keys[k]; taken {
			continue
		}
		if cerr := s.timer.Cancel(ctx, k); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "cancel key %s", k))
		}
	}
	if owned {
		s.log.Debug("order unscheduled", logx.Int64("id", int64(o.ID)))
		eventbus.Publish(s.bus, eventbus.OrderUnscheduled, eventbus.OrderSignal{OrderID: int64(o.ID), Tag: o.Tag})
	}
	return err
}

// Recover schedules every persisted order from scratch after a restart and
// returns the ids of the orders that turned out dead. It keeps going past
// failures and returns them combined.
func (s *Service) Recover(ctx context.Context, orders []order.WorkOrder) ([]order.ID, error) {
	var maxID order.ID
	for _, o := range orders {
		if o.ID > maxID {
			maxID = o.ID
		}
	}
	s.Seed(maxID)

	var (
		dead []order.ID
		errs error
	)
	for _, o := range orders {
		if !o.ID.Valid() {
			errs = errors.CombineErrors(errs, errors.Newf("persisted order with invalid id %d", int64(o.ID)))
			continue
		}
		id, err := s.Schedule(ctx, o)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "recover order %d", o.ID))
			continue
		}
		if id == order.DeadID {
			dead = append(dead, o.ID)
		}
	}
	s.log.Info("recovered orders", logx.Int("orders", len(orders)), logx.Int("dead", len(dead)), logx.Int("armed_keys", s.armedCount()))
	return dead, errs
}

// Owner reports which order owns key.
func (s *Service) Owner(key order.Key) (order.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.keys[key]
	return reg.order.ID, ok
}

// Order returns the version of id that is currently armed.
func (s *Service) Order(id order.ID) (order.WorkOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.owned[id] {
		if reg, ok := s.keys[k]; ok && reg.order.ID == id {
			return reg.order, true
		}
	}
	return order.WorkOrder{}, false
}

// Keys returns the keys currently armed for id.
func (s *Service) Keys(id order.ID) []order.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]order.Key(nil), s.owned[id]...)
}

// Snapshot lists armed keys ordered by next fire time.
func (s *Service) Snapshot() []Armed {
	s.mu.Lock()
	out := make([]Armed, 0, len(s.keys))
	for k, reg := range s.keys {
		out = append(out, Armed{
			Key:       k,
			OrderID:   reg.order.ID,
			Tag:       reg.order.Tag,
			Day:       reg.day,
			Next:      reg.next,
			Repeating: reg.repeating,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].Key.Less(out[j].Key)
	})
	return out
}

func (s *Service) armedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *Service) armLocked(ctx context.Context, k order.Key, reg registration) error {
	a := timer.Alarm{Key: k, OrderID: reg.order.ID, Day: reg.day}
	var err error
	if reg.repeating {
		err = s.timer.ArmRepeating(ctx, reg.next, reg.order.Interval, a)
	} else {
		err = s.timer.ArmExact(ctx, reg.next, a)
	}
	if err != nil {
		return err
	}
	s.keys[k] = reg
	s.log.Debug("key armed",
		logx.Int64("id", int64(reg.order.ID)),
		logx.Stringer("key", k),
		logx.Time("next", reg.next),
		logx.Bool("repeating", reg.repeating),
	)
	eventbus.Publish(s.bus, eventbus.OrderArmed, eventbus.OrderSignal{OrderID: int64(reg.order.ID), Key: k.String(), Tag: reg.order.Tag, At: reg.next})
	return nil
}

// releaseLocked cancels the keys id owns except those in keep.
func (s *Service) releaseLocked(ctx context.Context, id order.ID, keep []order.Key) error {
	var errs error
	var kept []order.Key
	for _, k := range s.owned[id] {
		if containsKey(keep, k) {
			kept = append(kept, k)
			continue
		}
		if reg, ok := s.keys[k]; ok && reg.order.ID == id {
			delete(s.keys, k)
		}
		if err := s.timer.Cancel(ctx, k); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "cancel key %s", k))
		}
	}
	if len(kept) == 0 {
		delete(s.owned, id)
	} else {
		s.owned[id] = kept
	}
	return errs
}

func (s *Service) dropKeyLocked(id order.ID, k order.Key) {
	delete(s.keys, k)
	keys := s.owned[id][:0:0]
	for _, x := range s.owned[id] {
		if x != k {
			keys = append(keys, x)
		}
	}
	if len(keys) == 0 {
		delete(s.owned, id)
		return
	}
	s.owned[id] = keys
}

func containsKey(keys []order.Key, k order.Key) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}

// NextFire reports the next armed instant of id across its keys.
func (s *Service) NextFire(id order.ID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best time.Time
	for _, k := range s.owned[id] {
		reg, ok := s.keys[k]
		if !ok {
			continue
		}
		if best.IsZero() || reg.next.Before(best) {
			best = reg.next
		}
	}
	return best, !best.IsZero()
}
