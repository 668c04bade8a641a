package app

import (
	"context"

	"github.com/cockroachdb/errors"

	"almanac/internal/config"
	"almanac/internal/order"
	"almanac/internal/recurrence"
	"almanac/internal/storage"
	logx "almanac/pkg/logx"
)

// Offline edits the store of a daemon that is not running. Orders it adds
// are armed by the next Start of the daemon.
type Offline struct {
	st     storage.Store
	rec    *recurrence.Engine
	offset int64
}

func OpenOffline(cfg *config.Config, log logx.Logger) (*Offline, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	clock, _, err := mapClock(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	return NewOffline(st, clock, idOffset(cfg)), nil
}

func NewOffline(st storage.Store, clock recurrence.Clock, offset int64) *Offline {
	return &Offline{st: st, rec: recurrence.New(clock), offset: offset}
}

// Add validates and stores o, assigning an id above every persisted one
// when it has none. An order with no remaining occurrence is not stored and
// order.DeadID is returned.
func (x *Offline) Add(ctx context.Context, o order.WorkOrder) (order.ID, error) {
	if err := o.Validate(); err != nil {
		return order.DeadID, err
	}
	if !x.alive(o) {
		if o.ID.Valid() {
			return order.DeadID, x.st.Delete(ctx, o.ID)
		}
		return order.DeadID, nil
	}
	if !o.ID.Valid() {
		orders, err := x.st.List(ctx)
		if err != nil {
			return order.DeadID, err
		}
		next := x.offset
		for _, p := range orders {
			if int64(p.ID) >= next {
				next = int64(p.ID) + 1
			}
		}
		o = o.WithID(order.ID(next))
	}
	if err := x.st.Save(ctx, o); err != nil {
		return order.DeadID, errors.Wrapf(err, "save order %d", o.ID)
	}
	return o.ID, nil
}

func (x *Offline) alive(o order.WorkOrder) bool {
	for _, slot := range o.Slots() {
		if _, ok := x.rec.Next(o, slot.Day); ok {
			return true
		}
	}
	return false
}

// Remove deletes one order. Missing ids are not an error.
func (x *Offline) Remove(ctx context.Context, id order.ID) error {
	return x.st.Delete(ctx, id)
}

// RemoveAll deletes every order and returns how many there were.
func (x *Offline) RemoveAll(ctx context.Context) (int, error) {
	orders, err := x.st.List(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]order.ID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return len(ids), x.st.DeleteAll(ctx, ids)
}

func (x *Offline) Orders(ctx context.Context) ([]order.WorkOrder, error) {
	return x.st.List(ctx)
}

func (x *Offline) Events(ctx context.Context, id order.ID) ([]order.Event, error) {
	return x.st.Events(ctx, id)
}

// Preview lists the next n occurrences of o without storing it.
func (x *Offline) Preview(o order.WorkOrder, n int) []recurrence.Occurrence {
	return x.rec.Preview(o, n)
}

func (x *Offline) Close() error { return x.st.Close() }
