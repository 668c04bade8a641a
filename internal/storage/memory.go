package storage

import (
	"context"
	"sort"
	"sync"

	"almanac/internal/order"
)

type memoryStore struct {
	mu     sync.Mutex
	orders map[order.ID]order.WorkOrder
	events map[order.ID][]order.Event
	closed bool
}

// NewMemory returns a store that keeps everything in process memory.
func NewMemory() Store {
	return &memoryStore{
		orders: map[order.ID]order.WorkOrder{},
		events: map[order.ID][]order.Event{},
	}
}

func (s *memoryStore) Save(_ context.Context, o order.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.orders[o.ID] = o.WithID(o.ID)
	return nil
}

func (s *memoryStore) SaveAll(_ context.Context, orders []order.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, o := range orders {
		s.orders[o.ID] = o.WithID(o.ID)
	}
	return nil
}

func (s *memoryStore) Find(_ context.Context, id order.ID) (order.WorkOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return order.WorkOrder{}, false, ErrClosed
	}
	o, ok := s.orders[id]
	if !ok {
		return order.WorkOrder{}, false, nil
	}
	return o.WithID(o.ID), true, nil
}

func (s *memoryStore) List(_ context.Context) ([]order.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]order.WorkOrder, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.WithID(o.ID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Delete(ctx context.Context, id order.ID) error {
	return s.DeleteAll(ctx, []order.ID{id})
}

func (s *memoryStore) DeleteAll(_ context.Context, ids []order.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		delete(s.orders, id)
		delete(s.events, id)
	}
	return nil
}

func (s *memoryStore) AppendEvent(_ context.Context, e order.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.events[e.WorkID] = append(s.events[e.WorkID], e)
	return nil
}

func (s *memoryStore) Events(_ context.Context, id order.ID) ([]order.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return append([]order.Event(nil), s.events[id]...), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
