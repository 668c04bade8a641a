// Package dispatch maps order tags to handlers and runs handlers on the
// task engine.
package dispatch

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"almanac/internal/order"
	"almanac/internal/task/engine"
	"almanac/internal/timer"
)

var (
	ErrNoHandler    = errors.New("no handler registered")
	ErrDuplicateTag = errors.New("handler already registered for tag")
)

// Work is what a handler receives for one firing.
type Work struct {
	Order order.WorkOrder
	Fire  timer.Fire
}

// Handler does the work of an order. Returning an error records a failed
// firing; it does not stop the order from recurring.
type Handler interface {
	Handle(ctx context.Context, w Work) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, w Work) error

func (f HandlerFunc) Handle(ctx context.Context, w Work) error { return f(ctx, w) }

// Registry is the tag to handler table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds h to tag. A tag can be bound once.
func (r *Registry) Register(tag string, h Handler) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errors.New("tag required")
	}
	if h == nil {
		return errors.Newf("nil handler for tag %q", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[tag]; ok {
		return errors.Mark(errors.Newf("tag %q", tag), ErrDuplicateTag)
	}
	r.handlers[tag] = h
	return nil
}

func (r *Registry) Lookup(tag string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.TrimSpace(tag)]
	return h, ok
}

// Tags lists registered tags sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Executor runs tasks; *engine.Service satisfies it.
type Executor interface {
	Submit(ctx context.Context, t engine.Task) error
}

// Dispatcher resolves handlers and hands the work to an Executor.
type Dispatcher struct {
	reg  *Registry
	exec Executor
}

func New(reg *Registry, exec Executor) *Dispatcher {
	return &Dispatcher{reg: reg, exec: exec}
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

// Dispatch submits the handler for w.Order.Tag. done receives the handler
// result once it has run, or the reason it never ran. A missing handler is
// reported synchronously as ErrNoHandler and done is not called.
func (d *Dispatcher) Dispatch(ctx context.Context, w Work, done func(error)) error {
	h, ok := d.reg.Lookup(w.Order.Tag)
	if !ok {
		return errors.Mark(errors.Newf("tag %q", w.Order.Tag), ErrNoHandler)
	}
	err := d.exec.Submit(ctx, engine.Task{
		Name: "order." + w.Order.Tag,
		Run:  func(ctx context.Context) error { return h.Handle(ctx, w) },
		Done: done,
	})
	return errors.Wrapf(err, "submit order %d", w.Order.ID)
}
