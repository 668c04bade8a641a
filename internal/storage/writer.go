package storage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "almanac/pkg/logx"
)

// WriteFunc is one storage mutation.
type WriteFunc func(ctx context.Context, st Store) error

type writeOp struct {
	name string
	ctx  context.Context
	fn   WriteFunc
	res  chan error // nil for fire-and-forget writes
}

// Writer applies writes to a Store on a single goroutine in the order they
// were issued, so a save followed by a delete of the same id is never
// reordered.
type Writer struct {
	st  Store
	log logx.Logger

	ch   chan writeOp
	quit chan struct{}
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	warn *rate.Limiter
}

// NewWriter starts the writer goroutine. queue bounds how many writes may be
// pending before callers block.
func NewWriter(st Store, queue int, log logx.Logger) *Writer {
	if queue <= 0 {
		queue = 256
	}
	w := &Writer{
		st:   st,
		log:  log.With(logx.String("comp", "storage.writer")),
		ch:   make(chan writeOp, queue),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		warn: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
	go w.loop()
	return w
}

// Store returns the underlying store for reads. Call Barrier first to observe
// writes issued before.
func (w *Writer) Store() Store { return w.st }

// Do queues fn and waits for its result.
func (w *Writer) Do(ctx context.Context, name string, fn WriteFunc) error {
	res := make(chan error, 1)
	if err := w.submit(ctx, writeOp{name: name, ctx: ctx, fn: fn, res: res}); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue queues fn without waiting. Failures are logged.
func (w *Writer) Enqueue(name string, fn WriteFunc) {
	if err := w.submit(context.Background(), writeOp{name: name, ctx: context.Background(), fn: fn}); err != nil {
		w.warnf("storage write dropped", name, err)
	}
}

// Barrier returns once every write issued before it has been applied.
func (w *Writer) Barrier(ctx context.Context) error {
	return w.Do(ctx, "barrier", func(context.Context, Store) error { return nil })
}

// Close applies pending writes, stops the goroutine and closes the store.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.quit)
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.st.Close()
}

func (w *Writer) submit(ctx context.Context, op writeOp) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.ch <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case op := <-w.ch:
			w.run(op)
		case <-w.quit:
			// submit holds the read lock while sending, so nothing new
			// arrives once quit is closed.
			for {
				select {
				case op := <-w.ch:
					w.run(op)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) run(op writeOp) {
	err := op.fn(op.ctx, w.st)
	if op.res != nil {
		op.res <- err
		return
	}
	if err != nil {
		w.warnf("storage write failed", op.name, err)
	}
}

func (w *Writer) warnf(msg, name string, err error) {
	if !w.warn.Allow() {
		return
	}
	w.log.Warn(msg, logx.String("op", name), logx.Err(err))
}
