package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"almanac/internal/eventbus"
	rtsup "almanac/internal/runtime/supervisor"
	logx "almanac/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service runs tasks on a fixed pool of workers fed by a bounded queue.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	// sendMu is held shared while a task is handed to q and exclusively
	// while stop detaches q, so no send lands after the final drain.
	sendMu   sync.RWMutex
	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	inFlight atomic.Int32

	hmu     sync.Mutex
	history []HistoryItem

	completed        atomic.Uint64
	failed           atomic.Uint64
	droppedQueueFull atomic.Uint64

	queueFullWarn *rate.Limiter
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:           cfg.withDefaults(),
		log:           log.With(logx.String("comp", "engine")),
		bus:           bus,
		queueFullWarn: rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
	}
}

// Apply swaps the configuration. A running engine restarts its workers when
// the worker count or queue size changed; queued tasks are carried over.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil
	s.mu.Unlock()

	if running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize) {
		s.log.Info("task engine resizing", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
		pending := s.stop(ctx)
		s.Start(ctx)
		for _, qt := range pending {
			if err := s.enqueue(ctx, qt.task, false); err != nil {
				finish(qt.task, err)
			}
		}
	}
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil || s.q != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// a failing worker must not take the process down
		rtsup.WithCancelOnError(false),
	)
	stopCh, queue, sup := s.stopCh, s.q, s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		// Auto-restart workers if they exit unexpectedly.
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return nil
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop waits for running tasks and reports queued ones as ErrStopped.
func (s *Service) Stop(ctx context.Context) {
	for _, qt := range s.stop(ctx) {
		finish(qt.task, ErrStopped)
	}
}

func (s *Service) stop(ctx context.Context) []queuedTask {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.stopCh = nil
	s.mu.Unlock()

	s.sendMu.Lock()
	s.mu.Lock()
	sup, q := s.sup, s.q
	s.sup, s.q = nil, nil
	s.mu.Unlock()
	s.sendMu.Unlock()

	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Err(err))
	}

	var pending []queuedTask
	for {
		select {
		case qt := <-q:
			pending = append(pending, qt)
		default:
			s.log.Info("task engine stopped", logx.Int("pending", len(pending)))
			return pending
		}
	}
}

// Enqueue tries to enqueue a task without blocking. If the queue is full,
// the task is dropped and ErrQueueFull returned.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit blocks until the task is accepted, ctx is cancelled or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	stopCh := s.stopCh
	s.mu.Unlock()
	if q == nil || stopCh == nil {
		return ErrStopped
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, enqueuedAt: time.Now(), timeout: timeout}

	if !block {
		select {
		case q <- qt:
			return nil
		default:
			s.onQueueFull(t, q)
			return ErrQueueFull
		}
	}
	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return ErrStopped
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	snap := Snapshot{
		Running:          q != nil,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Completed:        s.completed.Load(),
		Failed:           s.failed.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) onQueueFull(t Task, q chan queuedTask) {
	n := s.droppedQueueFull.Add(1)
	eventbus.Publish(s.bus, eventbus.TaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Started: time.Now(), Error: "queue_full"})
	if s.queueFullWarn.Allow() {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped_queue_full", n),
		)
	}
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func finish(t Task, err error) {
	if t.Done != nil {
		t.Done(err)
	}
}
