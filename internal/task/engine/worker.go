package engine

import (
	"context"
	"runtime/debug"
	"time"

	"almanac/internal/eventbus"
	logx "almanac/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(qt)
			s.inFlight.Add(-1)
		}
	}
}

// execOne runs a task to completion. Tasks are not tied to the worker
// context: stopping the engine lets running handlers finish.
func (s *Service) execOne(qt queuedTask) {
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	t := qt.task

	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("queue_delay", queueDelay))
	eventbus.Publish(s.bus, eventbus.TaskStarted, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay})

	runCtx := context.Background()
	cancel := func() {}
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, qt.timeout)
	}
	err := s.runGuarded(runCtx, t)
	cancel()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Err(err), logx.Duration("dur", dur))
		eventbus.Publish(s.bus, eventbus.TaskFailed, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Error: item.Error})
	} else {
		s.completed.Add(1)
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task.completed", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		}
		eventbus.Publish(s.bus, eventbus.TaskFinished, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur})
	}
	s.record(item)
	s.done(t, err)
}

// runGuarded converts a panic into a PanicError so one bad handler can't
// kill a worker.
func (s *Service) runGuarded(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
			s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return t.Run(ctx)
}

func (s *Service) done(t Task, err error) {
	if t.Done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task done callback panic", logx.String("task", t.Name), logx.Any("panic", r))
		}
	}()
	t.Done(err)
}
