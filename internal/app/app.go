package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"almanac/internal/config"
	"almanac/internal/dispatch"
	"almanac/internal/eventbus"
	"almanac/internal/runtime/supervisor"
	"almanac/internal/storage"
	"almanac/internal/task/engine"
	"almanac/internal/task/scheduler"
	"almanac/internal/timer"
	"almanac/internal/wake"
	logx "almanac/pkg/logx"
)

// App is the daemon: it wires configuration, storage, the timer, the
// scheduler, the handler engine and the facade, and keeps them running
// until Stop.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	writer *storage.Writer
	timer  *timer.Local
	engine *engine.Service
	sched  *scheduler.Service
	facade *Facade
	wake   wake.Locker

	runMu  sync.RWMutex
	runCtx context.Context
}

// Status is a diagnostics view of a running daemon.
type Status struct {
	Started    bool
	Armed      []scheduler.Armed
	Engine     engine.Snapshot
	Supervisor supervisor.Counters
	BusDropped uint64
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a, err := build(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

func build(cfg *config.Config, log logx.Logger) (*App, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	wc, err := mapWakeConfig(cfg)
	if err != nil {
		return nil, err
	}
	clock, off, err := mapClock(cfg)
	if err != nil {
		return nil, err
	}

	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	bus := eventbus.New()
	a := &App{
		log:    log,
		bus:    bus,
		writer: storage.NewWriter(st, 0, log),
		engine: engine.New(ec, log, bus),
		wake:   wake.New(wc, log),
		runCtx: context.Background(),
	}
	a.timer = timer.NewLocal(func(f timer.Fire) {
		a.facade.Deliver(a.context(), shiftFire(f, off))
	}, log)
	a.sched = scheduler.New(clock, shiftPort(a.timer, off), log,
		scheduler.WithIDOffset(idOffset(cfg)),
		scheduler.WithBus(bus),
	)
	a.facade = NewFacade(FacadeDeps{
		Clock:      clock,
		Scheduler:  a.sched,
		Dispatcher: dispatch.New(dispatch.NewRegistry(), a.engine),
		Writer:     a.writer,
		Wake:       a.wake,
		MaxHold:    wc.MaxHold,
		Bus:        bus,
		Log:        log,
	})
	return a, nil
}

func (a *App) Facade() *Facade { return a.facade }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) context() context.Context {
	a.runMu.RLock()
	defer a.runMu.RUnlock()
	return a.runCtx
}

// Start brings up the engine and the timer, recovers persisted orders and
// starts the background loops (event log, config reload).
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.runMu.Lock()
	a.runCtx = a.sup.Context()
	a.runMu.Unlock()

	a.engine.Start(a.sup.Context())
	a.timer.Start()
	if err := a.facade.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return errors.Wrap(err, "recover orders")
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Debug-level: armed/fired events are frequent.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	if a.cfgm != nil {
		a.startConfigReload()
	}

	a.log.Info("app started", logx.Int("armed", len(a.facade.Armed())))
	return nil
}

func (a *App) startConfigReload() {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapWakeConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	// The watcher self-heals; restart it only if it exits with an error.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "logging":
			if a.logs != nil {
				a.logs.Apply(mapLogConfig(newCfg))
			}
		case "engine":
			ec, err := mapEngineConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
				continue
			}
			a.engine.Apply(ctx, ec)
		case "storage", "scheduler", "wake":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Status reports armed keys and engine state.
func (a *App) Status() Status {
	st := Status{
		Started:    a.facade.Started(),
		Armed:      a.facade.Armed(),
		Engine:     a.engine.Snapshot(),
		BusDropped: eventbus.Dropped(a.bus),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	return st
}

// Stop shuts everything down in reverse dependency order. Each step is
// bounded so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStorage(ctx)
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.facade.Stop()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := boundedContext(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errors.Newf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("timer", 2*time.Second, func(c context.Context) error { a.timer.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", 3*time.Second, a.closeStorage)
	step("supervisor", 2*time.Second, a.sup.Wait)
	if lc, ok := a.wake.(interface{ Close() }); ok {
		lc.Close()
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStorage(ctx context.Context) error {
	return a.writer.Close(ctx)
}

// boundedContext derives a context that ends after max but never extends
// the caller's deadline.
func boundedContext(ctx context.Context, max time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, max)
}
