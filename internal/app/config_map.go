package app

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"almanac/internal/config"
	"almanac/internal/recurrence"
	"almanac/internal/storage"
	"almanac/internal/task/engine"
	"almanac/internal/task/scheduler"
	"almanac/internal/wake"
	logx "almanac/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: driver, Path: path, CompactEvery: sc.CompactEvery}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, errors.Newf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, errors.Mark(errors.Newf("storage.driver %q", sc.Driver), storage.ErrUnknownDriver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    cfg.Engine.HistorySize,
	}, nil
}

func mapWakeConfig(cfg *config.Config) (wake.Config, error) {
	hold, err := config.ParseDurationOrDefault("wake.max_hold", cfg.Wake.MaxHold, wake.DefaultMaxHold)
	if err != nil {
		return wake.Config{}, err
	}
	return wake.Config{Enabled: cfg.Wake.Enabled, MaxHold: hold}, nil
}

// mapClock returns the system clock shifted by scheduler.clock_offset, and
// the offset itself.
func mapClock(cfg *config.Config) (recurrence.Clock, time.Duration, error) {
	off, err := config.ParseSignedDuration("scheduler.clock_offset", cfg.Scheduler.ClockOffset)
	if err != nil {
		return nil, 0, err
	}
	return recurrence.Offset(recurrence.System(), off), off, nil
}

func idOffset(cfg *config.Config) int64 {
	if cfg.Scheduler.IDOffset > 0 {
		return cfg.Scheduler.IDOffset
	}
	return scheduler.DefaultIDOffset
}
