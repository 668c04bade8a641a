// Package wake keeps the host from suspending while a fired order is being
// rescheduled and handed to its handler.
package wake

import (
	"context"
	"sync"
	"time"

	logx "almanac/pkg/logx"
)

// DefaultMaxHold bounds how long a single hold may last.
const DefaultMaxHold = 2 * time.Minute

// Locker acquires a hold. The returned release is safe to call more than
// once and is also invoked automatically after max.
type Locker interface {
	Acquire(ctx context.Context, why string, max time.Duration) (release func(), err error)
}

type Config struct {
	Enabled bool          `yaml:"enabled" toml:"enabled" json:"enabled"`
	MaxHold time.Duration `yaml:"max_hold" toml:"max_hold" json:"max_hold"`
}

// New returns the best available Locker for cfg. When the platform backend
// cannot be reached the daemon keeps running on Nop.
func New(cfg Config, log logx.Logger) Locker {
	if !cfg.Enabled {
		return Nop{}
	}
	l, err := newLogind(log)
	if err != nil {
		log.Warn("sleep inhibitor unavailable; continuing without wake holds", logx.Err(err))
		return Nop{}
	}
	return l
}

// Nop never holds anything.
type Nop struct{}

func (Nop) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// guard wraps undo so it runs at most once, either from the caller or from
// the max-hold timer.
func guard(max time.Duration, undo func()) func() {
	if max <= 0 {
		max = DefaultMaxHold
	}
	var once sync.Once
	done := func() { once.Do(undo) }
	t := time.AfterFunc(max, done)
	return func() {
		t.Stop()
		done()
	}
}
