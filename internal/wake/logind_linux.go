//go:build linux

package wake

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/login1"

	logx "almanac/pkg/logx"
)

// Logind takes "sleep" block inhibitor locks from systemd-logind. The lock
// lives as long as the returned file descriptor stays open.
type Logind struct {
	mu   sync.Mutex
	conn *login1.Conn
	log  logx.Logger
	held int
}

func newLogind(log logx.Logger) (*Logind, error) {
	conn, err := login1.New()
	if err != nil {
		return nil, errors.Wrap(err, "connect to logind")
	}
	return &Logind{conn: conn, log: log.With(logx.String("comp", "wake"))}, nil
}

func (l *Logind) Acquire(ctx context.Context, why string, max time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := l.conn.Inhibit("sleep", "almanac", why, "block")
	if err != nil {
		return nil, errors.Wrapf(err, "inhibit sleep (%s)", why)
	}
	l.mu.Lock()
	l.held++
	l.mu.Unlock()
	l.log.Trace("wake hold acquired", logx.String("why", why))

	return guard(max, func() {
		if cerr := f.Close(); cerr != nil {
			l.log.Warn("wake hold release failed", logx.String("why", why), logx.Err(cerr))
		}
		l.mu.Lock()
		l.held--
		l.mu.Unlock()
		l.log.Trace("wake hold released", logx.String("why", why))
	}), nil
}

// Held is the number of holds not yet released.
func (l *Logind) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Logind) Close() {
	l.conn.Close()
}
