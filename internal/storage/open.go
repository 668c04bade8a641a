package storage

import (
	"strings"

	"github.com/cockroachdb/errors"

	logx "almanac/pkg/logx"
)

// Open initializes the configured store. An empty driver selects memory.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQL("sqlite", cfg, log)
	case "sqlite3":
		return openSQL("sqlite3", cfg, log)
	default:
		return nil, errors.Mark(errors.Newf("unknown storage driver %q", driver), ErrUnknownDriver)
	}
}
