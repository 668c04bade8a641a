package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"almanac/internal/order"
)

var (
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// Driver values: "memory" (default), "file", "sqlite", "sqlite3".
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; journal records between snapshots
}

// Store is the persistence contract used by the facade.
type Store interface {
	Save(ctx context.Context, o order.WorkOrder) error
	// SaveAll stores every order or none of them.
	SaveAll(ctx context.Context, orders []order.WorkOrder) error
	Find(ctx context.Context, id order.ID) (order.WorkOrder, bool, error)
	// List returns all orders ordered by id.
	List(ctx context.Context) ([]order.WorkOrder, error)
	// Delete removes the order and its events. Deleting a missing id is not an error.
	Delete(ctx context.Context, id order.ID) error
	DeleteAll(ctx context.Context, ids []order.ID) error
	AppendEvent(ctx context.Context, e order.Event) error
	// Events returns the events of one order in append order.
	Events(ctx context.Context, id order.ID) ([]order.Event, error)
	Close() error
}
