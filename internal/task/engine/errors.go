package engine

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrStopped   = errors.New("task engine stopped")
	ErrQueueFull = errors.New("task engine queue full")
)

// PanicError is the error a task reports when Run panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
