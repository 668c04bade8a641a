// Package scheduler is the scheduling orchestrator.
//
// It owns the table of armed timer keys, asks the recurrence engine for the
// next instant of every key an order occupies, and arms or cancels those keys
// on a timer.Port. It never persists anything: callers store the orders it
// returns, and hand persisted orders back through Recover after a restart.
//
// Every table read and write happens under one mutex, which is also held
// while the timer is armed, so two orders can never both believe they own a
// key.
package scheduler
