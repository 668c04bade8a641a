// Package storage persists work orders and their firing events.
//
// Drivers:
//   - memory: process-local maps (tests, dry runs)
//   - file: JSON Lines journal compacted into a snapshot
//   - sqlite: SQLite through modernc.org/sqlite (pure Go)
//   - sqlite3: SQLite through mattn/go-sqlite3 (cgo)
//
// Writes for one order id are applied atomically: a save racing a delete
// leaves either the saved order or nothing. Writer serializes writes on a
// single goroutine so callers never wait on disk unless they ask to.
package storage
