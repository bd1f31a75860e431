// Package storage persists accounts, live-event history and notifier dedup
// state.
//
// Drivers:
//   - "memory": process-local, lost on exit
//   - "file": JSON snapshot + append-only journal, compacted periodically
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
