// Package storage persists the outreach state that must survive a restart:
// the append-only history log, the rate-gate snapshot and notifier dedup keys.
//
// Drivers: "file" (NDJSON journal + JSON snapshots), "sqlite" (modernc.org/sqlite)
// and "memory" (tests and dry runs).
package storage
