// Package store provides the SQLite-backed fetch journal.
//
// Each resolved submission is appended as one row of the fetches table,
// keyed by (request_id, seq). Rows are never updated.
//
// # Ordering
//
// Queries return rows in insertion order (ORDER BY rowid), which is the
// order submissions were resolved. seq restarts with every worker run, so it
// is only meaningful together with request_id.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: one writer, no SQLITE_BUSY from the pool
package store
