// Package database provides the TimescaleDB connection pool and schema used by
// the batch writers.
//
// Tables:
//   - trades: admitted trades, keyed by exchange ID or identity hash
//   - book_deltas: one row per applied level change
//   - book_snapshots: applied snapshots with top-of-book
package database
