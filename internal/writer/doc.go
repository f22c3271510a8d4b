// Package writer implements TimescaleDB batch writers for feed events.
//
// Writers:
//   - Trade writer (admitted trades)
//   - Book writer (applied deltas, plus snapshots with top-of-book)
//
// Each writer is a sink.Sink with its own bounded queue, drained by a consumer
// goroutine into batches that are inserted with pgx.Batch. Writes are
// append-only and idempotent (ON CONFLICT DO NOTHING).
package writer
