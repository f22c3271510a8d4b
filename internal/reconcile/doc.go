// Package reconcile implements the snapshot/delta consistency protocol.
//
// The Reconciler:
//   - Replaces the book wholesale on every snapshot and resets the version cursor
//   - Applies contiguous or overlapping deltas, discards stale ones
//   - Tolerates one bounded gap right after a snapshot (fast-forward)
//   - Enters the Faulted state on any other gap and reports it as *GapError
//   - Rejects malformed deltas in full, leaving the book untouched
//
// Delta entries are absolute replacement values per price level, which is what
// makes a bounded fast-forward safe.
package reconcile
