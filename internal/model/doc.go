// Package model defines shared data types used across feedsync.
//
// Conventions:
//   - Prices and quantities: float64 parsed from exchange decimal strings, never NaN or Inf
//   - Versions: uint64 exchange sequence numbers
//   - Timestamps: time.Time in memory, int64 milliseconds since Unix epoch on disk
package model
