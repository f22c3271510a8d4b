// Package metrics collects feed telemetry and exposes it to Prometheus.
//
// Key metrics:
//   - WebSocket and REST round-trip latency (HDR histograms, p50/p95/p99)
//   - Gap, resync, reconnect and malformed-frame counters
//   - Best bid/ask and level counts per symbol
//   - Exchange clock offset
//   - Sink and writer drop counts
package metrics
