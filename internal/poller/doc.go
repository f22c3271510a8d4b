// Package poller implements the REST activities that run beside the push feed.
//
// The trade poller:
//   - Fetches recent trades for every symbol on a fixed interval
//   - Filters each page through a per-symbol deduplicator it owns
//   - Accepts pushed trades via Push and filters them through the same deduplicator
//   - Appends admitted trades to the sink with source="rest" or source="ws"
//
// The clock sampler:
//   - Reads the exchange clock on a fixed interval
//   - Estimates the offset against the midpoint of the request
//   - Stores clock_skew events and exports the offset as a gauge
package poller
