// Package feed runs one WebSocket session for one symbol.
//
// A Session walks Connecting → Subscribed → Streaming → Closing → Closed. Once
// the subscription is acknowledged it hands every decoded data message to a
// Handler, in arrival order, on a single goroutine. A keep-alive goroutine
// probes the peer and the matching PONG yields a round-trip sample.
//
// A session never reconnects. Peer close, transport failure, cancellation or a
// handler error end Run with an error and the caller decides what happens next.
package feed
