// Package supervisor keeps one synchronized order book per symbol.
//
// Each symbol gets a tracker that runs feed sessions back to back. When a
// session is subscribed the tracker seeds its book from a REST snapshot, then
// applies pushed deltas through a reconcile.Reconciler. A sequence gap is
// repaired in place with a fresh snapshot while the session stays connected;
// frames arriving meanwhile wait in the transport buffer. A session that ends
// for any reason is replaced after a backoff delay.
//
// Trackers, registered activities (trade poller, clock sampler) and the
// telemetry sample emitter run under one errgroup.
package supervisor
