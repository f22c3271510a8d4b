// Package connection implements the WebSocket transport for one feed session.
//
// The Client:
//   - Dials the exchange endpoint and answers WebSocket pings in-band
//   - Delivers every text and binary frame with its local receive timestamp
//   - Reports a peer close as a FrameClose frame and transport failures on Errors()
//   - Sends control pings and flags the connection stale when nothing comes back
//
// The Client never reconnects on its own; reconnect policy lives with the caller.
package connection
