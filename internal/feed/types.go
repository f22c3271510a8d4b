package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/feedsync/internal/wire"
)

// Errors
var (
	ErrSubscribeTimeout  = errors.New("subscription not acknowledged in time")
	ErrSubscribeRejected = errors.New("subscription rejected")
	ErrPeerClosed        = errors.New("peer closed session")
	ErrTransport         = errors.New("transport failure")
)

// CloseError is returned when the peer closes the session.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("peer closed session (code %d): %s", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return ErrPeerClosed }

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateSubscribed
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler consumes a session's data messages.
type Handler interface {
	// Streaming is called once after the subscription is acknowledged and
	// before any data message is delivered. Frames arriving meanwhile are
	// buffered by the transport.
	Streaming(ctx context.Context) error

	// HandleMessage receives *wire.Delta, *wire.Snapshot and *wire.Trades.
	// A returned error ends the session.
	HandleMessage(ctx context.Context, m wire.Message) error
}

// Telemetry receives session measurements. Satisfied by *metrics.Telemetry.
type Telemetry interface {
	RecordLatency(channel string, ms int64)
	Increment(name string)
	Add(name string, n int64)
}

// Config configures a Session.
type Config struct {
	URL              string
	Symbol           string
	Interval         string        // Push aggregation interval, "" = wire.DefaultInterval
	LimitDepth       int           // Also subscribe to top-N snapshots when > 0
	PingInterval     time.Duration // Application-level PING interval
	SubscribeTimeout time.Duration // Max wait for the subscription ack
	ReadTimeout      time.Duration // Max silence before the transport is stale
	WriteTimeout     time.Duration
	BufferSize       int // Inbound frame buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:              "wss://wbs-api.mexc.com/ws",
		Interval:         wire.DefaultInterval,
		PingInterval:     30 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		ReadTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       10000,
	}
}

// Channels returns the channels a session for cfg subscribes to.
func (c Config) Channels() []string {
	channels := []string{
		wire.DepthChannel(c.Symbol, c.Interval),
		wire.DealsChannel(c.Symbol, c.Interval),
	}
	if c.LimitDepth > 0 {
		channels = append(channels, wire.LimitDepthChannel(c.Symbol, c.LimitDepth))
	}
	return channels
}

// Stats counts what a session has seen.
type Stats struct {
	Frames          int64
	Deltas          int64
	Snapshots       int64
	Trades          int64
	MalformedFrames int64
	PeerPings       int64
	Probes          int64
	LastRTT         time.Duration
}
