package supervisor

import (
	"context"
	"time"

	"github.com/rickgao/feedsync/internal/api"
	"github.com/rickgao/feedsync/internal/feed"
	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/reconcile"
)

// Snapshot and trade sources recorded in stored events.
const (
	SourceREST = model.SourceREST
	SourceWS   = model.SourceWS
)

// Resync reasons.
const (
	ReasonGap       = "gap"
	ReasonNotSynced = "not_synced"
	ReasonReconnect = "reconnect"
)

// SnapshotProvider fetches a full depth snapshot. Satisfied by *api.Client.
type SnapshotProvider interface {
	GetDepth(ctx context.Context, symbol string, limit int) (*api.Depth, error)
}

// TradeRouter takes pushed trades for admission elsewhere. Satisfied by
// *poller.Poller, whose deduplicators then own both trade sources.
type TradeRouter interface {
	Push(symbol string, trades []model.Trade) error
}

// Telemetry receives supervisor measurements. Satisfied by *metrics.Telemetry.
type Telemetry interface {
	feed.Telemetry
	Sample(now time.Time) []model.TelemetrySample
	ObserveBook(symbol string, bid, ask model.PriceLevel, bidLevels, askLevels int)
}

// Activity is an independently scheduled job run alongside the trackers.
// Run blocks until ctx is done. A non-nil error stops the supervisor.
type Activity interface {
	Run(ctx context.Context) error
}

// ActivityFunc adapts a function to Activity.
type ActivityFunc func(ctx context.Context) error

// Run calls f.
func (f ActivityFunc) Run(ctx context.Context) error { return f(ctx) }

// Config configures a Supervisor.
type Config struct {
	Symbols []string

	// Session template; URL, intervals and buffers are shared, Symbol is
	// filled in per tracker.
	Feed feed.Config

	DepthLimit           int    // REST snapshot depth
	FastForwardTolerance uint64 // Largest gap accepted right after a snapshot

	ReconnectBase          time.Duration
	ReconnectCapMultiplier int
	ReconnectJitter        float64
	SustainedSession       time.Duration // Session length that resets the reconnect backoff

	ResyncBase          time.Duration
	ResyncCapMultiplier int

	DedupCapacity int  // Pushed-trade dedup window per symbol
	TrustIDs      bool // Key trades on exchange IDs when present

	SampleInterval time.Duration // Telemetry emission interval, 0 disables
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Feed:                   feed.DefaultConfig(),
		DepthLimit:             1000,
		FastForwardTolerance:   5,
		ReconnectBase:          time.Second,
		ReconnectCapMultiplier: 32,
		ReconnectJitter:        0.2,
		SustainedSession:       time.Minute,
		ResyncBase:             500 * time.Millisecond,
		ResyncCapMultiplier:    16,
		DedupCapacity:          10000,
		TrustIDs:               true,
		SampleInterval:         10 * time.Second,
	}
}

// SymbolStatus is a point-in-time view of one tracker.
type SymbolStatus struct {
	Symbol       string           `json:"symbol"`
	Session      string           `json:"session,omitempty"`
	SessionState string           `json:"session_state"`
	SyncState    string           `json:"sync_state"`
	Version      uint64           `json:"version"`
	BestBid      model.PriceLevel `json:"best_bid"`
	BestAsk      model.PriceLevel `json:"best_ask"`
	BidLevels    int              `json:"bid_levels"`
	AskLevels    int              `json:"ask_levels"`
	Resyncs      int64            `json:"resyncs"`
	Reconnects   int64            `json:"reconnects"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Synced reports whether the symbol's book is currently consistent.
func (s SymbolStatus) Synced() bool {
	return s.SyncState == reconcile.StateSynced.String()
}
