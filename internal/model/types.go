package model

import "time"

// -----------------------------------------------------------------------------
// Book Types
// -----------------------------------------------------------------------------

// Side identifies one half of the order book.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// PriceLevel is the total resting size at one price.
// A Quantity of zero in an update means "remove this level".
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"qty"`
}

// -----------------------------------------------------------------------------
// Trade Types
// -----------------------------------------------------------------------------

// TradeSide is the aggressor side of a trade.
type TradeSide uint8

const (
	SideUnknown TradeSide = iota
	SideBuy
	SideSell
)

func (s TradeSide) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return ""
	}
}

// Trade is a single executed trade as seen by the collector.
type Trade struct {
	ExchangeID   *uint64   // Exchange trade ID, nil when the source omits it
	Price        float64   // Execution price
	Quantity     float64   // Base-asset size
	Side         TradeSide // Aggressor side
	ExchangeTime time.Time // Exchange execution time
	ReceivedAt   time.Time // Local receive time
}

// -----------------------------------------------------------------------------
// Event Types
// -----------------------------------------------------------------------------

// EventKind tags a persisted event.
type EventKind string

const (
	KindSnapshot  EventKind = "snapshot"
	KindDelta     EventKind = "delta"
	KindTrade     EventKind = "trade"
	KindClockSkew EventKind = "clock_skew"
	KindTelemetry EventKind = "telemetry"
	KindResync    EventKind = "resync"
	KindRawFrame  EventKind = "raw_frame"
)

// Origins recorded in snapshot and trade payloads.
const (
	SourceREST = "rest"
	SourceWS   = "ws"
)

// Event is one record handed to the persistence sink.
// Exactly one of Payload or Raw is set.
type Event struct {
	Symbol  string
	TsMs    int64 // Local timestamp (ms since epoch), used for partitioning
	Kind    EventKind
	Payload any
	Raw     []byte
}

// SnapshotPayload is the stored form of an applied book snapshot.
type SnapshotPayload struct {
	Source  string       `json:"source"` // "rest" or "ws"
	Version uint64       `json:"version"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
}

// DeltaPayload is the stored form of an applied book delta.
type DeltaPayload struct {
	FromVersion uint64       `json:"from_version"`
	ToVersion   uint64       `json:"to_version"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
}

// TradePayload is the stored form of an admitted trade.
type TradePayload struct {
	ID       *uint64 `json:"id"`
	Price    float64 `json:"price"`
	Qty      float64 `json:"qty"`
	Side     string  `json:"side,omitempty"`
	TsExchMs int64   `json:"ts_exch_ms"`
	TsRecvMs int64   `json:"ts_recv_ms"`
	Source   string  `json:"source"` // "ws" or "rest"
}

// ResyncPayload records a resynchronization and its cause.
type ResyncPayload struct {
	Reason      string `json:"reason"`
	FromVersion uint64 `json:"from_version"`
	NewVersion  uint64 `json:"new_version"`
}

// ClockSkewSample is one local-vs-exchange clock comparison.
type ClockSkewSample struct {
	LocalMs  int64 `json:"ts_local_ms"`
	ServerMs int64 `json:"server_time_ms"`
	OffsetMs int64 `json:"offset_ms"`
}

// TelemetrySample is a periodic latency percentile summary.
type TelemetrySample struct {
	TsMs  int64   `json:"ts_ms"`
	Kind  string  `json:"kind"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Count uint64  `json:"count"`
}

// NewTradePayload converts a Trade for storage.
func NewTradePayload(t Trade, source string) TradePayload {
	return TradePayload{
		ID:       t.ExchangeID,
		Price:    t.Price,
		Qty:      t.Quantity,
		Side:     t.Side.String(),
		TsExchMs: t.ExchangeTime.UnixMilli(),
		TsRecvMs: t.ReceivedAt.UnixMilli(),
		Source:   source,
	}
}
