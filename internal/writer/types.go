package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// QueueSize bounds the events waiting to be batched.
	QueueSize int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		QueueSize:     100000,
	}
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Skipped   int64
}

// BatchSender is satisfied by *pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// RowRecorder receives per-writer row counts.
type RowRecorder interface {
	RecordWriterRows(writer, outcome string, n int)
}

// tradeRow represents a row to be inserted into the trades table.
type tradeRow struct {
	Symbol     string
	TradeKey   int64 // Exchange ID, or identity hash when the ID is absent
	HasID      bool
	ExchangeTs int64 // Microseconds
	ReceivedAt int64 // Microseconds
	Price      float64
	Qty        float64
	Side       string // "buy", "sell" or ""
	Source     string // "ws" or "rest"
}

// bookDeltaRow represents one level change in the book_deltas table.
type bookDeltaRow struct {
	ReceivedAt  int64
	Symbol      string
	FromVersion int64
	ToVersion   int64
	Side        bool // TRUE = bid, FALSE = ask
	Price       float64
	Qty         float64 // Zero = level removed
}

// bookSnapshotRow represents a row for the book_snapshots table.
type bookSnapshotRow struct {
	SnapshotTs int64
	Symbol     string
	Source     string // "ws" or "rest"
	Version    int64
	Bids       []byte // JSONB: [{price, qty}, ...]
	Asks       []byte // JSONB
	BestBid    float64
	BestBidQty float64
	BestAsk    float64
	BestAskQty float64
	Spread     float64
}
