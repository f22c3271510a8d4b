package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/sink"
)

// BookWriter consumes snapshot and delta events and writes to the
// book_deltas and book_snapshots tables.
type BookWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input queue, fed by Append
	input *sink.Queue

	// Database
	db       BatchSender
	recorder RowRecorder

	// Batching (separate batches for deltas and snapshots)
	deltaBatch    []bookDeltaRow
	snapshotBatch []bookSnapshotRow
	batchMu       sync.Mutex
	flushTicker   *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics BookWriterMetrics
}

// BookWriterMetrics extends WriterMetrics with delta/snapshot breakdown.
type BookWriterMetrics struct {
	DeltaInserts    int64
	DeltaConflicts  int64
	DeltaErrors     int64
	SnapshotInserts int64
	SnapshotErrors  int64
	Resyncs         int64
	Flushes         int64
}

// NewBookWriter creates a new BookWriter. recorder may be nil.
func NewBookWriter(
	cfg WriterConfig,
	db BatchSender,
	recorder RowRecorder,
	logger *slog.Logger,
) *BookWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookWriter{
		cfg:           cfg,
		input:         sink.NewQueue("book_writer", cfg.QueueSize),
		db:            db,
		recorder:      recorder,
		logger:        logger,
		deltaBatch:    make([]bookDeltaRow, 0, cfg.BatchSize),
		snapshotBatch: make([]bookSnapshotRow, 0, 100), // Snapshots are less frequent
	}
}

// Append queues snapshot, delta and resync events. Other kinds are ignored.
func (w *BookWriter) Append(ev model.Event) error {
	switch ev.Kind {
	case model.KindSnapshot, model.KindDelta, model.KindResync:
		return w.input.Append(ev)
	default:
		return nil
	}
}

// Start begins consuming events and writing to the database.
func (w *BookWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("book writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *BookWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping book writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("book writer stopped")
	case <-ctx.Done():
		w.logger.Warn("book writer stop timed out")
	}

	// Final flush of anything still queued
	for _, ev := range w.input.Drain(0) {
		w.handleEvent(ev)
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *BookWriter) Stats() BookWriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop drains the input queue and accumulates batches.
func (w *BookWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		events := w.input.Drain(w.cfg.BatchSize)
		if len(events) == 0 {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		for _, ev := range events {
			w.handleEvent(ev)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *BookWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleEvent processes an event based on its kind.
func (w *BookWriter) handleEvent(ev model.Event) {
	switch p := ev.Payload.(type) {
	case model.ResyncPayload:
		w.logger.Warn("book resynchronized",
			"symbol", ev.Symbol,
			"reason", p.Reason,
			"from_version", p.FromVersion,
			"new_version", p.NewVersion,
		)
		w.batchMu.Lock()
		w.metrics.Resyncs++
		w.batchMu.Unlock()
	case model.SnapshotPayload:
		row := w.transformSnapshot(ev.Symbol, ev.TsMs, p)
		w.batchMu.Lock()
		w.snapshotBatch = append(w.snapshotBatch, row)
		w.batchMu.Unlock()
	case model.DeltaPayload:
		rows := w.transformDelta(ev.Symbol, ev.TsMs, p)
		w.batchMu.Lock()
		w.deltaBatch = append(w.deltaBatch, rows...)
		shouldFlush := len(w.deltaBatch) >= w.cfg.BatchSize
		w.batchMu.Unlock()
		if shouldFlush {
			w.flush(w.ctx)
		}
	default:
		w.logger.Warn("unexpected book event payload", "kind", ev.Kind)
	}
}

// transformDelta expands a delta into one row per level change.
func (w *BookWriter) transformDelta(symbol string, tsMs int64, p model.DeltaPayload) []bookDeltaRow {
	rows := make([]bookDeltaRow, 0, len(p.Bids)+len(p.Asks))
	add := func(levels []model.PriceLevel, bid bool) {
		for _, l := range levels {
			rows = append(rows, bookDeltaRow{
				ReceivedAt:  tsMs * 1000,
				Symbol:      symbol,
				FromVersion: clampVersion(p.FromVersion),
				ToVersion:   clampVersion(p.ToVersion),
				Side:        bid,
				Price:       l.Price,
				Qty:         l.Quantity,
			})
		}
	}
	add(p.Bids, true)
	add(p.Asks, false)
	return rows
}

// transformSnapshot converts a snapshot to a bookSnapshotRow with top-of-book.
func (w *BookWriter) transformSnapshot(symbol string, tsMs int64, p model.SnapshotPayload) bookSnapshotRow {
	bid, ask, spread := topOfBook(p.Bids, p.Asks)
	return bookSnapshotRow{
		SnapshotTs: tsMs * 1000,
		Symbol:     symbol,
		Source:     p.Source,
		Version:    clampVersion(p.Version),
		Bids:       levelsToJSON(p.Bids),
		Asks:       levelsToJSON(p.Asks),
		BestBid:    bid.Price,
		BestBidQty: bid.Quantity,
		BestAsk:    ask.Price,
		BestAskQty: ask.Quantity,
		Spread:     spread,
	}
}

// flush writes both batches to the database.
func (w *BookWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	deltaBatch := w.deltaBatch
	snapshotBatch := w.snapshotBatch
	w.deltaBatch = make([]bookDeltaRow, 0, w.cfg.BatchSize)
	w.snapshotBatch = make([]bookSnapshotRow, 0, 100)
	w.batchMu.Unlock()

	if len(deltaBatch) == 0 && len(snapshotBatch) == 0 {
		return
	}

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	start := time.Now()

	// Flush deltas
	if len(deltaBatch) > 0 {
		conflicts, err := w.batchInsertDeltas(ctx, deltaBatch)
		if err != nil {
			w.logger.Error("delta batch insert failed", "error", err, "count", len(deltaBatch))
			w.batchMu.Lock()
			w.metrics.DeltaErrors++
			w.batchMu.Unlock()
			w.record("book_deltas", "error", len(deltaBatch))
		} else {
			w.batchMu.Lock()
			w.metrics.DeltaInserts += int64(len(deltaBatch) - conflicts)
			w.metrics.DeltaConflicts += int64(conflicts)
			w.batchMu.Unlock()
			w.record("book_deltas", "inserted", len(deltaBatch)-conflicts)
			w.record("book_deltas", "conflict", conflicts)
		}
	}

	// Flush snapshots
	if len(snapshotBatch) > 0 {
		err := w.batchInsertSnapshots(ctx, snapshotBatch)
		if err != nil {
			w.logger.Error("snapshot batch insert failed", "error", err, "count", len(snapshotBatch))
			w.batchMu.Lock()
			w.metrics.SnapshotErrors++
			w.batchMu.Unlock()
			w.record("book_snapshots", "error", len(snapshotBatch))
		} else {
			w.batchMu.Lock()
			w.metrics.SnapshotInserts += int64(len(snapshotBatch))
			w.batchMu.Unlock()
			w.record("book_snapshots", "inserted", len(snapshotBatch))
		}
	}

	w.batchMu.Lock()
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed book",
		"deltas", len(deltaBatch),
		"snapshots", len(snapshotBatch),
		"duration", time.Since(start),
	)
}

func (w *BookWriter) record(table, outcome string, n int) {
	if w.recorder != nil {
		w.recorder.RecordWriterRows(table, outcome, n)
	}
}

// batchInsertDeltas inserts delta rows with ON CONFLICT DO NOTHING.
func (w *BookWriter) batchInsertDeltas(ctx context.Context, rows []bookDeltaRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO book_deltas (received_at, symbol, from_version, to_version, side, price, qty)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (symbol, to_version, side, price) DO NOTHING
		`, r.ReceivedAt, r.Symbol, r.FromVersion, r.ToVersion, r.Side, r.Price, r.Qty)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// batchInsertSnapshots inserts snapshot rows with ON CONFLICT DO NOTHING.
func (w *BookWriter) batchInsertSnapshots(ctx context.Context, rows []bookSnapshotRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO book_snapshots (snapshot_ts, symbol, source, version, bids, asks, best_bid, best_bid_qty, best_ask, best_ask_qty, spread)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (symbol, version, source) DO NOTHING
		`, r.SnapshotTs, r.Symbol, r.Source, r.Version, r.Bids, r.Asks, r.BestBid, r.BestBidQty, r.BestAsk, r.BestAskQty, r.Spread)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
