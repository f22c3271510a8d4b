package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/feedsync/internal/dedup"
	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/sink"
)

// TradeWriter consumes trade events from its queue and writes to the trades table.
type TradeWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input queue, fed by Append
	input *sink.Queue

	// Database
	db       BatchSender
	recorder RowRecorder

	// Batching
	batch       []tradeRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewTradeWriter creates a new TradeWriter. recorder may be nil.
func NewTradeWriter(
	cfg WriterConfig,
	db BatchSender,
	recorder RowRecorder,
	logger *slog.Logger,
) *TradeWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeWriter{
		cfg:      cfg,
		input:    sink.NewQueue("trade_writer", cfg.QueueSize),
		db:       db,
		recorder: recorder,
		logger:   logger,
		batch:    make([]tradeRow, 0, cfg.BatchSize),
	}
}

// Append queues trade events. Other kinds are ignored.
func (w *TradeWriter) Append(ev model.Event) error {
	if ev.Kind != model.KindTrade {
		return nil
	}
	return w.input.Append(ev)
}

// Start begins consuming events and writing to the database.
func (w *TradeWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("trade writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *TradeWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping trade writer")

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
		w.logger.Info("trade writer stopped")
	case <-ctx.Done():
		w.logger.Warn("trade writer stop timed out")
	}

	// Final flush of anything still queued
	for _, ev := range w.input.Drain(0) {
		w.handleEvent(ev)
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *TradeWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop drains the input queue and accumulates batches.
func (w *TradeWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		events := w.input.Drain(w.cfg.BatchSize)
		if len(events) == 0 {
			// Queue empty, wait a bit before trying again
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
func (w *TradeWriter) flushLoop() {
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

// handleEvent transforms and adds an event to the batch.
func (w *TradeWriter) handleEvent(ev model.Event) {
	row, ok := w.transform(ev)
	if !ok {
		w.batchMu.Lock()
		w.metrics.Skipped++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a trade event to a tradeRow.
func (w *TradeWriter) transform(ev model.Event) (tradeRow, bool) {
	var p model.TradePayload
	switch v := ev.Payload.(type) {
	case model.TradePayload:
		p = v
	case *model.TradePayload:
		if v == nil {
			return tradeRow{}, false
		}
		p = *v
	default:
		return tradeRow{}, false
	}

	trade := model.Trade{
		ExchangeID:   p.ID,
		Price:        p.Price,
		Quantity:     p.Qty,
		Side:         parseSide(p.Side),
		ExchangeTime: time.UnixMilli(p.TsExchMs),
	}

	return tradeRow{
		Symbol:     ev.Symbol,
		TradeKey:   int64(dedup.IdentityKey(trade, true)),
		HasID:      p.ID != nil,
		ExchangeTs: p.TsExchMs * 1000,
		ReceivedAt: p.TsRecvMs * 1000,
		Price:      p.Price,
		Qty:        p.Qty,
		Side:       p.Side,
		Source:     p.Source,
	}, true
}

// flush writes the current batch to the database.
func (w *TradeWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]tradeRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		w.record("error", len(batch))
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()
	w.record("inserted", len(batch)-conflicts)
	w.record("conflict", conflicts)

	w.logger.Debug("flushed trades",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *TradeWriter) record(outcome string, n int) {
	if w.recorder != nil {
		w.recorder.RecordWriterRows("trades", outcome, n)
	}
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TradeWriter) batchInsert(ctx context.Context, rows []tradeRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO trades (symbol, trade_key, has_id, exchange_ts, received_at, price, qty, side, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (symbol, trade_key, has_id) DO NOTHING
		`, r.Symbol, r.TradeKey, r.HasID, r.ExchangeTs, r.ReceivedAt, r.Price, r.Qty, r.Side, r.Source)
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

func parseSide(s string) model.TradeSide {
	switch s {
	case "buy":
		return model.SideBuy
	case "sell":
		return model.SideSell
	default:
		return model.SideUnknown
	}
}
