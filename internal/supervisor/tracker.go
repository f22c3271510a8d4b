package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/feedsync/internal/backoff"
	"github.com/rickgao/feedsync/internal/dedup"
	"github.com/rickgao/feedsync/internal/feed"
	"github.com/rickgao/feedsync/internal/metrics"
	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/reconcile"
	"github.com/rickgao/feedsync/internal/sink"
	"github.com/rickgao/feedsync/internal/wire"
)

// tracker owns one symbol's book and cursor. Pushed trades are deduplicated
// here unless a TradeRouter takes them. The reconciler is touched only from
// the goroutine running the current session.
type tracker struct {
	symbol    string
	cfg       Config
	snapshots SnapshotProvider
	out       sink.Sink
	tel       Telemetry
	logger    *slog.Logger
	base      *slog.Logger // Unscoped; sessions add their own symbol attr
	now       func() time.Time

	rec       *reconcile.Reconciler
	dedup     *dedup.Deduplicator
	trades    TradeRouter // Set before run; nil keeps dedup local
	reconnect *backoff.Policy
	resync    *backoff.Policy

	sessions int

	mu      sync.Mutex
	session *feed.Session
	status  SymbolStatus
}

func newTracker(symbol string, cfg Config, snapshots SnapshotProvider, out sink.Sink, tel Telemetry, logger *slog.Logger) *tracker {
	scoped := logger.With("symbol", symbol)
	return &tracker{
		symbol:    symbol,
		cfg:       cfg,
		snapshots: snapshots,
		out:       out,
		tel:       tel,
		logger:    scoped,
		base:      logger,
		now:       time.Now,
		rec:       reconcile.New(reconcile.Config{FastForwardTolerance: cfg.FastForwardTolerance}, scoped),
		dedup:     dedup.New(cfg.DedupCapacity, cfg.TrustIDs),
		reconnect: backoff.New(cfg.ReconnectBase, backoff.DefaultMultiplier, cfg.ReconnectCapMultiplier, cfg.ReconnectJitter),
		resync:    backoff.New(cfg.ResyncBase, backoff.DefaultMultiplier, cfg.ResyncCapMultiplier, cfg.ReconnectJitter),
		status: SymbolStatus{
			Symbol:    symbol,
			SyncState: reconcile.StateBootstrapping.String(),
		},
	}
}

// run replaces sessions until ctx is done.
func (t *tracker) run(ctx context.Context) error {
	sessCfg := t.cfg.Feed
	sessCfg.Symbol = t.symbol

	opts := []feed.Option{
		feed.WithTelemetry(t.tel),
		feed.WithRawSink(t.out),
		feed.WithLogger(t.base),
	}
	if t.trades == nil {
		opts = append(opts, feed.WithDeduplicator(t.dedup))
	}

	for {
		sess := feed.New(sessCfg, opts...)
		t.mu.Lock()
		t.session = sess
		t.mu.Unlock()

		started := t.now()
		err := sess.Run(ctx, t)
		if ctx.Err() != nil {
			return nil
		}

		lasted, delay := t.sessionEnded(started)
		t.logger.Warn("session ended, reconnecting",
			"session", sess.ID(),
			"lasted", lasted,
			"retry_in", delay,
			"error", err,
		)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// sessionEnded records a reconnect and returns how long the session lasted
// and the delay before the next one. A sustained session restarts the
// schedule at its base delay.
func (t *tracker) sessionEnded(started time.Time) (time.Duration, time.Duration) {
	lasted := t.now().Sub(started)
	if lasted >= t.cfg.SustainedSession {
		t.reconnect.Reset()
	}
	t.tel.Increment(metrics.CounterReconnects)
	t.mu.Lock()
	t.status.Reconnects++
	t.status.SyncState = t.rec.State().String()
	t.mu.Unlock()
	return lasted, t.reconnect.Next()
}

// Streaming seeds the book once the session is subscribed.
func (t *tracker) Streaming(ctx context.Context) error {
	t.sessions++
	if t.sessions == 1 {
		return t.bootstrap(ctx)
	}
	return t.resyncBook(ctx, ReasonReconnect)
}

// HandleMessage routes one decoded message.
func (t *tracker) HandleMessage(ctx context.Context, m wire.Message) error {
	switch m := m.(type) {
	case *wire.Delta:
		return t.handleDelta(ctx, m)
	case *wire.Snapshot:
		t.handleSnapshot(m)
		return nil
	case *wire.Trades:
		t.handleTrades(m)
		return nil
	default:
		return nil
	}
}

func (t *tracker) handleDelta(ctx context.Context, d *wire.Delta) error {
	res, err := t.rec.ApplyDelta(reconcile.Delta{
		FromVersion: d.FromVersion,
		ToVersion:   d.ToVersion,
		Bids:        d.Bids,
		Asks:        d.Asks,
	})

	var gapErr *reconcile.GapError
	switch {
	case errors.As(err, &gapErr):
		t.tel.Increment(metrics.CounterGaps)
		t.logger.Warn("sequence gap, resyncing",
			"confirmed", gapErr.Confirmed,
			"from", gapErr.FromVersion,
			"to", gapErr.ToVersion,
			"gap", gapErr.Gap,
		)
		return t.resyncBook(ctx, ReasonGap)

	case errors.Is(err, reconcile.ErrNotSynced):
		return t.resyncBook(ctx, ReasonNotSynced)

	case err != nil:
		t.tel.Increment(metrics.CounterMalformedUpdates)
		t.logger.Warn("rejecting malformed delta",
			"from", d.FromVersion,
			"to", d.ToVersion,
			"error", err,
		)
		return nil
	}

	switch res.Outcome {
	case reconcile.OutcomeStale, reconcile.OutcomeBehind:
		t.tel.Increment(metrics.CounterStaleDeltas)
		return nil
	case reconcile.OutcomeFastForwarded:
		t.tel.Increment(metrics.CounterFastForwards)
	}
	if res.Crossed {
		t.tel.Increment(metrics.CounterCrossedBooks)
	}

	t.emit(model.Event{
		Symbol: t.symbol,
		TsMs:   t.now().UnixMilli(),
		Kind:   model.KindDelta,
		Payload: model.DeltaPayload{
			FromVersion: d.FromVersion,
			ToVersion:   d.ToVersion,
			Bids:        d.Bids,
			Asks:        d.Asks,
		},
	})
	t.observe()
	return nil
}

// handleSnapshot applies a pushed top-N snapshot when it moves the book forward.
func (t *tracker) handleSnapshot(s *wire.Snapshot) {
	if t.rec.State() != reconcile.StateSynced || s.Version <= t.rec.Cursor().ConfirmedVersion {
		t.logger.Debug("ignoring pushed snapshot",
			"version", s.Version,
			"confirmed", t.rec.Cursor().ConfirmedVersion,
			"state", t.rec.State().String(),
		)
		return
	}
	if err := t.rec.ApplySnapshot(s.Version, s.Bids, s.Asks); err != nil {
		t.tel.Increment(metrics.CounterMalformedUpdates)
		t.logger.Warn("rejecting malformed pushed snapshot", "version", s.Version, "error", err)
		return
	}
	t.emitSnapshot(SourceWS, s.Version, s.Bids, s.Asks)
	t.observe()
}

func (t *tracker) handleTrades(m *wire.Trades) {
	if t.trades != nil {
		if err := t.trades.Push(t.symbol, m.Trades); err != nil {
			t.tel.Add(metrics.CounterSinkDropped, int64(len(m.Trades)))
			t.logger.Warn("dropping pushed trades", "count", len(m.Trades), "error", err)
		}
		return
	}
	for _, tr := range m.Trades {
		ts := tr.ReceivedAt
		if ts.IsZero() {
			ts = t.now()
		}
		t.emit(model.Event{
			Symbol:  t.symbol,
			TsMs:    ts.UnixMilli(),
			Kind:    model.KindTrade,
			Payload: model.NewTradePayload(tr, SourceWS),
		})
	}
}

// bootstrap seeds the book on the first session.
func (t *tracker) bootstrap(ctx context.Context) error {
	version, err := t.fetchAndApply(ctx)
	if err != nil {
		return err
	}
	t.logger.Info("book bootstrapped", "version", version)
	return nil
}

// resyncBook replaces the book with a fresh snapshot and records why. The
// session keeps running; frames that arrive meanwhile stay queued.
func (t *tracker) resyncBook(ctx context.Context, reason string) error {
	from := t.rec.Cursor().ConfirmedVersion
	t.mu.Lock()
	if reason != ReasonReconnect {
		t.tel.Increment(metrics.CounterResyncs)
		t.status.Resyncs++
	}
	t.status.SyncState = t.rec.State().String()
	t.mu.Unlock()

	version, err := t.fetchAndApply(ctx)
	if err != nil {
		return err
	}

	t.logger.Info("book resynced", "reason", reason, "from_version", from, "new_version", version)
	t.emit(model.Event{
		Symbol: t.symbol,
		TsMs:   t.now().UnixMilli(),
		Kind:   model.KindResync,
		Payload: model.ResyncPayload{
			Reason:      reason,
			FromVersion: from,
			NewVersion:  version,
		},
	})
	return nil
}

// fetchAndApply retries REST snapshots until one applies or ctx is done.
func (t *tracker) fetchAndApply(ctx context.Context) (uint64, error) {
	defer t.resync.Reset()

	for {
		depth, err := t.snapshots.GetDepth(ctx, t.symbol, t.cfg.DepthLimit)
		if err == nil {
			err = t.rec.ApplySnapshot(depth.Version, depth.Bids, depth.Asks)
			if err == nil {
				t.emitSnapshot(SourceREST, depth.Version, depth.Bids, depth.Asks)
				t.observe()
				return depth.Version, nil
			}
			t.tel.Increment(metrics.CounterMalformedUpdates)
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		t.tel.Increment(metrics.CounterSnapshotFailures)
		t.logger.Warn("snapshot failed, retrying", "error", err)
		if err := t.resync.Wait(ctx); err != nil {
			return 0, err
		}
	}
}

func (t *tracker) emitSnapshot(source string, version uint64, bids, asks []model.PriceLevel) {
	t.emit(model.Event{
		Symbol: t.symbol,
		TsMs:   t.now().UnixMilli(),
		Kind:   model.KindSnapshot,
		Payload: model.SnapshotPayload{
			Source:  source,
			Version: version,
			Bids:    bids,
			Asks:    asks,
		},
	})
}

func (t *tracker) emit(ev model.Event) {
	if err := t.out.Append(ev); err != nil {
		t.tel.Increment(metrics.CounterSinkDropped)
		t.logger.Debug("sink dropped event", "kind", string(ev.Kind), "error", err)
	}
}

// observe publishes top-of-book to telemetry and the status view.
func (t *tracker) observe() {
	b := t.rec.Book()
	bid, _ := b.Best(model.Bid)
	ask, _ := b.Best(model.Ask)
	bidLevels, askLevels := b.Len(model.Bid), b.Len(model.Ask)
	t.tel.ObserveBook(t.symbol, bid, ask, bidLevels, askLevels)

	t.mu.Lock()
	t.status.SyncState = t.rec.State().String()
	t.status.Version = t.rec.Cursor().ConfirmedVersion
	t.status.BestBid = bid
	t.status.BestAsk = ask
	t.status.BidLevels = bidLevels
	t.status.AskLevels = askLevels
	t.status.UpdatedAt = t.now()
	t.mu.Unlock()
}

func (t *tracker) snapshot() SymbolStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.status
	if t.session != nil {
		st.Session = t.session.ID()
		st.SessionState = t.session.State().String()
	}
	return st
}
