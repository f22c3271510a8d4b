package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/feedsync/internal/dedup"
	"github.com/rickgao/feedsync/internal/metrics"
	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/sink"
)

// TradeSource fetches recent trades. Satisfied by *api.Client.
type TradeSource interface {
	GetTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, int, error)
}

// ErrPushBacklog is returned by Push when pushed batches are not being consumed.
var ErrPushBacklog = errors.New("pushed trade backlog full")

// Counters receives activity counters. Satisfied by *metrics.Telemetry.
type Counters interface {
	Increment(name string)
	Add(name string, n int64)
}

// Config holds trade poller configuration.
type Config struct {
	Symbols       []string
	Interval      time.Duration // Poll interval (default: 5s)
	Limit         int           // Trades per request (default: 500)
	Concurrency   int           // Max concurrent requests (default: 8)
	Timeout       time.Duration // Per-request timeout (default: 10s)
	DedupCapacity int           // Identities remembered per symbol
	TrustIDs      bool          // Use exchange trade IDs as identities
	MergePushed   bool          // Pushed trades share the deduplicators; keys become content hashes
	PushBacklog   int           // Pushed batches buffered ahead of the run loop (default: 1024)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Second,
		Limit:         500,
		Concurrency:   8,
		Timeout:       10 * time.Second,
		DedupCapacity: 50000,
		TrustIDs:      true,
		PushBacklog:   1024,
	}
}

type pushedBatch struct {
	symbol string
	trades []model.Trade
}

// Poller periodically fetches trades via the REST API.
type Poller struct {
	cfg      Config
	source   TradeSource
	sink     sink.Sink
	counters Counters
	logger   *slog.Logger

	// One deduplicator per symbol. Only the run loop touches them: pushed
	// batches are admitted between poll cycles, never during one.
	dedups map[string]*dedup.Deduplicator
	pushed chan pushedBatch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. counters may be nil.
func New(cfg Config, source TradeSource, out sink.Sink, counters Counters, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = defaults.DedupCapacity
	}
	if cfg.PushBacklog <= 0 {
		cfg.PushBacklog = defaults.PushBacklog
	}

	// Pushed deals carry no exchange ID, so a merged tape must key both
	// sources by content.
	trustIDs := cfg.TrustIDs && !cfg.MergePushed
	dedups := make(map[string]*dedup.Deduplicator, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		dedups[s] = dedup.New(cfg.DedupCapacity, trustIDs)
	}

	return &Poller{
		cfg:      cfg,
		source:   source,
		sink:     out,
		counters: counters,
		logger:   logger,
		dedups:   dedups,
		pushed:   make(chan pushedBatch, cfg.PushBacklog),
	}
}

// Push hands trades received on the push feed to the poller, which admits
// them through the same deduplicator as polled pages. It never blocks.
func (p *Poller) Push(symbol string, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	select {
	case p.pushed <- pushedBatch{symbol: symbol, trades: trades}:
		return nil
	default:
		return ErrPushBacklog
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Run(p.ctx)
	}()

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run polls until ctx is cancelled. It always returns nil.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("trade poller started",
		"symbols", len(p.cfg.Symbols),
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("trade poller stopped")
			return nil
		case <-ticker.C:
			p.pollAll(ctx)
		case b := <-p.pushed:
			p.admit(b.symbol, b.trades, model.SourceWS)
		}
	}
}

// pollAll fetches trades for all symbols concurrently.
func (p *Poller) pollAll(ctx context.Context) {
	start := time.Now()

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var admitted, failures atomic.Int64

	for _, symbol := range p.cfg.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			n, err := p.pollSymbol(ctx, symbol)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					p.logger.Warn("failed to poll trades",
						"symbol", symbol,
						"error", err,
					)
				}
				failures.Add(1)
				return
			}
			admitted.Add(int64(n))
		}(symbol)
	}

	wg.Wait()

	p.logger.Debug("trade poll cycle complete",
		"symbols", len(p.cfg.Symbols),
		"admitted", admitted.Load(),
		"errors", failures.Load(),
		"duration", time.Since(start),
	)
}

// pollSymbol fetches one page of trades and forwards the new ones.
func (p *Poller) pollSymbol(ctx context.Context, symbol string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	trades, skipped, err := p.source.GetTrades(reqCtx, symbol, p.cfg.Limit)
	if err != nil {
		return 0, err
	}
	if skipped > 0 {
		p.add(metrics.CounterMalformedUpdates, int64(skipped))
	}

	return p.admit(symbol, trades, model.SourceREST), nil
}

// admit filters trades through the symbol's deduplicator and forwards the
// new ones tagged with source.
func (p *Poller) admit(symbol string, trades []model.Trade, source string) int {
	d, ok := p.dedups[symbol]
	if !ok {
		p.logger.Warn("dropping trades for unknown symbol", "symbol", symbol, "source", source)
		return 0
	}
	admitted := d.Filter(trades)
	p.add(metrics.CounterTradesAdmitted, int64(len(admitted)))
	p.add(metrics.CounterTradesRejected, int64(len(trades)-len(admitted)))

	for _, t := range admitted {
		ts := t.ReceivedAt
		if ts.IsZero() {
			ts = time.Now()
		}
		ev := model.Event{
			Symbol:  symbol,
			TsMs:    ts.UnixMilli(),
			Kind:    model.KindTrade,
			Payload: model.NewTradePayload(t, source),
		}
		if err := p.sink.Append(ev); err != nil {
			p.add(metrics.CounterSinkDropped, 1)
			p.logger.Warn("dropping trade event", "symbol", symbol, "error", err)
		}
	}
	return len(admitted)
}

func (p *Poller) add(name string, n int64) {
	if p.counters != nil && n > 0 {
		p.counters.Add(name, n)
	}
}
