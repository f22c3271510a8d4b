package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/feedsync/internal/metrics"
	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/sink"
)

// Errors
var (
	ErrNoSymbols      = errors.New("no symbols configured")
	ErrAlreadyRunning = errors.New("supervisor already running")
)

type namedActivity struct {
	name string
	act  Activity
}

// Supervisor runs a tracker per symbol plus registered activities.
type Supervisor struct {
	cfg       Config
	snapshots SnapshotProvider
	out       sink.Sink
	tel       Telemetry
	logger    *slog.Logger

	trackers   []*tracker
	activities []namedActivity

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// New creates a Supervisor. out receives every stored event.
func New(cfg Config, snapshots SnapshotProvider, out sink.Sink, tel Telemetry, logger *slog.Logger) (*Supervisor, error) {
	if len(cfg.Symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = sink.Discard
	}
	if tel == nil {
		tel = metrics.New()
	}

	s := &Supervisor{
		cfg:       cfg,
		snapshots: snapshots,
		out:       out,
		tel:       tel,
		logger:    logger,
	}
	for _, symbol := range cfg.Symbols {
		s.trackers = append(s.trackers, newTracker(symbol, cfg, snapshots, out, tel, logger))
	}
	return s, nil
}

// Add registers an activity. It must be called before Run.
func (s *Supervisor) Add(name string, a Activity) {
	s.activities = append(s.activities, namedActivity{name: name, act: a})
}

// RouteTrades hands every pushed trade to r instead of the per-symbol
// deduplicators. It must be called before Run.
func (s *Supervisor) RouteTrades(r TradeRouter) {
	for _, t := range s.trackers {
		t.trades = r
	}
}

// Run blocks until ctx is done or an activity fails.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, t := range s.trackers {
		g.Go(func() error { return t.run(gctx) })
	}
	for _, a := range s.activities {
		g.Go(func() error {
			if err := a.act.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("activity %s: %w", a.name, err)
			}
			return nil
		})
	}
	if s.cfg.SampleInterval > 0 {
		g.Go(func() error { return s.emitTelemetry(gctx) })
	}

	s.logger.Info("supervisor running",
		"symbols", s.cfg.Symbols,
		"activities", len(s.activities),
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		s.logger.Error("supervisor stopped", "error", err)
	} else {
		s.logger.Info("supervisor stopped")
	}
	return err
}

// Start runs the supervisor in the background.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		err := s.Run(ctx)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return nil
}

// Stop cancels the supervisor and waits for it to finish or ctx to expire.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when a started supervisor's Run returns. It is nil before
// Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error Run returned, once Done is closed.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Status returns a per-symbol view ordered by symbol.
func (s *Supervisor) Status() []SymbolStatus {
	out := make([]SymbolStatus, 0, len(s.trackers))
	for _, t := range s.trackers {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// emitTelemetry stores latency percentiles every SampleInterval.
func (s *Supervisor) emitTelemetry(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, sample := range s.tel.Sample(now) {
				ev := model.Event{
					TsMs:    sample.TsMs,
					Kind:    model.KindTelemetry,
					Payload: sample,
				}
				if err := s.out.Append(ev); err != nil {
					s.tel.Increment(metrics.CounterSinkDropped)
				}
			}
		}
	}
}
