// streamtest opens one feed session and prints decoded messages to the console.
// Usage: go run ./cmd/streamtest --config configs/feedsync.local.yaml --symbol BTCUSDT
//
// It does not bootstrap or reconcile a book; use it to inspect the raw feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/feedsync/internal/config"
	"github.com/rickgao/feedsync/internal/feed"
	"github.com/rickgao/feedsync/internal/metrics"
	"github.com/rickgao/feedsync/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/feedsync.local.yaml", "path to config file")
	symbol := flag.String("symbol", "", "symbol to stream (default: first configured symbol)")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *symbol == "" {
		if len(cfg.Exchange.Symbols) == 0 {
			logger.Error("no symbol given and none configured")
			os.Exit(1)
		}
		*symbol = cfg.Exchange.Symbols[0]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	tel := metrics.New()
	session := feed.New(feed.Config{
		URL:              cfg.Exchange.WSURL,
		Symbol:           *symbol,
		Interval:         cfg.Feed.Interval,
		LimitDepth:       cfg.Feed.LimitDepth,
		PingInterval:     cfg.Feed.PingInterval,
		SubscribeTimeout: cfg.Feed.SubscribeTimeout,
		ReadTimeout:      cfg.Feed.ReadTimeout,
		BufferSize:       cfg.Feed.BufferSize,
	}, feed.WithTelemetry(tel), feed.WithLogger(logger))

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := session.Stats()
				logger.Info("stats",
					"state", session.State().String(),
					"frames", st.Frames,
					"deltas", st.Deltas,
					"snapshots", st.Snapshots,
					"trades", st.Trades,
					"malformed", st.MalformedFrames,
					"last_rtt", st.LastRTT,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "symbol", *symbol, "url", cfg.Exchange.WSURL)

	err = session.Run(ctx, printer{verbose: *verbose})
	if ctx.Err() == nil {
		logger.Error("session ended", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete", "counters", tel.Counters())
}

// printer writes every data message to stdout.
type printer struct {
	verbose bool
}

func (p printer) Streaming(ctx context.Context) error {
	fmt.Println("[SUBSCRIBED]")
	return nil
}

func (p printer) HandleMessage(ctx context.Context, m wire.Message) error {
	if p.verbose {
		data, _ := json.MarshalIndent(m, "", "  ")
		fmt.Printf("[%s] %s\n", wire.Kind(m), data)
		return nil
	}

	switch m := m.(type) {
	case *wire.Delta:
		fmt.Printf("[DELTA] symbol=%s from=%d to=%d bids=%d asks=%d\n",
			m.Symbol, m.FromVersion, m.ToVersion, len(m.Bids), len(m.Asks))
	case *wire.Snapshot:
		fmt.Printf("[SNAPSHOT] symbol=%s version=%d bids=%d asks=%d\n",
			m.Symbol, m.Version, len(m.Bids), len(m.Asks))
	case *wire.Trades:
		for _, t := range m.Trades {
			fmt.Printf("[TRADE] symbol=%s price=%g qty=%g side=%s time=%s\n",
				m.Symbol, t.Price, t.Quantity, t.Side, t.ExchangeTime.Format(time.RFC3339Nano))
		}
	}
	return nil
}
