package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/rickgao/feedsync/internal/api"
	"github.com/rickgao/feedsync/internal/config"
	"github.com/rickgao/feedsync/internal/database"
	"github.com/rickgao/feedsync/internal/feed"
	"github.com/rickgao/feedsync/internal/logging"
	"github.com/rickgao/feedsync/internal/metrics"
	"github.com/rickgao/feedsync/internal/poller"
	"github.com/rickgao/feedsync/internal/publisher"
	"github.com/rickgao/feedsync/internal/sink"
	"github.com/rickgao/feedsync/internal/store"
	"github.com/rickgao/feedsync/internal/supervisor"
	"github.com/rickgao/feedsync/internal/version"
	"github.com/rickgao/feedsync/internal/writer"
)

// lifecycle is a background component stopped on shutdown.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/feedsync.local.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional env file loaded before the config")
	flag.Parse()

	// Bootstrap logger until the configured one exists
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load env file", "path", *envPath, "error", err)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	logger, logFile, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	// Runs last so deferred sink flushes finish before a failure exit
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()
	defer logFile.Close()
	slog.SetDefault(logger)

	logger.Info("starting feedsync",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"symbols", cfg.Exchange.Symbols,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	tel := metrics.New()

	apiClient := api.NewClient(
		cfg.Exchange.RestURL,
		api.WithAPIKey(cfg.Exchange.APIKey),
		api.WithLogger(logger),
		api.WithTimeout(cfg.Exchange.Timeout),
		api.WithRetries(cfg.Exchange.Retries(), time.Second),
		api.WithLatencyRecorder(tel),
	)

	// Sinks, started in order and stopped in reverse
	var (
		sinks      sink.Fanout
		components []lifecycle
		pool       *pgxpool.Pool
	)

	if cfg.Store.Enabled {
		st, err := store.New(store.Config{
			Dir:              cfg.Store.Dir,
			CompressionLevel: cfg.Store.CompressionLevel,
			QueueSize:        cfg.Store.QueueSize,
			FlushInterval:    cfg.Store.FlushInterval,
			BatchSize:        store.DefaultConfig().BatchSize,
		}, logger)
		if err != nil {
			logger.Error("failed to open event store", "dir", cfg.Store.Dir, "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, st)
		components = append(components, st)
		logger.Info("event store enabled", "dir", cfg.Store.Dir)
	}

	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}

		writerCfg := writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			QueueSize:     cfg.Writers.BufferSize,
		}
		trades := writer.NewTradeWriter(writerCfg, pool, tel, logger)
		books := writer.NewBookWriter(writerCfg, pool, tel, logger)
		sinks = append(sinks, trades, books)
		components = append(components, trades, books)
		logger.Info("database writers enabled")
	}

	if cfg.Kafka.Enabled {
		pubCfg := publisher.DefaultConfig()
		pubCfg.Brokers = cfg.Kafka.Brokers
		pubCfg.Topic = cfg.Kafka.Topic
		if cfg.Kafka.BatchSize > 0 {
			pubCfg.BatchSize = cfg.Kafka.BatchSize
		}
		if cfg.Kafka.BatchTimeout > 0 {
			pubCfg.BatchTimeout = cfg.Kafka.BatchTimeout
		}
		pub := publisher.New(pubCfg, logger)
		sinks = append(sinks, pub)
		components = append(components, pub)
		logger.Info("kafka publisher enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	if len(sinks) == 0 {
		logger.Warn("no sinks enabled, events will be discarded")
	}

	// Sinks outlive the signal so the supervisor's last events are flushed
	sinkCtx := context.WithoutCancel(ctx)
	for _, c := range components {
		if err := c.Start(sinkCtx); err != nil {
			logger.Error("failed to start sink", "error", err)
			os.Exit(1)
		}
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		for i := len(components) - 1; i >= 0; i-- {
			if err := components[i].Stop(shutdownCtx); err != nil {
				logger.Error("failed to stop sink", "error", err)
			}
		}
	}()

	sup, err := supervisor.New(supervisorConfig(cfg), apiClient, sinks, tel, logger)
	if err != nil {
		logger.Error("failed to create supervisor", "error", err)
		os.Exit(1)
	}

	if cfg.Trades.Enabled {
		pollCfg := poller.DefaultConfig()
		pollCfg.Symbols = cfg.Exchange.Symbols
		pollCfg.Interval = cfg.Trades.PollInterval
		pollCfg.Limit = cfg.Trades.Limit
		pollCfg.DedupCapacity = cfg.Trades.DedupCapacity
		pollCfg.TrustIDs = cfg.Trades.TrustExchangeIDs()
		pollCfg.MergePushed = true
		trades := poller.New(pollCfg, apiClient, sinks, tel, logger)
		sup.RouteTrades(trades)
		sup.Add("trade_poller", trades)
	}
	if cfg.Clock.Enabled {
		sup.Add("clock_sampler", poller.NewClockSampler(cfg.Clock.Interval, cfg.Exchange.Symbols, apiClient, sinks, tel, logger))
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(cfg.Metrics.Path, sup, pool, tel),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	if err := sup.Start(ctx); err != nil {
		logger.Error("failed to start supervisor", "error", err)
		os.Exit(1)
	}

	logger.Info("feedsync running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case <-sup.Done():
		logger.Error("supervisor exited, shutting down", "error", sup.Err())
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Error("supervisor stopped with error", "error", err)
	}
	healthServer.Shutdown(shutdownCtx)

	logger.Info("feedsync stopped", "counters", tel.Counters())
}

// supervisorConfig maps the file config onto the supervisor.
func supervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		Symbols: cfg.Exchange.Symbols,
		Feed: feed.Config{
			URL:              cfg.Exchange.WSURL,
			Interval:         cfg.Feed.Interval,
			LimitDepth:       cfg.Feed.LimitDepth,
			PingInterval:     cfg.Feed.PingInterval,
			SubscribeTimeout: cfg.Feed.SubscribeTimeout,
			ReadTimeout:      cfg.Feed.ReadTimeout,
			BufferSize:       cfg.Feed.BufferSize,
		},
		DepthLimit:             cfg.Exchange.DepthLimit,
		FastForwardTolerance:   cfg.Feed.Tolerance(),
		ReconnectBase:          cfg.Feed.ReconnectBaseDelay,
		ReconnectCapMultiplier: cfg.Feed.ReconnectCapMultiplier,
		ReconnectJitter:        cfg.Feed.ReconnectJitter,
		SustainedSession:       cfg.Feed.SustainedSession,
		ResyncBase:             cfg.Feed.ResyncBaseDelay,
		ResyncCapMultiplier:    cfg.Feed.ResyncCapMultiplier,
		DedupCapacity:          cfg.Trades.DedupCapacity,
		TrustIDs:               cfg.Trades.TrustExchangeIDs(),
		SampleInterval:         cfg.Metrics.SampleInterval,
	}
}

// createHealthHandler serves /health and the Prometheus endpoint.
func createHealthHandler(metricsPath string, sup *supervisor.Supervisor, pool *pgxpool.Pool, tel *metrics.Telemetry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                    `json:"status"`
			Symbols    []supervisor.SymbolStatus `json:"symbols"`
			Components map[string]interface{}    `json:"components"`
		}{
			Status:     "healthy",
			Symbols:    sup.Status(),
			Components: make(map[string]interface{}),
		}

		for _, st := range health.Symbols {
			if !st.Synced() {
				health.Status = "degraded"
			}
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["timescaledb"] = "connected"
			}
		}
		health.Components["counters"] = tel.Counters()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle(metricsPath, tel.Handler())

	return mux
}
