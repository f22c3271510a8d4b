package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/sink"
)

// TimeSource reads the exchange clock. Satisfied by *api.Client.
type TimeSource interface {
	GetServerTime(ctx context.Context) (time.Time, error)
}

// OffsetGauge receives the latest clock offset. Satisfied by *metrics.Telemetry.
type OffsetGauge interface {
	SetClockOffset(ms int64)
}

// ClockSampler periodically measures exchange clock skew.
type ClockSampler struct {
	interval time.Duration
	timeout  time.Duration
	symbols  []string
	source   TimeSource
	sink     sink.Sink
	gauge    OffsetGauge
	logger   *slog.Logger

	// now is replaced in tests
	now func() time.Time
}

// NewClockSampler creates a sampler. Samples are stored under every symbol so
// each partition carries its own skew history. gauge may be nil.
func NewClockSampler(interval time.Duration, symbols []string, source TimeSource, out sink.Sink, gauge OffsetGauge, logger *slog.Logger) *ClockSampler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ClockSampler{
		interval: interval,
		timeout:  10 * time.Second,
		symbols:  symbols,
		source:   source,
		sink:     out,
		gauge:    gauge,
		logger:   logger,
		now:      time.Now,
	}
}

// Run samples until ctx is cancelled. It always returns nil.
func (c *ClockSampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sampleOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sampleOnce(ctx)
		}
	}
}

func (c *ClockSampler) sampleOnce(ctx context.Context) {
	sample, err := c.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("clock sample failed", "error", err)
		}
		return
	}

	if c.gauge != nil {
		c.gauge.SetClockOffset(sample.OffsetMs)
	}
	c.logger.Debug("clock sample", "offset_ms", sample.OffsetMs)

	for _, symbol := range c.symbols {
		ev := model.Event{
			Symbol:  symbol,
			TsMs:    sample.LocalMs,
			Kind:    model.KindClockSkew,
			Payload: sample,
		}
		if err := c.sink.Append(ev); err != nil {
			c.logger.Warn("dropping clock sample", "symbol", symbol, "error", err)
		}
	}
}

// Sample takes one measurement. The local reference is the midpoint between
// sending the request and receiving the response.
func (c *ClockSampler) Sample(ctx context.Context) (model.ClockSkewSample, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	before := c.now()
	server, err := c.source.GetServerTime(reqCtx)
	if err != nil {
		return model.ClockSkewSample{}, err
	}
	after := c.now()

	local := before.Add(after.Sub(before) / 2).UnixMilli()
	serverMs := server.UnixMilli()
	return model.ClockSkewSample{
		LocalMs:  local,
		ServerMs: serverMs,
		OffsetMs: serverMs - local,
	}, nil
}
