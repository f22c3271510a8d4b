package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/feedsync/internal/model"
)

// Latency channels.
const (
	ChannelWS   = "ws"
	ChannelREST = "rest"
)

// Counter names.
const (
	CounterGaps             = "gaps"
	CounterResyncs          = "resyncs"
	CounterReconnects       = "reconnects"
	CounterMalformedFrames  = "malformed_frames"
	CounterMalformedUpdates = "malformed_updates"
	CounterStaleDeltas      = "stale_deltas"
	CounterFastForwards     = "fast_forwards"
	CounterCrossedBooks     = "crossed_books"
	CounterTradesAdmitted   = "trades_admitted"
	CounterTradesRejected   = "trades_rejected"
	CounterSinkDropped      = "sink_dropped"
	CounterSnapshotFailures = "snapshot_failures"
)

// Histogram bounds in ms.
const (
	maxWSLatencyMs   = 10_000
	maxRESTLatencyMs = 60_000
	sigFigs          = 3
)

// histogram is an HDR histogram guarded by its own mutex.
type histogram struct {
	mu sync.Mutex
	h  *hdrhistogram.Histogram
}

func newHistogram(maxMs int64) *histogram {
	return &histogram{h: hdrhistogram.New(1, maxMs, sigFigs)}
}

func (h *histogram) record(ms int64) {
	if ms < 1 {
		ms = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if ms > h.h.HighestTrackableValue() {
		ms = h.h.HighestTrackableValue()
	}
	_ = h.h.RecordValue(ms)
}

func (h *histogram) sample(kind string, now time.Time) model.TelemetrySample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return model.TelemetrySample{
		TsMs:  now.UnixMilli(),
		Kind:  kind,
		P50:   float64(h.h.ValueAtQuantile(50)),
		P95:   float64(h.h.ValueAtQuantile(95)),
		P99:   float64(h.h.ValueAtQuantile(99)),
		Count: uint64(h.h.TotalCount()),
	}
}

// Telemetry is the shared telemetry sink. It is safe for concurrent use.
type Telemetry struct {
	histMu     sync.Mutex
	histograms map[string]*histogram

	countMu  sync.Mutex
	counters map[string]int64

	registry    *prometheus.Registry
	latency     *prometheus.HistogramVec
	events      *prometheus.CounterVec
	bestPrice   *prometheus.GaugeVec
	bookLevels  *prometheus.GaugeVec
	clockOffset prometheus.Gauge
	writerRows  *prometheus.CounterVec
}

// New creates a Telemetry with its own Prometheus registry.
func New() *Telemetry {
	t := &Telemetry{
		histograms: map[string]*histogram{
			ChannelWS:   newHistogram(maxWSLatencyMs),
			ChannelREST: newHistogram(maxRESTLatencyMs),
		},
		counters: make(map[string]int64),
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedsync_rtt_ms",
			Help:    "Round-trip latency by channel",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		}, []string{"channel"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_events_total",
			Help: "Feed events by name (gaps, resyncs, reconnects, ...)",
		}, []string{"name"}),
		bestPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedsync_best_price",
			Help: "Best bid/ask price by symbol",
		}, []string{"symbol", "side"}),
		bookLevels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedsync_book_levels",
			Help: "Number of price levels by symbol and side",
		}, []string{"symbol", "side"}),
		clockOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_clock_offset_ms",
			Help: "Exchange clock minus local clock in ms",
		}),
		writerRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_writer_rows_total",
			Help: "Rows handled by downstream writers by writer and outcome",
		}, []string{"writer", "outcome"}),
	}

	t.registry.MustRegister(
		t.latency,
		t.events,
		t.bestPrice,
		t.bookLevels,
		t.clockOffset,
		t.writerRows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return t
}

// RecordLatency records a round-trip time for channel.
func (t *Telemetry) RecordLatency(channel string, ms int64) {
	t.histogram(channel).record(ms)
	t.latency.WithLabelValues(channel).Observe(float64(ms))
}

// Increment bumps the named counter by one.
func (t *Telemetry) Increment(name string) {
	t.Add(name, 1)
}

// Add bumps the named counter by n.
func (t *Telemetry) Add(name string, n int64) {
	if n <= 0 {
		return
	}
	t.countMu.Lock()
	t.counters[name] += n
	t.countMu.Unlock()
	t.events.WithLabelValues(name).Add(float64(n))
}

// Count returns the current value of a counter.
func (t *Telemetry) Count(name string) int64 {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	return t.counters[name]
}

// Counters returns a copy of all counters.
func (t *Telemetry) Counters() map[string]int64 {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	out := make(map[string]int64, len(t.counters))
	for k, v := range t.counters {
		out[k] = v
	}
	return out
}

// Sample returns latency percentiles for every channel that has data,
// ordered by channel name.
func (t *Telemetry) Sample(now time.Time) []model.TelemetrySample {
	t.histMu.Lock()
	names := make([]string, 0, len(t.histograms))
	for name := range t.histograms {
		names = append(names, name)
	}
	t.histMu.Unlock()
	sort.Strings(names)

	samples := make([]model.TelemetrySample, 0, len(names))
	for _, name := range names {
		s := t.histogram(name).sample(name, now)
		if s.Count == 0 {
			continue
		}
		samples = append(samples, s)
	}
	return samples
}

// SetClockOffset records the latest exchange clock offset.
func (t *Telemetry) SetClockOffset(ms int64) {
	t.clockOffset.Set(float64(ms))
}

// ObserveBook exports top-of-book for symbol. Absent sides are exported as 0.
func (t *Telemetry) ObserveBook(symbol string, bid, ask model.PriceLevel, bidLevels, askLevels int) {
	t.bestPrice.WithLabelValues(symbol, "bid").Set(bid.Price)
	t.bestPrice.WithLabelValues(symbol, "ask").Set(ask.Price)
	t.bookLevels.WithLabelValues(symbol, "bid").Set(float64(bidLevels))
	t.bookLevels.WithLabelValues(symbol, "ask").Set(float64(askLevels))
}

// RecordWriterRows counts rows handled by a downstream writer.
func (t *Telemetry) RecordWriterRows(writer, outcome string, n int) {
	if n <= 0 {
		return
	}
	t.writerRows.WithLabelValues(writer, outcome).Add(float64(n))
}

// Handler returns the /metrics HTTP handler.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *Telemetry) histogram(channel string) *histogram {
	t.histMu.Lock()
	defer t.histMu.Unlock()
	h, ok := t.histograms[channel]
	if !ok {
		h = newHistogram(maxRESTLatencyMs)
		t.histograms[channel] = h
	}
	return h
}
