// Package store persists feed events as partitioned, zstd-compressed NDJSON.
//
// Layout: <dir>/symbol=<SYM>/date=YYYY-MM-DD/hour=HH/events.ndjson.zst (UTC).
// Every flush appends one independent zstd frame, so a file is a concatenation
// of frames that any zstd reader decodes as a single stream.
package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/sink"
)

// FileName is the name of every partition file.
const FileName = "events.ndjson.zst"

// Config configures the event store.
type Config struct {
	Dir              string        // Root directory
	CompressionLevel int           // zstd level (1-22)
	QueueSize        int           // Max queued events before Append fails
	FlushInterval    time.Duration // Max time events wait in the queue
	BatchSize        int           // Max events per flush
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:              "data",
		CompressionLevel: 3,
		QueueSize:        100000,
		FlushInterval:    time.Second,
		BatchSize:        5000,
	}
}

// line is the on-disk record.
type line struct {
	TsMs       int64           `json:"ts_ms"`
	Symbol     string          `json:"symbol"`
	Kind       model.EventKind `json:"kind"`
	Payload    any             `json:"payload,omitempty"`
	PayloadB64 string          `json:"payload_b64,omitempty"`
}

// Metrics holds store counters.
type Metrics struct {
	Written int64
	Flushes int64
	Errors  int64
}

// Store is a sink.Sink that writes events on its own goroutine.
type Store struct {
	cfg    Config
	logger *slog.Logger
	queue  *sink.Queue
	enc    *zstd.Encoder

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	metrics Metrics
}

// New creates the store root directory and an encoder.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = defaults.Dir
	}
	if cfg.CompressionLevel <= 0 {
		cfg.CompressionLevel = defaults.CompressionLevel
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &Store{
		cfg:    cfg,
		logger: logger,
		queue:  sink.NewQueue("store", cfg.QueueSize),
		enc:    enc,
	}, nil
}

// Append queues ev without blocking.
func (s *Store) Append(ev model.Event) error {
	return s.queue.Append(ev)
}

// Start begins draining the queue to disk.
func (s *Store) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("event store started",
		"dir", s.cfg.Dir,
		"compression_level", s.cfg.CompressionLevel,
	)
	return nil
}

// Stop drains what is left and closes the encoder.
func (s *Store) Stop(ctx context.Context) error {
	s.logger.Info("stopping event store")

	s.queue.Close()
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("event store stop timed out")
		return ctx.Err()
	}

	// Final flush
	for s.queue.Len() > 0 {
		s.flush()
	}
	s.logger.Info("event store stopped", "written", s.Stats().Written)
	return s.enc.Close()
}

// Stats returns store counters.
func (s *Store) Stats() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// QueueStats returns queue statistics.
func (s *Store) QueueStats() sink.BufferStats {
	return s.queue.Stats()
}

func (s *Store) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for s.flush() == s.cfg.BatchSize {
			}
		}
	}
}

// flush writes one batch and returns its size.
func (s *Store) flush() int {
	events := s.queue.Drain(s.cfg.BatchSize)
	if len(events) == 0 {
		return 0
	}

	written, err := s.WriteEvents(events)

	s.mu.Lock()
	s.metrics.Written += int64(written)
	s.metrics.Flushes++
	if err != nil {
		s.metrics.Errors++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("store flush failed", "error", err, "count", len(events), "written", written)
	}
	return len(events)
}

// WriteEvents synchronously appends events, one zstd frame per partition file.
// It is not safe to call concurrently with the flush loop.
func (s *Store) WriteEvents(events []model.Event) (int, error) {
	groups := make(map[string][]model.Event)
	for _, ev := range events {
		p := PartitionPath(s.cfg.Dir, ev.Symbol, ev.TsMs)
		groups[p] = append(groups[p], ev)
	}

	paths := make([]string, 0, len(groups))
	for p := range groups {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	written := 0
	var firstErr error
	for _, p := range paths {
		n, err := s.appendFrame(p, groups[p])
		written += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return written, firstErr
}

func (s *Store) appendFrame(path string, events []model.Event) (int, error) {
	var buf bytes.Buffer
	n := 0
	for _, ev := range events {
		data, err := MarshalEvent(ev)
		if err != nil {
			s.logger.Warn("dropping unencodable event", "kind", ev.Kind, "error", err)
			continue
		}
		buf.Write(data)
		buf.WriteByte('\n')
		n++
	}
	if n == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create partition: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	s.enc.Reset(f)
	if _, err := s.enc.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("compress %s: %w", path, err)
	}
	if err := s.enc.Close(); err != nil {
		return 0, fmt.Errorf("finish frame %s: %w", path, err)
	}
	return n, nil
}

// MarshalEvent encodes ev as one NDJSON record (without the trailing newline).
func MarshalEvent(ev model.Event) ([]byte, error) {
	l := line{TsMs: ev.TsMs, Symbol: ev.Symbol, Kind: ev.Kind}
	if ev.Raw != nil {
		l.PayloadB64 = base64.StdEncoding.EncodeToString(ev.Raw)
	} else {
		l.Payload = ev.Payload
	}
	return json.Marshal(l)
}

// PartitionPath returns the file an event for symbol at tsMs belongs to.
func PartitionPath(dir, symbol string, tsMs int64) string {
	t := time.UnixMilli(tsMs).UTC()
	return filepath.Join(dir,
		"symbol="+sanitize(symbol),
		"date="+t.Format("2006-01-02"),
		fmt.Sprintf("hour=%02d", t.Hour()),
		FileName,
	)
}

func sanitize(symbol string) string {
	if symbol == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, symbol)
}
