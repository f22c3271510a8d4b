// Package publisher forwards feed events to a Kafka topic.
//
// Messages are keyed by symbol so a partition preserves per-symbol order. The
// value is the same JSON record the event store writes.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/sink"
	"github.com/rickgao/feedsync/internal/store"
)

// Config configures the publisher.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	QueueSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Topic:        "feedsync.events",
		BatchSize:    500,
		BatchTimeout: 50 * time.Millisecond,
		QueueSize:    100000,
	}
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Metrics holds publisher counters.
type Metrics struct {
	Published int64
	Errors    int64
	Dropped   int64
}

// Publisher is a sink.Sink that publishes events to Kafka.
type Publisher struct {
	cfg    Config
	logger *slog.Logger
	input  *sink.Queue
	writer MessageWriter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	metrics Metrics
}

// New creates a publisher backed by a kafka.Writer.
func New(cfg Config, logger *slog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}
	return NewWithWriter(cfg, w, logger)
}

// NewWithWriter creates a publisher using an existing writer.
func NewWithWriter(cfg Config, w MessageWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger,
		input:  sink.NewQueue("publisher", cfg.QueueSize),
		writer: w,
	}
}

// Append queues ev without blocking.
func (p *Publisher) Append(ev model.Event) error {
	return p.input.Append(ev)
}

// Start begins publishing queued events.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.publishLoop()

	p.logger.Info("publisher started", "topic", p.cfg.Topic, "brokers", p.cfg.Brokers)
	return nil
}

// Stop publishes what is left and closes the writer.
func (p *Publisher) Stop(ctx context.Context) error {
	p.logger.Info("stopping publisher")

	p.input.Close()
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
	case <-ctx.Done():
		p.logger.Warn("publisher stop timed out")
		return ctx.Err()
	}

	for p.input.Len() > 0 {
		p.publish(ctx, p.input.Drain(p.cfg.BatchSize))
	}
	p.logger.Info("publisher stopped", "published", p.Stats().Published)
	return p.writer.Close()
}

// Stats returns publisher counters.
func (p *Publisher) Stats() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *Publisher) publishLoop() {
	defer p.wg.Done()

	for {
		events := p.input.Drain(p.cfg.BatchSize)
		if len(events) == 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		p.publish(p.ctx, events)
	}
}

func (p *Publisher) publish(ctx context.Context, events []model.Event) {
	if len(events) == 0 {
		return
	}

	msgs := make([]kafka.Message, 0, len(events))
	dropped := 0
	for _, ev := range events {
		msg, err := toMessage(ev)
		if err != nil {
			p.logger.Warn("dropping unencodable event", "kind", ev.Kind, "error", err)
			dropped++
			continue
		}
		msgs = append(msgs, msg)
	}

	var err error
	if len(msgs) > 0 {
		err = p.writer.WriteMessages(ctx, msgs...)
	}

	p.mu.Lock()
	p.metrics.Dropped += int64(dropped)
	if err != nil {
		p.metrics.Errors++
	} else {
		p.metrics.Published += int64(len(msgs))
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("publish failed", "error", err, "count", len(msgs))
	}
}

func toMessage(ev model.Event) (kafka.Message, error) {
	value, err := store.MarshalEvent(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.Symbol),
		Value: value,
		Time:  time.UnixMilli(ev.TsMs),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}, nil
}
