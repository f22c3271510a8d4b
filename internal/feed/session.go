package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/feedsync/internal/connection"
	"github.com/rickgao/feedsync/internal/dedup"
	"github.com/rickgao/feedsync/internal/metrics"
	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/sink"
	"github.com/rickgao/feedsync/internal/wire"
)

// Session is a single subscribe-and-stream lifecycle. It is not reusable.
type Session struct {
	id     string
	cfg    Config
	logger *slog.Logger

	tel   Telemetry
	raw   sink.Sink              // Archive for undecodable frames, may be nil
	dedup *dedup.Deduplicator    // Pushed-trade filter, may be nil
	dial  func() connection.Client

	state atomic.Int32
	ran   atomic.Bool

	// Outstanding keep-alive probe
	probeMu     sync.Mutex
	probeSentAt time.Time

	statsMu sync.Mutex
	stats   Stats
}

// Option configures a Session.
type Option func(*Session)

// WithTelemetry sets the telemetry sink.
func WithTelemetry(t Telemetry) Option {
	return func(s *Session) { s.tel = t }
}

// WithRawSink archives frames that fail to decode.
func WithRawSink(out sink.Sink) Option {
	return func(s *Session) { s.raw = out }
}

// WithDeduplicator filters pushed trades. The deduplicator may outlive the
// session but must not be used by anything else while the session runs.
func WithDeduplicator(d *dedup.Deduplicator) Option {
	return func(s *Session) { s.dedup = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates a Session for cfg.Symbol.
func New(cfg Config, opts ...Option) *Session {
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = defaults.SubscribeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}

	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		logger: slog.Default(),
		tel:    nopTelemetry{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id, "symbol", cfg.Symbol)

	s.dial = func() connection.Client {
		return connection.NewClient(connection.ClientConfig{
			URL:          cfg.URL,
			PingInterval: cfg.PingInterval,
			PingTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			BufferSize:   cfg.BufferSize,
		}, s.logger)
	}
	return s
}

// ID returns the session's unique ID.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("session state", "from", prev.String(), "to", st.String())
	}
}

// Run connects, subscribes and streams until the session ends. It always
// returns a non-nil error describing why.
func (s *Session) Run(ctx context.Context, h Handler) error {
	if !s.ran.CompareAndSwap(false, true) {
		return errors.New("session already run")
	}

	s.setState(StateConnecting)
	defer s.setState(StateClosed)

	client := s.dial()
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("%w: connect: %v", ErrTransport, err)
	}
	defer func() {
		s.setState(StateClosing)
		client.Close()
	}()

	s.logger.Info("session connected", "url", s.cfg.URL)

	pending, err := s.subscribe(ctx, client)
	if err != nil {
		return err
	}
	s.setState(StateSubscribed)

	if err := h.Streaming(ctx); err != nil {
		return err
	}
	s.setState(StateStreaming)

	keepaliveErr := make(chan error, 1)
	kaCtx, kaCancel := context.WithCancel(ctx)
	defer kaCancel()
	go s.keepalive(kaCtx, client, keepaliveErr)

	for _, f := range pending {
		if err := s.handleFrame(ctx, client, h, f); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-client.Errors():
			return fmt.Errorf("%w: %v", ErrTransport, err)
		case err := <-keepaliveErr:
			return fmt.Errorf("%w: keep-alive: %v", ErrTransport, err)
		case f := <-client.Frames():
			if err := s.handleFrame(ctx, client, h, f); err != nil {
				return err
			}
		}
	}
}

// subscribe sends the subscription request and waits for its ack. Data frames
// that arrive first are returned so they are handled in order afterwards.
func (s *Session) subscribe(ctx context.Context, client connection.Client) ([]connection.Frame, error) {
	channels := s.cfg.Channels()
	req, err := wire.SubscribeFrame(channels...)
	if err != nil {
		return nil, err
	}
	if err := client.Send(req); err != nil {
		return nil, fmt.Errorf("%w: send subscribe: %v", ErrTransport, err)
	}

	timer := time.NewTimer(s.cfg.SubscribeTimeout)
	defer timer.Stop()

	var pending []connection.Frame
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w after %s", ErrSubscribeTimeout, s.cfg.SubscribeTimeout)
		case err := <-client.Errors():
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		case f := <-client.Frames():
			switch f.Type {
			case connection.FrameClose:
				return nil, &CloseError{Code: f.CloseCode, Reason: string(f.Data)}
			case connection.FrameBinary:
				pending = append(pending, f)
				continue
			}

			m, err := wire.DecodeText(f.Data)
			if err != nil {
				s.malformed(f, err)
				continue
			}
			switch m := m.(type) {
			case *wire.Ack:
				if !m.Succeeded() {
					return nil, fmt.Errorf("%w: code %d: %s", ErrSubscribeRejected, m.Code, m.Msg)
				}
				s.logger.Info("subscribed", "channels", channels)
				return pending, nil
			case *wire.Ping:
				s.answerPing(client)
			default:
				pending = append(pending, f)
			}
		}
	}
}

// handleFrame decodes and dispatches one inbound frame.
func (s *Session) handleFrame(ctx context.Context, client connection.Client, h Handler, f connection.Frame) error {
	s.count(func(st *Stats) { st.Frames++ })

	switch f.Type {
	case connection.FrameClose:
		return &CloseError{Code: f.CloseCode, Reason: string(f.Data)}

	case connection.FrameText:
		m, err := wire.DecodeText(f.Data)
		if err != nil {
			s.malformed(f, err)
			return nil
		}
		return s.dispatch(ctx, client, h, f, m)

	default:
		m, err := wire.DecodeBinary(f.Data, f.ReceivedAt)
		if err != nil {
			s.malformed(f, err)
			return nil
		}
		return s.dispatch(ctx, client, h, f, m)
	}
}

func (s *Session) dispatch(ctx context.Context, client connection.Client, h Handler, f connection.Frame, m wire.Message) error {
	switch m := m.(type) {
	case *wire.Ping:
		s.answerPing(client)
		return nil

	case *wire.Pong:
		s.completeProbe(f.ReceivedAt)
		return nil

	case *wire.Ack:
		if !m.Succeeded() {
			s.logger.Warn("request rejected", "code", m.Code, "msg", m.Msg)
		}
		return nil

	case *wire.Close:
		return &CloseError{Code: m.Code, Reason: m.Reason}

	case *wire.Delta:
		if !s.ownSymbol(m.Symbol) {
			return nil
		}
		s.count(func(st *Stats) { st.Deltas++ })
		return h.HandleMessage(ctx, m)

	case *wire.Snapshot:
		if !s.ownSymbol(m.Symbol) {
			return nil
		}
		s.count(func(st *Stats) { st.Snapshots++ })
		return h.HandleMessage(ctx, m)

	case *wire.Trades:
		if !s.ownSymbol(m.Symbol) {
			return nil
		}
		if s.dedup != nil {
			total := len(m.Trades)
			m.Trades = s.dedup.Filter(m.Trades)
			s.tel.Add(metrics.CounterTradesAdmitted, int64(len(m.Trades)))
			s.tel.Add(metrics.CounterTradesRejected, int64(total-len(m.Trades)))
		}
		admitted := len(m.Trades)
		s.count(func(st *Stats) { st.Trades += int64(admitted) })
		if admitted == 0 {
			return nil
		}
		return h.HandleMessage(ctx, m)

	default:
		s.logger.Debug("ignoring message", "kind", wire.Kind(m))
		return nil
	}
}

func (s *Session) ownSymbol(symbol string) bool {
	if symbol == "" || symbol == s.cfg.Symbol {
		return true
	}
	s.logger.Warn("dropping frame for foreign symbol", "frame_symbol", symbol)
	return false
}

func (s *Session) malformed(f connection.Frame, err error) {
	s.count(func(st *Stats) { st.MalformedFrames++ })
	s.tel.Increment(metrics.CounterMalformedFrames)
	s.logger.Warn("dropping malformed frame",
		"type", f.Type.String(),
		"bytes", len(f.Data),
		"error", err,
	)

	if s.raw == nil || f.Type != connection.FrameBinary {
		return
	}
	ev := model.Event{
		Symbol: s.cfg.Symbol,
		TsMs:   f.ReceivedAt.UnixMilli(),
		Kind:   model.KindRawFrame,
		Raw:    f.Data,
	}
	if err := s.raw.Append(ev); err != nil {
		s.tel.Increment(metrics.CounterSinkDropped)
	}
}

func (s *Session) answerPing(client connection.Client) {
	s.count(func(st *Stats) { st.PeerPings++ })
	if err := client.Send(wire.PongFrame()); err != nil {
		s.logger.Warn("failed to answer ping", "error", err)
	}
}

// keepalive sends a PING every PingInterval. A send failure ends the session.
func (s *Session) keepalive(ctx context.Context, client connection.Client, errCh chan<- error) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeMu.Lock()
			s.probeSentAt = time.Now()
			s.probeMu.Unlock()

			if err := client.Send(wire.PingFrame()); err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			s.count(func(st *Stats) { st.Probes++ })
		}
	}
}

// completeProbe records the RTT of the outstanding probe, if any.
func (s *Session) completeProbe(receivedAt time.Time) {
	s.probeMu.Lock()
	sent := s.probeSentAt
	s.probeSentAt = time.Time{}
	s.probeMu.Unlock()

	if sent.IsZero() {
		return
	}
	rtt := receivedAt.Sub(sent)
	if rtt < 0 {
		rtt = 0
	}
	s.tel.RecordLatency(metrics.ChannelWS, rtt.Milliseconds())
	s.count(func(st *Stats) { st.LastRTT = rtt })
	s.logger.Debug("keep-alive rtt", "rtt", rtt)
}

func (s *Session) count(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

type nopTelemetry struct{}

func (nopTelemetry) RecordLatency(string, int64) {}
func (nopTelemetry) Increment(string)            {}
func (nopTelemetry) Add(string, int64)           {}
