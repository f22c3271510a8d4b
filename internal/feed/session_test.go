package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/feedsync/internal/dedup"
	"github.com/rickgao/feedsync/internal/metrics"
	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/sink"
	"github.com/rickgao/feedsync/internal/wire"
)

const ackOK = `{"id":0,"code":0,"msg":"spot@public.aggre.depth.v3.api.pb@100ms@BTCUSDT"}`

func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// drain keeps reading so control frames are processed, answering PINGs.
func drain(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if strings.Contains(string(msg), wire.MethodPing) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"id":0,"code":0,"msg":"PONG"}`)); err != nil {
				return
			}
		}
	}
}

func acceptSubscribe(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	assert.Contains(t, string(msg), wire.MethodSubscription)
	_ = conn.WriteMessage(websocket.TextMessage, []byte(ackOK))
}

func encode(t *testing.T, m wire.Message) []byte {
	t.Helper()
	b, err := wire.EncodeBinary(m)
	require.NoError(t, err)
	return b
}

func testDelta(from, to uint64) *wire.Delta {
	return &wire.Delta{
		Header:      wire.Header{Channel: wire.DepthChannel("BTCUSDT", ""), Symbol: "BTCUSDT"},
		FromVersion: from,
		ToVersion:   to,
		Bids:        []model.PriceLevel{{Price: 100, Quantity: 1}},
	}
}

type recordingHandler struct {
	mu        sync.Mutex
	streaming int
	messages  []wire.Message
	got       chan wire.Message
	failOn    string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan wire.Message, 16)}
}

func (h *recordingHandler) Streaming(ctx context.Context) error {
	h.mu.Lock()
	h.streaming++
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) HandleMessage(ctx context.Context, m wire.Message) error {
	h.mu.Lock()
	h.messages = append(h.messages, m)
	h.mu.Unlock()
	h.got <- m
	if h.failOn != "" && wire.Kind(m) == h.failOn {
		return errors.New("handler failed")
	}
	return nil
}

func (h *recordingHandler) wait(t *testing.T) wire.Message {
	t.Helper()
	select {
	case m := <-h.got:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func testConfig(url string) Config {
	return Config{
		URL:              url,
		Symbol:           "BTCUSDT",
		PingInterval:     time.Hour,
		SubscribeTimeout: time.Second,
		ReadTimeout:      2 * time.Hour,
	}
}

func runAsync(ctx context.Context, s *Session, h Handler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, h) }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestConfig_Channels(t *testing.T) {
	cfg := Config{Symbol: "ETHUSDT"}
	assert.Equal(t, []string{
		"spot@public.aggre.depth.v3.api.pb@100ms@ETHUSDT",
		"spot@public.aggre.deals.v3.api.pb@100ms@ETHUSDT",
	}, cfg.Channels())

	cfg.LimitDepth = 20
	cfg.Interval = "10ms"
	assert.Equal(t, []string{
		"spot@public.aggre.depth.v3.api.pb@10ms@ETHUSDT",
		"spot@public.aggre.deals.v3.api.pb@10ms@ETHUSDT",
		"spot@public.limit.depth.v3.api.pb@ETHUSDT@20",
	}, cfg.Channels())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestSession_StreamsAfterAck(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		acceptSubscribe(t, conn)
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, testDelta(10, 11)))
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, testDelta(12, 12)))
		drain(conn)
	})

	s := New(testConfig(wsURL(server)))
	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s, h)

	first, ok := h.wait(t).(*wire.Delta)
	require.True(t, ok)
	assert.Equal(t, uint64(11), first.ToVersion)
	second, ok := h.wait(t).(*wire.Delta)
	require.True(t, ok)
	assert.Equal(t, uint64(12), second.FromVersion)

	assert.Equal(t, StateStreaming, s.State())
	h.mu.Lock()
	assert.Equal(t, 1, h.streaming)
	h.mu.Unlock()

	cancel()
	err := waitErr(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int64(2), s.Stats().Deltas)
}

func TestSession_RunOnce(t *testing.T) {
	s := New(testConfig("ws://127.0.0.1:1"))
	_ = s.Run(context.Background(), newRecordingHandler())
	err := s.Run(context.Background(), newRecordingHandler())
	assert.EqualError(t, err, "session already run")
}

func TestSession_ConnectFailure(t *testing.T) {
	s := New(testConfig("ws://127.0.0.1:1"))
	err := s.Run(context.Background(), newRecordingHandler())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_SubscribeRejected(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":0,"code":1,"msg":"Blocked"}`))
		drain(conn)
	})

	h := newRecordingHandler()
	err := New(testConfig(wsURL(server))).Run(context.Background(), h)
	assert.ErrorIs(t, err, ErrSubscribeRejected)
	assert.Zero(t, h.streaming)
}

func TestSession_SubscribeTimeout(t *testing.T) {
	server := mockWSServer(t, drain)

	cfg := testConfig(wsURL(server))
	cfg.SubscribeTimeout = 100 * time.Millisecond
	err := New(cfg).Run(context.Background(), newRecordingHandler())
	assert.ErrorIs(t, err, ErrSubscribeTimeout)
}

func TestSession_DataBeforeAckIsKept(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, testDelta(5, 6)))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(ackOK))
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, testDelta(7, 7)))
		drain(conn)
	})

	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, New(testConfig(wsURL(server))), h)

	assert.Equal(t, uint64(6), h.wait(t).(*wire.Delta).ToVersion)
	assert.Equal(t, uint64(7), h.wait(t).(*wire.Delta).ToVersion)
	cancel()
	waitErr(t, done)
}

func TestSession_AnswersPeerPing(t *testing.T) {
	pong := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		acceptSubscribe(t, conn)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"PING"}`))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			pong <- string(msg)
		}
		drain(conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(testConfig(wsURL(server)))
	done := runAsync(ctx, s, newRecordingHandler())

	select {
	case msg := <-pong:
		assert.Contains(t, msg, "PONG")
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}
	cancel()
	waitErr(t, done)
	assert.Equal(t, int64(1), s.Stats().PeerPings)
}

func TestSession_KeepaliveRecordsRTT(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		acceptSubscribe(t, conn)
		drain(conn)
	})

	tel := metrics.New()
	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 50 * time.Millisecond
	s := New(cfg, WithTelemetry(tel))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s, newRecordingHandler())

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.Probes > 0 && st.LastRTT > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	waitErr(t, done)
}

func TestSession_MalformedFrameArchivedAndSkipped(t *testing.T) {
	garbage := []byte{0xff, 0xff, 0xff}
	server := mockWSServer(t, func(conn *websocket.Conn) {
		acceptSubscribe(t, conn)
		_ = conn.WriteMessage(websocket.BinaryMessage, garbage)
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, testDelta(1, 2)))
		drain(conn)
	})

	var (
		mu       sync.Mutex
		archived []model.Event
	)
	raw := sink.Func(func(ev model.Event) error {
		mu.Lock()
		archived = append(archived, ev)
		mu.Unlock()
		return nil
	})
	tel := metrics.New()
	s := New(testConfig(wsURL(server)), WithRawSink(raw), WithTelemetry(tel))

	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s, h)

	_, ok := h.wait(t).(*wire.Delta)
	assert.True(t, ok)
	cancel()
	waitErr(t, done)

	assert.Equal(t, int64(1), s.Stats().MalformedFrames)
	assert.Equal(t, int64(1), tel.Count(metrics.CounterMalformedFrames))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, archived, 1)
	assert.Equal(t, model.KindRawFrame, archived[0].Kind)
	assert.Equal(t, garbage, archived[0].Raw)
}

func TestSession_PeerCloseEndsSession(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		acceptSubscribe(t, conn)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"))
		time.Sleep(200 * time.Millisecond)
	})

	err := New(testConfig(wsURL(server))).Run(context.Background(), newRecordingHandler())
	require.ErrorIs(t, err, ErrPeerClosed)
	var closeErr *CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "maintenance", closeErr.Reason)
}

func TestSession_HandlerErrorEndsSession(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		acceptSubscribe(t, conn)
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, testDelta(1, 2)))
		drain(conn)
	})

	h := newRecordingHandler()
	h.failOn = "delta"
	err := New(testConfig(wsURL(server))).Run(context.Background(), h)
	assert.EqualError(t, err, "handler failed")
}

func TestSession_DeduplicatesPushedTrades(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_000)
	batch := &wire.Trades{
		Header: wire.Header{Channel: wire.DealsChannel("BTCUSDT", ""), Symbol: "BTCUSDT"},
		Trades: []model.Trade{
			{Price: 100, Quantity: 1, Side: model.SideBuy, ExchangeTime: ts},
			{Price: 101, Quantity: 2, Side: model.SideSell, ExchangeTime: ts.Add(time.Millisecond)},
		},
	}
	server := mockWSServer(t, func(conn *websocket.Conn) {
		acceptSubscribe(t, conn)
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, batch))
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, batch))
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, testDelta(1, 2)))
		drain(conn)
	})

	tel := metrics.New()
	s := New(testConfig(wsURL(server)), WithDeduplicator(dedup.New(100, true)), WithTelemetry(tel))
	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s, h)

	trades, ok := h.wait(t).(*wire.Trades)
	require.True(t, ok)
	assert.Len(t, trades.Trades, 2)
	_, ok = h.wait(t).(*wire.Delta)
	assert.True(t, ok, "duplicate batch must not reach the handler")

	cancel()
	waitErr(t, done)
	assert.Equal(t, int64(2), tel.Count(metrics.CounterTradesAdmitted))
	assert.Equal(t, int64(2), tel.Count(metrics.CounterTradesRejected))
}

func TestSession_DropsForeignSymbol(t *testing.T) {
	foreign := testDelta(1, 2)
	foreign.Symbol = "ETHUSDT"
	server := mockWSServer(t, func(conn *websocket.Conn) {
		acceptSubscribe(t, conn)
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, foreign))
		_ = conn.WriteMessage(websocket.BinaryMessage, encode(t, testDelta(3, 4)))
		drain(conn)
	})

	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, New(testConfig(wsURL(server))), h)

	d := h.wait(t).(*wire.Delta)
	assert.Equal(t, "BTCUSDT", d.Symbol)
	assert.Equal(t, uint64(4), d.ToVersion)
	cancel()
	waitErr(t, done)
}
