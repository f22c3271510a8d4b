package supervisor

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rickgao/feedsync/internal/metrics"
	"github.com/rickgao/feedsync/internal/sink"
)

func TestTracker_ReconnectDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectBase = 100 * time.Millisecond
	cfg.ReconnectCapMultiplier = 32
	cfg.ReconnectJitter = 0
	cfg.SustainedSession = time.Minute

	tel := metrics.New()
	tr := newTracker("BTCUSDT", cfg, &fakeProvider{}, sink.Discard, tel, slog.Default())
	now := time.Unix(1_700_000_000, 0)
	tr.now = func() time.Time { return now }

	end := func(lasted time.Duration) time.Duration {
		started := now
		now = now.Add(lasted)
		got, delay := tr.sessionEnded(started)
		assert.Equal(t, lasted, got)
		return delay
	}

	// Short sessions keep doubling.
	assert.Equal(t, 100*time.Millisecond, end(time.Second))
	assert.Equal(t, 200*time.Millisecond, end(5*time.Second))
	assert.Equal(t, 400*time.Millisecond, end(59*time.Second))

	// A sustained session starts over at base.
	assert.Equal(t, 100*time.Millisecond, end(2*time.Minute))
	assert.Equal(t, 200*time.Millisecond, end(time.Second))
	assert.Equal(t, 100*time.Millisecond, end(time.Minute))

	assert.Equal(t, int64(6), tel.Count(metrics.CounterReconnects))
	assert.Equal(t, int64(6), tr.snapshot().Reconnects)
}

func TestTracker_ReconnectDelayCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectBase = 100 * time.Millisecond
	cfg.ReconnectCapMultiplier = 4
	cfg.ReconnectJitter = 0

	tr := newTracker("BTCUSDT", cfg, &fakeProvider{}, sink.Discard, metrics.New(), slog.Default())
	now := time.Unix(1_700_000_000, 0)
	tr.now = func() time.Time { return now }

	var last time.Duration
	for i := 0; i < 6; i++ {
		_, last = tr.sessionEnded(now)
	}
	assert.Equal(t, 400*time.Millisecond, last)
}
