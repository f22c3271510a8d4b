package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rickgao/feedsync/internal/api"
	"github.com/rickgao/feedsync/internal/model"
)

type fixedTime struct {
	t   time.Time
	err error
}

func (f fixedTime) GetServerTime(context.Context) (time.Time, error) {
	return f.t, f.err
}

type recordGauge struct{ last int64 }

func (g *recordGauge) SetClockOffset(ms int64) { g.last = ms }

func TestClockSampler_SampleUsesMidpoint(t *testing.T) {
	base := time.UnixMilli(1_000_000)
	ticks := []time.Time{base, base.Add(200 * time.Millisecond)}

	c := NewClockSampler(time.Minute, nil, fixedTime{t: base.Add(600 * time.Millisecond)}, &collectSink{}, nil, nil)
	c.now = func() time.Time {
		t := ticks[0]
		ticks = ticks[1:]
		return t
	}

	s, err := c.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if s.LocalMs != 1_000_100 {
		t.Errorf("LocalMs = %d, want 1000100", s.LocalMs)
	}
	if s.ServerMs != 1_000_600 {
		t.Errorf("ServerMs = %d, want 1000600", s.ServerMs)
	}
	if s.OffsetMs != 500 {
		t.Errorf("OffsetMs = %d, want 500", s.OffsetMs)
	}
}

func TestClockSampler_SampleOnceEmitsPerSymbol(t *testing.T) {
	out := &collectSink{}
	gauge := &recordGauge{}
	c := NewClockSampler(time.Minute, []string{"A", "B"}, fixedTime{t: time.Now().Add(time.Second)}, out, gauge, nil)

	c.sampleOnce(context.Background())

	events := out.snapshot()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Kind != model.KindClockSkew {
			t.Errorf("Kind = %s, want clock_skew", ev.Kind)
		}
	}
	if gauge.last < 900 || gauge.last > 1100 {
		t.Errorf("gauge offset = %d, want about 1000", gauge.last)
	}
}

func TestClockSampler_ErrorEmitsNothing(t *testing.T) {
	out := &collectSink{}
	c := NewClockSampler(time.Minute, []string{"A"}, fixedTime{err: errors.New("down")}, out, nil, nil)

	c.sampleOnce(context.Background())

	if len(out.snapshot()) != 0 {
		t.Error("expected no events on error")
	}
}

func TestClockSampler_WithAPIClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/time" {
			t.Errorf("path = %s, want /api/v3/time", r.URL.Path)
		}
		w.Write([]byte(`{"serverTime":1700000000000}`))
	}))
	defer server.Close()

	c := NewClockSampler(time.Minute, nil, api.NewClient(server.URL), &collectSink{}, nil, nil)

	s, err := c.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if s.ServerMs != 1700000000000 {
		t.Errorf("ServerMs = %d, want 1700000000000", s.ServerMs)
	}
}

func TestClockSampler_RunStopsOnCancel(t *testing.T) {
	c := NewClockSampler(10*time.Millisecond, []string{"A"}, fixedTime{t: time.Now()}, &collectSink{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
