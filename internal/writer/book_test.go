package writer

import (
	"context"
	"testing"
	"time"

	"github.com/rickgao/feedsync/internal/model"
)

func TestBookWriter_TransformSnapshot(t *testing.T) {
	w := NewBookWriter(DefaultWriterConfig(), nil, nil, nil)

	row := w.transformSnapshot("BTCUSDT", 1705320000000, model.SnapshotPayload{
		Source:  "rest",
		Version: 500,
		Bids:    []model.PriceLevel{{Price: 99, Quantity: 1}, {Price: 100, Quantity: 2}},
		Asks:    []model.PriceLevel{{Price: 102, Quantity: 3}, {Price: 101, Quantity: 4}},
	})

	if row.SnapshotTs != 1705320000000000 {
		t.Errorf("SnapshotTs = %d, want 1705320000000000", row.SnapshotTs)
	}
	if row.Version != 500 {
		t.Errorf("Version = %d, want 500", row.Version)
	}
	if row.BestBid != 100 || row.BestBidQty != 2 {
		t.Errorf("best bid = %v@%v, want 100@2", row.BestBid, row.BestBidQty)
	}
	if row.BestAsk != 101 || row.BestAskQty != 4 {
		t.Errorf("best ask = %v@%v, want 101@4", row.BestAsk, row.BestAskQty)
	}
	if row.Spread != 1 {
		t.Errorf("Spread = %v, want 1", row.Spread)
	}
	if string(row.Bids) != `[{"price":99,"qty":1},{"price":100,"qty":2}]` {
		t.Errorf("Bids = %s", row.Bids)
	}
}

func TestBookWriter_TransformSnapshot_OneSided(t *testing.T) {
	w := NewBookWriter(DefaultWriterConfig(), nil, nil, nil)

	row := w.transformSnapshot("X", 0, model.SnapshotPayload{
		Bids: []model.PriceLevel{{Price: 5, Quantity: 1}},
	})

	if row.Spread != 0 {
		t.Errorf("Spread = %v, want 0", row.Spread)
	}
	if row.BestAsk != 0 {
		t.Errorf("BestAsk = %v, want 0", row.BestAsk)
	}
	if string(row.Asks) != "[]" {
		t.Errorf("Asks = %s, want []", row.Asks)
	}
}

func TestBookWriter_TransformDelta(t *testing.T) {
	w := NewBookWriter(DefaultWriterConfig(), nil, nil, nil)

	rows := w.transformDelta("BTCUSDT", 1000, model.DeltaPayload{
		FromVersion: 11,
		ToVersion:   12,
		Bids:        []model.PriceLevel{{Price: 100, Quantity: 0}},
		Asks:        []model.PriceLevel{{Price: 101, Quantity: 5}, {Price: 102, Quantity: 6}},
	})

	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if !rows[0].Side || rows[0].Qty != 0 {
		t.Errorf("rows[0] = %+v, want bid removal", rows[0])
	}
	if rows[1].Side || rows[1].Price != 101 {
		t.Errorf("rows[1] = %+v, want ask at 101", rows[1])
	}
	for _, r := range rows {
		if r.FromVersion != 11 || r.ToVersion != 12 {
			t.Errorf("versions = %d..%d, want 11..12", r.FromVersion, r.ToVersion)
		}
		if r.ReceivedAt != 1000000 {
			t.Errorf("ReceivedAt = %d, want 1000000", r.ReceivedAt)
		}
	}
}

func TestBookWriter_Append_Filters(t *testing.T) {
	w := NewBookWriter(DefaultWriterConfig(), nil, nil, nil)

	for _, k := range []model.EventKind{model.KindTrade, model.KindTelemetry, model.KindRawFrame} {
		if err := w.Append(model.Event{Kind: k}); err != nil {
			t.Fatalf("Append(%s) error = %v", k, err)
		}
	}
	for _, k := range []model.EventKind{model.KindSnapshot, model.KindDelta, model.KindResync} {
		if err := w.Append(model.Event{Kind: k}); err != nil {
			t.Fatalf("Append(%s) error = %v", k, err)
		}
	}
	if w.input.Len() != 3 {
		t.Errorf("queued = %d, want 3", w.input.Len())
	}
}

func TestBookWriter_FlushOnStop(t *testing.T) {
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour, QueueSize: 100}
	db := &fakeDB{}
	rec := &fakeRecorder{}
	w := NewBookWriter(cfg, db, rec, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	events := []model.Event{
		{Symbol: "BTCUSDT", Kind: model.KindSnapshot, Payload: model.SnapshotPayload{
			Source: "rest", Version: 10,
			Bids: []model.PriceLevel{{Price: 1, Quantity: 1}},
			Asks: []model.PriceLevel{{Price: 2, Quantity: 1}},
		}},
		{Symbol: "BTCUSDT", Kind: model.KindDelta, Payload: model.DeltaPayload{
			FromVersion: 11, ToVersion: 11,
			Bids: []model.PriceLevel{{Price: 1, Quantity: 3}},
		}},
		{Symbol: "BTCUSDT", Kind: model.KindResync, Payload: model.ResyncPayload{Reason: "gap"}},
	}
	for _, ev := range events {
		if err := w.Append(ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	stats := w.Stats()
	if stats.SnapshotInserts != 1 {
		t.Errorf("SnapshotInserts = %d, want 1", stats.SnapshotInserts)
	}
	if stats.DeltaInserts != 1 {
		t.Errorf("DeltaInserts = %d, want 1", stats.DeltaInserts)
	}
	if stats.Resyncs != 1 {
		t.Errorf("Resyncs = %d, want 1", stats.Resyncs)
	}
	if got := rec.get("book_snapshots/inserted"); got != 1 {
		t.Errorf("recorded snapshots = %d, want 1", got)
	}
}

func TestClampVersion(t *testing.T) {
	if got := clampVersion(42); got != 42 {
		t.Errorf("clampVersion(42) = %d", got)
	}
	if got := clampVersion(^uint64(0)); got != 1<<63-1 {
		t.Errorf("clampVersion(max) = %d, want max int64", got)
	}
}
