package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/feedsync/internal/model"
	"github.com/rickgao/feedsync/internal/reconcile"
	"github.com/rickgao/feedsync/internal/store"
	"github.com/rickgao/feedsync/internal/wire"
)

func main() {
	path := flag.String("file", "", "partition file to read (events.ndjson.zst)")
	kind := flag.String("kind", "", "only print records of this kind")
	rebuild := flag.Bool("book", false, "rebuild the book from snapshot and delta records and print top of book")
	quiet := flag.Bool("quiet", false, "do not print records")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *path == "" {
		logger.Error("missing -file")
		os.Exit(2)
	}

	f, err := os.Open(*path)
	if err != nil {
		logger.Error("failed to open file", "path", *path, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	rec := reconcile.New(reconcile.DefaultConfig(), logger)
	counts := make(map[model.EventKind]int)
	enc := json.NewEncoder(os.Stdout)

	err = store.Scan(f, func(r store.Record) error {
		counts[r.Kind]++
		if *rebuild {
			replayBook(rec, r, logger)
		}
		if *quiet || (*kind != "" && string(r.Kind) != *kind) {
			return nil
		}
		if r.Kind == model.KindRawFrame {
			return enc.Encode(describeRaw(r))
		}
		return enc.Encode(r)
	})
	if err != nil {
		logger.Error("failed to read file", "path", *path, "error", err)
		os.Exit(1)
	}

	logger.Info("replay finished", "path", *path, "counts", counts)

	if *rebuild {
		b := rec.Book()
		bid, _ := b.Best(model.Bid)
		ask, _ := b.Best(model.Ask)
		fmt.Printf("state=%s version=%d bid=%v ask=%v bid_levels=%d ask_levels=%d\n",
			rec.State(), rec.Cursor().ConfirmedVersion,
			bid, ask, b.Len(model.Bid), b.Len(model.Ask))
	}
}

// replayBook feeds stored book events back through a reconciler.
func replayBook(rec *reconcile.Reconciler, r store.Record, logger *slog.Logger) {
	switch r.Kind {
	case model.KindSnapshot:
		var p model.SnapshotPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			logger.Warn("bad snapshot record", "ts_ms", r.TsMs, "error", err)
			return
		}
		if err := rec.ApplySnapshot(p.Version, p.Bids, p.Asks); err != nil {
			logger.Warn("snapshot rejected", "version", p.Version, "error", err)
		}

	case model.KindDelta:
		var p model.DeltaPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			logger.Warn("bad delta record", "ts_ms", r.TsMs, "error", err)
			return
		}
		_, err := rec.ApplyDelta(reconcile.Delta{
			FromVersion: p.FromVersion,
			ToVersion:   p.ToVersion,
			Bids:        p.Bids,
			Asks:        p.Asks,
		})
		if err != nil {
			logger.Warn("delta rejected", "from", p.FromVersion, "to", p.ToVersion, "error", err)
		}
	}
}

type rawDescription struct {
	TsMs    int64  `json:"ts_ms"`
	Symbol  string `json:"symbol"`
	Kind    string `json:"kind"`
	Bytes   int    `json:"bytes"`
	Decoded string `json:"decoded,omitempty"`
	Error   string `json:"error,omitempty"`
}

// describeRaw retries decoding an archived frame.
func describeRaw(r store.Record) rawDescription {
	d := rawDescription{TsMs: r.TsMs, Symbol: r.Symbol, Kind: string(r.Kind)}
	raw, err := r.Raw()
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.Bytes = len(raw)
	m, err := wire.DecodeBinary(raw, time.UnixMilli(r.TsMs))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.Decoded = wire.Kind(m)
	return d
}
