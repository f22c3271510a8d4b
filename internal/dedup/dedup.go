// Package dedup suppresses re-delivered trades.
//
// Trades from overlapping REST pages or redundant pushes are identified either by
// the exchange trade ID or, when the exchange omits it, by a hash of the trade's
// content. Identities are remembered in a bounded FIFO window.
package dedup

import (
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/rickgao/feedsync/internal/model"
)

// IdentityKey returns the dedup key for t.
//
// When trustIDs is set and the trade carries an exchange ID, the ID is the key.
// Otherwise the key is the xxhash64 of the exchange timestamp (ms), the IEEE bits
// of price and quantity, and the side, all big-endian.
func IdentityKey(t model.Trade, trustIDs bool) uint64 {
	if trustIDs && t.ExchangeID != nil {
		return *t.ExchangeID
	}

	var buf [25]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(t.ExchangeTime.UnixMilli()))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(t.Price))
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(t.Quantity))
	buf[24] = byte(t.Side)
	return xxhash.Sum64(buf[:])
}

// SortBatch orders trades by exchange time, then exchange ID.
// Trades without an ID sort before those with one at the same timestamp.
func SortBatch(trades []model.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if !a.ExchangeTime.Equal(b.ExchangeTime) {
			return a.ExchangeTime.Before(b.ExchangeTime)
		}
		switch {
		case a.ExchangeID == nil:
			return b.ExchangeID != nil
		case b.ExchangeID == nil:
			return false
		default:
			return *a.ExchangeID < *b.ExchangeID
		}
	})
}

// Deduplicator admits each trade identity at most once within its window.
// It is owned by a single goroutine.
type Deduplicator struct {
	cache    *Cache
	trustIDs bool

	lastAdmitted time.Time
	hasAdmitted  bool
	tooOld       int64
	duplicates   int64
}

// New creates a Deduplicator remembering up to capacity identities.
func New(capacity int, trustIDs bool) *Deduplicator {
	return &Deduplicator{
		cache:    NewCache(capacity),
		trustIDs: trustIDs,
	}
}

// Admit reports whether t is new, recording its identity if so.
// Trades older than the last admitted exchange time are always rejected.
func (d *Deduplicator) Admit(t model.Trade) bool {
	if d.hasAdmitted && t.ExchangeTime.Before(d.lastAdmitted) {
		d.tooOld++
		return false
	}

	key := IdentityKey(t, d.trustIDs)
	if d.cache.Contains(key) {
		d.duplicates++
		return false
	}
	d.cache.Insert(key)
	d.lastAdmitted = t.ExchangeTime
	d.hasAdmitted = true
	return true
}

// Filter sorts a batch and returns only the admitted trades.
func (d *Deduplicator) Filter(trades []model.Trade) []model.Trade {
	SortBatch(trades)
	admitted := trades[:0:0]
	for _, t := range trades {
		if d.Admit(t) {
			admitted = append(admitted, t)
		}
	}
	return admitted
}

// Rejected returns how many trades were dropped as too old and as duplicates.
func (d *Deduplicator) Rejected() (tooOld, duplicates int64) {
	return d.tooOld, d.duplicates
}

// Len returns the number of remembered identities.
func (d *Deduplicator) Len() int { return d.cache.Len() }
