// Package book holds the in-memory price-level order book.
//
// A Book is owned by exactly one goroutine; it performs no locking and no I/O.
// Asks are kept ascending and bids descending, so the best level of each side is
// always at index 0.
package book

import (
	"sort"

	"github.com/rickgao/feedsync/internal/model"
)

// Book is a two-sided price-level book.
type Book struct {
	bids side
	asks side
}

// New returns an empty book.
func New() *Book {
	return &Book{
		bids: side{descending: true},
		asks: side{descending: false},
	}
}

// ReplaceSide discards every level on s and inserts levels.
// Zero-quantity entries are dropped; for duplicate prices the last entry wins.
func (b *Book) ReplaceSide(s model.Side, levels []model.PriceLevel) {
	b.side(s).replace(levels)
}

// ApplyLevel upserts a level, or removes it when quantity is zero.
func (b *Book) ApplyLevel(s model.Side, price, quantity float64) {
	sd := b.side(s)
	if quantity == 0 {
		sd.remove(price)
		return
	}
	sd.upsert(price, quantity)
}

// Best returns the best level of s.
func (b *Book) Best(s model.Side) (model.PriceLevel, bool) {
	sd := b.side(s)
	if len(sd.levels) == 0 {
		return model.PriceLevel{}, false
	}
	return sd.levels[0], true
}

// IsCrossed reports whether both sides are non-empty and best bid >= best ask.
func (b *Book) IsCrossed() bool {
	bid, okBid := b.Best(model.Bid)
	ask, okAsk := b.Best(model.Ask)
	return okBid && okAsk && bid.Price >= ask.Price
}

// Len returns the number of levels on s.
func (b *Book) Len(s model.Side) int {
	return len(b.side(s).levels)
}

// Depth returns a copy of the top n levels of s (all levels if n <= 0).
func (b *Book) Depth(s model.Side, n int) []model.PriceLevel {
	levels := b.side(s).levels
	if n > 0 && len(levels) > n {
		levels = levels[:n]
	}
	out := make([]model.PriceLevel, len(levels))
	copy(out, levels)
	return out
}

// Clone returns a deep copy of the book.
func (b *Book) Clone() *Book {
	c := New()
	c.bids.levels = b.Depth(model.Bid, 0)
	c.asks.levels = b.Depth(model.Ask, 0)
	return c
}

func (b *Book) side(s model.Side) *side {
	if s == model.Ask {
		return &b.asks
	}
	return &b.bids
}

// side is a sorted slice of unique, non-zero price levels.
type side struct {
	levels     []model.PriceLevel
	descending bool
}

// search returns the index where price is or would be inserted.
func (s *side) search(price float64) int {
	if s.descending {
		return sort.Search(len(s.levels), func(i int) bool { return s.levels[i].Price <= price })
	}
	return sort.Search(len(s.levels), func(i int) bool { return s.levels[i].Price >= price })
}

func (s *side) upsert(price, quantity float64) {
	i := s.search(price)
	if i < len(s.levels) && s.levels[i].Price == price {
		s.levels[i].Quantity = quantity
		return
	}
	s.levels = append(s.levels, model.PriceLevel{})
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = model.PriceLevel{Price: price, Quantity: quantity}
}

func (s *side) remove(price float64) {
	i := s.search(price)
	if i < len(s.levels) && s.levels[i].Price == price {
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	}
}

func (s *side) replace(levels []model.PriceLevel) {
	s.levels = make([]model.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Quantity == 0 {
			s.remove(l.Price)
			continue
		}
		s.upsert(l.Price, l.Quantity)
	}
}

// Validate checks every level so that a malformed update can be rejected
// before any of it is applied.
func Validate(levels ...[]model.PriceLevel) error {
	for _, side := range levels {
		for _, l := range side {
			if err := l.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
