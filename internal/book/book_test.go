package book

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/feedsync/internal/model"
)

func levels(pairs ...float64) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.PriceLevel{Price: pairs[i], Quantity: pairs[i+1]})
	}
	return out
}

func TestReplaceSide_SortsAndDropsZero(t *testing.T) {
	b := New()
	b.ReplaceSide(model.Ask, levels(11, 2, 10.5, 1, 12, 0, 13, 4))
	b.ReplaceSide(model.Bid, levels(9, 1, 10, 3, 8, 0))

	assert.Equal(t, levels(10.5, 1, 11, 2, 13, 4), b.Depth(model.Ask, 0))
	assert.Equal(t, levels(10, 3, 9, 1), b.Depth(model.Bid, 0))

	// A second replace discards everything that was there.
	b.ReplaceSide(model.Ask, levels(20, 1))
	assert.Equal(t, levels(20, 1), b.Depth(model.Ask, 0))
}

func TestReplaceSide_DuplicateLastWins(t *testing.T) {
	b := New()
	b.ReplaceSide(model.Bid, levels(10, 1, 10, 5))
	assert.Equal(t, levels(10, 5), b.Depth(model.Bid, 0))
}

func TestApplyLevel(t *testing.T) {
	b := New()
	b.ReplaceSide(model.Bid, levels(10, 1))

	// zero on an absent price is a no-op
	b.ApplyLevel(model.Bid, 9, 0)
	assert.Equal(t, levels(10, 1), b.Depth(model.Bid, 0))

	// positive quantity inserts
	b.ApplyLevel(model.Bid, 9.5, 2)
	assert.Equal(t, levels(10, 1, 9.5, 2), b.Depth(model.Bid, 0))

	// positive quantity overwrites
	b.ApplyLevel(model.Bid, 10, 7)
	assert.Equal(t, levels(10, 7, 9.5, 2), b.Depth(model.Bid, 0))

	// zero on a present price removes
	b.ApplyLevel(model.Bid, 10, 0)
	assert.Equal(t, levels(9.5, 2), b.Depth(model.Bid, 0))
}

func TestBest(t *testing.T) {
	b := New()
	_, ok := b.Best(model.Bid)
	assert.False(t, ok)

	b.ReplaceSide(model.Bid, levels(10, 1))
	b.ReplaceSide(model.Ask, levels(11, 2))

	bid, ok := b.Best(model.Bid)
	require.True(t, ok)
	assert.Equal(t, 10.0, bid.Price)

	ask, ok := b.Best(model.Ask)
	require.True(t, ok)
	assert.Equal(t, 11.0, ask.Price)

	b.ApplyLevel(model.Ask, 11, 0)
	_, ok = b.Best(model.Ask)
	assert.False(t, ok)
}

func TestIsCrossed(t *testing.T) {
	b := New()
	assert.False(t, b.IsCrossed())

	b.ReplaceSide(model.Bid, levels(10, 1))
	assert.False(t, b.IsCrossed(), "one-sided book is never crossed")

	b.ReplaceSide(model.Ask, levels(11, 1))
	assert.False(t, b.IsCrossed())

	b.ApplyLevel(model.Bid, 11, 1)
	assert.True(t, b.IsCrossed(), "bid == ask is crossed")

	b.ApplyLevel(model.Bid, 11, 0)
	b.ApplyLevel(model.Ask, 9, 1)
	assert.True(t, b.IsCrossed())
}

func TestDepthAndClone(t *testing.T) {
	b := New()
	b.ReplaceSide(model.Ask, levels(1, 1, 2, 2, 3, 3))

	assert.Equal(t, levels(1, 1, 2, 2), b.Depth(model.Ask, 2))
	assert.Equal(t, 3, b.Len(model.Ask))

	c := b.Clone()
	b.ApplyLevel(model.Ask, 1, 0)
	assert.Equal(t, 3, c.Len(model.Ask), "clone must not share storage")

	top := b.Depth(model.Ask, 1)
	top[0].Quantity = 99
	best, _ := b.Best(model.Ask)
	assert.Equal(t, 2.0, best.Quantity, "depth must return a copy")
}

// Applying random upserts/removes must keep each side sorted and unique.
func TestApplyLevel_RandomKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := New()
	ref := map[model.Side]map[float64]float64{model.Bid: {}, model.Ask: {}}

	for i := 0; i < 2000; i++ {
		s := model.Side(rng.Intn(2))
		price := float64(rng.Intn(50) + 1)
		qty := float64(rng.Intn(4))
		b.ApplyLevel(s, price, qty)
		if qty == 0 {
			delete(ref[s], price)
		} else {
			ref[s][price] = qty
		}
	}

	for _, s := range []model.Side{model.Bid, model.Ask} {
		got := b.Depth(s, 0)
		require.Len(t, got, len(ref[s]))
		for i, l := range got {
			assert.NotZero(t, l.Quantity)
			assert.Equal(t, ref[s][l.Price], l.Quantity)
			if i > 0 {
				if s == model.Ask {
					assert.Greater(t, l.Price, got[i-1].Price)
				} else {
					assert.Less(t, l.Price, got[i-1].Price)
				}
			}
		}
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(levels(10, 1), levels(11, 0)))
	assert.ErrorIs(t, Validate(levels(10, 1), levels(-1, 1)), model.ErrInvalidLevel)
	assert.ErrorIs(t, Validate(levels(10, -2)), model.ErrInvalidLevel)
}
