package reconcile

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/feedsync/internal/model"
)

func lv(price, qty float64) model.PriceLevel {
	return model.PriceLevel{Price: price, Quantity: qty}
}

func newSynced(t *testing.T, tolerance uint64) *Reconciler {
	t.Helper()
	r := New(Config{FastForwardTolerance: tolerance}, nil)
	require.NoError(t, r.ApplySnapshot(100,
		[]model.PriceLevel{lv(10, 1)},
		[]model.PriceLevel{lv(11, 2)},
	))
	return r
}

func TestNew_Bootstrapping(t *testing.T) {
	r := New(DefaultConfig(), nil)
	assert.Equal(t, StateBootstrapping, r.State())

	_, err := r.ApplyDelta(Delta{FromVersion: 1, ToVersion: 1})
	assert.ErrorIs(t, err, ErrNotSynced)
}

func TestScenario(t *testing.T) {
	r := newSynced(t, 2)

	bid, ok := r.Book().Best(model.Bid)
	require.True(t, ok)
	assert.Equal(t, 10.0, bid.Price)
	ask, ok := r.Book().Best(model.Ask)
	require.True(t, ok)
	assert.Equal(t, 11.0, ask.Price)

	res, err := r.ApplyDelta(Delta{FromVersion: 101, ToVersion: 101, Asks: []model.PriceLevel{lv(11, 0)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	_, ok = r.Book().Best(model.Ask)
	assert.False(t, ok, "ask side should be empty")

	// Slack has been consumed by the contiguous delta above.
	_, err = r.ApplyDelta(Delta{FromVersion: 103, ToVersion: 104})
	var gapErr *GapError
	require.ErrorAs(t, err, &gapErr)
	assert.True(t, gapErr.SlackUsed)
	assert.Equal(t, StateFaulted, r.State())
}

func TestScenario_FastForwardThenFault(t *testing.T) {
	r := newSynced(t, 2)

	res, err := r.ApplyDelta(Delta{FromVersion: 103, ToVersion: 104, Bids: []model.PriceLevel{lv(10, 4)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFastForwarded, res.Outcome)
	assert.Equal(t, uint64(2), res.Skipped)
	assert.Equal(t, uint64(104), r.Cursor().ConfirmedVersion)
	require.NotNil(t, r.Cursor().LastContiguousTo)
	assert.Equal(t, uint64(104), *r.Cursor().LastContiguousTo)

	bid, _ := r.Book().Best(model.Bid)
	assert.Equal(t, 4.0, bid.Quantity)

	before := r.Book().Clone()
	_, err = r.ApplyDelta(Delta{FromVersion: 106, ToVersion: 107, Bids: []model.PriceLevel{lv(9, 1)}})
	assert.ErrorIs(t, err, ErrGap)
	assert.Equal(t, StateFaulted, r.State())
	assert.Equal(t, before.Depth(model.Bid, 0), r.Book().Depth(model.Bid, 0))

	_, err = r.ApplyDelta(Delta{FromVersion: 105, ToVersion: 105})
	assert.ErrorIs(t, err, ErrNotSynced)
}

func TestApplyDelta_Stale(t *testing.T) {
	r := newSynced(t, 5)
	before := r.Book().Clone()

	res, err := r.ApplyDelta(Delta{FromVersion: 90, ToVersion: 100, Bids: []model.PriceLevel{lv(10, 0)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.False(t, res.Mutated())
	assert.Equal(t, before.Depth(model.Bid, 0), r.Book().Depth(model.Bid, 0))
	assert.Equal(t, uint64(100), r.Cursor().ConfirmedVersion)
	assert.Nil(t, r.Cursor().LastContiguousTo)
}

func TestApplyDelta_Overlapping(t *testing.T) {
	r := newSynced(t, 0)

	res, err := r.ApplyDelta(Delta{FromVersion: 95, ToVersion: 105, Bids: []model.PriceLevel{lv(10.5, 1)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, uint64(105), r.Cursor().ConfirmedVersion)

	bid, _ := r.Book().Best(model.Bid)
	assert.Equal(t, 10.5, bid.Price)
}

func TestApplyDelta_GapBeyondTolerance(t *testing.T) {
	r := newSynced(t, 2)
	before := r.Book().Clone()

	_, err := r.ApplyDelta(Delta{FromVersion: 104, ToVersion: 105, Asks: []model.PriceLevel{lv(11, 0)}})

	var gapErr *GapError
	require.ErrorAs(t, err, &gapErr)
	assert.Equal(t, uint64(3), gapErr.Gap)
	assert.False(t, gapErr.SlackUsed)
	assert.Equal(t, StateFaulted, r.State())
	assert.Equal(t, before.Depth(model.Ask, 0), r.Book().Depth(model.Ask, 0))
	assert.Equal(t, int64(1), r.Stats().Faults)
}

func TestApplyDelta_Malformed(t *testing.T) {
	r := newSynced(t, 5)
	before := r.Book().Clone()

	_, err := r.ApplyDelta(Delta{
		FromVersion: 101,
		ToVersion:   101,
		Bids:        []model.PriceLevel{lv(10, 7)},
		Asks:        []model.PriceLevel{lv(math.NaN(), 1)},
	})
	assert.ErrorIs(t, err, ErrMalformedUpdate)
	assert.Equal(t, StateSynced, r.State())
	assert.Equal(t, uint64(100), r.Cursor().ConfirmedVersion)
	assert.Equal(t, before.Depth(model.Bid, 0), r.Book().Depth(model.Bid, 0))

	// Inverted range is malformed too.
	_, err = r.ApplyDelta(Delta{FromVersion: 110, ToVersion: 102})
	assert.ErrorIs(t, err, ErrMalformedUpdate)
	assert.Equal(t, StateSynced, r.State())
}

func TestApplyDelta_Crossed(t *testing.T) {
	r := newSynced(t, 5)

	res, err := r.ApplyDelta(Delta{FromVersion: 101, ToVersion: 101, Bids: []model.PriceLevel{lv(12, 1)}})
	require.NoError(t, err)
	assert.True(t, res.Crossed)
	assert.True(t, r.Book().IsCrossed())
	assert.Equal(t, int64(1), r.Stats().CrossedEvents)
}

func TestApplySnapshot_RecoversFromFault(t *testing.T) {
	r := newSynced(t, 0)
	_, err := r.ApplyDelta(Delta{FromVersion: 150, ToVersion: 151})
	require.True(t, errors.Is(err, ErrGap))

	require.NoError(t, r.ApplySnapshot(200, []model.PriceLevel{lv(20, 1)}, nil))
	assert.Equal(t, StateSynced, r.State())
	assert.Equal(t, uint64(200), r.Cursor().ConfirmedVersion)
	assert.Nil(t, r.Cursor().LastContiguousTo)
	_, ok := r.Book().Best(model.Ask)
	assert.False(t, ok)

	res, err := r.ApplyDelta(Delta{FromVersion: 201, ToVersion: 201})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestApplySnapshot_MalformedLeavesBook(t *testing.T) {
	r := newSynced(t, 0)

	err := r.ApplySnapshot(300, []model.PriceLevel{lv(0, 1)}, nil)
	assert.ErrorIs(t, err, ErrMalformedUpdate)
	assert.Equal(t, uint64(100), r.Cursor().ConfirmedVersion)
	assert.Equal(t, 1, r.Book().Len(model.Bid))
}

func TestContiguousDeltasMatchDirectApplication(t *testing.T) {
	r := newSynced(t, 0)
	expected := r.Book().Clone()

	deltas := []Delta{
		{FromVersion: 101, ToVersion: 102, Bids: []model.PriceLevel{lv(9.5, 3)}, Asks: []model.PriceLevel{lv(11.5, 1)}},
		{FromVersion: 103, ToVersion: 103, Bids: []model.PriceLevel{lv(10, 0)}},
		{FromVersion: 104, ToVersion: 110, Asks: []model.PriceLevel{lv(11, 0), lv(12, 5)}},
	}
	for _, d := range deltas {
		_, err := r.ApplyDelta(d)
		require.NoError(t, err)
		for _, l := range d.Bids {
			expected.ApplyLevel(model.Bid, l.Price, l.Quantity)
		}
		for _, l := range d.Asks {
			expected.ApplyLevel(model.Ask, l.Price, l.Quantity)
		}
	}

	gotBid, _ := r.Book().Best(model.Bid)
	wantBid, _ := expected.Best(model.Bid)
	gotAsk, _ := r.Book().Best(model.Ask)
	wantAsk, _ := expected.Best(model.Ask)
	assert.Equal(t, wantBid, gotBid)
	assert.Equal(t, wantAsk, gotAsk)
	assert.Equal(t, uint64(110), r.Cursor().ConfirmedVersion)
	assert.Equal(t, int64(3), r.Stats().Applied)
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{OutcomeApplied, "applied"},
		{OutcomeFastForwarded, "fast_forwarded"},
		{OutcomeStale, "stale"},
		{OutcomeBehind, "behind"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.o.String())
	}
}
