package writer

import (
	"github.com/goccy/go-json"

	"github.com/rickgao/feedsync/internal/model"
)

// levelsToJSON converts levels to JSONB bytes.
func levelsToJSON(levels []model.PriceLevel) []byte {
	if len(levels) == 0 {
		return []byte("[]")
	}
	data, _ := json.Marshal(levels)
	return data
}

// topOfBook returns the best bid, best ask and spread of a snapshot. An empty
// side yields a zero level and a zero spread.
func topOfBook(bids, asks []model.PriceLevel) (bid, ask model.PriceLevel, spread float64) {
	for i, l := range bids {
		if i == 0 || l.Price > bid.Price {
			bid = l
		}
	}
	for i, l := range asks {
		if i == 0 || l.Price < ask.Price {
			ask = l
		}
	}
	if len(bids) > 0 && len(asks) > 0 {
		spread = ask.Price - bid.Price
	}
	return bid, ask, spread
}

// clampVersion converts an exchange version to a BIGINT column value.
func clampVersion(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	return int64(v)
}
