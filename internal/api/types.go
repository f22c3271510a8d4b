package api

import (
	"time"

	"github.com/rickgao/feedsync/internal/model"
)

// DepthResponse from GET /api/v3/depth
type DepthResponse struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"` // [price, quantity]
	Asks         [][]string `json:"asks"`
	Timestamp    int64      `json:"timestamp,omitempty"`
}

// TradeResponse is one entry from GET /api/v3/trades
type TradeResponse struct {
	ID           *uint64 `json:"id"` // Frequently null
	Price        string  `json:"price"`
	Qty          string  `json:"qty"`
	QuoteQty     string  `json:"quoteQty"`
	Time         int64   `json:"time"` // ms
	IsBuyerMaker bool    `json:"isBuyerMaker"`
	IsBestMatch  bool    `json:"isBestMatch"`
}

// ServerTimeResponse from GET /api/v3/time
type ServerTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// Depth is a parsed order book snapshot.
type Depth struct {
	Symbol    string
	Version   uint64
	Bids      []model.PriceLevel
	Asks      []model.PriceLevel
	FetchedAt time.Time
}
