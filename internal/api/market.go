package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/feedsync/internal/model"
)

// MaxDepthLimit is the deepest snapshot the exchange serves.
const MaxDepthLimit = 5000

// GetDepth fetches an order book snapshot for symbol. It makes a single
// attempt; resync scheduling belongs to the caller.
func (c *Client) GetDepth(ctx context.Context, symbol string, limit int) (*Depth, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	if limit > 0 {
		if limit > MaxDepthLimit {
			limit = MaxDepthLimit
		}
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp DepthResponse
	if err := c.getOnce(ctx, "/api/v3/depth", query, &resp); err != nil {
		return nil, fmt.Errorf("get depth %s: %w", symbol, err)
	}

	depth, err := ToDepth(symbol, &resp, time.Now())
	if err != nil {
		return nil, fmt.Errorf("get depth %s: %w", symbol, err)
	}
	return depth, nil
}

// GetTrades fetches the most recent trades for symbol. Entries with malformed
// numbers are skipped and counted in the returned skipped value.
func (c *Client) GetTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, int, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp []TradeResponse
	if err := c.get(ctx, "/api/v3/trades", query, &resp); err != nil {
		return nil, 0, fmt.Errorf("get trades %s: %w", symbol, err)
	}

	receivedAt := time.Now()
	trades := make([]model.Trade, 0, len(resp))
	skipped := 0
	for _, r := range resp {
		t, err := ToTrade(r, receivedAt)
		if err != nil {
			c.logger.Debug("skipping malformed trade", "symbol", symbol, "error", err)
			skipped++
			continue
		}
		trades = append(trades, t)
	}
	return trades, skipped, nil
}

// GetServerTime fetches the exchange clock.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	var resp ServerTimeResponse
	if err := c.get(ctx, "/api/v3/time", nil, &resp); err != nil {
		return time.Time{}, fmt.Errorf("get server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime), nil
}
