package api

import (
	"fmt"
	"time"

	"github.com/rickgao/feedsync/internal/model"
)

// ToDepth parses a depth response. Any malformed level fails the whole snapshot.
func ToDepth(symbol string, r *DepthResponse, fetchedAt time.Time) (*Depth, error) {
	bids, err := model.ParseLevels(r.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := model.ParseLevels(r.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return &Depth{
		Symbol:    symbol,
		Version:   r.LastUpdateID,
		Bids:      bids,
		Asks:      asks,
		FetchedAt: fetchedAt,
	}, nil
}

// ToTrade converts a REST trade. The aggressor is the seller when the buyer
// was the maker.
func ToTrade(r TradeResponse, receivedAt time.Time) (model.Trade, error) {
	level, err := model.ParseLevel(r.Price, r.Qty)
	if err != nil {
		return model.Trade{}, err
	}
	side := model.SideBuy
	if r.IsBuyerMaker {
		side = model.SideSell
	}
	return model.Trade{
		ExchangeID:   r.ID,
		Price:        level.Price,
		Quantity:     level.Quantity,
		Side:         side,
		ExchangeTime: time.UnixMilli(r.Time),
		ReceivedAt:   receivedAt,
	}, nil
}
