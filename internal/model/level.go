package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidLevel is returned for price levels that cannot be stored.
var ErrInvalidLevel = errors.New("invalid price level")

// ParseLevel parses an exchange [price, quantity] string pair.
func ParseLevel(price, qty string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: price %q: %v", ErrInvalidLevel, price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: quantity %q: %v", ErrInvalidLevel, qty, err)
	}
	level := PriceLevel{Price: p.InexactFloat64(), Quantity: q.InexactFloat64()}
	if err := level.Validate(); err != nil {
		return PriceLevel{}, err
	}
	return level, nil
}

// ParseLevels parses a list of [price, quantity] pairs, failing on the first bad entry.
func ParseLevels(pairs [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(pairs))
	for i, pair := range pairs {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: entry %d has %d fields", ErrInvalidLevel, i, len(pair))
		}
		level, err := ParseLevel(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// Validate rejects NaN/Inf values, non-positive prices and negative quantities.
func (l PriceLevel) Validate() error {
	if math.IsNaN(l.Price) || math.IsInf(l.Price, 0) || l.Price <= 0 {
		return fmt.Errorf("%w: price %v", ErrInvalidLevel, l.Price)
	}
	if math.IsNaN(l.Quantity) || math.IsInf(l.Quantity, 0) || l.Quantity < 0 {
		return fmt.Errorf("%w: quantity %v", ErrInvalidLevel, l.Quantity)
	}
	return nil
}
