package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		price   string
		qty     string
		want    PriceLevel
		wantErr bool
	}{
		{name: "plain", price: "64250.12", qty: "0.5", want: PriceLevel{Price: 64250.12, Quantity: 0.5}},
		{name: "zero quantity is a removal", price: "10", qty: "0", want: PriceLevel{Price: 10, Quantity: 0}},
		{name: "trailing zeros", price: "10.300", qty: "1.50", want: PriceLevel{Price: 10.3, Quantity: 1.5}},
		{name: "bad price", price: "abc", qty: "1", wantErr: true},
		{name: "bad quantity", price: "1", qty: "", wantErr: true},
		{name: "nan price", price: "NaN", qty: "1", wantErr: true},
		{name: "negative quantity", price: "1", qty: "-2", wantErr: true},
		{name: "zero price", price: "0", qty: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.price, tt.qty)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseLevel(%q, %q) expected error, got %+v", tt.price, tt.qty, got)
				}
				if !errors.Is(err, ErrInvalidLevel) {
					t.Errorf("error = %v, want ErrInvalidLevel", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q, %q) unexpected error: %v", tt.price, tt.qty, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q, %q) = %+v, want %+v", tt.price, tt.qty, got, tt.want)
			}
		})
	}
}

func TestParseLevels_FailsWholeList(t *testing.T) {
	_, err := ParseLevels([][]string{{"10", "1"}, {"11"}, {"12", "1"}})
	if !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("ParseLevels error = %v, want ErrInvalidLevel", err)
	}

	levels, err := ParseLevels([][]string{{"10", "1"}, {"11", "2"}})
	if err != nil {
		t.Fatalf("ParseLevels unexpected error: %v", err)
	}
	if len(levels) != 2 {
		t.Errorf("len(levels) = %d, want 2", len(levels))
	}
}

func TestNewTradePayload(t *testing.T) {
	id := uint64(42)
	exch := time.UnixMilli(1705321845000)
	recv := time.UnixMilli(1705321845123)

	p := NewTradePayload(Trade{
		ExchangeID:   &id,
		Price:        101.5,
		Quantity:     2,
		Side:         SideSell,
		ExchangeTime: exch,
		ReceivedAt:   recv,
	}, "rest")

	if p.ID == nil || *p.ID != 42 {
		t.Errorf("ID = %v, want 42", p.ID)
	}
	if p.Side != "sell" {
		t.Errorf("Side = %q, want %q", p.Side, "sell")
	}
	if p.TsExchMs != 1705321845000 || p.TsRecvMs != 1705321845123 {
		t.Errorf("timestamps = (%d, %d), want (1705321845000, 1705321845123)", p.TsExchMs, p.TsRecvMs)
	}
	if p.Source != "rest" {
		t.Errorf("Source = %q, want %q", p.Source, "rest")
	}
}

func TestSideString(t *testing.T) {
	if Bid.String() != "bid" || Ask.String() != "ask" {
		t.Errorf("Side strings = (%q, %q), want (bid, ask)", Bid.String(), Ask.String())
	}
	if SideUnknown.String() != "" {
		t.Errorf("SideUnknown.String() = %q, want empty", SideUnknown.String())
	}
}
