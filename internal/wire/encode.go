package wire

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rickgao/feedsync/internal/model"
)

// EncodeBinary encodes a push message in the exchange's protobuf envelope.
// Only *Snapshot, *Delta and *Trades have a binary form.
func EncodeBinary(m Message) ([]byte, error) {
	var (
		hdr     Header
		bodyNum protowire.Number
		body    []byte
	)

	switch v := m.(type) {
	case *Delta:
		hdr, bodyNum = v.Header, fieldAggreDepths
		body = appendItems(body, aggreAsks, v.Asks)
		body = appendItems(body, aggreBids, v.Bids)
		body = appendString(body, aggreFromVersion, strconv.FormatUint(v.FromVersion, 10))
		body = appendString(body, aggreToVersion, strconv.FormatUint(v.ToVersion, 10))
	case *Snapshot:
		hdr, bodyNum = v.Header, fieldLimitDepths
		body = appendItems(body, limitAsks, v.Asks)
		body = appendItems(body, limitBids, v.Bids)
		body = appendString(body, limitVersion, strconv.FormatUint(v.Version, 10))
	case *Trades:
		hdr, bodyNum = v.Header, fieldAggreDeals
		for _, t := range v.Trades {
			body = protowire.AppendTag(body, dealsList, protowire.BytesType)
			body = protowire.AppendBytes(body, encodeDeal(t))
		}
	default:
		return nil, fmt.Errorf("no binary encoding for %s", Kind(m))
	}

	var out []byte
	out = appendString(out, fieldChannel, hdr.Channel)
	out = appendString(out, fieldSymbol, hdr.Symbol)
	if !hdr.SendTime.IsZero() {
		out = protowire.AppendTag(out, fieldSendTime, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(hdr.SendTime.UnixMilli()))
	}
	out = protowire.AppendTag(out, bodyNum, protowire.BytesType)
	out = protowire.AppendBytes(out, body)
	return out, nil
}

func encodeDeal(t model.Trade) []byte {
	var b []byte
	b = appendString(b, dealPrice, formatFloat(t.Price))
	b = appendString(b, dealQuantity, formatFloat(t.Quantity))
	var tradeType uint64
	switch t.Side {
	case model.SideBuy:
		tradeType = tradeTypeBuy
	case model.SideSell:
		tradeType = tradeTypeSell
	}
	b = protowire.AppendTag(b, dealTradeType, protowire.VarintType)
	b = protowire.AppendVarint(b, tradeType)
	b = protowire.AppendTag(b, dealTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.ExchangeTime.UnixMilli()))
	return b
}

func appendItems(b []byte, num protowire.Number, levels []model.PriceLevel) []byte {
	for _, l := range levels {
		var item []byte
		item = appendString(item, itemPrice, formatFloat(l.Price))
		item = appendString(item, itemQuantity, formatFloat(l.Quantity))
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, item)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
