package wire

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rickgao/feedsync/internal/model"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownBody    = errors.New("unknown push body")
)

// Envelope field numbers of PushDataV3ApiWrapper.
const (
	fieldChannel     protowire.Number = 1
	fieldSymbol      protowire.Number = 3
	fieldSymbolID    protowire.Number = 4
	fieldCreateTime  protowire.Number = 5
	fieldSendTime    protowire.Number = 6
	fieldLimitDepths protowire.Number = 303
	fieldAggreDepths protowire.Number = 313
	fieldAggreDeals  protowire.Number = 314
)

// Body field numbers.
const (
	// publicLimitDepths
	limitAsks    protowire.Number = 1
	limitBids    protowire.Number = 2
	limitEvent   protowire.Number = 3
	limitVersion protowire.Number = 4

	// publicAggreDepths
	aggreAsks        protowire.Number = 1
	aggreBids        protowire.Number = 2
	aggreEvent       protowire.Number = 3
	aggreFromVersion protowire.Number = 4
	aggreToVersion   protowire.Number = 5

	// depth item
	itemPrice    protowire.Number = 1
	itemQuantity protowire.Number = 2

	// publicAggreDeals
	dealsList  protowire.Number = 1
	dealsEvent protowire.Number = 2

	// deal item
	dealPrice     protowire.Number = 1
	dealQuantity  protowire.Number = 2
	dealTradeType protowire.Number = 3
	dealTime      protowire.Number = 4
)

// Deal trade types.
const (
	tradeTypeBuy  = 1
	tradeTypeSell = 2
)

// field is one decoded protobuf field. For bytes fields Bytes is set, for
// varint and fixed fields Varint holds the raw value.
type field struct {
	Num    protowire.Number
	Type   protowire.Type
	Bytes  []byte
	Varint uint64
}

// eachField walks the top-level fields of a protobuf message.
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.Varint = uint64(v)
		case protowire.Fixed64Type:
			f.Varint, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBinary decodes a protobuf push frame.
//
// receivedAt stamps decoded trades with the local receive time.
func DecodeBinary(data []byte, receivedAt time.Time) (Message, error) {
	var (
		hdr      Header
		bodyNum  protowire.Number
		bodyData []byte
	)

	err := eachField(data, func(f field) error {
		switch f.Num {
		case fieldChannel:
			hdr.Channel = string(f.Bytes)
		case fieldSymbol:
			hdr.Symbol = string(f.Bytes)
		case fieldSendTime:
			if f.Varint > 0 {
				hdr.SendTime = time.UnixMilli(int64(f.Varint))
			}
		case fieldLimitDepths, fieldAggreDepths, fieldAggreDeals:
			if f.Type != protowire.BytesType {
				return fmt.Errorf("%w: body field %d has wire type %d", ErrMalformedFrame, f.Num, f.Type)
			}
			bodyNum, bodyData = f.Num, f.Bytes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch bodyNum {
	case fieldAggreDepths:
		return decodeAggreDepths(hdr, bodyData)
	case fieldLimitDepths:
		return decodeLimitDepths(hdr, bodyData)
	case fieldAggreDeals:
		return decodeDeals(hdr, bodyData, receivedAt)
	case 0:
		return nil, fmt.Errorf("%w: channel %q", ErrUnknownBody, hdr.Channel)
	default:
		return nil, fmt.Errorf("%w: field %d", ErrUnknownBody, bodyNum)
	}
}

func decodeAggreDepths(hdr Header, b []byte) (*Delta, error) {
	d := &Delta{Header: hdr}
	var fromStr, toStr string

	err := eachField(b, func(f field) error {
		switch f.Num {
		case aggreAsks, aggreBids:
			level, err := decodeDepthItem(f.Bytes)
			if err != nil {
				return err
			}
			if f.Num == aggreAsks {
				d.Asks = append(d.Asks, level)
			} else {
				d.Bids = append(d.Bids, level)
			}
		case aggreFromVersion:
			fromStr = string(f.Bytes)
		case aggreToVersion:
			toStr = string(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if d.FromVersion, err = parseVersion("fromVersion", fromStr); err != nil {
		return nil, err
	}
	if d.ToVersion, err = parseVersion("toVersion", toStr); err != nil {
		return nil, err
	}
	return d, nil
}

func decodeLimitDepths(hdr Header, b []byte) (*Snapshot, error) {
	s := &Snapshot{Header: hdr}
	var versionStr string

	err := eachField(b, func(f field) error {
		switch f.Num {
		case limitAsks, limitBids:
			level, err := decodeDepthItem(f.Bytes)
			if err != nil {
				return err
			}
			if level.Quantity == 0 {
				return nil
			}
			if f.Num == limitAsks {
				s.Asks = append(s.Asks, level)
			} else {
				s.Bids = append(s.Bids, level)
			}
		case limitVersion:
			versionStr = string(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Version, err = parseVersion("version", versionStr); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeDepthItem(b []byte) (model.PriceLevel, error) {
	var price, qty string
	err := eachField(b, func(f field) error {
		switch f.Num {
		case itemPrice:
			price = string(f.Bytes)
		case itemQuantity:
			qty = string(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return model.PriceLevel{}, err
	}
	level, err := model.ParseLevel(price, qty)
	if err != nil {
		return model.PriceLevel{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return level, nil
}

func decodeDeals(hdr Header, b []byte, receivedAt time.Time) (*Trades, error) {
	out := &Trades{Header: hdr}
	err := eachField(b, func(f field) error {
		if f.Num != dealsList {
			return nil
		}
		t, err := decodeDeal(f.Bytes)
		if err != nil {
			return err
		}
		t.ReceivedAt = receivedAt
		out.Trades = append(out.Trades, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeDeal(b []byte) (model.Trade, error) {
	var (
		price, qty string
		tradeType  uint64
		ts         int64
	)
	err := eachField(b, func(f field) error {
		switch f.Num {
		case dealPrice:
			price = string(f.Bytes)
		case dealQuantity:
			qty = string(f.Bytes)
		case dealTradeType:
			tradeType = f.Varint
		case dealTime:
			ts = int64(f.Varint)
		}
		return nil
	})
	if err != nil {
		return model.Trade{}, err
	}

	level, err := model.ParseLevel(price, qty)
	if err != nil {
		return model.Trade{}, fmt.Errorf("%w: deal: %v", ErrMalformedFrame, err)
	}

	t := model.Trade{
		Price:        level.Price,
		Quantity:     level.Quantity,
		ExchangeTime: time.UnixMilli(ts),
	}
	switch tradeType {
	case tradeTypeBuy:
		t.Side = model.SideBuy
	case tradeTypeSell:
		t.Side = model.SideSell
	}
	return t, nil
}

func parseVersion(name, s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedFrame, name)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrMalformedFrame, name, s, err)
	}
	return v, nil
}
