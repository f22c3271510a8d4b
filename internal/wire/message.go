package wire

import (
	"time"

	"github.com/rickgao/feedsync/internal/model"
)

// Message is a decoded feed frame. The variant set is closed:
// *Snapshot, *Delta, *Trades, *Ping, *Pong, *Ack, *Close.
type Message interface {
	isMessage()
}

// Header carries envelope fields common to push frames.
type Header struct {
	Channel  string
	Symbol   string
	SendTime time.Time // Exchange send time, zero if absent
}

// Snapshot is a full top-N replacement of both book sides.
type Snapshot struct {
	Header
	Version uint64
	Bids    []model.PriceLevel
	Asks    []model.PriceLevel
}

// Delta is a versioned set of absolute level replacements.
type Delta struct {
	Header
	FromVersion uint64
	ToVersion   uint64
	Bids        []model.PriceLevel
	Asks        []model.PriceLevel
}

// Trades is a batch of pushed deals.
type Trades struct {
	Header
	Trades []model.Trade
}

// Ping is a liveness probe from the peer.
type Ping struct{}

// Pong answers our liveness probe.
type Pong struct{}

// Ack acknowledges a subscription request.
type Ack struct {
	ID   int64
	Code int
	Msg  string
}

// Close signals the peer is ending the session.
type Close struct {
	Code   int
	Reason string
}

func (*Snapshot) isMessage() {}
func (*Delta) isMessage()    {}
func (*Trades) isMessage()   {}
func (*Ping) isMessage()     {}
func (*Pong) isMessage()     {}
func (*Ack) isMessage()      {}
func (*Close) isMessage()    {}

// Kind returns a short name for m, used in logs and counters.
func Kind(m Message) string {
	switch m.(type) {
	case *Snapshot:
		return "snapshot"
	case *Delta:
		return "delta"
	case *Trades:
		return "trades"
	case *Ping:
		return "ping"
	case *Pong:
		return "pong"
	case *Ack:
		return "ack"
	case *Close:
		return "close"
	default:
		return "unknown"
	}
}
