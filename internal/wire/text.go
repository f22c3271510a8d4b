package wire

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Control methods and replies.
const (
	MethodSubscription   = "SUBSCRIPTION"
	MethodUnsubscription = "UNSUBSCRIPTION"
	MethodPing           = "PING"
	MsgPong              = "PONG"
)

// Channel templates.
const (
	depthChannelFmt      = "spot@public.aggre.depth.v3.api.pb@%s@%s"
	dealsChannelFmt      = "spot@public.aggre.deals.v3.api.pb@%s@%s"
	limitDepthChannelFmt = "spot@public.limit.depth.v3.api.pb@%s@%d"
)

// DefaultInterval is the push aggregation interval.
const DefaultInterval = "100ms"

// DepthChannel returns the aggregated depth-delta channel for symbol.
// An empty interval means DefaultInterval.
func DepthChannel(symbol, interval string) string {
	if interval == "" {
		interval = DefaultInterval
	}
	return fmt.Sprintf(depthChannelFmt, interval, symbol)
}

// DealsChannel returns the aggregated deals channel for symbol.
// An empty interval means DefaultInterval.
func DealsChannel(symbol, interval string) string {
	if interval == "" {
		interval = DefaultInterval
	}
	return fmt.Sprintf(dealsChannelFmt, interval, symbol)
}

// LimitDepthChannel returns the top-N depth snapshot channel for symbol.
func LimitDepthChannel(symbol string, levels int) string {
	return fmt.Sprintf(limitDepthChannelFmt, symbol, levels)
}

// request is an outbound control frame.
type request struct {
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
}

// reply is an inbound JSON control frame.
type reply struct {
	ID     *int64 `json:"id"`
	Code   *int   `json:"code"`
	Msg    string `json:"msg"`
	Method string `json:"method"`
}

// SubscribeFrame builds a SUBSCRIPTION request for channels.
func SubscribeFrame(channels ...string) ([]byte, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("subscribe: no channels")
	}
	return json.Marshal(request{Method: MethodSubscription, Params: channels})
}

// PingFrame builds an application-level keep-alive probe.
func PingFrame() []byte {
	return []byte(`{"method":"PING"}`)
}

// PongFrame builds the reply to a peer PING.
func PongFrame() []byte {
	return []byte(`{"id":0,"code":0,"msg":"PONG"}`)
}

// DecodeText decodes a JSON control frame.
func DecodeText(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty text frame", ErrMalformedFrame)
	}

	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case strings.EqualFold(r.Method, MethodPing):
		return &Ping{}, nil
	case r.Msg == MsgPong:
		return &Pong{}, nil
	case r.Code != nil:
		ack := &Ack{Code: *r.Code, Msg: r.Msg}
		if r.ID != nil {
			ack.ID = *r.ID
		}
		return ack, nil
	default:
		return nil, fmt.Errorf("%w: unrecognised control frame %s", ErrMalformedFrame, truncate(data, 128))
	}
}

// Succeeded reports whether the ack confirms the request.
func (a *Ack) Succeeded() bool {
	return a.Code == 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
