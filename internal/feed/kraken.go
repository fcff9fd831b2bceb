package feed

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// FrameKind classifies one inbound frame from the Kraken v1 public feed.
type FrameKind int

const (
	// FrameUnknown covers frame shapes this client does not understand;
	// they are ignored for forward compatibility.
	FrameUnknown FrameKind = iota
	// FrameHeartbeat is a server keepalive (heartbeat or pong).
	FrameHeartbeat
	// FrameSystemStatus reports upstream system state.
	FrameSystemStatus
	// FrameSubscribed acknowledges the ticker subscription.
	FrameSubscribed
	// FrameSubscribeError reports a failed subscription.
	FrameSubscribeError
	// FrameTick carries a price update.
	FrameTick
)

// Frame is the classified form of one inbound message.
type Frame struct {
	Kind         FrameKind
	Pair         string
	Price        decimal.Decimal
	Status       string
	ErrorMessage string
}

type eventEnvelope struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Subscription struct {
		Name string `json:"name"`
	} `json:"subscription"`
}

// Ticker payloads carry the last trade under "c", falling back to best
// ask "a" then last price "p" for older variants of the channel.
type tickerPayload struct {
	C []string `json:"c"`
	A []string `json:"a"`
	P []string `json:"p"`
}

// SubscribeMessage builds the one-shot ticker subscription request.
func SubscribeMessage(pair string) ([]byte, error) {
	payload := map[string]any{
		"event":        "subscribe",
		"pair":         []string{pair},
		"subscription": map[string]string{"name": "ticker"},
	}
	return json.Marshal(payload)
}

// PingMessage builds a client keepalive.
func PingMessage() []byte {
	return []byte(`{"event":"ping"}`)
}

// ClassifyFrame parses one raw inbound frame. Malformed data never errors:
// anything unparseable comes back as FrameUnknown and is dropped upstream.
func ClassifyFrame(raw []byte) Frame {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err == nil {
		return classifyArrayFrame(elements)
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Frame{Kind: FrameUnknown}
	}

	switch envelope.Event {
	case "heartbeat", "pong":
		return Frame{Kind: FrameHeartbeat}
	case "systemStatus":
		return Frame{Kind: FrameSystemStatus, Status: envelope.Status}
	case "subscriptionStatus":
		if envelope.Status == "error" {
			return Frame{Kind: FrameSubscribeError, ErrorMessage: envelope.ErrorMessage}
		}
		if envelope.Status == "subscribed" {
			return Frame{Kind: FrameSubscribed}
		}
		return Frame{Kind: FrameUnknown}
	default:
		return Frame{Kind: FrameUnknown}
	}
}

// Array form: [channelID, payload, "ticker", "XBT/USD"].
func classifyArrayFrame(elements []json.RawMessage) Frame {
	if len(elements) < 2 {
		return Frame{Kind: FrameUnknown}
	}

	var payload tickerPayload
	if err := json.Unmarshal(elements[1], &payload); err != nil {
		return Frame{Kind: FrameUnknown}
	}

	price, ok := lastPrice(payload)
	if !ok {
		return Frame{Kind: FrameUnknown}
	}

	var pair string
	_ = json.Unmarshal(elements[len(elements)-1], &pair)

	return Frame{Kind: FrameTick, Pair: pair, Price: price}
}

func lastPrice(payload tickerPayload) (decimal.Decimal, bool) {
	for _, candidates := range [][]string{payload.C, payload.A, payload.P} {
		if len(candidates) == 0 {
			continue
		}
		price, err := decimal.NewFromString(candidates[0])
		if err != nil {
			continue
		}
		if price.Sign() > 0 {
			return price, true
		}
	}
	return decimal.Decimal{}, false
}
