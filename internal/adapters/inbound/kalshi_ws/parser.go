package kalshi_ws

import (
	"encoding/json"
	"time"

	"github.com/cmreed/kalshi-mm/internal/events"
	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

// wsMessage is the raw frame envelope from the Kalshi WebSocket.
type wsMessage struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
}

type snapshotMsg struct {
	MarketTicker string  `json:"market_ticker"`
	Yes          [][]int `json:"yes"`
	No           [][]int `json:"no"`
}

type deltaMsg struct {
	MarketTicker string  `json:"market_ticker"`
	Yes          [][]int `json:"yes"`
	No           [][]int `json:"no"`
}

type tradeMsg struct {
	MarketTicker string  `json:"market_ticker"`
	YesPrice     int     `json:"yes_price"`
	NoPrice      int     `json:"no_price"`
	Count        int     `json:"count"`
	TakerSide    string  `json:"taker_side"`
	TS           float64 `json:"ts"`
}

type fillMsg struct {
	OrderID      string `json:"order_id"`
	MarketTicker string `json:"market_ticker"`
	Side         string `json:"side"`
	Action       string `json:"action"`
	Count        int    `json:"count"`
	YesPrice     int    `json:"yes_price"`
}

type subscribedMsg struct {
	Channel string `json:"channel"`
	SID     int64  `json:"sid"`
}

// ParseMessage converts a raw WebSocket frame into domain events. The
// second return is the subscription id from a "subscribed" ack (zero
// otherwise), which the client tracks for later unsubscribes.
func ParseMessage(data []byte) ([]events.Event, int64) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		telemetry.Metrics.ParseErrors.Inc()
		telemetry.Warnf("kalshi_ws: parse error: %v", err)
		return nil, 0
	}

	switch msg.Type {
	case "orderbook_snapshot":
		return parseSnapshot(msg.Msg), 0
	case "orderbook_delta":
		return parseDelta(msg.Msg), 0
	case "trade":
		return parseTrade(msg.Msg), 0
	case "fill":
		return parseFill(msg.Msg), 0
	case "subscribed":
		var sub subscribedMsg
		if err := json.Unmarshal(msg.Msg, &sub); err != nil {
			return nil, 0
		}
		telemetry.Infof("kalshi_ws: subscribed channel=%s sid=%d", sub.Channel, sub.SID)
		if sub.SID != 0 {
			return nil, sub.SID
		}
		return nil, msg.SID
	case "unsubscribed", "ok":
		return nil, 0
	case "error":
		// Server-side subscription errors are logged, never fatal.
		telemetry.Warnf("kalshi_ws: server error: %s", string(msg.Msg))
		return nil, 0
	default:
		return nil, 0
	}
}

func parseSnapshot(raw json.RawMessage) []events.Event {
	var m snapshotMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		telemetry.Metrics.ParseErrors.Inc()
		return nil
	}
	if m.MarketTicker == "" {
		return nil
	}

	return []events.Event{{
		ID:        m.MarketTicker,
		Type:      events.EventBookSnapshot,
		Timestamp: time.Now(),
		Payload: events.BookSnapshotEvent{
			Ticker: m.MarketTicker,
			Yes:    toLevels(m.Yes),
			No:     toLevels(m.No),
		},
	}}
}

// parseDelta emits one event per (side, price, delta) pair, preserving
// frame order. Deltas are relative, so ordering matters downstream.
func parseDelta(raw json.RawMessage) []events.Event {
	var m deltaMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		telemetry.Metrics.ParseErrors.Inc()
		return nil
	}
	if m.MarketTicker == "" {
		return nil
	}

	now := time.Now()
	var evts []events.Event
	appendSide := func(side string, pairs [][]int) {
		for _, pair := range pairs {
			if len(pair) < 2 {
				continue
			}
			evts = append(evts, events.Event{
				ID:        m.MarketTicker,
				Type:      events.EventBookDelta,
				Timestamp: now,
				Payload: events.BookDeltaEvent{
					Ticker: m.MarketTicker,
					Side:   side,
					Price:  pair[0],
					Delta:  pair[1],
				},
			})
		}
	}
	appendSide("yes", m.Yes)
	appendSide("no", m.No)
	return evts
}

func parseTrade(raw json.RawMessage) []events.Event {
	var m tradeMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		telemetry.Metrics.ParseErrors.Inc()
		return nil
	}
	if m.MarketTicker == "" || m.Count <= 0 {
		return nil
	}

	return []events.Event{{
		ID:        m.MarketTicker,
		Type:      events.EventTrade,
		Timestamp: time.Now(),
		Payload: events.TradeEvent{
			Ticker:    m.MarketTicker,
			YesPrice:  m.YesPrice,
			NoPrice:   m.NoPrice,
			Count:     m.Count,
			TakerSide: m.TakerSide,
			TS:        m.TS,
		},
	}}
}

func parseFill(raw json.RawMessage) []events.Event {
	var m fillMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		telemetry.Metrics.ParseErrors.Inc()
		return nil
	}
	if m.MarketTicker == "" || m.Count <= 0 {
		return nil
	}

	return []events.Event{{
		ID:        m.MarketTicker,
		Type:      events.EventFill,
		Timestamp: time.Now(),
		Payload: events.FillEvent{
			OrderID: m.OrderID,
			Ticker:  m.MarketTicker,
			Side:    m.Side,
			Action:  m.Action,
			Count:   m.Count,
			Price:   m.YesPrice,
		},
	}}
}

func toLevels(pairs [][]int) []events.PriceLevel {
	levels := make([]events.PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		levels = append(levels, events.PriceLevel{Price: pair[0], Quantity: pair[1]})
	}
	return levels
}
