package kalshi_ws

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cmreed/kalshi-mm/internal/adapters/kalshi_auth"
	"github.com/cmreed/kalshi-mm/internal/events"
	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

// Client maintains one persistent Kalshi WebSocket session for a fixed
// set of channels (e.g. ["orderbook_delta"] for the book feed,
// ["trade", "fill"] for the trade feed) and publishes parsed events
// onto the bus.
//
// Gorilla/websocket supports one concurrent reader and one concurrent
// writer, so all writes are serialized through mu. Reconnection is
// serial: a single runLoop goroutine owns the connection lifecycle.
type Client struct {
	url      string
	feed     string
	channels []string
	signer   *kalshi_auth.Signer
	bus      *events.Bus
	done     chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	tickers map[string]bool
	reqID   int
	sids    map[int64]bool
}

// NewClient builds a feed client. The feed label only appears in logs
// and WSStatus events.
func NewClient(wsURL, feed string, channels []string, signer *kalshi_auth.Signer, bus *events.Bus) *Client {
	return &Client{
		url:      wsURL,
		feed:     feed,
		channels: channels,
		signer:   signer,
		bus:      bus,
		done:     make(chan struct{}),
		tickers:  make(map[string]bool),
		sids:     make(map[int64]bool),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.runLoop(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	parsed, _ := url.Parse(c.url)
	wsPath := parsed.Path
	if wsPath == "" {
		wsPath = "/trade-api/ws/v2"
	}
	header := c.signer.Headers("GET", wsPath)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// SubscribeTickers adds tickers and subscribes on the live connection.
// Safe to call from any goroutine at any time. If the connection is not
// yet established the tickers are stored and subscribed on connect.
func (c *Client) SubscribeTickers(tickers []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var newTickers []string
	for _, t := range tickers {
		if !c.tickers[t] {
			c.tickers[t] = true
			newTickers = append(newTickers, t)
		}
	}

	if len(newTickers) == 0 || c.conn == nil {
		return nil
	}

	return c.sendSubscribe(newTickers)
}

// Unsubscribe drops tickers and tears down every tracked subscription id.
// Kalshi unsubscribes whole sids, not single tickers, so the remaining
// set is resubscribed afterwards.
func (c *Client) Unsubscribe(tickers []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range tickers {
		delete(c.tickers, t)
	}
	if c.conn == nil || len(c.sids) == 0 {
		return nil
	}

	sids := make([]int64, 0, len(c.sids))
	for sid := range c.sids {
		sids = append(sids, sid)
	}
	c.sids = make(map[int64]bool)

	c.reqID++
	cmd := unsubscribeCmd{
		ID:     c.reqID,
		Cmd:    "unsubscribe",
		Params: unsubscribeParams{SIDs: sids},
	}
	if err := c.conn.WriteJSON(cmd); err != nil {
		return err
	}

	if len(c.tickers) == 0 {
		return nil
	}
	all := make([]string, 0, len(c.tickers))
	for t := range c.tickers {
		all = append(all, t)
	}
	return c.sendSubscribe(all)
}

// runLoop reads messages and reconnects on failure with exponential
// backoff starting at 1s, doubling to a 60s cap, reset after each
// clean reconnect.
func (c *Client) runLoop(ctx context.Context) {
	defer close(c.done)

	first := true
	for {
		if first {
			telemetry.Infof("[%s] WS connected to %s", c.feed, c.url)
			first = false
		} else {
			telemetry.Metrics.Reconnects.Inc()
			telemetry.Infof("[%s] WS reconnected", c.feed)
		}

		c.resubscribeAll()
		c.publishStatus(true)
		c.readLoop(ctx)
		c.publishStatus(false)

		select {
		case <-ctx.Done():
			return
		default:
		}

		backoff := 1 * time.Second
		const maxBackoff = 60 * time.Second
		for attempt := 1; ; attempt++ {
			telemetry.Warnf("[%s] WS reconnecting (attempt %d) in %s", c.feed, attempt, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.dial(ctx); err != nil {
				telemetry.Warnf("[%s] WS dial failed: %v", c.feed, err)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			break
		}
	}
}

// resubscribeAll sends a subscribe for every known ticker.
// Called after each successful connection/reconnection.
func (c *Client) resubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sids = make(map[int64]bool)
	if len(c.tickers) == 0 {
		return
	}

	all := make([]string, 0, len(c.tickers))
	for t := range c.tickers {
		all = append(all, t)
	}

	if err := c.sendSubscribe(all); err != nil {
		telemetry.Warnf("[%s] WS resubscribe failed: %v", c.feed, err)
	}
}

// sendSubscribe writes a subscribe command. Caller must hold mu.
func (c *Client) sendSubscribe(tickers []string) error {
	c.reqID++
	cmd := subscribeCmd{
		ID:  c.reqID,
		Cmd: "subscribe",
		Params: subscribeParams{
			Channels:      c.channels,
			MarketTickers: tickers,
		},
	}
	telemetry.Debugf("[%s] subscribing to %d tickers (id=%d)", c.feed, len(tickers), c.reqID)
	return c.conn.WriteJSON(cmd)
}

type subscribeCmd struct {
	ID     int             `json:"id"`
	Cmd    string          `json:"cmd"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

type unsubscribeCmd struct {
	ID     int               `json:"id"`
	Cmd    string            `json:"cmd"`
	Params unsubscribeParams `json:"params"`
}

type unsubscribeParams struct {
	SIDs []int64 `json:"sids"`
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	defer conn.Close()

	// Kalshi sends pings every 10s; 30s gives 3 missed pings before timeout.
	const pingWait = 30 * time.Second

	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			telemetry.Warnf("[%s] WS read error: %v", c.feed, err)
			return
		}

		conn.SetReadDeadline(time.Now().Add(pingWait))
		evts, sid := ParseMessage(msg)
		if sid != 0 {
			c.mu.Lock()
			c.sids[sid] = true
			c.mu.Unlock()
		}
		for _, evt := range evts {
			c.bus.Publish(evt)
		}
	}
}

func (c *Client) publishStatus(connected bool) {
	if connected {
		telemetry.Metrics.WSConnected.Inc()
	} else {
		telemetry.Metrics.WSConnected.Dec()
	}
	c.bus.Publish(events.Event{
		Type:      events.EventWSStatus,
		Timestamp: time.Now(),
		Payload:   events.WSStatusEvent{Feed: c.feed, Connected: connected},
	})
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}
