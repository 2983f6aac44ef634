package kalshi_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
)

// Market is the subset of market metadata the quoting engine consumes.
type Market struct {
	Ticker    string    `json:"ticker"`
	Title     string    `json:"title"`
	CloseTime time.Time `json:"close_time"`
	Volume24h int64     `json:"volume_24h"`
}

type marketsResponse struct {
	Markets []Market `json:"markets"`
}

// GetMarkets lists markets for a series, optionally filtered by status
// (e.g. "open").
func (c *Client) GetMarkets(ctx context.Context, seriesTicker, status string) ([]Market, error) {
	path := "/markets?series_ticker=" + url.QueryEscape(seriesTicker)
	if status != "" {
		path += "&status=" + url.QueryEscape(status)
	}

	body, code, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if code != 200 {
		return nil, fmt.Errorf("get markets %s: status=%d", seriesTicker, code)
	}

	var resp marketsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal markets: %w", err)
	}
	return resp.Markets, nil
}

// OrderbookLevels are the raw per-side [price, quantity] pairs from the
// REST orderbook endpoint, the same shape the WS snapshot carries.
type OrderbookLevels struct {
	Yes [][]int `json:"yes"`
	No  [][]int `json:"no"`
}

type orderbookResponse struct {
	Orderbook OrderbookLevels `json:"orderbook"`
}

var orderbookGroup singleflight.Group

// GetOrderbook fetches the book over REST. Used as the fallback path
// when the streaming book is absent for a ticker; concurrent calls for
// the same ticker are collapsed into one request.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (OrderbookLevels, error) {
	v, err, _ := orderbookGroup.Do(ticker, func() (any, error) {
		path := fmt.Sprintf("/markets/%s/orderbook", url.PathEscape(ticker))
		body, code, err := c.Get(ctx, path)
		if err != nil {
			return OrderbookLevels{}, err
		}
		if code != 200 {
			return OrderbookLevels{}, fmt.Errorf("get orderbook %s: status=%d", ticker, code)
		}

		var resp orderbookResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return OrderbookLevels{}, fmt.Errorf("unmarshal orderbook: %w", err)
		}
		return resp.Orderbook, nil
	})
	if err != nil {
		return OrderbookLevels{}, err
	}
	return v.(OrderbookLevels), nil
}
