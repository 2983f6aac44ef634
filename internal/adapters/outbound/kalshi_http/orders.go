package kalshi_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

// CreateOrderRequest is the payload for POST /portfolio/orders.
type CreateOrderRequest struct {
	Ticker   string `json:"ticker"`
	Action   string `json:"action"` // "buy" or "sell"
	Side     string `json:"side"`   // "yes" or "no"
	Type     string `json:"type"`   // "limit" or "market"
	Count    int    `json:"count"`
	YesPrice int    `json:"yes_price,omitempty"`
	NoPrice  int    `json:"no_price,omitempty"`
	ClientID string `json:"client_order_id,omitempty"`
}

type orderBody struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type createOrderResponse struct {
	Order orderBody `json:"order"`
}

// CreateOrder places a single order and returns its exchange order id.
// A client order id is generated when the caller leaves it empty.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	start := time.Now()
	body, status, err := c.Post(ctx, "/portfolio/orders", req)
	telemetry.Metrics.OrderLatency.Record(time.Since(start))
	if err != nil {
		telemetry.Metrics.OrdersRejected.Inc()
		return "", err
	}
	if status < 200 || status >= 300 {
		telemetry.Metrics.OrdersRejected.Inc()
		return "", fmt.Errorf("order rejected: status=%d ticker=%s action=%s side=%s count=%d price=%d body=%s",
			status, req.Ticker, req.Action, req.Side, req.Count, req.YesPrice, string(body))
	}

	var resp createOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal order response: %w", err)
	}

	telemetry.Debugf("kalshi: order placed ticker=%s %s %d %s @ %d -> %s",
		req.Ticker, req.Action, req.Count, req.Side, req.YesPrice, resp.Order.OrderID)

	return resp.Order.OrderID, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/portfolio/orders/%s", orderID)
	_, status, err := c.Delete(ctx, path)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("cancel %s: status=%d", orderID, status)
	}
	return nil
}

type restingOrdersResponse struct {
	Orders []struct {
		OrderID string `json:"order_id"`
		Ticker  string `json:"ticker"`
	} `json:"orders"`
}

// CancelAllOrders cancels every resting order, optionally scoped to one
// ticker. Kalshi has no bulk-cancel endpoint, so resting orders are
// listed and cancelled one by one; the first error is returned after
// attempting the rest.
func (c *Client) CancelAllOrders(ctx context.Context, ticker string) error {
	path := "/portfolio/orders?status=resting"
	if ticker != "" {
		path += "&ticker=" + url.QueryEscape(ticker)
	}

	body, status, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if status != 200 {
		return fmt.Errorf("list resting orders: status=%d", status)
	}

	var resp restingOrdersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("unmarshal resting orders: %w", err)
	}

	var firstErr error
	for _, o := range resp.Orders {
		if err := c.CancelOrder(ctx, o.OrderID); err != nil {
			telemetry.Warnf("kalshi: cancel-all failed for %s: %v", o.OrderID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
