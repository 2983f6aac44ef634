package kalshi_http

import (
	"context"
	"encoding/json"
	"fmt"
)

type balanceResponse struct {
	Balance int `json:"balance"` // cents
}

// GetBalance returns the account balance in cents.
func (c *Client) GetBalance(ctx context.Context) (int, error) {
	body, status, err := c.Get(ctx, "/portfolio/balance")
	if err != nil {
		return 0, err
	}
	if status != 200 {
		return 0, fmt.Errorf("get balance: status=%d", status)
	}
	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal balance: %w", err)
	}
	return resp.Balance, nil
}

// Position is one market position from the portfolio endpoint.
type Position struct {
	Ticker         string `json:"ticker"`
	Position       int    `json:"position"`
	MarketExposure int    `json:"market_exposure"`
	RealizedPnl    int    `json:"realized_pnl"`
}

// AvgEntryPrice derives the average entry price in cents from exposure.
func (p Position) AvgEntryPrice() float64 {
	if p.Position == 0 {
		return 0
	}
	abs := p.Position
	if abs < 0 {
		abs = -abs
	}
	return float64(p.MarketExposure) / float64(abs)
}

type positionsResponse struct {
	MarketPositions []Position `json:"market_positions"`
}

func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	body, status, err := c.Get(ctx, "/portfolio/positions")
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("get positions: status=%d", status)
	}
	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	return resp.MarketPositions, nil
}
