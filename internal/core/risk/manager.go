package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cmreed/kalshi-mm/internal/adapters/outbound/kalshi_http"
	"github.com/cmreed/kalshi-mm/internal/config"
	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

// TradingClient is the slice of the REST client the risk manager needs:
// portfolio reads for reconciliation and cancel-all for the kill switch.
type TradingClient interface {
	GetBalance(ctx context.Context) (int, error)
	GetPositions(ctx context.Context) ([]kalshi_http.Position, error)
	CancelAllOrders(ctx context.Context, ticker string) error
}

var _ TradingClient = (*kalshi_http.Client)(nil)

// OneSide restricts quoting to the position-reducing side once
// inventory passes the configured threshold.
type OneSide int

const (
	OneSideNone OneSide = iota
	OneSideBid          // short: only quote the bid (buy back)
	OneSideAsk          // long: only quote the ask (sell down)
)

// Manager is the process-wide risk authority. Every order placement
// goes through CanPlaceOrder; fills and periodic position syncs keep
// its view of exposure current.
type Manager struct {
	limits config.RiskLimits
	client TradingClient

	mu            sync.Mutex
	markets       map[string]*MarketRisk
	totalPosition int
	dailyPnl      float64
	halted        bool
	haltReason    string
	lastUpdate    time.Time

	startBalance     int
	haveStartBalance bool
}

func NewManager(limits config.RiskLimits, client TradingClient) *Manager {
	return &Manager{
		limits:  limits,
		client:  client,
		markets: make(map[string]*MarketRisk),
	}
}

// Initialize records the daily P&L baseline from the current balance
// and loads open positions from the exchange.
func (m *Manager) Initialize(ctx context.Context) error {
	balance, err := m.client.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("risk baseline balance: %w", err)
	}

	m.mu.Lock()
	m.startBalance = balance
	m.haveStartBalance = true
	m.mu.Unlock()

	if err := m.SyncPositions(ctx); err != nil {
		return err
	}
	telemetry.Infof("risk: initialized baseline=%d cents", balance)
	return nil
}

// SyncPositions reconciles positions against the exchange: existing
// entries are zeroed first so positions closed elsewhere don't linger.
func (m *Manager) SyncPositions(ctx context.Context) error {
	positions, err := m.client.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("sync positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mr := range m.markets {
		mr.Position = 0
	}

	total := 0
	for _, pos := range positions {
		mr := m.market(pos.Ticker)
		mr.Position = pos.Position
		mr.AvgEntryPrice = pos.AvgEntryPrice()
		mr.RealizedPnl = float64(pos.RealizedPnl)
		total += abs(pos.Position)
	}

	m.totalPosition = total
	m.lastUpdate = time.Now()
	telemetry.Infof("risk: synced %d positions, total=%d", len(positions), total)
	return nil
}

// UpdateDailyPnL refreshes daily P&L from the current balance relative
// to the baseline captured at Initialize.
func (m *Manager) UpdateDailyPnL(ctx context.Context) error {
	m.mu.Lock()
	have := m.haveStartBalance
	m.mu.Unlock()
	if !have {
		return nil
	}

	balance, err := m.client.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("daily pnl balance: %w", err)
	}

	m.mu.Lock()
	m.dailyPnl = float64(balance - m.startBalance)
	m.mu.Unlock()
	return nil
}

// CanPlaceOrder gates an order against the halt flag, the daily loss
// ceiling, per-market and total position caps, and the per-order size
// cap. Denials are expected control flow, not errors.
func (m *Manager) CanPlaceOrder(ticker, side, action string, count int) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return false, fmt.Sprintf("trading halted: %s", m.haltReason)
	}

	if m.dailyPnl < -float64(m.limits.MaxDailyLossCents) {
		return false, fmt.Sprintf("daily loss limit exceeded: %.0f cents", -m.dailyPnl)
	}

	delta := positionDelta(side, action, count)

	current := 0
	if mr, ok := m.markets[ticker]; ok {
		current = mr.Position
	}
	newPos := current + delta

	if abs(newPos) > m.limits.MaxPositionPerMarket {
		return false, fmt.Sprintf("market position limit: %d > %d", abs(newPos), m.limits.MaxPositionPerMarket)
	}

	newTotal := m.totalPosition - abs(current) + abs(newPos)
	if newTotal > m.limits.MaxTotalPosition {
		return false, fmt.Sprintf("total position limit: %d > %d", newTotal, m.limits.MaxTotalPosition)
	}

	if count > m.limits.MaxOrderSize {
		return false, fmt.Sprintf("order size limit: %d > %d", count, m.limits.MaxOrderSize)
	}

	return true, ""
}

// InventorySkew returns the cents to subtract from both quote sides so
// a long position quotes lower and a short position quotes higher.
// Linear mode scales directly with position; exponential mode ramps up
// as position grows. Either way the result is clamped to the cap.
func (m *Manager) InventorySkew(ticker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	mr, ok := m.markets[ticker]
	if !ok || mr.Position == 0 {
		return 0
	}

	pos := mr.Position
	var skew float64
	switch m.limits.SkewMode {
	case config.SkewExponential:
		mag := m.limits.InventorySkewFactor * (math.Exp(float64(abs(pos))/20) - 1)
		skew = mag
		if pos < 0 {
			skew = -mag
		}
	default:
		skew = float64(pos) * m.limits.InventorySkewFactor
	}

	capped := int(skew)
	if capped > m.limits.MaxInventorySkew {
		capped = m.limits.MaxInventorySkew
	}
	if capped < -m.limits.MaxInventorySkew {
		capped = -m.limits.MaxInventorySkew
	}
	return capped
}

// ShouldOneSideQuote restricts quoting to the reducing side once
// |position| passes the threshold.
func (m *Manager) ShouldOneSideQuote(ticker string) OneSide {
	m.mu.Lock()
	defer m.mu.Unlock()

	mr, ok := m.markets[ticker]
	if !ok || m.limits.OneSideThreshold <= 0 {
		return OneSideNone
	}
	if mr.Position >= m.limits.OneSideThreshold {
		return OneSideAsk
	}
	if mr.Position <= -m.limits.OneSideThreshold {
		return OneSideBid
	}
	return OneSideNone
}

// CheckStopLoss reports whether price has moved against the held side
// by at least the configured ceiling. The market is flagged on first
// trigger; the caller is expected to force-exit and deactivate it.
func (m *Manager) CheckStopLoss(ticker string, currentPrice float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	mr, ok := m.markets[ticker]
	if !ok || mr.Position == 0 || m.limits.StopLossCents <= 0 {
		return false
	}

	var adverse float64
	if mr.Position > 0 {
		adverse = mr.AvgEntryPrice - currentPrice
	} else {
		adverse = currentPrice - mr.AvgEntryPrice
	}

	if adverse < float64(m.limits.StopLossCents) {
		return false
	}

	if !mr.StopLossTriggered {
		mr.StopLossTriggered = true
		telemetry.Warnf("risk: stop loss %s pos=%d entry=%.1f now=%.1f adverse=%.1f",
			ticker, mr.Position, mr.AvgEntryPrice, currentPrice, adverse)
	}
	return true
}

// ShouldExitMarket reports the time-based exit: too close to settlement.
func (m *Manager) ShouldExitMarket(ticker string, hoursToClose float64) bool {
	return hoursToClose < m.limits.HoursBeforeExit
}

// MarkPrice records the latest observed price and refreshes unrealized
// P&L for the market.
func (m *Manager) MarkPrice(ticker string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mr, ok := m.markets[ticker]
	if !ok {
		return
	}
	mr.LastPrice = price
	if mr.Position != 0 {
		mr.UnrealizedPnl = (price - mr.AvgEntryPrice) * float64(mr.Position)
	} else {
		mr.UnrealizedPnl = 0
	}
}

// RecordFill applies a fill to the market's position, average entry
// price, and realized P&L, then recomputes the aggregate position.
func (m *Manager) RecordFill(ticker, side, action string, count int, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mr := m.market(ticker)
	delta := positionDelta(side, action, count)
	oldPos := mr.Position
	mr.applyFill(delta, price)

	m.totalPosition = 0
	for _, r := range m.markets {
		m.totalPosition += abs(r.Position)
	}
	m.lastUpdate = time.Now()

	telemetry.Metrics.FillsRecorded.Inc()
	telemetry.Infof("risk: fill %s %s %d %s @ %.0f (pos %d -> %d)",
		ticker, action, count, side, price, oldPos, mr.Position)
}

// UpdateOpenOrders sets the open order counts for a market.
func (m *Manager) UpdateOpenOrders(ticker string, buys, sells int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr := m.market(ticker)
	mr.OpenBuyOrders = buys
	mr.OpenSellOrders = sells
}

// HaltTrading stops all order placement until resumed.
func (m *Manager) HaltTrading(reason string) {
	m.mu.Lock()
	m.halted = true
	m.haltReason = reason
	m.mu.Unlock()
	telemetry.Warnf("risk: trading HALTED: %s", reason)
}

func (m *Manager) ResumeTrading() {
	m.mu.Lock()
	m.halted = false
	m.haltReason = ""
	m.mu.Unlock()
	telemetry.Infof("risk: trading resumed")
}

func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// TriggerKillSwitch halts trading and cancels every resting order.
// Returns whether cancellation fully succeeded; the halt sticks either
// way and requires operator intervention to lift.
func (m *Manager) TriggerKillSwitch(ctx context.Context) bool {
	m.HaltTrading("kill switch")

	if err := m.client.CancelAllOrders(ctx, ""); err != nil {
		telemetry.Errorf("risk: kill switch cancel-all failed: %v", err)
		return false
	}
	telemetry.Infof("risk: kill switch: all orders cancelled")
	return true
}

// market returns the entry for ticker, creating it when absent.
// Caller must hold mu.
func (m *Manager) market(ticker string) *MarketRisk {
	mr, ok := m.markets[ticker]
	if !ok {
		mr = &MarketRisk{Ticker: ticker}
		m.markets[ticker] = mr
	}
	return mr
}

// positionDelta: buying yes or selling no increases yes-exposure,
// the inverse decreases it.
func positionDelta(side, action string, count int) int {
	if (action == "buy" && side == "yes") || (action == "sell" && side == "no") {
		return count
	}
	return -count
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
