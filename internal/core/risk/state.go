package risk

import "time"

// MarketRisk holds per-market exposure and P&L. Entries are created on
// first fill or first position sync and zeroed rather than deleted.
type MarketRisk struct {
	Ticker            string
	Position          int // positive = long yes
	AvgEntryPrice     float64
	RealizedPnl       float64
	UnrealizedPnl     float64
	OpenBuyOrders     int
	OpenSellOrders    int
	LastPrice         float64
	StopLossTriggered bool
}

// NetExposure includes orders that would add to the position if filled.
func (mr MarketRisk) NetExposure() int {
	return mr.Position + mr.OpenBuyOrders - mr.OpenSellOrders
}

func (mr MarketRisk) TotalPnl() float64 {
	return mr.RealizedPnl + mr.UnrealizedPnl
}

// applyFill mutates position, average entry price, and realized P&L for
// a signed position delta at the given price. Increasing the position
// blends the entry price; reducing realizes P&L against it; crossing
// through zero realizes the closed leg and re-enters at the fill price.
func (mr *MarketRisk) applyFill(delta int, price float64) {
	old := mr.Position
	mr.Position = old + delta

	switch {
	case old == 0 || sameSign(old, delta):
		total := mr.AvgEntryPrice*float64(abs(old)) + price*float64(abs(delta))
		if mr.Position != 0 {
			mr.AvgEntryPrice = total / float64(abs(mr.Position))
		}
	case abs(delta) <= abs(old):
		closed := abs(delta)
		mr.RealizedPnl += closeOutPnl(old, mr.AvgEntryPrice, price, closed)
		if mr.Position == 0 {
			mr.AvgEntryPrice = 0
			mr.StopLossTriggered = false
		}
	default:
		// Crossed zero: realize on the full old position, re-enter
		// the remainder at the fill price.
		mr.RealizedPnl += closeOutPnl(old, mr.AvgEntryPrice, price, abs(old))
		mr.AvgEntryPrice = price
		mr.StopLossTriggered = false
	}
}

// closeOutPnl computes realized P&L for closing qty contracts of a
// position with sign taken from oldPos.
func closeOutPnl(oldPos int, entry, price float64, qty int) float64 {
	if oldPos > 0 {
		return (price - entry) * float64(qty)
	}
	return (entry - price) * float64(qty)
}

func sameSign(a, b int) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// State is a deep copy of the full risk picture at one instant.
type State struct {
	TotalPosition      int
	TotalRealizedPnl   float64
	TotalUnrealizedPnl float64
	DailyPnl           float64
	Markets            map[string]MarketRisk
	Halted             bool
	HaltReason         string
	LastUpdate         time.Time
}

// Snapshot returns a copy of the aggregate risk state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		TotalPosition: m.totalPosition,
		DailyPnl:      m.dailyPnl,
		Markets:       make(map[string]MarketRisk, len(m.markets)),
		Halted:        m.halted,
		HaltReason:    m.haltReason,
		LastUpdate:    m.lastUpdate,
	}
	for t, mr := range m.markets {
		st.Markets[t] = *mr
		st.TotalRealizedPnl += mr.RealizedPnl
		st.TotalUnrealizedPnl += mr.UnrealizedPnl
	}
	return st
}

// MarketRisk returns a copy of one market's risk entry.
func (m *Manager) MarketRisk(ticker string) (MarketRisk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.markets[ticker]
	if !ok {
		return MarketRisk{}, false
	}
	return *mr, true
}
