package maker

import "time"

// State is the engine lifecycle. From a cold start only
// Stopped → Starting → Running is reachable; Running ↔ Paused is
// reversible; any state can move to Stopping → Stopped.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarketState tracks one quoted market. Created at initialization,
// mutated every cycle on the engine goroutine, replaced only when the
// market list is re-initialized.
type MarketState struct {
	Ticker    string
	Title     string
	Active    bool
	Quote     *Quote
	LastQuote time.Time

	// Exchange ids of the currently resting orders, empty when none.
	BidOrderID string
	AskOrderID string

	Fills     int
	CloseTime time.Time
}

// Stats are strategy-wide counters exposed for reporting.
type Stats struct {
	TotalQuotes int64
	TotalFills  int64
	TotalVolume int64
	StartTime   time.Time
	Uptime      time.Duration
}
