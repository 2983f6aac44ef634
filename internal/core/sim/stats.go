package sim

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// RoundTrip is one completed buy-then-flat cycle.
type RoundTrip struct {
	Ticker     string
	EntryPrice int
	ExitPrice  int
	Size       int
	PnlCents   int
	Hold       time.Duration
}

// EquityPoint is one per-tick mark-to-market observation.
type EquityPoint struct {
	TS    time.Time
	Cents int
}

// Report summarizes a simulation run.
type Report struct {
	Ticker        string
	Started       time.Time
	Elapsed       time.Duration
	Fills         int
	RoundTrips    []RoundTrip
	RealizedCents int
	Position      int
	EntryPrice    int
	MaxDrawdown   int
	Equity        []EquityPoint
}

func (r Report) WinRate() float64 {
	if len(r.RoundTrips) == 0 {
		return 0
	}
	wins := 0
	for _, rt := range r.RoundTrips {
		if rt.PnlCents > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(r.RoundTrips))
}

func (r Report) AvgHold() time.Duration {
	if len(r.RoundTrips) == 0 {
		return 0
	}
	var total time.Duration
	for _, rt := range r.RoundTrips {
		total += rt.Hold
	}
	return total / time.Duration(len(r.RoundTrips))
}

func (r Report) AvgCyclePnl() float64 {
	if len(r.RoundTrips) == 0 {
		return 0
	}
	return float64(r.RealizedCents) / float64(len(r.RoundTrips))
}

// String renders the end-of-run summary block.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "paper run  %s  (%s elapsed)\n", r.Ticker, r.Elapsed.Round(time.Second))
	fmt.Fprintf(&b, "  fills        %s\n", humanize.Comma(int64(r.Fills)))
	fmt.Fprintf(&b, "  round trips  %s\n", humanize.Comma(int64(len(r.RoundTrips))))
	fmt.Fprintf(&b, "  win rate     %.1f%%\n", r.WinRate()*100)
	fmt.Fprintf(&b, "  avg hold     %s\n", r.AvgHold().Round(time.Second))
	fmt.Fprintf(&b, "  avg cycle    %+.2fc\n", r.AvgCyclePnl())
	fmt.Fprintf(&b, "  realized     %+dc\n", r.RealizedCents)
	fmt.Fprintf(&b, "  max drawdown %dc\n", r.MaxDrawdown)
	if r.Position != 0 {
		fmt.Fprintf(&b, "  open         %+d @ %dc\n", r.Position, r.EntryPrice)
	}
	return b.String()
}
