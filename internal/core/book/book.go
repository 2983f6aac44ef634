package book

import (
	"sort"
	"time"

	"github.com/cmreed/kalshi-mm/internal/events"
)

// Level is one aggregated price level.
type Level struct {
	Price    int
	Quantity int
}

// Book is the reconstructed order book for a single binary market.
// Both sides are stored as resting bids: the yes map holds bids for the
// yes contract, the no map holds bids for the no contract, whose best
// entry implies the yes ask via 100 - price.
//
// Quantities are strictly positive; a level that reaches zero is
// removed, never stored as zero. Book itself is not goroutine-safe —
// Store guards it and hands out copies.
type Book struct {
	Ticker     string
	YesBids    map[int]int
	NoBids     map[int]int
	LastUpdate time.Time
}

func New(ticker string) *Book {
	return &Book{
		Ticker:  ticker,
		YesBids: make(map[int]int),
		NoBids:  make(map[int]int),
	}
}

// ApplySnapshot replaces both sides wholesale. Zero-quantity levels in
// the snapshot are dropped on the way in.
func (b *Book) ApplySnapshot(yes, no []events.PriceLevel) {
	b.YesBids = make(map[int]int, len(yes))
	b.NoBids = make(map[int]int, len(no))

	for _, lvl := range yes {
		if lvl.Quantity > 0 {
			b.YesBids[lvl.Price] = lvl.Quantity
		}
	}
	for _, lvl := range no {
		if lvl.Quantity > 0 {
			b.NoBids[lvl.Price] = lvl.Quantity
		}
	}
	b.LastUpdate = time.Now()
}

// ApplyDelta adds a signed quantity to one level. Results at or below
// zero remove the level. Deltas are relative, so callers must apply them
// exactly once, in arrival order.
func (b *Book) ApplyDelta(side string, price, delta int) {
	m := b.YesBids
	if side == "no" {
		m = b.NoBids
	}

	q := m[price] + delta
	if q <= 0 {
		delete(m, price)
	} else {
		m[price] = q
	}
	b.LastUpdate = time.Now()
}

// BestYesBid is the highest price anyone pays for yes.
func (b *Book) BestYesBid() (int, bool) {
	return maxKey(b.YesBids)
}

// BestYesAsk is the lowest price yes can be bought at, implied by the
// best no bid.
func (b *Book) BestYesAsk() (int, bool) {
	bestNo, ok := maxKey(b.NoBids)
	if !ok {
		return 0, false
	}
	return 100 - bestNo, true
}

// Spread is ask - bid, present only when both sides exist and the
// difference is positive (a crossed or locked book reports no spread).
func (b *Book) Spread() (int, bool) {
	bid, okBid := b.BestYesBid()
	ask, okAsk := b.BestYesAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	s := ask - bid
	if s <= 0 {
		return 0, false
	}
	return s, true
}

// Mid is the midpoint of best bid and ask.
func (b *Book) Mid() (float64, bool) {
	bid, okBid := b.BestYesBid()
	ask, okAsk := b.BestYesAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return float64(bid+ask) / 2, true
}

// DepthAt reports the quantity resting at a price on one side.
func (b *Book) DepthAt(side string, price int) int {
	if side == "no" {
		return b.NoBids[price]
	}
	return b.YesBids[price]
}

// SortedYesBids returns yes levels best-first.
func (b *Book) SortedYesBids() []Level {
	return sortedLevels(b.YesBids)
}

// SortedNoBids returns no levels best-first.
func (b *Book) SortedNoBids() []Level {
	return sortedLevels(b.NoBids)
}

// Clone returns a deep value copy safe to read without the store lock.
func (b *Book) Clone() *Book {
	out := &Book{
		Ticker:     b.Ticker,
		YesBids:    make(map[int]int, len(b.YesBids)),
		NoBids:     make(map[int]int, len(b.NoBids)),
		LastUpdate: b.LastUpdate,
	}
	for p, q := range b.YesBids {
		out.YesBids[p] = q
	}
	for p, q := range b.NoBids {
		out.NoBids[p] = q
	}
	return out
}

func maxKey(m map[int]int) (int, bool) {
	if len(m) == 0 {
		return 0, false
	}
	best := 0
	found := false
	for p := range m {
		if !found || p > best {
			best = p
			found = true
		}
	}
	return best, true
}

func sortedLevels(m map[int]int) []Level {
	levels := make([]Level, 0, len(m))
	for p, q := range m {
		levels = append(levels, Level{Price: p, Quantity: q})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return levels
}
