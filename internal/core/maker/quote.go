package maker

import (
	"github.com/cmreed/kalshi-mm/internal/core/book"
)

// Quote is one two-sided quote decision. Quotes are ephemeral: each
// cycle recomputes and compares against the previous cycle's to decide
// whether to cancel/replace.
type Quote struct {
	Ticker    string
	BidPrice  int
	BidSize   int
	AskPrice  int
	AskSize   int
	FairValue float64 // midpoint the quote was derived from
}

// computeQuote derives spread-capture quotes from the book:
//
//  1. undercut the best bid and best ask by one tick each, or fall back
//     to a fixed default spread around 50 when the book is one-sided or
//     empty;
//  2. shift both sides down by the inventory skew;
//  3. when the observed book spread is tighter than the configured
//     minimum, re-center symmetrically around the midpoint at the
//     minimum width instead of quoting inside it;
//  4. clamp bid to [1,98] and ask to [2,99], keeping ask > bid.
func computeQuote(ticker string, b *book.Book, skew, minSpread, defaultSpread, size int) *Quote {
	if b == nil {
		return nil
	}

	bestBid, okBid := b.BestYesBid()
	bestAsk, okAsk := b.BestYesAsk()

	var bid, ask int
	widen := false
	switch {
	case !okBid && !okAsk:
		half := defaultSpread / 2
		bid = 50 - half
		ask = 50 + half
	case !okBid:
		// Only asks in the book: undercut the ask, bid minSpread below.
		ask = bestAsk - 1
		bid = ask - minSpread
	case !okAsk:
		bid = bestBid + 1
		ask = bid + minSpread
	default:
		bid = bestBid + 1
		ask = bestAsk - 1
		widen = bestAsk-bestBid < minSpread
	}

	// Skew > 0 when long: both sides quote lower to encourage sells.
	bid -= skew
	ask -= skew

	if widen {
		mid := float64(bid+ask) / 2
		half := float64(minSpread) / 2
		bid = int(mid - half)
		ask = int(mid + half)
	}

	bid = clamp(bid, 1, 98)
	ask = clamp(ask, 2, 99)
	if ask <= bid {
		ask = bid + 1
	}

	fv := 50.0
	if mid, ok := b.Mid(); ok {
		fv = mid
	}

	return &Quote{
		Ticker:    ticker,
		BidPrice:  bid,
		BidSize:   size,
		AskPrice:  ask,
		AskSize:   size,
		FairValue: fv,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
