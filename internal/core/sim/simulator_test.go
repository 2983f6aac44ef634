package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmreed/kalshi-mm/internal/adapters/outbound/kalshi_http"
	"github.com/cmreed/kalshi-mm/internal/config"
	"github.com/cmreed/kalshi-mm/internal/core/book"
	"github.com/cmreed/kalshi-mm/internal/events"
)

type fakeSource struct {
	markets []kalshi_http.Market
	book    kalshi_http.OrderbookLevels
}

func (f *fakeSource) GetMarkets(ctx context.Context, series, status string) ([]kalshi_http.Market, error) {
	return f.markets, nil
}

func (f *fakeSource) GetOrderbook(ctx context.Context, ticker string) (kalshi_http.OrderbookLevels, error) {
	return f.book, nil
}

type fakeFeed struct{ tickers []string }

func (f *fakeFeed) SubscribeTickers(t []string) error {
	f.tickers = append(f.tickers, t...)
	return nil
}

func simLimits() config.Limits {
	limits := config.DefaultLimits()
	limits.Sim.Ticker = "T"
	limits.Sim.OrderSize = 10
	limits.Sim.MinSpread = 5
	limits.Sim.MinProfit = 1
	return limits
}

func newTestSim(t *testing.T, limits config.Limits) (*Simulator, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	books := book.NewStore(bus)
	s := NewSimulator(limits, books, &fakeSource{}, &fakeFeed{}, nil, bus)
	s.ticker = limits.Sim.Ticker
	return s, bus
}

func seedBook(bus *events.Bus, ticker string, yesBid, yesAsk, qty int) {
	bus.Publish(events.Event{
		Type: events.EventBookSnapshot,
		Payload: events.BookSnapshotEvent{
			Ticker: ticker,
			Yes:    []events.PriceLevel{{Price: yesBid, Quantity: qty}},
			No:     []events.PriceLevel{{Price: 100 - yesAsk, Quantity: qty}},
		},
	})
}

func TestStepPlacesBuyInsideSpread(t *testing.T) {
	s, bus := newTestSim(t, simLimits())
	seedBook(bus, "T", 40, 52, 7)

	s.step(context.Background())

	require.NotNil(t, s.order)
	assert.Equal(t, "buy", s.order.Action)
	assert.Equal(t, 41, s.order.Price)
	assert.Equal(t, 10, s.order.Remaining)
	assert.Equal(t, 0, s.order.QueueAhead, "nothing rests at 41 yet")
}

func TestStepSkipsTightSpread(t *testing.T) {
	s, bus := newTestSim(t, simLimits())
	seedBook(bus, "T", 40, 43, 7) // spread 3 < min 5

	s.step(context.Background())
	assert.Nil(t, s.order)
}

func TestStepQueueAheadFromDepth(t *testing.T) {
	s, bus := newTestSim(t, simLimits())
	seedBook(bus, "T", 40, 52, 7)
	bus.Publish(events.Event{
		Type:    events.EventBookDelta,
		Payload: events.BookDeltaEvent{Ticker: "T", Side: "yes", Price: 41, Delta: 5},
	})

	s.step(context.Background())

	require.NotNil(t, s.order)
	assert.Equal(t, 42, s.order.Price, "join one above the new best bid")
	assert.Equal(t, 0, s.order.QueueAhead)
}

func TestTradeBurnsQueueThenFills(t *testing.T) {
	s, _ := newTestSim(t, simLimits())
	s.order = &Order{Action: "buy", Price: 41, Size: 10, Remaining: 10, QueueAhead: 5, PlacedAt: time.Now()}

	// Wrong price: ignored.
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 42, Count: 100, TakerSide: "no"})
	assert.Equal(t, 5, s.order.QueueAhead)

	// Wrong aggressor side for a resting bid: ignored.
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 41, Count: 100, TakerSide: "yes"})
	assert.Equal(t, 5, s.order.QueueAhead)

	// 8 contracts trade through: 5 burn the queue, 3 fill us.
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 41, Count: 8, TakerSide: "no"})
	require.NotNil(t, s.order)
	assert.Equal(t, 7, s.order.Remaining)
	assert.Equal(t, 0, s.order.QueueAhead)
	assert.Equal(t, 3, s.position)
	assert.Equal(t, 41, s.entryPrice)
}

func TestRoundTrip(t *testing.T) {
	s, _ := newTestSim(t, simLimits())

	// Buy leg fills completely.
	s.order = &Order{Action: "buy", Price: 41, Size: 10, Remaining: 10, QueueAhead: 0, PlacedAt: time.Now()}
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 41, Count: 10, TakerSide: "no"})
	require.Nil(t, s.order, "fully filled order clears")
	require.Equal(t, 10, s.position)

	// Sell leg at 44 fills completely.
	s.order = &Order{Action: "sell", Price: 44, Size: 10, Remaining: 10, QueueAhead: 0, PlacedAt: time.Now()}
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 44, Count: 10, TakerSide: "yes"})

	assert.Equal(t, 0, s.position)
	assert.Equal(t, 30, s.realized, "(44-41) x 10")
	require.Len(t, s.report.RoundTrips, 1)
	rt := s.report.RoundTrips[0]
	assert.Equal(t, 41, rt.EntryPrice)
	assert.Equal(t, 44, rt.ExitPrice)
	assert.Equal(t, 30, rt.PnlCents)
}

func TestRoundTripNetsRepricedPartialExits(t *testing.T) {
	s, _ := newTestSim(t, simLimits())

	// Buy 10 @ 40.
	s.order = &Order{Action: "buy", Price: 40, Size: 10, Remaining: 10, PlacedAt: time.Now()}
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 40, Count: 10, TakerSide: "no"})
	require.Equal(t, 10, s.position)

	// Exit half at 45, then the sell re-prices down and the rest goes
	// at 38. The cycle nets +25 - 20 = +15 despite the losing tail.
	s.order = &Order{Action: "sell", Price: 45, Size: 10, Remaining: 10, PlacedAt: time.Now()}
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 45, Count: 5, TakerSide: "yes"})
	require.Equal(t, 5, s.position)

	s.order = &Order{Action: "sell", Price: 38, Size: 5, Remaining: 5, PlacedAt: time.Now()}
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 38, Count: 5, TakerSide: "yes"})
	require.Equal(t, 0, s.position)

	require.Len(t, s.report.RoundTrips, 1)
	rt := s.report.RoundTrips[0]
	assert.Equal(t, 15, rt.PnlCents)
	assert.Equal(t, 10, rt.Size)
	assert.Equal(t, 40, rt.EntryPrice)
	assert.Equal(t, 38, rt.ExitPrice)
	assert.Equal(t, 15, s.realized)
	assert.InDelta(t, 1.0, s.report.WinRate(), 0.001)

	// A second cycle starts its P&L from a fresh baseline.
	s.order = &Order{Action: "buy", Price: 40, Size: 10, Remaining: 10, PlacedAt: time.Now()}
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 40, Count: 10, TakerSide: "no"})
	s.order = &Order{Action: "sell", Price: 42, Size: 10, Remaining: 10, PlacedAt: time.Now()}
	s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: 42, Count: 10, TakerSide: "yes"})

	require.Len(t, s.report.RoundTrips, 2)
	assert.Equal(t, 20, s.report.RoundTrips[1].PnlCents)
}

func TestDesiredSellPriceHonorsMinProfit(t *testing.T) {
	s, bus := newTestSim(t, simLimits())
	s.position = 10
	s.entryPrice = 50

	// Best ask 46 would exit at a loss; the floor holds at entry+1.
	seedBook(bus, "T", 40, 46, 7)
	b, ok := s.books.Get("T")
	require.True(t, ok)

	price, ok := s.desiredPrice(b)
	require.True(t, ok)
	assert.Equal(t, 51, price)

	// Best ask well above entry: undercut it instead.
	seedBook(bus, "T", 40, 60, 7)
	b, _ = s.books.Get("T")
	price, ok = s.desiredPrice(b)
	require.True(t, ok)
	assert.Equal(t, 59, price)
}

func TestStepRepricesStaleOrder(t *testing.T) {
	s, bus := newTestSim(t, simLimits())
	seedBook(bus, "T", 40, 52, 7)
	s.step(context.Background())
	require.NotNil(t, s.order)
	require.Equal(t, 41, s.order.Price)

	// Someone outbids us: the virtual order is dropped this tick and
	// re-placed at the new level next tick with a fresh queue snapshot.
	bus.Publish(events.Event{
		Type:    events.EventBookDelta,
		Payload: events.BookDeltaEvent{Ticker: "T", Side: "yes", Price: 43, Delta: 9},
	})
	s.step(context.Background())
	assert.Nil(t, s.order)

	s.step(context.Background())
	require.NotNil(t, s.order)
	assert.Equal(t, 44, s.order.Price)
}

func TestDrawdownTracksEquityPeak(t *testing.T) {
	s, _ := newTestSim(t, simLimits())

	trip := func(entry, exit int) {
		s.order = &Order{Action: "buy", Price: entry, Size: 10, Remaining: 10, PlacedAt: time.Now()}
		s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: entry, Count: 10, TakerSide: "no"})
		s.order = &Order{Action: "sell", Price: exit, Size: 10, Remaining: 10, PlacedAt: time.Now()}
		s.onTrade(events.TradeEvent{Ticker: "T", YesPrice: exit, Count: 10, TakerSide: "yes"})
	}

	trip(40, 44) // +40, peak 40
	trip(40, 37) // -30, equity 10
	trip(40, 42) // +20, equity 30, still under peak

	assert.Equal(t, 30, s.realized)
	assert.Equal(t, 40, s.peak)
	assert.Equal(t, 30, s.drawdown)

	report := s.finish()
	assert.Equal(t, 30, report.MaxDrawdown)
	assert.InDelta(t, 2.0/3.0, report.WinRate(), 0.001)
}

func TestMarkEquityIncludesUnrealized(t *testing.T) {
	s, _ := newTestSim(t, simLimits())
	s.realized = 20
	s.position = 10
	s.entryPrice = 40

	s.markEquity(43.0) // 20 + 10*3 = 50
	s.markEquity(38.0) // 20 - 20 = 0

	require.Len(t, s.equity, 2)
	assert.Equal(t, 50, s.equity[0].Cents)
	assert.Equal(t, 0, s.equity[1].Cents)
	assert.Equal(t, 50, s.peak)
	assert.Equal(t, 50, s.drawdown)
}
