package maker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmreed/kalshi-mm/internal/adapters/outbound/kalshi_http"
	"github.com/cmreed/kalshi-mm/internal/config"
	"github.com/cmreed/kalshi-mm/internal/core/book"
	"github.com/cmreed/kalshi-mm/internal/core/risk"
	"github.com/cmreed/kalshi-mm/internal/events"
)

type fakeTrading struct {
	nextID   int
	created  []kalshi_http.CreateOrderRequest
	canceled []string
	markets  []kalshi_http.Market
	book     kalshi_http.OrderbookLevels
}

func (f *fakeTrading) CreateOrder(ctx context.Context, req kalshi_http.CreateOrderRequest) (string, error) {
	f.nextID++
	f.created = append(f.created, req)
	return fmt.Sprintf("ord-%d", f.nextID), nil
}

func (f *fakeTrading) CancelOrder(ctx context.Context, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeTrading) GetMarkets(ctx context.Context, series, status string) ([]kalshi_http.Market, error) {
	return f.markets, nil
}

func (f *fakeTrading) GetOrderbook(ctx context.Context, ticker string) (kalshi_http.OrderbookLevels, error) {
	return f.book, nil
}

type fakeRiskClient struct{}

func (fakeRiskClient) GetBalance(ctx context.Context) (int, error) { return 100000, nil }
func (fakeRiskClient) GetPositions(ctx context.Context) ([]kalshi_http.Position, error) {
	return nil, nil
}
func (fakeRiskClient) CancelAllOrders(ctx context.Context, ticker string) error { return nil }

type fakeFeed struct {
	subscribed [][]string
}

func (f *fakeFeed) SubscribeTickers(tickers []string) error {
	f.subscribed = append(f.subscribed, tickers)
	return nil
}

func newTestEngine(t *testing.T, trading *fakeTrading) (*Engine, *book.Store, *events.Bus, *fakeFeed) {
	t.Helper()
	limits := config.DefaultLimits()
	bus := events.NewBus()
	books := book.NewStore(bus)
	riskMgr := risk.NewManager(limits.Risk, fakeRiskClient{})
	feed := &fakeFeed{}
	return NewEngine(limits, books, riskMgr, trading, feed, nil, bus), books, bus, feed
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

func TestInitializeLoadsMarketsAndSubscribes(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "KXHIGHNY-A", Title: "NYC high temp", CloseTime: time.Now().Add(24 * time.Hour)},
		{Ticker: "KXHIGHNY-B", Title: "NYC high temp", CloseTime: time.Now().Add(24 * time.Hour)},
	}}
	e, _, _, feed := newTestEngine(t, trading)

	require.NoError(t, e.Initialize(context.Background()))

	states := e.MarketStates()
	assert.Len(t, states, 2)
	assert.True(t, states["KXHIGHNY-A"].Active)

	require.Len(t, feed.subscribed, 1)
	assert.ElementsMatch(t, []string{"KXHIGHNY-A", "KXHIGHNY-B"}, feed.subscribed[0])
}

func TestQuoteMarketPlacesBothSides(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "T", CloseTime: time.Now().Add(24 * time.Hour)},
	}}
	e, _, bus, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	seedBook(bus, "T", 40, 52, 10)
	trading.created = nil

	ms := e.markets["T"]
	e.quoteMarket(context.Background(), ms)

	require.Len(t, trading.created, 2)
	bid, ask := trading.created[0], trading.created[1]
	assert.Equal(t, "buy", bid.Action)
	assert.Equal(t, 41, bid.YesPrice)
	assert.Equal(t, "sell", ask.Action)
	assert.Equal(t, 51, ask.YesPrice)
	assert.Equal(t, "ord-1", ms.BidOrderID)
	assert.Equal(t, "ord-2", ms.AskOrderID)
}

func TestQuoteMarketCancelsOnPriceChange(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "T", CloseTime: time.Now().Add(24 * time.Hour)},
	}}
	e, _, bus, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	seedBook(bus, "T", 40, 52, 10)
	ms := e.markets["T"]
	e.quoteMarket(context.Background(), ms)
	require.Len(t, trading.created, 2)

	// Same book, same quote: nothing cancelled, nothing re-placed.
	e.quoteMarket(context.Background(), ms)
	assert.Empty(t, trading.canceled)
	assert.Len(t, trading.created, 2)

	// Book moves: old orders pulled, fresh pair placed.
	bus.Publish(events.Event{
		Type:    events.EventBookDelta,
		Payload: events.BookDeltaEvent{Ticker: "T", Side: "yes", Price: 44, Delta: 5},
	})
	e.quoteMarket(context.Background(), ms)
	assert.ElementsMatch(t, []string{"ord-1", "ord-2"}, trading.canceled)
	assert.Len(t, trading.created, 4)
}

func TestQuoteMarketFallsBackToREST(t *testing.T) {
	trading := &fakeTrading{
		markets: []kalshi_http.Market{{Ticker: "T", CloseTime: time.Now().Add(24 * time.Hour)}},
		book:    kalshi_http.OrderbookLevels{Yes: [][]int{{40, 10}}, No: [][]int{{48, 10}}},
	}
	e, books, _, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	ms := e.markets["T"]
	e.quoteMarket(context.Background(), ms)

	b, ok := books.Get("T")
	require.True(t, ok, "REST levels seed the store")
	bid, _ := b.BestYesBid()
	assert.Equal(t, 40, bid)
	assert.NotEmpty(t, trading.created)
}

func TestQuoteMarketExitsNearSettlement(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "T", CloseTime: time.Now().Add(1 * time.Hour)},
	}}
	e, _, bus, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	seedBook(bus, "T", 40, 52, 10)
	ms := e.markets["T"]
	e.quoteMarket(context.Background(), ms)

	assert.Empty(t, trading.created, "no quoting inside the settlement exit window")
	assert.False(t, ms.Active)
}

func TestQuoteMarketStopLossForcesExit(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "T", CloseTime: time.Now().Add(24 * time.Hour)},
	}}
	e, _, bus, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	// Long 10 @ 60; a mid of 45 is 15 cents adverse, at the stop.
	e.risk.RecordFill("T", "yes", "buy", 10, 60)
	seedBook(bus, "T", 44, 46, 10)

	ms := e.markets["T"]
	e.quoteMarket(context.Background(), ms)

	require.Len(t, trading.created, 1, "only the flattening order goes out")
	exit := trading.created[0]
	assert.Equal(t, "sell", exit.Action)
	assert.Equal(t, 10, exit.Count)
	assert.Equal(t, 44, exit.YesPrice, "aggressive sell into the best bid")
	assert.False(t, ms.Active)

	// The market stays out of rotation afterwards.
	trading.created = nil
	e.quoteCycle(context.Background())
	assert.Empty(t, trading.created)
}

func TestQuoteMarketStopLossShortBuysBack(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "T", CloseTime: time.Now().Add(24 * time.Hour)},
	}}
	e, _, bus, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	// Short 10 @ 40; a mid of 55 is 15 cents adverse.
	e.risk.RecordFill("T", "yes", "sell", 10, 40)
	seedBook(bus, "T", 54, 56, 10)

	ms := e.markets["T"]
	e.quoteMarket(context.Background(), ms)

	require.Len(t, trading.created, 1)
	exit := trading.created[0]
	assert.Equal(t, "buy", exit.Action)
	assert.Equal(t, 10, exit.Count)
	assert.Equal(t, 56, exit.YesPrice, "aggressive buy at the best ask")
	assert.False(t, ms.Active)
}

func TestSetMarketActiveDisablesQuoting(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "T", CloseTime: time.Now().Add(24 * time.Hour)},
	}}
	e, _, bus, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	seedBook(bus, "T", 40, 52, 10)
	e.SetMarketActive(context.Background(), "T", false)

	e.quoteCycle(context.Background())
	assert.Empty(t, trading.created, "deactivated markets are skipped")

	e.SetMarketActive(context.Background(), "T", true)
	e.quoteCycle(context.Background())
	assert.NotEmpty(t, trading.created)
}

func TestHandleFillMatchedClearsSlot(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "T", CloseTime: time.Now().Add(24 * time.Hour)},
	}}
	e, _, bus, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	seedBook(bus, "T", 40, 52, 10)
	ms := e.markets["T"]
	e.quoteMarket(context.Background(), ms)
	require.Equal(t, "ord-1", ms.BidOrderID)

	e.handleFill(events.FillEvent{
		OrderID: "ord-1", Ticker: "T", Side: "yes", Action: "buy", Count: 10, Price: 41,
	})

	assert.Empty(t, ms.BidOrderID, "filled bid slot cleared for requote")
	assert.Equal(t, "ord-2", ms.AskOrderID)

	mr, ok := e.risk.MarketRisk("T")
	require.True(t, ok)
	assert.Equal(t, 10, mr.Position)
	assert.Equal(t, int64(1), e.Stats().TotalFills)
}

func TestHandleFillUnknownOrderStillRecorded(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "T", CloseTime: time.Now().Add(24 * time.Hour)},
	}}
	e, _, _, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	e.handleFill(events.FillEvent{
		OrderID: "mystery", Ticker: "T", Side: "yes", Action: "buy", Count: 3, Price: 40,
	})

	mr, ok := e.risk.MarketRisk("T")
	require.True(t, ok)
	assert.Equal(t, 3, mr.Position, "unmatched fills still move the position")
}

func TestStopCancelsRestingOrders(t *testing.T) {
	trading := &fakeTrading{markets: []kalshi_http.Market{
		{Ticker: "T", CloseTime: time.Now().Add(24 * time.Hour)},
	}}
	e, _, bus, _ := newTestEngine(t, trading)
	require.NoError(t, e.Initialize(context.Background()))

	seedBook(bus, "T", 40, 52, 10)
	ms := e.markets["T"]
	e.quoteMarket(context.Background(), ms)
	require.Len(t, trading.created, 2)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	e.Stop(ctx)

	assert.Equal(t, Stopped, e.State())
	assert.ElementsMatch(t, []string{"ord-1", "ord-2"}, trading.canceled)
}
