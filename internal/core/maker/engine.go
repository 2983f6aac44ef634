package maker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cmreed/kalshi-mm/internal/adapters/outbound/kalshi_http"
	"github.com/cmreed/kalshi-mm/internal/config"
	"github.com/cmreed/kalshi-mm/internal/core/book"
	"github.com/cmreed/kalshi-mm/internal/core/risk"
	"github.com/cmreed/kalshi-mm/internal/events"
	"github.com/cmreed/kalshi-mm/internal/journal"
	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

// TradingClient is the slice of the REST client the engine places and
// cancels orders through, plus the book fallback and market listing.
type TradingClient interface {
	CreateOrder(ctx context.Context, req kalshi_http.CreateOrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetMarkets(ctx context.Context, seriesTicker, status string) ([]kalshi_http.Market, error)
	GetOrderbook(ctx context.Context, ticker string) (kalshi_http.OrderbookLevels, error)
}

var _ TradingClient = (*kalshi_http.Client)(nil)

// Feed subscribes tickers on the streaming book feed.
type Feed interface {
	SubscribeTickers(tickers []string) error
}

// Engine is the quoting engine: a periodic loop that, per active
// market, reads the book and risk state, computes a two-sided quote,
// and reconciles resting orders against it.
//
// All market state is mutated on the engine goroutine; fill events off
// the bus are handed over through a bounded inbox so the feed
// goroutines never run engine logic.
type Engine struct {
	limits config.Limits
	books  *book.Store
	risk   *risk.Manager
	client TradingClient
	feed   Feed
	jrnl   *journal.Store

	mu      sync.Mutex
	state   State
	markets map[string]*MarketState
	stats   Stats

	fills chan events.FillEvent
	stop  chan struct{}
	done  chan struct{}
}

func NewEngine(limits config.Limits, books *book.Store, riskMgr *risk.Manager, client TradingClient, feed Feed, jrnl *journal.Store, bus *events.Bus) *Engine {
	e := &Engine{
		limits:  limits,
		books:   books,
		risk:    riskMgr,
		client:  client,
		feed:    feed,
		jrnl:    jrnl,
		markets: make(map[string]*MarketState),
		fills:   make(chan events.FillEvent, 256),
	}

	bus.Subscribe(events.EventFill, e.onFillEvent)
	return e
}

// onFillEvent runs on the feed goroutine: enqueue only, never process.
func (e *Engine) onFillEvent(evt events.Event) error {
	f, ok := evt.Payload.(events.FillEvent)
	if !ok {
		return nil
	}
	select {
	case e.fills <- f:
	default:
		telemetry.Warnf("maker: fill inbox full, dropping fill for %s", f.Ticker)
	}
	return nil
}

// Initialize loads open markets for the configured series and replaces
// the market set. Existing per-market state is discarded.
func (e *Engine) Initialize(ctx context.Context) error {
	var all []kalshi_http.Market
	for _, series := range e.limits.Strategy.TargetSeries {
		markets, err := e.client.GetMarkets(ctx, series, "open")
		if err != nil {
			return fmt.Errorf("load markets for %s: %w", series, err)
		}
		if len(markets) == 0 {
			telemetry.Warnf("maker: no open markets for series %s", series)
			continue
		}
		telemetry.Infof("maker: %d open markets for series %s", len(markets), series)
		all = append(all, markets...)
	}

	if len(all) == 0 {
		return fmt.Errorf("no open markets for any target series")
	}

	e.mu.Lock()
	e.markets = make(map[string]*MarketState, len(all))
	tickers := make([]string, 0, len(all))
	for _, m := range all {
		e.markets[m.Ticker] = &MarketState{
			Ticker:    m.Ticker,
			Title:     m.Title,
			Active:    true,
			CloseTime: m.CloseTime,
		}
		tickers = append(tickers, m.Ticker)
	}
	e.mu.Unlock()

	telemetry.Metrics.ActiveMarkets.Set(int64(len(all)))

	if err := e.feed.SubscribeTickers(tickers); err != nil {
		telemetry.Warnf("maker: book feed subscribe failed: %v", err)
	}
	return nil
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Stopped {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", state)
	}
	e.state = Starting
	e.stats.StartTime = time.Now()
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(ctx)
	telemetry.Infof("maker: started")
	return nil
}

// Stop cancels all resting orders and blocks until the loop exits.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.state == Stopped || e.state == Stopping {
		e.mu.Unlock()
		return
	}
	e.state = Stopping
	stop := e.stop
	done := e.done
	e.mu.Unlock()

	close(stop)
	<-done

	e.mu.Lock()
	markets := e.marketListLocked()
	e.mu.Unlock()
	for _, ms := range markets {
		e.cancelQuotes(ctx, ms)
	}

	e.mu.Lock()
	e.state = Stopped
	e.mu.Unlock()
	telemetry.Infof("maker: stopped")
}

// Pause keeps resting orders but stops refreshing quotes.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running {
		e.state = Paused
		telemetry.Infof("maker: paused")
	}
}

func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Paused {
		e.state = Running
		telemetry.Infof("maker: resumed")
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	e.mu.Lock()
	if e.state == Starting {
		e.state = Running
	}
	e.mu.Unlock()

	ticker := time.NewTicker(e.limits.Strategy.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case f := <-e.fills:
			e.handleFill(f)
		case <-ticker.C:
			if e.State() != Running || e.risk.Halted() {
				continue
			}
			e.quoteCycle(ctx)
			e.mu.Lock()
			e.stats.Uptime = time.Since(e.stats.StartTime)
			e.mu.Unlock()
		}
	}
}

func (e *Engine) quoteCycle(ctx context.Context) {
	e.mu.Lock()
	markets := make([]*MarketState, 0, len(e.markets))
	for _, ms := range e.markets {
		if ms.Active {
			markets = append(markets, ms)
		}
	}
	e.mu.Unlock()

	for _, ms := range markets {
		e.quoteMarket(ctx, ms)
	}
}

// quoteMarket runs one full cycle for a single market: time exit, book
// fetch (REST fallback), stop loss, quote computation, risk gate,
// cancel/replace.
func (e *Engine) quoteMarket(ctx context.Context, ms *MarketState) {
	e.mu.Lock()
	closeTime := ms.CloseTime
	e.mu.Unlock()

	if !closeTime.IsZero() {
		hoursToClose := time.Until(closeTime).Hours()
		if e.risk.ShouldExitMarket(ms.Ticker, hoursToClose) {
			telemetry.Infof("maker: exiting %s, %.1fh to settlement", ms.Ticker, hoursToClose)
			e.cancelQuotes(ctx, ms)
			e.deactivate(ms)
			return
		}
	}

	b, ok := e.books.Get(ms.Ticker)
	if !ok {
		levels, err := e.client.GetOrderbook(ctx, ms.Ticker)
		if err != nil {
			telemetry.Warnf("maker: no book for %s (stream or REST): %v", ms.Ticker, err)
			return
		}
		b = e.books.Seed(ms.Ticker, toEventLevels(levels.Yes), toEventLevels(levels.No))
	}

	if mid, okMid := b.Mid(); okMid {
		e.risk.MarkPrice(ms.Ticker, mid)
		bid, _ := b.BestYesBid()
		ask, _ := b.BestYesAsk()
		spread, _ := b.Spread()
		e.jrnl.RecordPricePoint(ms.Ticker, bid, ask, mid, spread)

		if e.risk.CheckStopLoss(ms.Ticker, mid) {
			e.cancelQuotes(ctx, ms)
			e.forceExit(ctx, ms, b)
			e.deactivate(ms)
			return
		}
	}

	quote := computeQuote(
		ms.Ticker, b,
		e.risk.InventorySkew(ms.Ticker),
		e.limits.Strategy.MinSpread,
		e.limits.Strategy.DefaultSpread,
		e.limits.Risk.DefaultOrderSize,
	)
	if quote == nil {
		return
	}

	canBid, bidReason := e.risk.CanPlaceOrder(ms.Ticker, "yes", "buy", quote.BidSize)
	canAsk, askReason := e.risk.CanPlaceOrder(ms.Ticker, "yes", "sell", quote.AskSize)
	if !canBid {
		telemetry.Metrics.RiskDenials.Inc()
		telemetry.Debugf("maker: %s bid denied: %s", ms.Ticker, bidReason)
	}
	if !canAsk {
		telemetry.Metrics.RiskDenials.Inc()
		telemetry.Debugf("maker: %s ask denied: %s", ms.Ticker, askReason)
	}

	switch e.risk.ShouldOneSideQuote(ms.Ticker) {
	case risk.OneSideAsk:
		canBid = false
	case risk.OneSideBid:
		canAsk = false
	}

	e.mu.Lock()
	prev := ms.Quote
	bidID, askID := ms.BidOrderID, ms.AskOrderID
	e.mu.Unlock()

	// Prices moved since the last cycle: pull the old orders first.
	if prev != nil && (prev.BidPrice != quote.BidPrice || prev.AskPrice != quote.AskPrice) {
		e.cancelQuotes(ctx, ms)
		bidID, askID = "", ""
	}

	if canBid && bidID == "" {
		id, err := e.client.CreateOrder(ctx, kalshi_http.CreateOrderRequest{
			Ticker:   ms.Ticker,
			Action:   "buy",
			Side:     "yes",
			Type:     "limit",
			Count:    quote.BidSize,
			YesPrice: quote.BidPrice,
		})
		if err != nil {
			// No order resulted; the next cycle retries.
			telemetry.Warnf("maker: %s bid @ %d failed: %v", ms.Ticker, quote.BidPrice, err)
		} else {
			e.setOrderID(ms, "buy", id)
			telemetry.Metrics.QuotesPlaced.Inc()
		}
	}

	if canAsk && askID == "" {
		id, err := e.client.CreateOrder(ctx, kalshi_http.CreateOrderRequest{
			Ticker:   ms.Ticker,
			Action:   "sell",
			Side:     "yes",
			Type:     "limit",
			Count:    quote.AskSize,
			YesPrice: quote.AskPrice,
		})
		if err != nil {
			telemetry.Warnf("maker: %s ask @ %d failed: %v", ms.Ticker, quote.AskPrice, err)
		} else {
			e.setOrderID(ms, "sell", id)
			telemetry.Metrics.QuotesPlaced.Inc()
		}
	}

	e.mu.Lock()
	ms.Quote = quote
	ms.LastQuote = time.Now()
	buys, sells := 0, 0
	if ms.BidOrderID != "" {
		buys = 1
	}
	if ms.AskOrderID != "" {
		sells = 1
	}
	e.mu.Unlock()
	e.risk.UpdateOpenOrders(ms.Ticker, buys, sells)
}

// cancelQuotes pulls both resting orders for a market. Cancel failures
// are logged and the id cleared anyway: a stale id would block
// requoting forever, while an order that truly survived will surface
// again through position sync.
func (e *Engine) cancelQuotes(ctx context.Context, ms *MarketState) {
	e.mu.Lock()
	bidID, askID := ms.BidOrderID, ms.AskOrderID
	ms.BidOrderID, ms.AskOrderID = "", ""
	e.mu.Unlock()

	for _, id := range []string{bidID, askID} {
		if id == "" {
			continue
		}
		if err := e.client.CancelOrder(ctx, id); err != nil {
			telemetry.Warnf("maker: cancel %s failed: %v", id, err)
		} else {
			telemetry.Metrics.QuotesCancelled.Inc()
		}
	}
	e.risk.UpdateOpenOrders(ms.Ticker, 0, 0)
}

// forceExit flattens the position with an aggressive limit order at the
// opposing best level: sell into the bid when long, buy the ask when
// short.
func (e *Engine) forceExit(ctx context.Context, ms *MarketState, b *book.Book) {
	mr, ok := e.risk.MarketRisk(ms.Ticker)
	if !ok || mr.Position == 0 {
		return
	}

	req := kalshi_http.CreateOrderRequest{
		Ticker: ms.Ticker,
		Side:   "yes",
		Type:   "limit",
	}
	if mr.Position > 0 {
		req.Action = "sell"
		req.Count = mr.Position
		req.YesPrice = 1
		if bid, okBid := b.BestYesBid(); okBid {
			req.YesPrice = bid
		}
	} else {
		req.Action = "buy"
		req.Count = -mr.Position
		req.YesPrice = 99
		if ask, okAsk := b.BestYesAsk(); okAsk {
			req.YesPrice = ask
		}
	}

	if _, err := e.client.CreateOrder(ctx, req); err != nil {
		telemetry.Errorf("maker: force exit %s failed: %v", ms.Ticker, err)
		return
	}
	telemetry.Infof("maker: force exit %s %s %d @ %d", ms.Ticker, req.Action, req.Count, req.YesPrice)
}

// handleFill matches a fill to a resting order by order id. A fill
// carrying an unknown id is an anomaly: it is logged and still recorded
// against the position, but clears no resting-order slot.
func (e *Engine) handleFill(f events.FillEvent) {
	e.mu.Lock()
	ms := e.markets[f.Ticker]
	matched := false
	if ms != nil && f.OrderID != "" {
		switch f.OrderID {
		case ms.BidOrderID:
			matched = true
			if e.limits.Strategy.RequoteOnFill {
				ms.BidOrderID = ""
			}
		case ms.AskOrderID:
			matched = true
			if e.limits.Strategy.RequoteOnFill {
				ms.AskOrderID = ""
			}
		}
	}
	if ms != nil {
		ms.Fills++
	}
	e.stats.TotalFills++
	e.stats.TotalVolume += int64(f.Count)
	e.mu.Unlock()

	if !matched {
		telemetry.Metrics.UnmatchedFills.Inc()
		telemetry.Warnf("maker: fill with unknown order id %q on %s", f.OrderID, f.Ticker)
	}

	e.risk.RecordFill(f.Ticker, f.Side, f.Action, f.Count, float64(f.Price))
	e.jrnl.RecordFill("live", f.Ticker, f.Side, f.Action, f.Count, f.Price)
}

func (e *Engine) setOrderID(ms *MarketState, action, id string) {
	e.mu.Lock()
	if action == "buy" {
		ms.BidOrderID = id
	} else {
		ms.AskOrderID = id
	}
	e.mu.Unlock()
}

func (e *Engine) deactivate(ms *MarketState) {
	e.mu.Lock()
	ms.Active = false
	e.mu.Unlock()
	telemetry.Metrics.ActiveMarkets.Dec()
}

// SetMarketActive enables or disables quoting for one market; disabling
// cancels its resting orders.
func (e *Engine) SetMarketActive(ctx context.Context, ticker string, active bool) {
	e.mu.Lock()
	ms := e.markets[ticker]
	if ms != nil {
		ms.Active = active
	}
	e.mu.Unlock()

	if ms != nil && !active {
		e.cancelQuotes(ctx, ms)
	}
}

// RefreshMarkets reloads the target market list.
func (e *Engine) RefreshMarkets(ctx context.Context) error {
	return e.Initialize(ctx)
}

// MarketStates returns a copy of every market's state.
func (e *Engine) MarketStates() map[string]MarketState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]MarketState, len(e.markets))
	for t, ms := range e.markets {
		out[t] = *ms
	}
	return out
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	if !st.StartTime.IsZero() {
		st.Uptime = time.Since(st.StartTime)
	}
	st.TotalQuotes = telemetry.Metrics.QuotesPlaced.Value()
	return st
}

func (e *Engine) marketListLocked() []*MarketState {
	out := make([]*MarketState, 0, len(e.markets))
	for _, ms := range e.markets {
		out = append(out, ms)
	}
	return out
}

func toEventLevels(pairs [][]int) []events.PriceLevel {
	levels := make([]events.PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		levels = append(levels, events.PriceLevel{Price: pair[0], Quantity: pair[1]})
	}
	return levels
}
