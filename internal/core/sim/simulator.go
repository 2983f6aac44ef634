package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/cmreed/kalshi-mm/internal/adapters/outbound/kalshi_http"
	"github.com/cmreed/kalshi-mm/internal/config"
	"github.com/cmreed/kalshi-mm/internal/core/book"
	"github.com/cmreed/kalshi-mm/internal/events"
	"github.com/cmreed/kalshi-mm/internal/journal"
	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

// MarketSource lists markets and serves REST book fallback.
type MarketSource interface {
	GetMarkets(ctx context.Context, seriesTicker, status string) ([]kalshi_http.Market, error)
	GetOrderbook(ctx context.Context, ticker string) (kalshi_http.OrderbookLevels, error)
}

// Feed subscribes tickers on the streaming feed.
type Feed interface {
	SubscribeTickers(tickers []string) error
}

// Order is a virtual resting order. QueueAhead is the live depth that
// sat at our price when we "placed" it; public trades at the price
// burn it down, and only volume past it fills us.
type Order struct {
	Action     string
	Price      int
	Size       int
	Remaining  int
	QueueAhead int
	PlacedAt   time.Time
}

// Simulator paper-trades a single market against the live book and
// trade feed. It keeps at most one virtual order at a time: a bid
// while flat, an exit ask while long.
type Simulator struct {
	limits config.Limits
	books  *book.Store
	client MarketSource
	feed   Feed
	jrnl   *journal.Store

	ticker     string
	order      *Order
	position   int
	entryPrice int
	entryTime  time.Time
	realized   int
	peak       int
	drawdown   int
	equity     []EquityPoint
	report     Report

	// Cycle bookkeeping: exits can fill piecemeal at different prices
	// as the sell order re-prices, so the round trip's P&L is the
	// realized delta across the whole cycle, not the last fill's.
	cycleRealized int
	cycleExited   int

	trades chan events.TradeEvent
}

func NewSimulator(limits config.Limits, books *book.Store, client MarketSource, feed Feed, jrnl *journal.Store, bus *events.Bus) *Simulator {
	s := &Simulator{
		limits: limits,
		books:  books,
		client: client,
		feed:   feed,
		jrnl:   jrnl,
		trades: make(chan events.TradeEvent, 1024),
	}

	bus.Subscribe(events.EventTrade, s.onTradeEvent)
	return s
}

// onTradeEvent runs on the feed goroutine: enqueue only.
func (s *Simulator) onTradeEvent(evt events.Event) error {
	t, ok := evt.Payload.(events.TradeEvent)
	if !ok {
		return nil
	}
	select {
	case s.trades <- t:
	default:
		telemetry.Warnf("sim: trade inbox full, dropping trade for %s", t.Ticker)
	}
	return nil
}

// Run simulates until the configured duration elapses or ctx ends.
// Everything after market selection happens on this goroutine.
func (s *Simulator) Run(ctx context.Context) (Report, error) {
	ticker, err := s.selectMarket(ctx)
	if err != nil {
		return Report{}, err
	}
	s.ticker = ticker
	s.report = Report{Ticker: ticker, Started: time.Now()}
	telemetry.Infof("sim: paper trading %s for %s", ticker, s.limits.Sim.Duration())

	if err := s.feed.SubscribeTickers([]string{ticker}); err != nil {
		return Report{}, fmt.Errorf("subscribe %s: %w", ticker, err)
	}

	var deadline <-chan time.Time
	if d := s.limits.Sim.Duration(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	status := time.NewTicker(30 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.finish(), ctx.Err()
		case <-deadline:
			telemetry.Infof("sim: duration elapsed")
			return s.finish(), nil
		case t := <-s.trades:
			s.onTrade(t)
		case <-status.C:
			telemetry.Infof("sim: %s", s.Status())
		case <-tick.C:
			s.step(ctx)
		}
	}
}

// selectMarket uses the configured ticker, or falls back to the most
// active open market in the first target series.
func (s *Simulator) selectMarket(ctx context.Context) (string, error) {
	if s.limits.Sim.Ticker != "" {
		return s.limits.Sim.Ticker, nil
	}
	if len(s.limits.Strategy.TargetSeries) == 0 {
		return "", fmt.Errorf("no sim ticker and no target series configured")
	}

	series := s.limits.Strategy.TargetSeries[0]
	markets, err := s.client.GetMarkets(ctx, series, "open")
	if err != nil {
		return "", fmt.Errorf("list markets for %s: %w", series, err)
	}
	if len(markets) == 0 {
		return "", fmt.Errorf("no open markets for series %s", series)
	}

	best := markets[0]
	for _, m := range markets[1:] {
		if m.Volume24h > best.Volume24h {
			best = m
		}
	}
	telemetry.Infof("sim: auto-selected %s (24h volume %d)", best.Ticker, best.Volume24h)
	return best.Ticker, nil
}

// step reconciles the virtual order against the current book.
func (s *Simulator) step(ctx context.Context) {
	b, ok := s.books.Get(s.ticker)
	if !ok {
		levels, err := s.client.GetOrderbook(ctx, s.ticker)
		if err != nil {
			return
		}
		b = s.books.Seed(s.ticker, toEventLevels(levels.Yes), toEventLevels(levels.No))
	}

	if mid, ok := b.Mid(); ok {
		s.markEquity(mid)
	}

	if s.order != nil {
		if want, ok := s.desiredPrice(b); !ok || want != s.order.Price {
			// Stale price: drop the order and re-place next tick so
			// QueueAhead is re-snapshotted at the new level.
			s.order = nil
		}
		return
	}

	price, ok := s.desiredPrice(b)
	if !ok {
		return
	}

	o := &Order{Price: price, PlacedAt: time.Now()}
	if s.position == 0 {
		o.Action = "buy"
		o.Size = s.limits.Sim.OrderSize
		o.QueueAhead = b.DepthAt("yes", price)
	} else {
		o.Action = "sell"
		o.Size = s.position
		o.QueueAhead = b.DepthAt("no", 100-price)
	}
	o.Remaining = o.Size
	s.order = o
	telemetry.Debugf("sim: virtual %s %d @ %dc, queue ahead %d", o.Action, o.Remaining, o.Price, o.QueueAhead)
}

// maxEquityPoints bounds the per-tick series; at one point per second
// this covers several hours before the front half is discarded.
const maxEquityPoints = 16384

// markEquity appends one mark-to-market equity point and refreshes the
// drawdown against the equity peak.
func (s *Simulator) markEquity(mid float64) {
	cents := s.realized
	if s.position != 0 {
		cents += int(float64(s.position) * (mid - float64(s.entryPrice)))
	}

	s.equity = append(s.equity, EquityPoint{TS: time.Now(), Cents: cents})
	if len(s.equity) > maxEquityPoints {
		s.equity = s.equity[len(s.equity)/2:]
	}

	if cents > s.peak {
		s.peak = cents
	}
	if dd := s.peak - cents; dd > s.drawdown {
		s.drawdown = dd
	}
}

// desiredPrice is where the order should rest right now: join-plus-one
// inside the spread when flat, exit at no worse than entry plus the
// minimum profit when long.
func (s *Simulator) desiredPrice(b *book.Book) (int, bool) {
	if s.position == 0 {
		bid, okBid := b.BestYesBid()
		spread, okSpread := b.Spread()
		if !okBid || !okSpread || spread < s.limits.Sim.MinSpread {
			return 0, false
		}
		price := bid + 1
		if price > 98 {
			price = 98
		}
		return price, true
	}

	ask, okAsk := b.BestYesAsk()
	if !okAsk {
		return 0, false
	}
	price := ask - 1
	if floor := s.entryPrice + s.limits.Sim.MinProfit; price < floor {
		price = floor
	}
	if price < 2 {
		price = 2
	}
	if price > 99 {
		price = 99
	}
	return price, true
}

// onTrade consumes a public trade: volume on the aggressor side at our
// exact price burns queue, and anything beyond the queue fills us.
func (s *Simulator) onTrade(t events.TradeEvent) {
	o := s.order
	if o == nil || t.Ticker != s.ticker || t.YesPrice != o.Price {
		return
	}

	// A resting yes bid is lifted by yes sellers (taker took no); a
	// resting yes ask by yes buyers (taker took yes).
	if o.Action == "buy" && t.TakerSide != "no" {
		return
	}
	if o.Action == "sell" && t.TakerSide != "yes" {
		return
	}

	o.QueueAhead -= t.Count
	if o.QueueAhead >= 0 {
		return
	}

	fill := -o.QueueAhead
	o.QueueAhead = 0
	if fill > o.Remaining {
		fill = o.Remaining
	}
	s.applyFill(o, fill)
}

func (s *Simulator) applyFill(o *Order, count int) {
	telemetry.Metrics.SimFills.Inc()
	s.report.Fills++
	s.jrnl.RecordFill("sim", s.ticker, "yes", o.Action, count, o.Price)
	telemetry.Infof("sim: filled %s %d @ %dc", o.Action, count, o.Price)

	if o.Action == "buy" {
		if s.position == 0 {
			s.entryPrice = o.Price
			s.entryTime = time.Now()
			s.cycleRealized = s.realized
			s.cycleExited = 0
		}
		s.position += count
	} else {
		s.realized += (o.Price - s.entryPrice) * count
		s.position -= count
		s.cycleExited += count
		if s.position == 0 {
			s.closeRoundTrip(o.Price)
		}
	}

	o.Remaining -= count
	if o.Remaining <= 0 {
		s.order = nil
	}
}

// closeRoundTrip records the completed cycle. P&L is the realized
// change since the cycle opened and Size the total quantity exited, so
// partial sells at different prices net out correctly.
func (s *Simulator) closeRoundTrip(exitPrice int) {
	rt := RoundTrip{
		Ticker:     s.ticker,
		EntryPrice: s.entryPrice,
		ExitPrice:  exitPrice,
		Size:       s.cycleExited,
		PnlCents:   s.realized - s.cycleRealized,
		Hold:       time.Since(s.entryTime),
	}
	s.report.RoundTrips = append(s.report.RoundTrips, rt)
	telemetry.Metrics.SimRoundTrips.Inc()
	telemetry.Infof("sim: round trip %dc -> %dc x%d, %+dc in %s",
		rt.EntryPrice, rt.ExitPrice, rt.Size, rt.PnlCents, rt.Hold.Round(time.Second))

	if s.realized > s.peak {
		s.peak = s.realized
	}
	if dd := s.peak - s.realized; dd > s.drawdown {
		s.drawdown = dd
	}
	s.entryPrice = 0
}

// Status is a one-line progress summary.
func (s *Simulator) Status() string {
	order := "none"
	if s.order != nil {
		order = fmt.Sprintf("%s %d @ %dc (queue %d)", s.order.Action, s.order.Remaining, s.order.Price, s.order.QueueAhead)
	}
	return fmt.Sprintf("pos %+d  order %s  realized %+dc  trips %d",
		s.position, order, s.realized, len(s.report.RoundTrips))
}

func (s *Simulator) finish() Report {
	s.report.Elapsed = time.Since(s.report.Started)
	s.report.RealizedCents = s.realized
	s.report.Position = s.position
	s.report.EntryPrice = s.entryPrice
	s.report.MaxDrawdown = s.drawdown
	s.report.Equity = s.equity
	return s.report
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
