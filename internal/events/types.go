package events

// PriceLevel is one [price, quantity] pair from a snapshot, or a
// [price, delta] pair from a delta frame.
type PriceLevel struct {
	Price    int
	Quantity int
}

// BookSnapshotEvent replaces a market's book wholesale.
type BookSnapshotEvent struct {
	Ticker string
	Yes    []PriceLevel
	No     []PriceLevel
}

// BookDeltaEvent adjusts a single price level by a signed quantity.
type BookDeltaEvent struct {
	Ticker string
	Side   string // "yes" or "no"
	Price  int
	Delta  int
}

// BookUpdateEvent signals that a market's book changed. Consumers read
// a copy from the store rather than carrying book state in the event.
type BookUpdateEvent struct {
	Ticker string
}

// TradeEvent is a public trade print from the trades channel.
type TradeEvent struct {
	Ticker    string
	YesPrice  int
	NoPrice   int
	Count     int
	TakerSide string // aggressor: "yes" or "no"
	TS        float64
}

// FillEvent is a private fill against one of our resting orders.
type FillEvent struct {
	OrderID string
	Ticker  string
	Side    string // "yes" or "no"
	Action  string // "buy" or "sell"
	Count   int
	Price   int
}

// WSStatusEvent signals feed connect/disconnect.
type WSStatusEvent struct {
	Feed      string
	Connected bool
}
