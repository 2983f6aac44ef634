package events

import "time"

// Event is the envelope that flows through the event bus.
// Every domain event (book update, trade print, fill) is wrapped in one.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	// Streaming feed events
	EventBookSnapshot EventType = "book_snapshot"
	EventBookDelta    EventType = "book_delta"
	EventTrade        EventType = "trade"
	EventWSStatus     EventType = "ws_status"

	// Published by the book store after a message is applied.
	EventBookUpdate EventType = "book_update"

	// Private fill notifications routed to the quoting engine.
	EventFill EventType = "fill"
)
