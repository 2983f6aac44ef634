package book

import (
	"sync"
	"time"

	"github.com/cmreed/kalshi-mm/internal/events"
	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

// Store holds one Book per subscribed ticker, built from snapshot and
// delta events off the bus. Books live for the process lifetime.
//
// Writes happen on the feed goroutine inside a short critical section;
// every read hands back a Clone so consumers iterate without the lock.
type Store struct {
	mu    sync.RWMutex
	books map[string]*Book
	bus   *events.Bus
}

func NewStore(bus *events.Bus) *Store {
	s := &Store{
		books: make(map[string]*Book),
		bus:   bus,
	}
	bus.Subscribe(events.EventBookSnapshot, s.onSnapshot)
	bus.Subscribe(events.EventBookDelta, s.onDelta)
	return s
}

func (s *Store) onSnapshot(evt events.Event) error {
	snap, ok := evt.Payload.(events.BookSnapshotEvent)
	if !ok {
		return nil
	}

	s.mu.Lock()
	b := s.books[snap.Ticker]
	if b == nil {
		b = New(snap.Ticker)
		s.books[snap.Ticker] = b
	}
	b.ApplySnapshot(snap.Yes, snap.No)
	s.mu.Unlock()

	telemetry.Metrics.SnapshotsApplied.Inc()
	s.publishUpdate(snap.Ticker)
	return nil
}

func (s *Store) onDelta(evt events.Event) error {
	d, ok := evt.Payload.(events.BookDeltaEvent)
	if !ok {
		return nil
	}

	s.mu.Lock()
	b := s.books[d.Ticker]
	if b == nil {
		// Delta streams can precede the first snapshot under
		// reconnection races; start an empty book rather than drop.
		b = New(d.Ticker)
		s.books[d.Ticker] = b
	}
	b.ApplyDelta(d.Side, d.Price, d.Delta)
	s.mu.Unlock()

	telemetry.Metrics.DeltasApplied.Inc()
	s.publishUpdate(d.Ticker)
	return nil
}

func (s *Store) publishUpdate(ticker string) {
	s.bus.Publish(events.Event{
		ID:        ticker,
		Type:      events.EventBookUpdate,
		Timestamp: time.Now(),
		Payload:   events.BookUpdateEvent{Ticker: ticker},
	})
}

// Get returns a copy of the book for a ticker.
func (s *Store) Get(ticker string) (*Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[ticker]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// All returns copies of every tracked book.
func (s *Store) All() map[string]*Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Book, len(s.books))
	for t, b := range s.books {
		out[t] = b.Clone()
	}
	return out
}

// Seed installs a snapshot fetched outside the stream (REST fallback).
// The next streaming snapshot replaces it wholesale.
func (s *Store) Seed(ticker string, yes, no []events.PriceLevel) *Book {
	s.mu.Lock()
	b := s.books[ticker]
	if b == nil {
		b = New(ticker)
		s.books[ticker] = b
	}
	b.ApplySnapshot(yes, no)
	clone := b.Clone()
	s.mu.Unlock()

	s.publishUpdate(ticker)
	return clone
}
