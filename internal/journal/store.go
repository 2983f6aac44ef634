package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cmreed/kalshi-mm/internal/telemetry"
)

// Store persists fills and best-price points to SQLite. It is a
// write-mostly log: the maker and simulator append, readers pull recent
// rows for reporting. A nil *Store is a valid no-op journal, so callers
// never branch on journaling being enabled.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          TEXT    NOT NULL,
	source      TEXT    NOT NULL, -- "live" or "sim"
	ticker      TEXT    NOT NULL,
	side        TEXT    NOT NULL,
	action      TEXT    NOT NULL,
	count       INTEGER NOT NULL,
	price_cents INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_ticker_ts ON fills(ticker, ts);

CREATE TABLE IF NOT EXISTS price_points (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TEXT    NOT NULL,
	ticker    TEXT    NOT NULL,
	best_bid  INTEGER,
	best_ask  INTEGER,
	mid_x100  INTEGER,
	spread    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_price_points_ticker_ts ON price_points(ticker, ts);
`

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	telemetry.Infof("journal: opened %s", path)
	return &Store{db: db}, nil
}

// RecordFill appends a fill row. Source distinguishes live fills from
// simulated ones.
func (s *Store) RecordFill(source, ticker, side, action string, count, priceCents int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO fills (ts, source, ticker, side, action, count, price_cents) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), source, ticker, side, action, count, priceCents,
	)
	if err != nil {
		telemetry.Warnf("journal: fill insert failed: %v", err)
	}
}

// RecordPricePoint appends a best-price observation. The mid is stored
// as an integer x100 so half-cent mids survive the round trip.
func (s *Store) RecordPricePoint(ticker string, bestBid, bestAsk int, mid float64, spread int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO price_points (ts, ticker, best_bid, best_ask, mid_x100, spread) VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), ticker, bestBid, bestAsk, int(mid*100), spread,
	)
	if err != nil {
		telemetry.Warnf("journal: price point insert failed: %v", err)
	}
}

// Fill is one row from the fills table.
type Fill struct {
	TS         time.Time
	Source     string
	Ticker     string
	Side       string
	Action     string
	Count      int
	PriceCents int
}

// RecentFills returns the newest fills, newest first.
func (s *Store) RecentFills(limit int) ([]Fill, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT ts, source, ticker, side, action, count, price_cents FROM fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []Fill
	for rows.Next() {
		var f Fill
		var ts string
		if err := rows.Scan(&ts, &f.Source, &f.Ticker, &f.Side, &f.Action, &f.Count, &f.PriceCents); err != nil {
			return nil, err
		}
		f.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// PricePoint is one row from the price_points table.
type PricePoint struct {
	TS      time.Time
	Ticker  string
	BestBid int
	BestAsk int
	Mid     float64
	Spread  int
}

// PricePoints returns the newest price points for a ticker, newest first.
func (s *Store) PricePoints(ticker string, limit int) ([]PricePoint, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT ts, ticker, best_bid, best_ask, mid_x100, spread FROM price_points WHERE ticker = ? ORDER BY id DESC LIMIT ?`,
		ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("query price points: %w", err)
	}
	defer rows.Close()

	var out []PricePoint
	for rows.Next() {
		var p PricePoint
		var ts string
		var midX100 int
		if err := rows.Scan(&ts, &p.Ticker, &p.BestBid, &p.BestAsk, &midX100, &p.Spread); err != nil {
			return nil, err
		}
		p.TS, _ = time.Parse(time.RFC3339Nano, ts)
		p.Mid = float64(midX100) / 100
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
