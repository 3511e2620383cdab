// Package store implements the persistence boundary named in the
// bridge's external interfaces: a minimal record store for open
// positions and placed trades, used by the Execution Worker and
// Position Manager. Schema is intentionally small — this is "simple
// record storage", not a general trading ledger.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID generates a new record ID.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// PositionStatus is the lifecycle state of a PositionRecord.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// PositionRecord is a persisted open or closed position.
type PositionRecord struct {
	ID          string
	Symbol      string
	Quantity    float64
	AvgCost     float64
	Status      PositionStatus
	EntryAt     time.Time
	ExitAt      *time.Time
	RealizedPnL float64
}

// TradeRecord is a persisted order the Execution Worker placed.
type TradeRecord struct {
	ID       string
	Symbol   string
	Side     string
	Quantity int
	Price    float64
	OrderID  int64
	Status   string
	PlacedAt time.Time
}

// Store persists PositionRecords and TradeRecords in SQLite. The driver
// is chosen by the caller (mattn/go-sqlite3 in production, modernc.org/
// sqlite in tests) — Store only depends on database/sql.
type Store struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB, running migrations on first use.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			id            TEXT PRIMARY KEY,
			symbol        TEXT NOT NULL,
			quantity      REAL NOT NULL,
			avg_cost      REAL NOT NULL,
			status        TEXT NOT NULL,
			entry_at      TEXT NOT NULL,
			exit_at       TEXT,
			realized_pnl  REAL NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS trades (
			id        TEXT PRIMARY KEY,
			symbol    TEXT NOT NULL,
			side      TEXT NOT NULL,
			quantity  INTEGER NOT NULL,
			price     REAL NOT NULL,
			order_id  INTEGER NOT NULL,
			status    TEXT NOT NULL,
			placed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
		CREATE INDEX IF NOT EXISTS idx_trades_order_id ON trades(order_id);
	`)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPosition inserts or replaces a position record by ID.
func (s *Store) UpsertPosition(p PositionRecord) error {
	var exitAt *string
	if p.ExitAt != nil {
		v := p.ExitAt.Format(time.RFC3339Nano)
		exitAt = &v
	}
	_, err := s.db.Exec(`
		INSERT INTO positions (id, symbol, quantity, avg_cost, status, entry_at, exit_at, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity = excluded.quantity,
			avg_cost = excluded.avg_cost,
			status = excluded.status,
			exit_at = excluded.exit_at,
			realized_pnl = excluded.realized_pnl
	`, p.ID, p.Symbol, p.Quantity, p.AvgCost, string(p.Status),
		p.EntryAt.Format(time.RFC3339Nano), exitAt, p.RealizedPnL)
	return err
}

// OpenPositions returns every position currently OPEN.
func (s *Store) OpenPositions() ([]PositionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, quantity, avg_cost, status, entry_at, exit_at, realized_pnl
		FROM positions WHERE status = ?
	`, string(PositionOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(rows rowScanner) (PositionRecord, error) {
	var p PositionRecord
	var status, entryAt string
	var exitAt sql.NullString
	if err := rows.Scan(&p.ID, &p.Symbol, &p.Quantity, &p.AvgCost, &status, &entryAt, &exitAt, &p.RealizedPnL); err != nil {
		return p, err
	}
	p.Status = PositionStatus(status)
	p.EntryAt, _ = time.Parse(time.RFC3339Nano, entryAt)
	if exitAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, exitAt.String)
		p.ExitAt = &t
	}
	return p, nil
}

// InsertTrade records a placed order.
func (s *Store) InsertTrade(t TradeRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO trades (id, symbol, side, quantity, price, order_id, status, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Symbol, t.Side, t.Quantity, t.Price, t.OrderID, t.Status, t.PlacedAt.Format(time.RFC3339Nano))
	return err
}

// UpdateTradeStatus updates a trade's terminal status by OrderId.
func (s *Store) UpdateTradeStatus(orderID int64, status string) error {
	_, err := s.db.Exec(`UPDATE trades SET status = ? WHERE order_id = ?`, status, orderID)
	return err
}
