package execution

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"tradeengine/internal/model"
)

// Journal persists every order attempt to SQLite for audit, including
// attempts the venue rejected.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		source      TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		amount      TEXT NOT NULL,
		price       REAL NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		error       TEXT,
		placed_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_placed_at ON orders(placed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("order journal opened", "component", "journal", "path", dbPath)
	return &Journal{db: db}, nil
}

// OrderEntry is one journaled order attempt.
type OrderEntry struct {
	ID       int64   `json:"id"`
	OrderID  string  `json:"order_id"`
	Source   string  `json:"source"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Amount   string  `json:"amount"` // quote value for buys, base qty for sells
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
	PlacedAt string  `json:"placed_at"`
}

// Record persists one order attempt. orderErr is the venue error, if any.
func (j *Journal) Record(source model.DataSource, symbol string, side model.Side, amount decimal.Decimal, o model.Order, orderErr error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := o.Status
	var errText sql.NullString
	if orderErr != nil {
		status = "ERROR"
		errText = sql.NullString{String: orderErr.Error(), Valid: true}
	}
	_, err := j.db.Exec(
		`INSERT INTO orders (order_id, source, symbol, side, amount, price, status, error, placed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID,
		string(source),
		symbol,
		string(side),
		amount.String(),
		o.Price,
		status,
		errText,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Orders returns the last N journaled orders, newest first.
func (j *Journal) Orders(limit int) ([]OrderEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, source, symbol, side, amount, price, status, COALESCE(error, ''), placed_at
		 FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderEntry
	for rows.Next() {
		var e OrderEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Source, &e.Symbol, &e.Side,
			&e.Amount, &e.Price, &e.Status, &e.Error, &e.PlacedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Journaled wraps a Client so every entry and exit is recorded. Journal
// failures are logged and never change the order outcome.
func Journaled(c Client, j *Journal) Client {
	return &journaled{Client: c, j: j}
}

type journaled struct {
	Client
	j *Journal
}

func (c *journaled) EnterTrade(ctx context.Context, symbol string, dollars decimal.Decimal) (model.Order, error) {
	o, err := c.Client.EnterTrade(ctx, symbol, dollars)
	c.record(symbol, model.Buy, dollars, o, err)
	return o, err
}

func (c *journaled) ExitTrade(ctx context.Context, symbol string, qty decimal.Decimal) (model.Order, error) {
	o, err := c.Client.ExitTrade(ctx, symbol, qty)
	c.record(symbol, model.Sell, qty, o, err)
	return o, err
}

func (c *journaled) record(symbol string, side model.Side, amount decimal.Decimal, o model.Order, orderErr error) {
	if err := c.j.Record(c.Client.Source(), symbol, side, amount, o, orderErr); err != nil {
		slog.Warn("journal write failed", "component", "journal", "symbol", symbol, "error", err)
	}
}
