// Package sqlite is the local trade store: one trades table mirroring every
// trade's economics plus a candles table the runner can archive closed bars to.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradeengine/internal/model"
	"tradeengine/internal/timeseries"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/trades.db"
}

// Writer is a single-connection SQLite writer.
type Writer struct {
	db  *sql.DB
	log *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	l := slog.Default().With("component", "sqlite")
	l.Info("opened database", "path", cfg.DBPath)
	return &Writer{db: db, log: l}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id                  TEXT PRIMARY KEY,
			symbol              TEXT    NOT NULL,
			interval            TEXT    NOT NULL,
			orientation         TEXT    NOT NULL,
			trading_strategy    TEXT    NOT NULL,
			resolution_strategy TEXT    NOT NULL,
			data_source         TEXT    NOT NULL,
			entered_at          INTEGER NOT NULL,
			exited_at           INTEGER,
			bars_in_trade       INTEGER,
			entry_price         REAL    NOT NULL,
			exit_price          REAL,
			quantity            REAL    NOT NULL,
			dollar_value        REAL    NOT NULL,
			entry_fee           REAL    NOT NULL DEFAULT 0,
			exit_fee            REAL,
			comments            TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_trades_entered_at ON trades(entered_at);

		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			interval   TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL,
			PRIMARY KEY (symbol, interval, ts)
		);
	`)
	return err
}

func (w *Writer) Name() string { return "sqlite" }

// CreateTrade inserts a new trade row.
func (w *Writer) CreateTrade(ctx context.Context, rec model.TradeRecord) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, interval, orientation, trading_strategy, resolution_strategy,
			data_source, entered_at, exited_at, bars_in_trade, entry_price, exit_price,
			quantity, dollar_value, entry_fee, exit_fee, comments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.Interval, rec.Orientation, rec.TradingStrategy, rec.ResolutionStrategy,
		rec.DataSource, rec.EnteredAt.UnixMilli(), nullTime(rec.ExitedAt), nullInt(rec.BarsInTrade),
		rec.EntryPrice, nullFloat(rec.ExitPrice), rec.Quantity, rec.DollarValue, rec.EntryFee,
		nullFloat(rec.ExitFee), nullString(rec.Comments),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert trade %s: %w", rec.ID, err)
	}
	return nil
}

// FinishTrade writes the exit fields. A missing row is an error.
func (w *Writer) FinishTrade(ctx context.Context, f model.TradeFinish) error {
	res, err := w.db.ExecContext(ctx,
		`UPDATE trades SET exited_at = ?, bars_in_trade = ?, exit_price = ? WHERE id = ?`,
		f.ExitedAt.UnixMilli(), f.BarsInTrade, f.ExitPrice, f.ID)
	if err != nil {
		return fmt.Errorf("sqlite finish trade %s: %w", f.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite finish trade %s: no such trade", f.ID)
	}
	return nil
}

// Run archives candles appended to a hub in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or the channel is closed.
func (w *Writer) Run(ctx context.Context, events <-chan timeseries.CandleAdded) {
	batch := make([]timeseries.CandleAdded, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertCandles(batch); err != nil {
			w.log.Error("candle batch insert failed", "error", err, "count", len(batch))
		} else {
			w.log.Debug("committed candles", "count", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev, ok := <-events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertCandles inserts a batch of candles in a single transaction.
func (w *Writer) insertCandles(batch []timeseries.CandleAdded) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range batch {
		c := ev.Candle
		if _, err := stmt.Exec(ev.Symbol, ev.Interval.String(), c.TS.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
