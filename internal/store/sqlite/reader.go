package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradeengine/internal/model"
)

// Reader provides read-only access to the trades and archived candles.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	return &Reader{db: db}, nil
}

const tradeColumns = `id, symbol, interval, orientation, trading_strategy, resolution_strategy, data_source,
	entered_at, exited_at, bars_in_trade, entry_price, exit_price, quantity, dollar_value, entry_fee, exit_fee, comments`

// ListTrades returns up to limit trades, most recently entered first.
func (r *Reader) ListTrades(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades ORDER BY entered_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Trade returns one trade by id.
func (r *Reader) Trade(ctx context.Context, id string) (model.TradeRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	rec, err := scanTrade(row)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("sqlite trade %s: %w", id, err)
	}
	return rec, nil
}

// ReadCandles returns the last n archived candles, oldest first.
func (r *Reader) ReadCandles(ctx context.Context, symbol string, iv model.Interval, n int) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, COALESCE(volume, 0) FROM (
			SELECT * FROM candles WHERE symbol = ? AND interval = ? ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC`, symbol, iv.String(), n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.TS = time.UnixMilli(ts).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the reader connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (model.TradeRecord, error) {
	var (
		rec       model.TradeRecord
		entered   int64
		exited    sql.NullInt64
		bars      sql.NullInt64
		exitPrice sql.NullFloat64
		exitFee   sql.NullFloat64
		comments  sql.NullString
	)
	err := s.Scan(&rec.ID, &rec.Symbol, &rec.Interval, &rec.Orientation, &rec.TradingStrategy,
		&rec.ResolutionStrategy, &rec.DataSource, &entered, &exited, &bars, &rec.EntryPrice,
		&exitPrice, &rec.Quantity, &rec.DollarValue, &rec.EntryFee, &exitFee, &comments)
	if err != nil {
		return rec, err
	}
	rec.EnteredAt = time.UnixMilli(entered).UTC()
	if exited.Valid {
		t := time.UnixMilli(exited.Int64).UTC()
		rec.ExitedAt = &t
	}
	if bars.Valid {
		n := int(bars.Int64)
		rec.BarsInTrade = &n
	}
	if exitPrice.Valid {
		rec.ExitPrice = &exitPrice.Float64
	}
	if exitFee.Valid {
		rec.ExitFee = &exitFee.Float64
	}
	if comments.Valid {
		rec.Comments = &comments.String
	}
	return rec, nil
}
