package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tradeengine/internal/model"
)

// Reader reads the trades and candles a Writer stored.
type Reader struct {
	client *goredis.Client
}

// NewReader shares the writer's connection.
func NewReader(w *Writer) *Reader {
	return &Reader{client: w.client}
}

// ListTrades returns up to limit trades, newest entry first.
func (r *Reader) ListTrades(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := r.client.ZRevRange(ctx, tradesIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list trade ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*goredis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, tradeKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("redis: load trades: %w", err)
	}

	out := make([]model.TradeRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue // index entry without a hash, e.g. expired
		}
		rec, err := decodeTrade(fields)
		if err != nil {
			return nil, fmt.Errorf("redis: trade %s: %w", ids[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// LatestCandles returns up to n of the most recent mirrored candles, oldest first.
func (r *Reader) LatestCandles(ctx context.Context, symbol string, iv model.Interval, n int) ([]model.Candle, error) {
	raw, err := r.client.LRange(ctx, candleListKey(symbol, iv), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: candles %s %s: %w", symbol, iv, err)
	}
	out := make([]model.Candle, 0, len(raw))
	for _, s := range raw {
		var c model.Candle
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			return nil, fmt.Errorf("redis: decode candle: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// decodeTrade merges the create payload with any exit fields.
func decodeTrade(fields map[string]string) (model.TradeRecord, error) {
	var rec model.TradeRecord
	data, ok := fields["data"]
	if !ok {
		return rec, fmt.Errorf("missing data field")
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, err
	}

	if s, ok := fields["exited_at"]; ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return rec, fmt.Errorf("exited_at: %w", err)
		}
		rec.ExitedAt = &t
	}
	if s, ok := fields["bars_in_trade"]; ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return rec, fmt.Errorf("bars_in_trade: %w", err)
		}
		rec.BarsInTrade = &n
	}
	if s, ok := fields["exit_price"]; ok {
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, fmt.Errorf("exit_price: %w", err)
		}
		rec.ExitPrice = &p
	}
	return rec, nil
}
