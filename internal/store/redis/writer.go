// Package redis mirrors trades and closed candles into Redis for dashboards
// and other consumers. Every trade event is also published on a pub/sub
// channel so listeners see creates and finishes as they happen.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tradeengine/internal/model"
	"tradeengine/internal/timeseries"
)

const (
	tradesIndexKey   = "trades:index"
	tradesChannel    = "pub:trades"
	defaultLatestTTL = 30 * time.Minute
	candleListMaxLen = 500
)

func tradeKey(id string) string { return "trade:" + id }

func candleListKey(symbol string, iv model.Interval) string {
	return "candle:" + iv.String() + ":" + symbol
}

func candleLatestKey(symbol string, iv model.Interval) string {
	return "candle:" + iv.String() + ":latest:" + symbol
}

func candleChannel(symbol string, iv model.Interval) string {
	return "pub:candle:" + iv.String() + ":" + symbol
}

// TradeEvent is the pub/sub payload on pub:trades.
type TradeEvent struct {
	Event  string             `json:"event"` // "created" or "finished"
	Trade  *model.TradeRecord `json:"trade,omitempty"`
	Finish *model.TradeFinish `json:"finish,omitempty"`
}

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer stores trades as hashes indexed by entry time and publishes candles.
type Writer struct {
	client *goredis.Client
	log    *slog.Logger
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	l := slog.Default().With("component", "redis")
	l.Info("connected", "addr", cfg.Addr)
	return &Writer{client: client, log: l}, nil
}

func (w *Writer) Name() string { return "redis" }

// CreateTrade stores the record under trade:<id>, indexes it and publishes
// a "created" event, all in one pipeline.
func (w *Writer) CreateTrade(ctx context.Context, rec model.TradeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal trade %s: %w", rec.ID, err)
	}
	event, _ := json.Marshal(TradeEvent{Event: "created", Trade: &rec})

	pipe := w.client.TxPipeline()
	pipe.HSet(ctx, tradeKey(rec.ID), "data", data)
	pipe.ZAdd(ctx, tradesIndexKey, &goredis.Z{Score: float64(rec.EnteredAt.UnixMilli()), Member: rec.ID})
	pipe.Publish(ctx, tradesChannel, event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: create trade %s: %w", rec.ID, err)
	}
	return nil
}

// FinishTrade writes the exit fields next to the stored record.
func (w *Writer) FinishTrade(ctx context.Context, f model.TradeFinish) error {
	event, _ := json.Marshal(TradeEvent{Event: "finished", Finish: &f})

	pipe := w.client.TxPipeline()
	pipe.HSet(ctx, tradeKey(f.ID), finishFields(f))
	pipe.Publish(ctx, tradesChannel, event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: finish trade %s: %w", f.ID, err)
	}
	return nil
}

func finishFields(f model.TradeFinish) map[string]interface{} {
	return map[string]interface{}{
		"exited_at":     f.ExitedAt.UTC().Format(time.RFC3339Nano),
		"bars_in_trade": strconv.Itoa(f.BarsInTrade),
		"exit_price":    strconv.FormatFloat(f.ExitPrice, 'f', -1, 64),
	}
}

// Run mirrors every candle appended to a hub until ctx is cancelled or the
// subscription ends.
func (w *Writer) Run(ctx context.Context, events <-chan timeseries.CandleAdded) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.writeCandle(ctx, ev.Symbol, ev.Interval, ev.Candle)
		}
	}
}

// writeCandle performs pipelined writes for one closed candle.
func (w *Writer) writeCandle(ctx context.Context, symbol string, iv model.Interval, c model.Candle) {
	jsonData := string(c.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, candleLatestKey(symbol, iv), jsonData, defaultLatestTTL)
	pipe.RPush(ctx, candleListKey(symbol, iv), jsonData)
	pipe.LTrim(ctx, candleListKey(symbol, iv), -candleListMaxLen, -1)
	pipe.Publish(ctx, candleChannel(symbol, iv), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn("candle pipeline failed", "symbol", symbol, "interval", iv.String(), "error", err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
