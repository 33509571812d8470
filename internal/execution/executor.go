// Package execution is the order and account collaborator used by the trade
// lifecycle: wallet and price lookups, market entries and exits, and the
// history used to seed a time series.
//
// Bybit talks to the venue through pkg/bybit. Paper simulates fills in memory
// against prices marked from observed candles.
package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeengine/internal/model"
	"tradeengine/pkg/bybit"
)

// Client is everything the engine needs from a venue account.
type Client interface {
	Source() model.DataSource
	Wallet(ctx context.Context) (model.Wallet, error)
	SymbolPrice(ctx context.Context, symbol string) (float64, error)

	// EnterTrade buys symbol for dollars of quote currency.
	EnterTrade(ctx context.Context, symbol string, dollars decimal.Decimal) (model.Order, error)

	// ExitTrade sells qty base units of symbol.
	ExitTrade(ctx context.Context, symbol string, qty decimal.Decimal) (model.Order, error)

	// HistoricalCandles returns up to count closed candles, oldest first.
	HistoricalCandles(ctx context.Context, symbol string, iv model.Interval, count int) ([]model.Candle, error)
}

var (
	ErrNoPrice           = errors.New("execution: no price for symbol")
	ErrInsufficientFunds = errors.New("execution: insufficient funds")
	ErrNoPosition        = errors.New("execution: no open position")
	ErrInvalidAmount     = errors.New("execution: amount must be positive")
)

// Bybit executes against a Bybit spot account.
type Bybit struct {
	client *bybit.Client

	// QtyPlaces truncates exit quantities to the venue's base precision.
	QtyPlaces int32
}

// NewBybit wraps a REST client. The exit precision defaults to 6 places.
func NewBybit(c *bybit.Client) *Bybit {
	return &Bybit{client: c, QtyPlaces: 6}
}

func (b *Bybit) Source() model.DataSource { return model.SourceBybit }

func (b *Bybit) Wallet(ctx context.Context) (model.Wallet, error) {
	return b.client.WalletBalance(ctx)
}

func (b *Bybit) SymbolPrice(ctx context.Context, symbol string) (float64, error) {
	return b.client.LastPrice(ctx, symbol)
}

func (b *Bybit) EnterTrade(ctx context.Context, symbol string, dollars decimal.Decimal) (model.Order, error) {
	if !dollars.IsPositive() {
		return model.Order{}, fmt.Errorf("%w: %s", ErrInvalidAmount, dollars)
	}
	return b.client.PlaceMarketOrder(ctx, symbol, model.Buy, dollars.Truncate(2), true)
}

func (b *Bybit) ExitTrade(ctx context.Context, symbol string, qty decimal.Decimal) (model.Order, error) {
	qty = qty.Truncate(b.QtyPlaces)
	if !qty.IsPositive() {
		return model.Order{}, fmt.Errorf("%w: %s", ErrInvalidAmount, qty)
	}
	return b.client.PlaceMarketOrder(ctx, symbol, model.Sell, qty, false)
}

func (b *Bybit) HistoricalCandles(ctx context.Context, symbol string, iv model.Interval, count int) ([]model.Candle, error) {
	klines, err := b.client.Klines(ctx, symbol, iv, count)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, len(klines))
	for i, k := range klines {
		out[i] = k.Candle()
	}
	return out, nil
}
