package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/internal/model"
)

// Fill is one simulated execution.
type Fill struct {
	OrderID  string          `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Qty      decimal.Decimal `json:"qty"`   // base units
	Price    decimal.Decimal `json:"price"` // after slippage
	Value    decimal.Decimal `json:"value"` // quote currency
	FilledAt time.Time       `json:"filled_at"`
}

// HistoryFunc supplies seed candles to a Paper client.
type HistoryFunc func(ctx context.Context, symbol string, iv model.Interval, count int) ([]model.Candle, error)

// Paper simulates a spot account without venue calls.
// Useful for dry runs against a live feed.
type Paper struct {
	mu        sync.RWMutex
	balance   decimal.Decimal
	positions map[string]decimal.Decimal
	prices    map[string]decimal.Decimal
	fills     []Fill
	orderSeq  int64

	slippageBps int64 // basis points, 5 = 0.05%
	history     HistoryFunc
	now         func() time.Time
	log         *slog.Logger
}

// NewPaper creates a paper account holding balance quote currency.
// history may be nil, in which case HistoricalCandles returns no candles.
func NewPaper(balance float64, slippageBps int64, history HistoryFunc) *Paper {
	return &Paper{
		balance:     decimal.NewFromFloat(balance),
		positions:   make(map[string]decimal.Decimal),
		prices:      make(map[string]decimal.Decimal),
		slippageBps: slippageBps,
		history:     history,
		now:         time.Now,
		log:         slog.Default().With("component", "paper"),
	}
}

func (p *Paper) Source() model.DataSource { return model.SourcePaper }

// Mark sets the price used for the next fills of symbol.
func (p *Paper) Mark(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = decimal.NewFromFloat(price)
	p.mu.Unlock()
}

// Observe marks symbol at the candle's close.
func (p *Paper) Observe(symbol string, c model.Candle) {
	p.Mark(symbol, c.Close)
}

func (p *Paper) Wallet(_ context.Context) (model.Wallet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	bal, _ := p.balance.Float64()
	return model.Wallet{TotalAvailableBalance: bal}, nil
}

func (p *Paper) SymbolPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	f, _ := price.Float64()
	return f, nil
}

// Position returns the base quantity held in symbol.
func (p *Paper) Position(symbol string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[symbol]
}

// Fills returns a snapshot of all fills.
func (p *Paper) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *Paper) EnterTrade(_ context.Context, symbol string, dollars decimal.Decimal) (model.Order, error) {
	if !dollars.IsPositive() {
		return model.Order{}, fmt.Errorf("%w: %s", ErrInvalidAmount, dollars)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	if dollars.GreaterThan(p.balance) {
		return model.Order{}, fmt.Errorf("%w: want %s, have %s", ErrInsufficientFunds, dollars, p.balance)
	}

	// buy higher
	fillPrice := price.Add(p.slippage(price))
	qty := dollars.Div(fillPrice)
	p.balance = p.balance.Sub(dollars)
	p.positions[symbol] = p.positions[symbol].Add(qty)
	return p.record(symbol, model.Buy, qty, fillPrice, dollars), nil
}

func (p *Paper) ExitTrade(_ context.Context, symbol string, qty decimal.Decimal) (model.Order, error) {
	if !qty.IsPositive() {
		return model.Order{}, fmt.Errorf("%w: %s", ErrInvalidAmount, qty)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.positions[symbol]
	if !held.IsPositive() {
		return model.Order{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	price, ok := p.prices[symbol]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	if qty.GreaterThan(held) {
		qty = held
	}

	// sell lower
	fillPrice := price.Sub(p.slippage(price))
	value := qty.Mul(fillPrice)
	p.balance = p.balance.Add(value)
	p.positions[symbol] = held.Sub(qty)
	return p.record(symbol, model.Sell, qty, fillPrice, value), nil
}

func (p *Paper) HistoricalCandles(ctx context.Context, symbol string, iv model.Interval, count int) ([]model.Candle, error) {
	if p.history == nil {
		return nil, nil
	}
	candles, err := p.history(ctx, symbol, iv, count)
	if err != nil {
		return nil, err
	}
	if n := len(candles); n > 0 {
		p.Observe(symbol, candles[n-1])
	}
	return candles, nil
}

func (p *Paper) slippage(price decimal.Decimal) decimal.Decimal {
	if p.slippageBps <= 0 {
		return decimal.Zero
	}
	return price.Mul(decimal.NewFromInt(p.slippageBps)).Div(decimal.NewFromInt(10000))
}

// record must be called with p.mu held.
func (p *Paper) record(symbol string, side model.Side, qty, price, value decimal.Decimal) model.Order {
	p.orderSeq++
	fill := Fill{
		OrderID:  fmt.Sprintf("PAPER-%d", p.orderSeq),
		Symbol:   symbol,
		Side:     side,
		Qty:      qty,
		Price:    price,
		Value:    value,
		FilledAt: p.now(),
	}
	p.fills = append(p.fills, fill)

	p.log.Info("paper fill",
		"order_id", fill.OrderID, "side", string(side), "symbol", symbol,
		"qty", qty.String(), "price", price.String(), "balance", p.balance.String())

	q, _ := qty.Float64()
	px, _ := price.Float64()
	return model.Order{
		OrderID:   fill.OrderID,
		Symbol:    symbol,
		Side:      side,
		Qty:       q,
		Price:     px,
		Status:    "FILLED",
		CreatedAt: fill.FilledAt,
	}
}
