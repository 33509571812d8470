package execution

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
	"tradeengine/pkg/bybit"
)

func TestPaper_EnterAndExit(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(1000, 0, nil)

	_, err := p.EnterTrade(ctx, "BTCUSDT", decimal.NewFromInt(100))
	require.ErrorIs(t, err, ErrNoPrice)

	p.Observe("BTCUSDT", model.Candle{Close: 50})
	price, err := p.SymbolPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50.0, price)

	o, err := p.EnterTrade(ctx, "BTCUSDT", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.Equal(t, model.Buy, o.Side)
	assert.Equal(t, 10.0, o.Qty)
	assert.True(t, p.Position("BTCUSDT").Equal(decimal.NewFromInt(10)))

	w, _ := p.Wallet(ctx)
	assert.Equal(t, 500.0, w.TotalAvailableBalance)

	_, err = p.EnterTrade(ctx, "BTCUSDT", decimal.NewFromInt(600))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	p.Mark("BTCUSDT", 60)
	o, err = p.ExitTrade(ctx, "BTCUSDT", decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.Equal(t, 10.0, o.Qty, "exit is capped at the held quantity")
	w, _ = p.Wallet(ctx)
	assert.Equal(t, 1100.0, w.TotalAvailableBalance)

	_, err = p.ExitTrade(ctx, "BTCUSDT", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrNoPosition)
	assert.Len(t, p.Fills(), 2)
}

func TestPaper_Slippage(t *testing.T) {
	p := NewPaper(1000, 100, nil) // 1%
	p.Mark("ETHUSDT", 100)

	o, err := p.EnterTrade(context.Background(), "ETHUSDT", decimal.NewFromInt(101))
	require.NoError(t, err)
	assert.Equal(t, 101.0, o.Price)
	assert.InDelta(t, 1.0, o.Qty, 1e-12)

	o, err = p.ExitTrade(context.Background(), "ETHUSDT", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, 99.0, o.Price)
}

func TestPaper_HistoryMarksPrice(t *testing.T) {
	hist := func(_ context.Context, symbol string, iv model.Interval, count int) ([]model.Candle, error) {
		return []model.Candle{{Close: 1}, {Close: 2}}, nil
	}
	p := NewPaper(10, 0, hist)
	candles, err := p.HistoricalCandles(context.Background(), "BTCUSDT", model.Minute1, 2)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
	price, err := p.SymbolPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2.0, price)

	none, err := NewPaper(10, 0, nil).HistoricalCandles(context.Background(), "BTCUSDT", model.Minute1, 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJournaled_RecordsSuccessAndFailure(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	defer j.Close()

	p := NewPaper(100, 0, nil)
	c := Journaled(p, j)
	assert.Equal(t, model.SourcePaper, c.Source())

	_, err = c.EnterTrade(context.Background(), "BTCUSDT", decimal.NewFromInt(10))
	require.ErrorIs(t, err, ErrNoPrice)

	p.Mark("BTCUSDT", 10)
	_, err = c.EnterTrade(context.Background(), "BTCUSDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	orders, err := j.Orders(10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "FILLED", orders[0].Status)
	assert.Equal(t, "PAPER-1", orders[0].OrderID)
	assert.Equal(t, "ERROR", orders[1].Status)
	assert.Contains(t, orders[1].Error, "no price")
	assert.Equal(t, "10", orders[1].Amount)
}

func TestBybit_OrdersAndHistory(t *testing.T) {
	var lastBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/create":
			raw, _ := io.ReadAll(r.Body)
			lastBody = string(raw)
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"abc"}}`))
		case "/v5/market/kline":
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
				["1714554120000","3","3","3","3","1","3"],
				["1714554060000","2","2","2","2","1","2"],
				["1714554000000","1","1","1","1","1","1"]]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	now := time.UnixMilli(1714554120000).Add(30 * time.Second)
	b := NewBybit(bybit.NewClient(bybit.Config{
		APIKey: "k", APISecret: "s", BaseURL: srv.URL,
		Now: func() time.Time { return now },
	}))
	assert.Equal(t, model.SourceBybit, b.Source())

	o, err := b.ExitTrade(context.Background(), "BTCUSDT", decimal.RequireFromString("0.123456789"))
	require.NoError(t, err)
	assert.Equal(t, "abc", o.OrderID)
	assert.Contains(t, lastBody, `"qty":"0.123456"`)
	assert.Contains(t, lastBody, `"marketUnit":"baseCoin"`)

	_, err = b.EnterTrade(context.Background(), "BTCUSDT", decimal.Zero)
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	candles, err := b.HistoricalCandles(context.Background(), "BTCUSDT", model.Minute1, 5)
	require.NoError(t, err)
	require.Len(t, candles, 2, "forming bar is dropped")
	assert.Equal(t, 1.0, candles[0].Close)
	assert.Equal(t, 2.0, candles[1].Close)
}
