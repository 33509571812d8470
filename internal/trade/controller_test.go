package trade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
	"tradeengine/internal/strategy"
	"tradeengine/internal/timeseries"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func candleAt(i int, close float64) model.Candle {
	return model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Open: close, High: close, Low: close, Close: close}
}

type fakeClient struct {
	enterGate chan struct{}
	enterErr  error

	mu     sync.Mutex
	enters []decimal.Decimal
	exits  []decimal.Decimal
}

func (f *fakeClient) Source() model.DataSource { return model.SourcePaper }

func (f *fakeClient) Wallet(context.Context) (model.Wallet, error) {
	return model.Wallet{TotalAvailableBalance: 1000}, nil
}

func (f *fakeClient) SymbolPrice(context.Context, string) (float64, error) { return 100, nil }

func (f *fakeClient) EnterTrade(ctx context.Context, symbol string, dollars decimal.Decimal) (model.Order, error) {
	if f.enterGate != nil {
		select {
		case <-f.enterGate:
		case <-ctx.Done():
			return model.Order{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.enters = append(f.enters, dollars)
	f.mu.Unlock()
	return model.Order{OrderID: "in", Symbol: symbol, Side: model.Buy}, f.enterErr
}

func (f *fakeClient) ExitTrade(_ context.Context, symbol string, qty decimal.Decimal) (model.Order, error) {
	f.mu.Lock()
	f.exits = append(f.exits, qty)
	f.mu.Unlock()
	return model.Order{OrderID: "out", Symbol: symbol, Side: model.Sell}, nil
}

func (f *fakeClient) HistoricalCandles(context.Context, string, model.Interval, int) ([]model.Candle, error) {
	return nil, nil
}

func (f *fakeClient) Exits() []decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]decimal.Decimal(nil), f.exits...)
}

type recordingSink struct {
	mu       sync.Mutex
	ops      []string
	creates  []model.TradeRecord
	finishes []model.TradeFinish
}

func (s *recordingSink) Create(r model.TradeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "create")
	s.creates = append(s.creates, r)
}

func (s *recordingSink) Finish(f model.TradeFinish) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "finish")
	s.finishes = append(s.finishes, f)
}

func (s *recordingSink) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func startHub(t *testing.T, seed ...model.Candle) *timeseries.Hub {
	t.Helper()
	h, err := timeseries.New(timeseries.Config{Symbol: "BTCUSDT", Interval: model.Minute1, Validate: true}, seed)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func testConfig(h Series, client *fakeClient, sink Sink, res strategy.Resolution) Config {
	setup := model.Setup{Symbol: "BTCUSDT", Interval: model.Minute1, Orientation: model.Long, Candle: candleAt(0, 100)}
	return Config{
		Setup:       &setup,
		Quantity:    decimal.NewFromInt(5),
		DollarValue: decimal.NewFromInt(500),
		Strategy:    "TrueOnce",
		Resolution:  res,
		Client:      client,
		Series:      h,
		Sink:        sink,
	}
}

func runController(t *testing.T, h *timeseries.Hub, c *Controller) {
	t.Helper()
	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx, sub)
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not terminate")
	}
}

func TestNew_RequiresFields(t *testing.T) {
	_, err := New(Config{})
	var be *model.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "setup is required to build Trade", err.Error())

	cfg := testConfig(nil, &fakeClient{}, &recordingSink{}, &strategy.Instant{})
	_, err = New(cfg)
	assert.EqualError(t, err, "time series is required to build Trade")
}

func TestNew_RecordFromSetup(t *testing.T) {
	c, err := New(testConfig(startHub(t), &fakeClient{}, &recordingSink{}, &strategy.Instant{}))
	require.NoError(t, err)

	rec := c.Record()
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, c.ID(), rec.ID)
	assert.Equal(t, "BTCUSDT", rec.Symbol)
	assert.Equal(t, "1m", rec.Interval)
	assert.Equal(t, "long", rec.Orientation)
	assert.Equal(t, "TrueOnce", rec.TradingStrategy)
	assert.Equal(t, "Instant", rec.ResolutionStrategy)
	assert.Equal(t, "paper", rec.DataSource)
	assert.Equal(t, t0, rec.EnteredAt)
	assert.Equal(t, 100.0, rec.EntryPrice)
	assert.Equal(t, 5.0, rec.Quantity)
	assert.Equal(t, 500.0, rec.DollarValue)
	assert.Zero(t, rec.EntryFee)
	assert.Nil(t, rec.ExitedAt)
	assert.Equal(t, model.TradeCreated, c.Status())
}

func TestController_InstantExitOnNextCandle(t *testing.T) {
	h := startHub(t, candleAt(0, 100))
	client := &fakeClient{}
	sink := &recordingSink{}
	c, err := New(testConfig(h, client, sink, &strategy.Instant{}))
	require.NoError(t, err)

	var exits []model.TradeFinish
	c.OnExit = func(f model.TradeFinish) { exits = append(exits, f) }
	runController(t, h, c)

	require.Eventually(t, func() bool { return c.Status() == model.TradeEntered }, time.Second, time.Millisecond)
	exitTS := t0.Add(125 * time.Second)
	require.NoError(t, h.AddCandle(context.Background(), model.Candle{TS: exitTS, Close: 104}))
	waitDone(t, c)

	assert.Equal(t, model.TradeExited, c.Status())
	assert.Equal(t, []string{"create", "finish"}, sink.Ops())
	require.Len(t, exits, 1)
	assert.Equal(t, model.TradeFinish{ID: c.ID(), ExitedAt: exitTS, BarsInTrade: 2, ExitPrice: 104}, sink.finishes[0])
	assert.Equal(t, sink.finishes[0], exits[0])

	require.Len(t, client.Exits(), 1)
	assert.True(t, decimal.RequireFromString("4.95").Equal(client.Exits()[0]), "exit qty is 99%% of entry qty")
	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, time.Millisecond)
}

func TestController_EntryFailureStillRecordsAndMonitors(t *testing.T) {
	h := startHub(t, candleAt(0, 100))
	client := &fakeClient{enterErr: errors.New("insufficient margin")}
	sink := &recordingSink{}
	c, err := New(testConfig(h, client, sink, &strategy.Instant{}))
	require.NoError(t, err)

	var mu sync.Mutex
	var orderErrs []error
	c.OnOrder = func(side model.Side, err error) {
		mu.Lock()
		defer mu.Unlock()
		if side == model.Buy {
			orderErrs = append(orderErrs, err)
		}
	}
	runController(t, h, c)

	require.Eventually(t, func() bool { return c.Status() == model.TradeEntered }, time.Second, time.Millisecond)
	require.NoError(t, h.AddCandle(context.Background(), candleAt(1, 101)))
	waitDone(t, c)

	assert.Equal(t, []string{"create", "finish"}, sink.Ops())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, orderErrs, 1)
	assert.Error(t, orderErrs[0])
}

func TestController_CandleBeforeEntryIsEvaluatedAfter(t *testing.T) {
	h := startHub(t, candleAt(0, 100))
	gate := make(chan struct{})
	client := &fakeClient{enterGate: gate}
	sink := &recordingSink{}
	c, err := New(testConfig(h, client, sink, &strategy.Instant{}))
	require.NoError(t, err)
	runController(t, h, c)

	require.NoError(t, h.AddCandle(context.Background(), candleAt(1, 101)))
	require.NoError(t, h.AddCandle(context.Background(), candleAt(2, 102)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.Ops(), "nothing written before entry completes")
	assert.Equal(t, model.TradeCreated, c.Status())

	close(gate)
	waitDone(t, c)
	assert.Equal(t, []string{"create", "finish"}, sink.Ops())
	assert.Equal(t, 102.0, sink.finishes[0].ExitPrice, "newest pending candle is evaluated")
}

func TestController_FixedPercentWaitsForTarget(t *testing.T) {
	h := startHub(t, candleAt(0, 100))
	res, err := strategy.NewFixedPercent(0.02, 0.01)
	require.NoError(t, err)
	sink := &recordingSink{}
	c, err := New(testConfig(h, &fakeClient{}, sink, res))
	require.NoError(t, err)
	runController(t, h, c)
	require.Eventually(t, func() bool { return c.Status() == model.TradeEntered }, time.Second, time.Millisecond)

	ctx := context.Background()
	require.NoError(t, h.AddCandle(ctx, candleAt(1, 101)))
	require.NoError(t, h.AddCandle(ctx, candleAt(2, 99.5)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, model.TradeEntered, c.Status())

	require.NoError(t, h.AddCandle(ctx, candleAt(3, 102.5)))
	waitDone(t, c)
	require.Len(t, sink.finishes, 1)
	assert.Equal(t, 102.5, sink.finishes[0].ExitPrice)
	assert.Equal(t, 3, sink.finishes[0].BarsInTrade)
}

func TestController_StopsWhenHubStops(t *testing.T) {
	h, err := timeseries.New(timeseries.Config{Symbol: "BTCUSDT", Interval: model.Minute1}, nil)
	require.NoError(t, err)
	hctx, stopHub := context.WithCancel(context.Background())
	go h.Run(hctx)

	c, err := New(testConfig(h, &fakeClient{}, &recordingSink{}, &strategy.Instant{}))
	require.NoError(t, err)
	runController(t, h, c)

	stopHub()
	waitDone(t, c)
	assert.NotEqual(t, model.TradeExited, c.Status())
}
