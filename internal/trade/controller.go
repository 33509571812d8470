// Package trade runs the lifecycle of one open position.
//
// A Controller enters on start, watches every candle appended to its hub and
// exits once the resolution policy reports take-profit or stop-loss. Order
// failures are logged and do not stop the lifecycle: the trade record is
// still written and monitoring still runs.
package trade

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeengine/internal/execution"
	"tradeengine/internal/logger"
	"tradeengine/internal/model"
	"tradeengine/internal/notification"
	"tradeengine/internal/strategy"
	"tradeengine/internal/timeseries"
)

// exitQtyRatio shrinks the exit so balance drift between sizing and entry
// never leaves the sell larger than the holding.
var exitQtyRatio = decimal.NewFromFloat(0.99)

// orderTimeout bounds one venue call.
const orderTimeout = 15 * time.Second

// Series is the part of the hub a controller reads from.
type Series interface {
	RequestLatest(ctx context.Context, n int) (timeseries.Window, error)
}

// Sink receives the trade record writes.
type Sink interface {
	Create(model.TradeRecord)
	Finish(model.TradeFinish)
}

// Config holds everything needed to build a Controller.
type Config struct {
	// ID is generated when empty.
	ID          string
	Setup       *model.Setup
	Quantity    decimal.Decimal
	DollarValue decimal.Decimal
	Orientation model.Orientation
	Strategy    string
	Resolution  strategy.Resolution
	Client      execution.Client
	Series      Series
	Sink        Sink

	// Notifier, when set, receives a TradeClosedAlert on exit.
	Notifier notification.Notifier
}

// Controller is the trade unit.
type Controller struct {
	cfg    Config
	setup  model.Setup
	record model.TradeRecord
	status atomic.Int32

	pending *model.Candle // newest candle seen before entry completed
	events  chan any
	done    chan struct{}
	log     *slog.Logger

	// OnOrder is called after every entry and exit order.
	OnOrder func(side model.Side, err error)
	// OnExit is called once the finish record has been submitted.
	OnExit func(model.TradeFinish)
}

type entered struct {
	order model.Order
	err   error
}

type exited struct {
	finish model.TradeFinish
}

// New validates cfg and initializes the resolution policy with the setup.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Setup == nil:
		return nil, &model.BuildError{Field: "setup", Target: "Trade"}
	case !cfg.Quantity.IsPositive():
		return nil, &model.BuildError{Field: "quantity", Target: "Trade"}
	case !cfg.DollarValue.IsPositive():
		return nil, &model.BuildError{Field: "dollar value", Target: "Trade"}
	case cfg.Client == nil:
		return nil, &model.BuildError{Field: "execution client", Target: "Trade"}
	case cfg.Resolution == nil:
		return nil, &model.BuildError{Field: "resolution strategy", Target: "Trade"}
	case cfg.Series == nil:
		return nil, &model.BuildError{Field: "time series", Target: "Trade"}
	case cfg.Sink == nil:
		return nil, &model.BuildError{Field: "sink", Target: "Trade"}
	case cfg.Strategy == "":
		return nil, &model.BuildError{Field: "trading strategy", Target: "Trade"}
	}
	if cfg.Orientation == 0 {
		cfg.Orientation = cfg.Setup.Orientation
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	setup := *cfg.Setup
	setup.Candle = setup.Candle.Copy()
	if err := cfg.Resolution.Init(setup); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:    cfg,
		setup:  setup,
		events: make(chan any, 2),
		done:   make(chan struct{}),
		log: slog.Default().With(
			slog.String("component", "trade"),
			slog.String("trade_id", cfg.ID),
			slog.String("symbol", setup.Symbol),
		),
	}
	c.record = model.TradeRecord{
		ID:                 cfg.ID,
		Symbol:             setup.Symbol,
		Interval:           setup.Interval.String(),
		Orientation:        cfg.Orientation.String(),
		TradingStrategy:    cfg.Strategy,
		ResolutionStrategy: cfg.Resolution.Name(),
		DataSource:         string(cfg.Client.Source()),
		EnteredAt:          setup.Candle.TS,
		EntryPrice:         setup.Candle.Close,
		Quantity:           cfg.Quantity.InexactFloat64(),
		DollarValue:        cfg.DollarValue.InexactFloat64(),
	}
	c.status.Store(int32(model.TradeCreated))
	return c, nil
}

// ID returns the trade id.
func (c *Controller) ID() string { return c.cfg.ID }

// Record returns the record written on entry.
func (c *Controller) Record() model.TradeRecord { return c.record }

// Status returns the current lifecycle state.
func (c *Controller) Status() model.TradeStatus {
	return model.TradeStatus(c.status.Load())
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run enters the trade and evaluates candles from sub until the trade exits,
// the subscription ends or ctx is cancelled. sub is closed on return.
func (c *Controller) Run(ctx context.Context, sub *timeseries.Subscription) {
	defer close(c.done)
	defer sub.Close()

	ctx = logger.WithTradeID(ctx, c.cfg.ID)
	c.log.Info("trade started",
		"orientation", c.record.Orientation,
		"entry_price", c.record.EntryPrice,
		"dollar_value", c.record.DollarValue,
	)
	go c.enter(ctx)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("trade stopped", "status", c.Status().String())
			return
		case ev := <-c.events:
			switch ev := ev.(type) {
			case entered:
				c.onEntered(ctx, ev)
			case exited:
				c.cfg.Sink.Finish(ev.finish)
				c.log.Info("trade exited",
					"exit_price", ev.finish.ExitPrice,
					"bars_in_trade", ev.finish.BarsInTrade,
				)
				if c.OnExit != nil {
					c.OnExit(ev.finish)
				}
				return
			}
		case added, ok := <-sub.C():
			if !ok {
				c.log.Warn("subscription closed before exit", "status", c.Status().String())
				return
			}
			c.onCandle(ctx, added.Candle)
		}
	}
}

func (c *Controller) enter(ctx context.Context) {
	octx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()
	order, err := c.cfg.Client.EnterTrade(octx, c.setup.Symbol, c.cfg.DollarValue)
	c.post(ctx, entered{order: order, err: err})
}

func (c *Controller) onEntered(ctx context.Context, ev entered) {
	if ev.err != nil {
		c.log.Error("entry order failed", append(logger.LogWithTrade(ctx), "error", ev.err)...)
	} else {
		c.log.Info("entry order filled", "order_id", ev.order.OrderID, "price", ev.order.Price)
	}
	if c.OnOrder != nil {
		c.OnOrder(model.Buy, ev.err)
	}

	c.cfg.Sink.Create(c.record)
	c.status.Store(int32(model.TradeEntered))

	if c.pending != nil {
		candle := *c.pending
		c.pending = nil
		c.onCandle(ctx, candle)
	}
}

func (c *Controller) onCandle(ctx context.Context, candle model.Candle) {
	switch c.Status() {
	case model.TradeCreated:
		c.pending = &candle
		return
	case model.TradeExited:
		return
	}

	res := c.cfg.Resolution
	tpN, slN := res.TakeProfitWindow(), res.StopLossWindow()
	w, err := c.cfg.Series.RequestLatest(ctx, max(tpN, slN))
	if err != nil {
		c.log.Error("latest candles unavailable", "error", err)
		return
	}
	end := len(w.Candles)

	tp, err := res.TakeProfitReached(c.cfg.Orientation, w.Candles[end-tpN:])
	if err != nil {
		c.log.Error("take profit check failed", "error", err)
		return
	}
	sl, err := res.StopLossReached(c.cfg.Orientation, w.Candles[end-slN:])
	if err != nil {
		c.log.Error("stop loss check failed", "error", err)
		return
	}
	if !tp && !sl {
		return
	}

	c.status.Store(int32(model.TradeExited))
	finish := model.TradeFinish{
		ID:          c.cfg.ID,
		ExitedAt:    candle.TS,
		BarsInTrade: model.BarsBetween(c.setup.Candle.TS, candle.TS, c.setup.Interval),
		ExitPrice:   candle.Close,
	}
	c.log.Info("exit signalled", "take_profit", tp, "stop_loss", sl, "close", candle.Close)
	go c.exit(ctx, finish)
}

func (c *Controller) exit(ctx context.Context, finish model.TradeFinish) {
	qty := c.cfg.Quantity.Mul(exitQtyRatio)

	octx, cancel := context.WithTimeout(ctx, orderTimeout)
	order, err := c.cfg.Client.ExitTrade(octx, c.setup.Symbol, qty)
	cancel()
	if err != nil {
		c.log.Error("exit order failed", append(logger.LogWithTrade(ctx), "qty", qty.String(), "error", err)...)
	} else {
		c.log.Info("exit order filled", "order_id", order.OrderID, "qty", qty.String(), "price", order.Price)
	}
	if c.OnOrder != nil {
		c.OnOrder(model.Sell, err)
	}

	c.post(ctx, exited{finish: finish})

	if c.cfg.Notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := c.cfg.Notifier.Send(nctx, notification.TradeClosedAlert(c.record, finish)); err != nil {
			c.log.Warn("trade closed notification failed", "error", err)
		}
	}
}

func (c *Controller) post(ctx context.Context, ev any) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	case <-c.done:
	}
}
