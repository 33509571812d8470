// Package trigger runs one strategy against a hub and opens trades when it
// reports a setup.
//
// At most one trade per trigger is live. The trigger learns that its trade
// has ended from the controller's Done channel and only then accepts a new
// one.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradeengine/internal/execution"
	"tradeengine/internal/model"
	"tradeengine/internal/notification"
	"tradeengine/internal/strategy"
	"tradeengine/internal/timeseries"
	"tradeengine/internal/trade"
)

// ErrNoPrice is returned when the venue reports a non-positive price.
var ErrNoPrice = errors.New("trigger: symbol price must be positive")

var two = decimal.NewFromInt(2)

// sizingTimeout bounds the wallet and price lookups.
const sizingTimeout = 10 * time.Second

// Hub is the part of the time series a trigger needs.
type Hub interface {
	trade.Series
	Subscribe(ctx context.Context) (*timeseries.Subscription, error)
}

// Config holds everything needed to build a Trigger.
type Config struct {
	Strategy strategy.Strategy
	Hub      Hub
	Client   execution.Client
	Sink     trade.Sink
	Notifier notification.Notifier

	// OnceOnly stops evaluating after the first setup.
	OnceOnly bool
	// Notifications sends a SetupAlert for every setup that opens a trade
	// slot, and a TradeClosedAlert when that trade exits.
	Notifications bool
	// LiveTrading opens a trade controller for every accepted setup.
	LiveTrading bool
}

// State is a snapshot of the trigger.
type State struct {
	Triggered bool
	LiveTrade string // empty when no trade is live
}

// Trigger is the strategy trigger unit.
type Trigger struct {
	cfg      Config
	strategy strategy.Strategy

	triggered bool
	live      *trade.Controller

	inbox chan any
	ready chan struct{}
	done  chan struct{}
	log   *slog.Logger

	// OnSetup is called for every setup the strategy reports.
	OnSetup func(model.Setup)
	// OnTradeOpened is called before a new controller starts running, so
	// hooks can be attached to it.
	OnTradeOpened func(*trade.Controller)
	// OnTradeClosed is called when the live controller has terminated.
	OnTradeClosed func(id string)
	// OnNotifyError is called when an alert could not be delivered.
	OnNotifyError func(error)
}

type tradeFinished struct {
	id string
}

type stateRequest struct {
	reply chan<- State
}

// New validates cfg. The trigger evaluates its own clone of the strategy.
func New(cfg Config) (*Trigger, error) {
	switch {
	case cfg.Strategy == nil:
		return nil, &model.BuildError{Field: "strategy", Target: "StrategyTrigger"}
	case cfg.Hub == nil:
		return nil, &model.BuildError{Field: "hub", Target: "StrategyTrigger"}
	case cfg.LiveTrading && cfg.Client == nil:
		return nil, &model.BuildError{Field: "execution client", Target: "StrategyTrigger"}
	case cfg.LiveTrading && cfg.Sink == nil:
		return nil, &model.BuildError{Field: "sink", Target: "StrategyTrigger"}
	case cfg.Notifications && cfg.Notifier == nil:
		return nil, &model.BuildError{Field: "notifier", Target: "StrategyTrigger"}
	}
	s := cfg.Strategy.Clone()
	return &Trigger{
		cfg:      cfg,
		strategy: s,
		inbox:    make(chan any, 8),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		log: slog.Default().With(
			slog.String("component", "trigger"),
			slog.String("strategy", s.Name()),
		),
	}, nil
}

// Ready is closed once Run has subscribed to the hub. Candles appended
// earlier are never seen by the trigger.
func (t *Trigger) Ready() <-chan struct{} { return t.ready }

// Done is closed when Run returns.
func (t *Trigger) Done() <-chan struct{} { return t.done }

// Strategy returns the trigger's own strategy instance.
func (t *Trigger) Strategy() strategy.Strategy { return t.strategy }

// State returns the current trigger state.
func (t *Trigger) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case t.inbox <- stateRequest{reply: reply}:
	case <-t.done:
		return State{}, errors.New("trigger: stopped")
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-t.done:
		return State{}, errors.New("trigger: stopped")
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Run subscribes to the hub and evaluates every appended candle until ctx is
// cancelled or the hub stops. Live controllers share ctx.
func (t *Trigger) Run(ctx context.Context) error {
	defer close(t.done)

	sub, err := t.cfg.Hub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("trigger subscribe: %w", err)
	}
	defer sub.Close()
	close(t.ready)

	t.log.Info("trigger started",
		"interval", t.strategy.Interval().String(),
		"once_only", t.cfg.OnceOnly,
		"live_trading", t.cfg.LiveTrading,
		"notifications", t.cfg.Notifications,
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-t.inbox:
			t.handle(msg)
		case added, ok := <-sub.C():
			if !ok {
				t.log.Info("hub closed subscription")
				return nil
			}
			t.onCandle(ctx, added.Candle)
		}
	}
}

func (t *Trigger) handle(msg any) {
	switch m := msg.(type) {
	case tradeFinished:
		if t.live != nil && t.live.ID() == m.id {
			t.live = nil
			t.log.Info("live trade ended", "trade_id", m.id)
			if t.OnTradeClosed != nil {
				t.OnTradeClosed(m.id)
			}
		}
	case stateRequest:
		s := State{Triggered: t.triggered}
		if t.live != nil {
			s.LiveTrade = t.live.ID()
		}
		m.reply <- s
	}
}

func (t *Trigger) onCandle(ctx context.Context, candle model.Candle) {
	if t.cfg.OnceOnly && t.triggered {
		return
	}
	t.pruneLive()

	if !t.strategy.TradingDays().IsTradingDay(candle.TS) {
		return
	}

	w, err := t.cfg.Hub.RequestLatest(ctx, t.strategy.CandlesNeeded())
	if err != nil {
		t.log.Error("latest candles unavailable", "error", err)
		return
	}
	sb, ok := t.strategy.CheckSetup(w.Candles)
	if !ok {
		return
	}
	setup, err := sb.Symbol(w.Symbol).Interval(w.Interval).Build()
	if err != nil {
		t.log.Error("setup build failed", "error", err)
		return
	}
	t.triggered = true
	t.log.Info("setup found",
		"orientation", setup.Orientation.String(),
		"symbol", setup.Symbol,
		"ts", setup.Candle.TS,
		"close", setup.Candle.Close,
	)
	if t.OnSetup != nil {
		t.OnSetup(setup)
	}

	if t.live != nil {
		t.log.Info("trade already live, skipping trade and notification", "trade_id", t.live.ID())
		return
	}

	if t.cfg.LiveTrading {
		if err := t.openTrade(ctx, setup); err != nil {
			t.log.Error("trade not opened", "error", err)
		}
	}

	if t.cfg.Notifications {
		nctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := t.cfg.Notifier.Send(nctx, notification.SetupAlert(setup, t.strategy.Name()))
		cancel()
		if err != nil {
			t.log.Warn("setup notification failed", "error", err)
			if t.OnNotifyError != nil {
				t.OnNotifyError(err)
			}
		}
	}
}

// pruneLive drops a controller that has terminated but whose finish message
// is still queued.
func (t *Trigger) pruneLive() {
	if t.live == nil {
		return
	}
	select {
	case <-t.live.Done():
		t.handle(tradeFinished{id: t.live.ID()})
	default:
	}
}

func (t *Trigger) openTrade(ctx context.Context, setup model.Setup) error {
	dollars, qty, err := t.size(ctx, setup.Symbol)
	if err != nil {
		return err
	}

	var notifier notification.Notifier
	if t.cfg.Notifications {
		notifier = t.cfg.Notifier
	}
	ctrl, err := trade.New(trade.Config{
		Setup:       &setup,
		Quantity:    qty,
		DollarValue: dollars,
		Orientation: t.strategy.Orientation(),
		Strategy:    t.strategy.Name(),
		Resolution:  t.strategy.DefaultResolution(),
		Client:      t.cfg.Client,
		Series:      t.cfg.Hub,
		Sink:        t.cfg.Sink,
		Notifier:    notifier,
	})
	if err != nil {
		return err
	}

	sub, err := t.cfg.Hub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe trade: %w", err)
	}
	if t.OnTradeOpened != nil {
		t.OnTradeOpened(ctrl)
	}
	go ctrl.Run(ctx, sub)
	t.live = ctrl

	go func() {
		select {
		case <-ctrl.Done():
		case <-t.done:
			return
		}
		select {
		case t.inbox <- tradeFinished{id: ctrl.ID()}:
		case <-t.done:
		}
	}()

	t.log.Info("trade opened", "trade_id", ctrl.ID(), "dollar_value", dollars.String(), "qty", qty.String())
	return nil
}

// size spends half the available balance at the current price.
func (t *Trigger) size(ctx context.Context, symbol string) (dollars, qty decimal.Decimal, err error) {
	var (
		wallet model.Wallet
		price  float64
	)
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithTimeout(gctx, sizingTimeout)
	defer cancel()
	g.Go(func() error {
		w, err := t.cfg.Client.Wallet(gctx)
		if err != nil {
			return fmt.Errorf("wallet: %w", err)
		}
		wallet = w
		return nil
	})
	g.Go(func() error {
		p, err := t.cfg.Client.SymbolPrice(gctx, symbol)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		price = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if price <= 0 {
		return decimal.Zero, decimal.Zero, ErrNoPrice
	}

	dollars = decimal.NewFromFloat(wallet.TotalAvailableBalance).Div(two)
	qty = dollars.Div(decimal.NewFromFloat(price))
	return dollars, qty, nil
}
