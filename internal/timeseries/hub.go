// Package timeseries owns the candle history and indicator set for one
// symbol and interval.
//
// A Hub is a single goroutine draining a command inbox, so history and
// indicator state are only ever touched by that goroutine. Other components
// interact through the methods below, which post a command and wait for the
// reply, and through subscriptions that receive one CandleAdded per append in
// append order.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tradeengine/internal/indicator"
	"tradeengine/internal/marketdata/bus"
	"tradeengine/internal/model"
)

var (
	// ErrValidation is returned when an appended candle does not start after
	// the last stored candle.
	ErrValidation = errors.New("timeseries: candle out of order")

	// ErrInsufficientHistory is returned by RequestLatest when fewer than n
	// candles are stored.
	ErrInsufficientHistory = errors.New("timeseries: insufficient history")

	// ErrUnsupportedIndicator is returned by AddIndicator for unknown kinds.
	ErrUnsupportedIndicator = errors.New("timeseries: unsupported indicator")

	// ErrHubStopped is returned once the hub goroutine has exited.
	ErrHubStopped = errors.New("timeseries: hub stopped")
)

// CandleAdded is published to subscribers after every successful append.
// Indicator values for the candle are already attached.
type CandleAdded struct {
	Symbol   string
	Interval model.Interval
	Candle   model.Candle
}

// Window is a point-in-time copy of the most recent candles, oldest first.
type Window struct {
	Symbol   string
	Interval model.Interval
	Candles  []model.Candle
}

// Last returns the newest candle of the window.
func (w Window) Last() model.Candle {
	return w.Candles[len(w.Candles)-1]
}

// Subscription delivers CandleAdded events. Close deregisters it.
type Subscription = bus.Subscription[CandleAdded]

// Config describes the series a hub owns.
type Config struct {
	Symbol   string
	Interval model.Interval

	// Validate rejects appends that do not strictly increase the start time.
	Validate bool

	// InboxSize bounds queued commands. Defaults to 256.
	InboxSize int
}

type registered struct {
	kind model.IndicatorKind
	ind  indicator.Indicator
}

// Hub is the time-series unit.
type Hub struct {
	cfg        Config
	candles    []model.Candle
	indicators []registered
	fanout     *bus.FanOut[CandleAdded]

	inbox chan command
	done  chan struct{}
	log   *slog.Logger

	// OnAppend and OnReject are optional metrics hooks called on the hub goroutine.
	OnAppend func(model.Candle)
	OnReject func(error)
}

type command interface {
	apply(h *Hub)
}

// New creates a hub seeded with history. The seed is checked with the same
// rule as AddCandle when validation is on.
func New(cfg Config, seed []model.Candle) (*Hub, error) {
	if cfg.Symbol == "" {
		return nil, &model.BuildError{Field: "symbol", Target: "Hub"}
	}
	if !cfg.Interval.Valid() {
		return nil, &model.BuildError{Field: "interval", Target: "Hub"}
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	h := &Hub{
		cfg:    cfg,
		fanout: bus.New[CandleAdded](16),
		inbox:  make(chan command, cfg.InboxSize),
		done:   make(chan struct{}),
		log: slog.Default().With(
			slog.String("component", "hub"),
			slog.String("symbol", cfg.Symbol),
			slog.String("interval", cfg.Interval.String()),
		),
	}
	for i, c := range seed {
		if err := h.checkOrder(c); err != nil {
			return nil, fmt.Errorf("seed candle %d: %w", i, err)
		}
		h.candles = append(h.candles, c.Copy())
	}
	return h, nil
}

// Symbol returns the series symbol.
func (h *Hub) Symbol() string { return h.cfg.Symbol }

// Interval returns the series interval.
func (h *Hub) Interval() model.Interval { return h.cfg.Interval }

// Run processes commands until ctx is cancelled. Subscriptions are closed on exit.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.fanout.Close()

	h.log.Info("hub started", "history", len(h.candles))
	for {
		select {
		case <-ctx.Done():
			h.log.Info("hub stopped")
			return
		case cmd := <-h.inbox:
			cmd.apply(h)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// AddCandle appends c, updates every registered indicator and notifies
// subscribers in registration order.
func (h *Hub) AddCandle(ctx context.Context, c model.Candle) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, addCandle{candle: c, reply: reply}); err != nil {
		return err
	}
	return h.wait(ctx, reply)
}

// AddIndicator backfills kind across the whole history and keeps it updated
// on future appends. Registering a kind twice is a no-op.
func (h *Hub) AddIndicator(ctx context.Context, kind model.IndicatorKind) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, addIndicator{kind: kind, reply: reply}); err != nil {
		return err
	}
	return h.wait(ctx, reply)
}

// RequestLatest returns copies of the last n candles, oldest first.
func (h *Hub) RequestLatest(ctx context.Context, n int) (Window, error) {
	reply := make(chan latestReply, 1)
	if err := h.send(ctx, requestLatest{n: n, reply: reply}); err != nil {
		return Window{}, err
	}
	select {
	case r := <-reply:
		return r.window, r.err
	case <-h.done:
		return Window{}, ErrHubStopped
	case <-ctx.Done():
		return Window{}, ctx.Err()
	}
}

// Subscribe registers a new subscriber. It sees every candle appended after
// the subscription is processed by the hub.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	reply := make(chan *Subscription, 1)
	if err := h.send(ctx, subscribe{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int { return h.fanout.Len() }

// Backlog reports per-subscriber delivery backlog.
func (h *Hub) Backlog() []bus.ChannelStat { return h.fanout.ChannelStats() }

func (h *Hub) send(ctx context.Context, cmd command) error {
	select {
	case h.inbox <- cmd:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) wait(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- commands, applied on the hub goroutine ----

type addCandle struct {
	candle model.Candle
	reply  chan<- error
}

func (c addCandle) apply(h *Hub) {
	if err := h.checkOrder(c.candle); err != nil {
		if h.OnReject != nil {
			h.OnReject(err)
		}
		c.reply <- err
		return
	}

	candle := c.candle.Copy()
	for _, r := range h.indicators {
		r.ind.Update(candle)
		if r.ind.Ready() {
			candle.SetIndicator(r.kind, r.ind.Value())
		}
	}
	h.candles = append(h.candles, candle)
	c.reply <- nil

	if h.OnAppend != nil {
		h.OnAppend(candle)
	}
	h.fanout.Publish(CandleAdded{
		Symbol:   h.cfg.Symbol,
		Interval: h.cfg.Interval,
		Candle:   candle.Copy(),
	})
}

type addIndicator struct {
	kind  model.IndicatorKind
	reply chan<- error
}

func (c addIndicator) apply(h *Hub) {
	for _, r := range h.indicators {
		if r.kind == c.kind {
			c.reply <- nil
			return
		}
	}

	ind, values, ready, err := indicator.Backfill(c.kind, h.candles)
	if err != nil {
		c.reply <- fmt.Errorf("%w: %v", ErrUnsupportedIndicator, err)
		return
	}
	for i := range h.candles {
		if ready[i] {
			h.candles[i].SetIndicator(c.kind, values[i])
		}
	}
	h.indicators = append(h.indicators, registered{kind: c.kind, ind: ind})
	h.log.Info("indicator registered", "kind", string(c.kind), "backfilled", len(h.candles))
	c.reply <- nil
}

type latestReply struct {
	window Window
	err    error
}

type requestLatest struct {
	n     int
	reply chan<- latestReply
}

func (c requestLatest) apply(h *Hub) {
	if c.n <= 0 || c.n > len(h.candles) {
		c.reply <- latestReply{err: fmt.Errorf("%w: want %d, have %d", ErrInsufficientHistory, c.n, len(h.candles))}
		return
	}
	tail := h.candles[len(h.candles)-c.n:]
	out := make([]model.Candle, len(tail))
	for i, cd := range tail {
		out[i] = cd.Copy()
	}
	c.reply <- latestReply{window: Window{Symbol: h.cfg.Symbol, Interval: h.cfg.Interval, Candles: out}}
}

type subscribe struct {
	reply chan<- *Subscription
}

func (c subscribe) apply(h *Hub) {
	s := h.fanout.Subscribe()
	h.log.Debug("subscriber added", "id", s.ID(), "subscribers", h.fanout.Len())
	c.reply <- s
}

func (h *Hub) checkOrder(c model.Candle) error {
	if !h.cfg.Validate || len(h.candles) == 0 {
		return nil
	}
	last := h.candles[len(h.candles)-1].TS
	if !c.TS.After(last) {
		return fmt.Errorf("%w: %s is not after %s", ErrValidation, c.TS.Format("2006-01-02T15:04:05Z07:00"), last.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
