// Package engine wires feeds, hubs and triggers for one symbol.
//
// Strategies are grouped by interval. Each interval gets one hub seeded from
// the venue's history, one supervised feed and one trigger per strategy. All
// triggers share the execution client and the persistence sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"tradeengine/internal/execution"
	"tradeengine/internal/marketdata/ws"
	"tradeengine/internal/metrics"
	"tradeengine/internal/model"
	"tradeengine/internal/notification"
	"tradeengine/internal/strategy"
	"tradeengine/internal/timeseries"
	"tradeengine/internal/trade"
	"tradeengine/internal/trigger"
)

const (
	defaultRestartDelay = 5 * time.Second
	defaultHistoryExtra = 300
)

// StrategySpec is one trigger to run.
type StrategySpec struct {
	Strategy      strategy.Strategy
	OnceOnly      bool
	Notifications bool
	LiveTrading   bool
}

// CandleArchive consumes appended candles, e.g. the sqlite or redis writer.
type CandleArchive interface {
	Run(ctx context.Context, events <-chan timeseries.CandleAdded)
}

// PriceObserver is told about every appended candle. The paper account uses
// it to mark prices.
type PriceObserver interface {
	Observe(symbol string, c model.Candle)
}

// Config holds the runner's dependencies.
type Config struct {
	Symbol       string
	StreamURL    string
	HistoryExtra int
	Validate     bool
	Strategies   []StrategySpec

	Client   execution.Client
	Sink     trade.Sink
	Notifier notification.Notifier
	Archives []CandleArchive
	Observer PriceObserver

	// Optional
	Metrics           *metrics.Metrics
	Health            *metrics.HealthStatus
	RestartDelay      time.Duration
	HeartbeatInterval time.Duration
	Dialer            *websocket.Dialer
}

// Runner owns the hubs and feeds of one run.
type Runner struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	hubs     map[model.Interval]*timeseries.Hub
	triggers []*trigger.Trigger
}

// StrategyStatus is a point-in-time view of one trigger.
type StrategyStatus struct {
	Name      string `json:"name"`
	Interval  string `json:"interval"`
	Triggered bool   `json:"triggered"`
	LiveTrade string `json:"live_trade,omitempty"`
	Running   bool   `json:"running"`
}

// New validates cfg.
func New(cfg Config) (*Runner, error) {
	switch {
	case cfg.Symbol == "":
		return nil, &model.BuildError{Field: "symbol", Target: "Runner"}
	case cfg.StreamURL == "":
		return nil, &model.BuildError{Field: "stream url", Target: "Runner"}
	case len(cfg.Strategies) == 0:
		return nil, &model.BuildError{Field: "strategy", Target: "Runner"}
	case cfg.Client == nil:
		return nil, &model.BuildError{Field: "execution client", Target: "Runner"}
	case cfg.Sink == nil:
		return nil, &model.BuildError{Field: "sink", Target: "Runner"}
	}
	if cfg.HistoryExtra < 0 {
		cfg.HistoryExtra = defaultHistoryExtra
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	return &Runner{
		cfg:  cfg,
		hubs: make(map[model.Interval]*timeseries.Hub),
		log:  slog.Default().With(slog.String("component", "runner"), slog.String("symbol", cfg.Symbol)),
	}, nil
}

// Hub returns the running hub for iv.
func (r *Runner) Hub(iv model.Interval) (*timeseries.Hub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hubs[iv]
	return h, ok
}

// Intervals returns the intervals with a running hub, shortest first.
func (r *Runner) Intervals() []model.Interval {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Interval, 0, len(r.hubs))
	for iv := range r.hubs {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strategies reports the state of every started trigger. A trigger that has
// stopped is listed with Running false.
func (r *Runner) Strategies(ctx context.Context) []StrategyStatus {
	r.mu.RLock()
	triggers := append([]*trigger.Trigger(nil), r.triggers...)
	r.mu.RUnlock()

	out := make([]StrategyStatus, 0, len(triggers))
	for _, tr := range triggers {
		st := StrategyStatus{
			Name:     tr.Strategy().Name(),
			Interval: tr.Strategy().Interval().String(),
		}
		if s, err := tr.State(ctx); err == nil {
			st.Triggered = s.Triggered
			st.LiveTrade = s.LiveTrade
			st.Running = true
		}
		out = append(out, st)
	}
	return out
}

// Symbol returns the traded symbol.
func (r *Runner) Symbol() string { return r.cfg.Symbol }

type group struct {
	interval   model.Interval
	minLength  int
	indicators []model.IndicatorKind
	specs      []StrategySpec
}

// groupByInterval collects strategies per interval with the longest minimum
// length and the union of their indicators.
func groupByInterval(specs []StrategySpec) []group {
	byIv := make(map[model.Interval]*group)
	for _, s := range specs {
		iv := s.Strategy.Interval()
		g, ok := byIv[iv]
		if !ok {
			g = &group{interval: iv}
			byIv[iv] = g
		}
		g.minLength = max(g.minLength, s.Strategy.MinLength())
		for _, kind := range s.Strategy.RequiredIndicators() {
			seen := false
			for _, have := range g.indicators {
				if have == kind {
					seen = true
					break
				}
			}
			if !seen {
				g.indicators = append(g.indicators, kind)
			}
		}
		g.specs = append(g.specs, s)
	}
	out := make([]group, 0, len(byIv))
	for _, g := range byIv {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].interval < out[j].interval })
	return out
}

// Run seeds and starts every interval, then blocks until ctx is cancelled or
// a unit fails to start.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, grp := range groupByInterval(r.cfg.Strategies) {
		hub, err := r.startHub(gctx, g, grp)
		if err != nil {
			return fmt.Errorf("interval %s: %w", grp.interval, err)
		}
		for _, spec := range grp.specs {
			if err := r.startTrigger(gctx, g, hub, spec); err != nil {
				return fmt.Errorf("interval %s: %w", grp.interval, err)
			}
		}
		ing, err := r.newFeed(grp.interval)
		if err != nil {
			return fmt.Errorf("interval %s: %w", grp.interval, err)
		}
		g.Go(func() error {
			r.superviseFeed(gctx, ing, hub)
			return nil
		})
	}
	r.log.Info("engine running", "intervals", len(r.Intervals()), "strategies", len(r.cfg.Strategies))
	return g.Wait()
}

func (r *Runner) startHub(ctx context.Context, g *errgroup.Group, grp group) (*timeseries.Hub, error) {
	count := grp.minLength + r.cfg.HistoryExtra
	seed, err := r.cfg.Client.HistoricalCandles(ctx, r.cfg.Symbol, grp.interval, count)
	if err != nil {
		return nil, fmt.Errorf("seed history: %w", err)
	}
	if len(seed) < grp.minLength {
		r.log.Warn("seed history shorter than strategy minimum",
			"interval", grp.interval.String(), "have", len(seed), "want", grp.minLength)
	}

	hub, err := timeseries.New(timeseries.Config{
		Symbol:   r.cfg.Symbol,
		Interval: grp.interval,
		Validate: r.cfg.Validate,
	}, seed)
	if err != nil {
		return nil, err
	}

	label := grp.interval.String()
	hub.OnAppend = func(c model.Candle) {
		if r.cfg.Observer != nil {
			r.cfg.Observer.Observe(r.cfg.Symbol, c)
		}
		if r.cfg.Health != nil {
			r.cfg.Health.SetLastCandleTime(c.TS)
		}
		if m := r.cfg.Metrics; m != nil {
			m.HubAppends.WithLabelValues(label).Inc()
			m.HubSubscribers.WithLabelValues(label).Set(float64(hub.Subscribers()))
		}
	}
	hub.OnReject = func(err error) {
		if m := r.cfg.Metrics; m != nil {
			m.HubRejected.WithLabelValues(label).Inc()
		}
	}
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	for _, kind := range grp.indicators {
		if err := hub.AddIndicator(ctx, kind); err != nil {
			return nil, err
		}
	}
	for _, a := range r.cfg.Archives {
		sub, err := hub.Subscribe(ctx)
		if err != nil {
			return nil, err
		}
		go func(a CandleArchive) {
			defer sub.Close()
			a.Run(ctx, sub.C())
		}(a)
	}

	r.mu.Lock()
	r.hubs[grp.interval] = hub
	r.mu.Unlock()
	r.log.Info("hub seeded", "interval", label, "candles", len(seed), "indicators", len(grp.indicators))
	return hub, nil
}

func (r *Runner) startTrigger(ctx context.Context, g *errgroup.Group, hub *timeseries.Hub, spec StrategySpec) error {
	tr, err := trigger.New(trigger.Config{
		Strategy:      spec.Strategy,
		Hub:           hub,
		Client:        r.cfg.Client,
		Sink:          r.cfg.Sink,
		Notifier:      r.cfg.Notifier,
		OnceOnly:      spec.OnceOnly,
		Notifications: spec.Notifications,
		LiveTrading:   spec.LiveTrading,
	})
	if err != nil {
		return err
	}
	if m := r.cfg.Metrics; m != nil {
		name := spec.Strategy.Name()
		tr.OnSetup = func(model.Setup) { m.SetupsFound.WithLabelValues(name).Inc() }
		tr.OnTradeOpened = func(c *trade.Controller) {
			m.TradesOpened.WithLabelValues(name).Inc()
			m.LiveTrades.Inc()
			c.OnOrder = func(side model.Side, err error) {
				if err != nil {
					m.OrdersFailed.WithLabelValues(string(side)).Inc()
				}
			}
			c.OnExit = func(model.TradeFinish) { m.TradesClosed.WithLabelValues(name).Inc() }
		}
		tr.OnTradeClosed = func(string) { m.LiveTrades.Dec() }
		tr.OnNotifyError = func(error) { m.NotificationsFailed.Inc() }
	}
	r.mu.Lock()
	r.triggers = append(r.triggers, tr)
	r.mu.Unlock()
	g.Go(func() error {
		if err := tr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// The feed starts only after every trigger is subscribed.
	select {
	case <-tr.Ready():
		return nil
	case <-tr.Done():
		return fmt.Errorf("trigger %s stopped before subscribing", spec.Strategy.Name())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) newFeed(iv model.Interval) (*ws.Ingest, error) {
	ing, err := ws.New(ws.IngestConfig{
		URL:               r.cfg.StreamURL,
		Symbol:            r.cfg.Symbol,
		Interval:          iv,
		HeartbeatInterval: r.cfg.HeartbeatInterval,
		Dialer:            r.cfg.Dialer,
	})
	if err != nil {
		return nil, err
	}
	label := iv.String()
	if m := r.cfg.Metrics; m != nil {
		ing.OnKline = func() { m.KlinesTotal.WithLabelValues(label).Inc() }
		ing.OnHeartbeat = func() { m.HeartbeatsTotal.WithLabelValues(label).Inc() }
		ing.OnCandle = func(c model.Candle) {
			m.CandlesClosed.WithLabelValues(label).Inc()
			m.CandleLag.Set(time.Since(c.TS.Add(iv.Duration())).Seconds())
		}
	}
	if h := r.cfg.Health; h != nil {
		ing.OnConnect = func() { h.SetFeedConnected(label, true) }
	}
	return ing, nil
}

// superviseFeed restarts the feed after RestartDelay whenever a session ends
// with an error. The feed itself never reconnects.
func (r *Runner) superviseFeed(ctx context.Context, ing *ws.Ingest, hub *timeseries.Hub) {
	label := hub.Interval().String()
	candles := make(chan model.Candle, 64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for c := range candles {
			if err := hub.AddCandle(ctx, c); err != nil {
				if ctx.Err() != nil {
					continue
				}
				r.log.Warn("candle rejected", "interval", label, "ts", c.TS, "error", err)
			}
		}
	}()
	defer func() {
		close(candles)
		<-forwarded
	}()

	for {
		err := ing.Start(ctx, candles)
		if r.cfg.Health != nil {
			r.cfg.Health.SetFeedConnected(label, false)
		}
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("session ended")
		}
		r.log.Error("feed terminated, restarting", "interval", label, "error", err, "delay", r.cfg.RestartDelay)
		if m := r.cfg.Metrics; m != nil {
			m.FeedErrors.WithLabelValues(label).Inc()
			m.FeedRestarts.WithLabelValues(label).Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.RestartDelay):
		}
	}
}
