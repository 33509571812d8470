// Package metrics exposes engine counters and the health endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	// Feed
	KlinesTotal     *prometheus.CounterVec // labels: interval
	CandlesClosed   *prometheus.CounterVec // labels: interval
	HeartbeatsTotal *prometheus.CounterVec // labels: interval
	FeedErrors      *prometheus.CounterVec // labels: interval
	FeedRestarts    *prometheus.CounterVec // labels: interval
	CandleLag       prometheus.Gauge

	// Hub
	HubAppends     *prometheus.CounterVec // labels: interval
	HubRejected    *prometheus.CounterVec // labels: interval
	HubSubscribers *prometheus.GaugeVec   // labels: interval

	// Trading
	SetupsFound  *prometheus.CounterVec // labels: strategy
	TradesOpened *prometheus.CounterVec // labels: strategy
	TradesClosed *prometheus.CounterVec // labels: strategy
	OrdersFailed *prometheus.CounterVec // labels: side
	LiveTrades   prometheus.Gauge

	// Persistence
	SinkWrites   *prometheus.CounterVec // labels: store, op
	SinkFailures *prometheus.CounterVec // labels: store, op
	SinkDropped  *prometheus.CounterVec // labels: op

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBufferedWrites      prometheus.Counter

	NotificationsFailed prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		KlinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_klines_total",
			Help: "Kline updates received from the venue stream",
		}, []string{"interval"}),
		CandlesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_candles_closed_total",
			Help: "Closed candles emitted by the feed",
		}, []string{"interval"}),
		HeartbeatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_heartbeats_total",
			Help: "Keep-alive pings sent",
		}, []string{"interval"}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_feed_errors_total",
			Help: "Feed sessions that ended with an error",
		}, []string{"interval"}),
		FeedRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_feed_restarts_total",
			Help: "Feed restarts by the runner",
		}, []string{"interval"}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_candle_lag_seconds",
			Help: "Delay between candle close and its emission",
		}),

		HubAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_hub_appends_total",
			Help: "Candles appended to a hub",
		}, []string{"interval"}),
		HubRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_hub_rejected_total",
			Help: "Candles rejected by hub validation",
		}, []string{"interval"}),
		HubSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_hub_subscribers",
			Help: "Live hub subscriptions",
		}, []string{"interval"}),

		SetupsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_setups_total",
			Help: "Setups reported by strategies",
		}, []string{"strategy"}),
		TradesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_opened_total",
			Help: "Trade controllers started",
		}, []string{"strategy"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Trade controllers that reached exit",
		}, []string{"strategy"}),
		OrdersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_failed_total",
			Help: "Entry or exit orders rejected by the venue",
		}, []string{"side"}),
		LiveTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_live_trades",
			Help: "Trades currently monitored",
		}),

		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_sink_writes_total",
			Help: "Trade events written to a store",
		}, []string{"store", "op"}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_sink_failures_total",
			Help: "Trade events a store failed to write",
		}, []string{"store", "op"}),
		SinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_sink_dropped_total",
			Help: "Trade events dropped before reaching any store",
		}, []string{"op"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_buffered_writes_total",
			Help: "Trade events buffered while Redis was unavailable",
		}),

		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_notifications_failed_total",
			Help: "Alerts that could not be delivered",
		}),
	}

	reg.MustRegister(
		m.KlinesTotal,
		m.CandlesClosed,
		m.HeartbeatsTotal,
		m.FeedErrors,
		m.FeedRestarts,
		m.CandleLag,
		m.HubAppends,
		m.HubRejected,
		m.HubSubscribers,
		m.SetupsFound,
		m.TradesOpened,
		m.TradesClosed,
		m.OrdersFailed,
		m.LiveTrades,
		m.SinkWrites,
		m.SinkFailures,
		m.SinkDropped,
		m.RedisCircuitBreakerState,
		m.RedisBufferedWrites,
		m.NotificationsFailed,
	)

	return m
}

// SinkResult records one store write.
func (m *Metrics) SinkResult(store, op string, err error) {
	if err != nil {
		m.SinkFailures.WithLabelValues(store, op).Inc()
		return
	}
	m.SinkWrites.WithLabelValues(store, op).Inc()
}

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	feeds          map[string]bool
	stores         map[string]bool
	storeLatencyMs map[string]float64
	lastCandleTime time.Time
	lastCheckAt    time.Time
	startedAt      time.Time
	now            func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		feeds:          make(map[string]bool),
		stores:         make(map[string]bool),
		storeLatencyMs: make(map[string]float64),
		startedAt:      time.Now(),
		now:            time.Now,
	}
}

// SetFeedConnected records the state of the feed for one interval.
func (h *HealthStatus) SetFeedConnected(interval string, v bool) {
	h.mu.Lock()
	h.feeds[interval] = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.lastCandleTime = t
	h.mu.Unlock()
}

// SetStoreOK records whether a store is reachable.
func (h *HealthStatus) SetStoreOK(store string, v bool) {
	h.mu.Lock()
	h.stores[store] = v
	h.mu.Unlock()
}

// Check runs probe and records latency and reachability for store.
func (h *HealthStatus) Check(ctx context.Context, store string, probe Probe) {
	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.stores[store] = err == nil
	h.storeLatencyMs[store] = float64(latency.Microseconds()) / 1000.0
	h.lastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker runs the probes every interval until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, probes map[string]Probe, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				for name, p := range probes {
					h.Check(probeCtx, name, p)
				}
				cancel()
			}
		}
	}()
}

// Healthy reports the overall status: "healthy", "degraded" when a feed is
// down, or "unhealthy" when no store is reachable.
func (h *HealthStatus) Healthy() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *HealthStatus) statusLocked() string {
	anyStore := len(h.stores) == 0
	for _, ok := range h.stores {
		if ok {
			anyStore = true
			break
		}
	}
	if !anyStore {
		return "unhealthy"
	}
	for _, ok := range h.feeds {
		if !ok {
			return "degraded"
		}
	}
	return "healthy"
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := h.statusLocked()
	httpCode := http.StatusOK
	if overallStatus != "healthy" {
		httpCode = http.StatusServiceUnavailable
	}

	candleAge := ""
	if !h.lastCandleTime.IsZero() {
		candleAge = h.now().Sub(h.lastCandleTime).Round(time.Millisecond).String()
	}

	feeds := make([]string, 0, len(h.feeds))
	for k := range h.feeds {
		feeds = append(feeds, k)
	}
	sort.Strings(feeds)

	status := struct {
		Status         string             `json:"status"`
		Uptime         string             `json:"uptime"`
		Feeds          map[string]bool    `json:"feeds"`
		Intervals      []string           `json:"intervals"`
		LastCandleTime string             `json:"last_candle_time"`
		CandleAge      string             `json:"candle_age"`
		Stores         map[string]bool    `json:"stores"`
		StoreLatencyMs map[string]float64 `json:"store_latency_ms"`
		LastCheckAt    string             `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         h.now().Sub(h.startedAt).Round(time.Second).String(),
		Feeds:          h.feeds,
		Intervals:      feeds,
		LastCandleTime: h.lastCandleTime.Format(time.RFC3339),
		CandleAge:      candleAge,
		Stores:         h.stores,
		StoreLatencyMs: h.storeLatencyMs,
		LastCheckAt:    h.lastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "component", "metrics", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", "component", "metrics", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
