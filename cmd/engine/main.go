package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tradeengine/config"
	"tradeengine/internal/api"
	"tradeengine/internal/engine"
	"tradeengine/internal/execution"
	"tradeengine/internal/logger"
	"tradeengine/internal/markethours"
	"tradeengine/internal/metrics"
	"tradeengine/internal/model"
	"tradeengine/internal/notification"
	"tradeengine/internal/persistence"
	"tradeengine/internal/store/postgres"
	redisstore "tradeengine/internal/store/redis"
	"tradeengine/internal/store/sqlite"
	"tradeengine/internal/strategy"
	"tradeengine/pkg/bybit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init("engine", logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg); err != nil {
		slog.Error("engine exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	runCfg, err := config.LoadRunConfig(cfg.RunConfig)
	if err != nil {
		return err
	}
	symbol := cfg.Symbol
	if runCfg.Symbol != "" {
		symbol = runCfg.Symbol
	}

	slog.Info("=== Trade Engine ===",
		"symbol", symbol,
		"source", cfg.DataSource,
		"net", cfg.BybitNet,
		"strategies", len(runCfg.Strategies),
		"live_trading", cfg.LiveTrading,
	)

	// Metrics & health
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Venue
	net, err := bybit.ParseNet(cfg.BybitNet)
	if err != nil {
		return err
	}
	streamURL := cfg.BybitWSURL
	if streamURL == "" {
		streamURL = net.StreamURL()
	}
	restURL := cfg.BybitRESTURL
	if restURL == "" {
		restURL = net.RESTURL()
	}
	venue := execution.NewBybit(bybit.NewClient(bybit.Config{
		APIKey:    cfg.BybitAPIKey,
		APISecret: cfg.BybitAPISecret,
		BaseURL:   restURL,
	}))

	// Stores
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	sqlWriter, err := sqlite.New(sqlite.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return err
	}
	defer sqlWriter.Close()
	sqlReader, err := sqlite.NewReader(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer sqlReader.Close()

	stores := []model.TradeStore{sqlWriter}
	archives := []engine.CandleArchive{sqlWriter}
	probes := map[string]metrics.Probe{
		"sqlite": func(ctx context.Context) error { return sqlWriter.DB().PingContext(ctx) },
	}

	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(postgres.Option{ConnString: cfg.DatabaseURL})
		if err != nil {
			slog.Warn("postgres unavailable, continuing without it", "error", err)
		} else {
			defer pg.Close()
			stores = append(stores, pg)
			probes["postgres"] = pg.Ping
		}
	}

	var buffered *redisstore.BufferedWriter
	if cfg.RedisAddr != "" {
		rw, err := redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			slog.Warn("redis unavailable, continuing without redis", "error", err)
		} else {
			defer rw.Close()
			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				slog.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
			}
			buffered = redisstore.NewBufferedWriter(rw, cb, 10000)
			buffered.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
			buffered.OnFlush = func(n int) { slog.Info("redis buffer replayed", "count", n) }
			stores = append(stores, buffered)
			archives = append(archives, rw)
			probes["redis"] = func(ctx context.Context) error { return rw.Client().Ping(ctx).Err() }
		}
	}
	health.StartLivenessChecker(ctx, probes, 10*time.Second)

	sink := persistence.NewSink(persistence.DefaultQueueSize, stores...)
	sink.OnWrite = func(store, op string, err error) {
		prom.SinkResult(store, op, err)
		health.SetStoreOK(store, err == nil)
	}
	sink.OnDrop = func(op string) { prom.SinkDropped.WithLabelValues(op).Inc() }

	// Execution
	journal, err := execution.NewJournal(filepath.Join(filepath.Dir(cfg.SQLitePath), "orders.db"))
	if err != nil {
		return err
	}
	defer journal.Close()

	var client execution.Client = venue
	var observer engine.PriceObserver
	if cfg.DataSource == string(model.SourcePaper) {
		paper := execution.NewPaper(cfg.PaperBalance, 5, venue.HistoricalCandles)
		client, observer = paper, paper
	}
	client = execution.Journaled(client, journal)

	// Strategies
	specs, err := buildStrategies(runCfg, cfg.LiveTrading)
	if err != nil {
		return err
	}

	runner, err := engine.New(engine.Config{
		Symbol:       symbol,
		StreamURL:    streamURL,
		HistoryExtra: runCfg.HistoryExtra,
		Validate:     runCfg.Validate,
		Strategies:   specs,
		Client:       client,
		Sink:         sink,
		Notifier:     buildNotifier(cfg),
		Archives:     archives,
		Observer:     observer,
		Metrics:      prom,
		Health:       health,
	})
	if err != nil {
		return err
	}

	apiSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewRouter(api.Deps{Engine: runner, Trades: sqlReader, Health: health}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("api server listening", "addr", cfg.APIAddr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig.String())
	case err = <-runErr:
		if err != nil {
			slog.Error("runner failed", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	if err := sink.Close(shutdownCtx); err != nil {
		slog.Warn("sink did not drain", "pending", sink.Pending(), "error", err)
	}
	if buffered != nil {
		if err := buffered.Flush(shutdownCtx); err != nil {
			slog.Warn("redis buffer not flushed", "pending", buffered.PendingCount(), "error", err)
		}
	}
	slog.Info("engine stopped")
	return err
}

func buildStrategies(run *config.RunConfig, liveTrading bool) ([]engine.StrategySpec, error) {
	specs := make([]engine.StrategySpec, 0, len(run.Strategies))
	for _, sc := range run.Strategies {
		var opts strategy.Options
		if sc.Interval != "" {
			iv, err := model.ParseInterval(sc.Interval)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: %w", sc.Name, err)
			}
			opts.Interval = iv
		}
		if len(sc.TradingDays) > 0 || len(sc.Blackout) > 0 {
			days := markethours.AllWeek
			if len(sc.TradingDays) > 0 {
				d, err := markethours.ParseWeekdays(sc.TradingDays)
				if err != nil {
					return nil, fmt.Errorf("strategy %s: %w", sc.Name, err)
				}
				days = d
			}
			cal, err := markethours.NewCalendar(days).WithBlackout(sc.Blackout...)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: %w", sc.Name, err)
			}
			opts.Calendar = &cal
		}
		s, err := strategy.New(sc.Name, strategy.Params(sc.Params), opts)
		if err != nil {
			return nil, err
		}
		specs = append(specs, engine.StrategySpec{
			Strategy:      s,
			OnceOnly:      sc.OnceOnly,
			Notifications: sc.Notifications,
			LiveTrading:   sc.LiveTrading && liveTrading,
		})
		slog.Info("strategy loaded", "name", s.Name(), "interval", s.Interval().String(), "once_only", sc.OnceOnly)
	}
	return specs, nil
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	return n
}
