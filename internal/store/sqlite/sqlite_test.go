package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradeengine/internal/model"
	"tradeengine/internal/timeseries"
)

func openTest(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return w, r
}

func TestTrades_CreateFinishList(t *testing.T) {
	w, r := openTest(t)
	ctx := context.Background()
	entered := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b"} {
		rec := model.TradeRecord{
			ID: id, Symbol: "BTCUSDT", Interval: "1m", Orientation: "long",
			TradingStrategy: "TrueOnce", ResolutionStrategy: "Instant", DataSource: "paper",
			EnteredAt: entered.Add(time.Duration(i) * time.Minute), EntryPrice: 100, Quantity: 0.5, DollarValue: 50,
		}
		if err := w.CreateTrade(ctx, rec); err != nil {
			t.Fatalf("CreateTrade: %v", err)
		}
	}
	if err := w.CreateTrade(ctx, model.TradeRecord{ID: "a", EnteredAt: entered}); err == nil {
		t.Error("expected duplicate id to fail")
	}

	exit := entered.Add(125 * time.Second)
	if err := w.FinishTrade(ctx, model.TradeFinish{ID: "a", ExitedAt: exit, BarsInTrade: 2, ExitPrice: 101}); err != nil {
		t.Fatalf("FinishTrade: %v", err)
	}
	if err := w.FinishTrade(ctx, model.TradeFinish{ID: "zzz", ExitedAt: exit}); err == nil {
		t.Error("expected finishing an unknown trade to fail")
	}

	trades, err := r.ListTrades(ctx, 10)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].ID != "b" {
		t.Errorf("expected newest first, got %s", trades[0].ID)
	}
	if trades[0].ExitedAt != nil || trades[0].ExitPrice != nil || trades[0].BarsInTrade != nil {
		t.Error("expected open trade to have nil exit fields")
	}

	a, err := r.Trade(ctx, "a")
	if err != nil {
		t.Fatalf("Trade: %v", err)
	}
	if a.ExitedAt == nil || !a.ExitedAt.Equal(exit) {
		t.Errorf("expected exited_at %v, got %v", exit, a.ExitedAt)
	}
	if a.BarsInTrade == nil || *a.BarsInTrade != 2 {
		t.Errorf("expected 2 bars, got %v", a.BarsInTrade)
	}
	if a.ExitPrice == nil || *a.ExitPrice != 101 {
		t.Errorf("expected exit price 101, got %v", a.ExitPrice)
	}
	if a.EntryPrice != 100 || a.DataSource != "paper" || !a.EnteredAt.Equal(entered) {
		t.Errorf("unexpected create fields: %+v", a)
	}
}

func TestCandles_RunArchivesAndReads(t *testing.T) {
	w, r := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())

	events := make(chan timeseries.CandleAdded, 10)
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		events <- timeseries.CandleAdded{
			Symbol:   "BTCUSDT",
			Interval: model.Minute1,
			Candle:   model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Open: 1, High: 2, Low: 0.5, Close: float64(i), Volume: 3},
		}
	}
	close(events)

	done := make(chan struct{})
	go func() {
		w.Run(ctx, events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	cancel()

	candles, err := r.ReadCandles(context.Background(), "BTCUSDT", model.Minute1, 3)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	for i, c := range candles {
		if c.Close != float64(i+2) {
			t.Errorf("candle %d: expected close %d, got %v", i, i+2, c.Close)
		}
	}
	if !candles[2].TS.Equal(t0.Add(4 * time.Minute)) {
		t.Errorf("unexpected last ts %v", candles[2].TS)
	}
}
