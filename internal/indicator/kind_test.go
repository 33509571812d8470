package indicator

import (
	"errors"
	"testing"

	"tradeengine/internal/model"
)

func TestParse(t *testing.T) {
	spec, err := Parse("EMA_21")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Type != "ema" || spec.Period != 21 {
		t.Errorf("expected ema/21, got %s/%d", spec.Type, spec.Period)
	}
	if spec.Kind() != EMAKind(21) {
		t.Errorf("expected %s, got %s", EMAKind(21), spec.Kind())
	}

	for _, bad := range []model.IndicatorKind{"vwap_10", "sma", "sma_0", "rsi_x", "ema_5000"} {
		if _, err := Parse(bad); !errors.Is(err, ErrUnsupported) {
			t.Errorf("%s: expected ErrUnsupported, got %v", bad, err)
		}
	}
}

func TestBackfill_ContinuesIncrementally(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6}
	candles := make([]model.Candle, len(prices))
	for i, p := range prices {
		candles[i] = candle(p)
	}

	ind, values, ready, err := Backfill(SMAKind(3), candles[:5])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready[1] || !ready[2] {
		t.Errorf("expected readiness to start at index 2, got %v", ready)
	}
	if values[4] != 4 {
		t.Errorf("expected SMA 4 at index 4, got %v", values[4])
	}

	ind.Update(candles[5])
	if ind.Value() != 5 {
		t.Errorf("expected SMA 5 after incremental update, got %v", ind.Value())
	}
}
