package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/indicator"
	"tradeengine/internal/markethours"
	"tradeengine/internal/model"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func candle(i int, close float64) model.Candle {
	return model.Candle{TS: t0.Add(time.Duration(i) * time.Minute), Close: close}
}

func setupFor(c model.Candle, o model.Orientation) model.Setup {
	s, _ := model.NewSetupBuilder().Symbol("BTCUSDT").Interval(model.Minute1).Candle(c).Orientation(o).Build()
	return s
}

func TestTrueOnce_FiresExactlyOnce(t *testing.T) {
	s := NewTrueOnce(Options{})
	c := candle(0, 100)

	b, ok := s.CheckSetup([]model.Candle{c})
	require.True(t, ok)
	setup, err := b.Symbol("BTCUSDT").Interval(s.Interval()).Build()
	require.NoError(t, err)
	assert.Equal(t, model.Long, setup.Orientation)
	assert.Equal(t, 100.0, setup.Candle.Close)

	for i := 1; i < 5; i++ {
		_, ok := s.CheckSetup([]model.Candle{candle(i, 100)})
		assert.False(t, ok, "ask %d", i)
	}

	assert.Equal(t, model.Minute1, s.Interval())
	assert.Equal(t, 1, s.MinLength())
	assert.Equal(t, 1, s.CandlesNeeded())
	assert.Empty(t, s.RequiredIndicators())
	assert.IsType(t, &Instant{}, s.DefaultResolution())
}

func TestTrueOnce_CloneIsIndependent(t *testing.T) {
	s := NewTrueOnce(Options{Interval: model.Hour1})
	clone := s.Clone()

	_, ok := s.CheckSetup([]model.Candle{candle(0, 1)})
	require.True(t, ok)

	_, ok = clone.CheckSetup([]model.Candle{candle(0, 1)})
	assert.True(t, ok, "clone keeps its own trigger state")
	assert.Equal(t, model.Hour1, clone.Interval())
}

func TestTrueTwice_FiresOnSecondAsk(t *testing.T) {
	s := NewTrueTwice(Options{})
	w := []model.Candle{candle(0, 1)}

	_, ok := s.CheckSetup(w)
	assert.False(t, ok)
	_, ok = s.CheckSetup(w)
	assert.True(t, ok)
	_, ok = s.CheckSetup(w)
	assert.False(t, ok)
}

func TestInstant(t *testing.T) {
	r := &Instant{}
	require.NoError(t, r.Init(setupFor(candle(0, 1), model.Long)))

	tp, err := r.TakeProfitReached(model.Long, []model.Candle{candle(1, 1)})
	require.NoError(t, err)
	assert.True(t, tp)
	sl, err := r.StopLossReached(model.Short, []model.Candle{candle(1, 1)})
	require.NoError(t, err)
	assert.True(t, sl)

	_, err = r.TakeProfitReached(model.Long, nil)
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestFixedPercent(t *testing.T) {
	cases := []struct {
		name   string
		o      model.Orientation
		close  float64
		wantTP bool
		wantSL bool
	}{
		{"long flat", model.Long, 100, false, false},
		{"long take profit", model.Long, 102, true, false},
		{"long stop loss", model.Long, 99, false, true},
		{"short take profit", model.Short, 98, true, false},
		{"short stop loss", model.Short, 101, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NewFixedPercent(0.02, 0.01)
			require.NoError(t, err)
			require.NoError(t, r.Init(setupFor(candle(0, 100), tc.o)))

			w := []model.Candle{candle(1, tc.close)}
			tp, err := r.TakeProfitReached(tc.o, w)
			require.NoError(t, err)
			sl, err := r.StopLossReached(tc.o, w)
			require.NoError(t, err)
			assert.Equal(t, tc.wantTP, tp, "take profit")
			assert.Equal(t, tc.wantSL, sl, "stop loss")
		})
	}
}

func TestFixedPercent_Errors(t *testing.T) {
	_, err := NewFixedPercent(0, 0.01)
	assert.Error(t, err)

	r, _ := NewFixedPercent(0.02, 0.01)
	_, err = r.TakeProfitReached(model.Long, []model.Candle{candle(0, 1)})
	assert.ErrorIs(t, err, ErrNotInitialized)

	clone := r.Clone().(*FixedPercent)
	assert.Equal(t, 0.02, clone.TakeProfit)
}

func withSMA(c model.Candle, fast, slow float64) model.Candle {
	c.SetIndicator(indicator.SMAKind(2), fast)
	c.SetIndicator(indicator.SMAKind(4), slow)
	return c
}

func TestSMACrossover_GoldenCross(t *testing.T) {
	s, err := NewSMACrossover(SMACrossoverParams{FastPeriod: 2, SlowPeriod: 4}, Options{})
	require.NoError(t, err)

	prev := withSMA(candle(0, 10), 9, 10)
	cur := withSMA(candle(1, 12), 11, 10)

	b, ok := s.CheckSetup([]model.Candle{prev, cur})
	require.True(t, ok)
	setup, err := b.Symbol("BTCUSDT").Interval(s.Interval()).Build()
	require.NoError(t, err)
	assert.Equal(t, 12.0, setup.Candle.Close)
	assert.Equal(t, model.Long, setup.Orientation)

	_, ok = s.CheckSetup([]model.Candle{cur, cur})
	assert.False(t, ok, "no cross when already above")

	assert.Equal(t, []model.IndicatorKind{"sma_2", "sma_4"}, s.RequiredIndicators())
	assert.Equal(t, 5, s.MinLength())
	assert.Equal(t, model.Minute5, s.Interval())
}

func TestSMACrossover_ShortAndRSIFilter(t *testing.T) {
	s, err := NewSMACrossover(SMACrossoverParams{FastPeriod: 2, SlowPeriod: 4, RSIPeriod: 14, Orientation: model.Short}, Options{})
	require.NoError(t, err)

	prev := withSMA(candle(0, 10), 11, 10)
	cur := withSMA(candle(1, 8), 9, 10)

	_, ok := s.CheckSetup([]model.Candle{prev, cur})
	assert.False(t, ok, "missing rsi value blocks the entry")

	cur.SetIndicator(indicator.RSIKind(14), 25)
	_, ok = s.CheckSetup([]model.Candle{prev, cur})
	assert.False(t, ok, "oversold filters the death cross")

	cur.SetIndicator(indicator.RSIKind(14), 45)
	b, ok := s.CheckSetup([]model.Candle{prev, cur})
	require.True(t, ok)
	setup, err := b.Symbol("BTCUSDT").Interval(model.Minute5).Build()
	require.NoError(t, err)
	assert.Equal(t, model.Short, setup.Orientation)
}

func TestSMACrossover_InvalidPeriods(t *testing.T) {
	_, err := NewSMACrossover(SMACrossoverParams{FastPeriod: 5, SlowPeriod: 5}, Options{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	s, err := New("TRUE_ONCE", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "TrueOnce", s.Name())

	cal := markethours.NewCalendar(markethours.WorkWeek)
	s, err = New("sma_crossover", Params{"fast": 3, "slow": 8, "take_profit": 0.05}, Options{Interval: model.Hour1, Calendar: &cal})
	require.NoError(t, err)
	assert.Equal(t, "SMACrossover(3,8)", s.Name())
	assert.Equal(t, model.Hour1, s.Interval())
	assert.False(t, s.TradingDays().IsTradingDay(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)))
	fp := s.DefaultResolution().(*FixedPercent)
	assert.Equal(t, 0.05, fp.TakeProfit)
	assert.Equal(t, 0.01, fp.StopLoss)

	_, err = New("martingale", nil, Options{})
	assert.True(t, errors.Is(err, ErrUnknownStrategy))
	assert.Equal(t, []string{"sma_crossover", "true_once", "true_twice"}, Names())
}
