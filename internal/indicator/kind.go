package indicator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tradeengine/internal/model"
)

// ErrUnsupported is returned for indicator kinds the package cannot build.
var ErrUnsupported = errors.New("unsupported indicator")

const maxPeriod = 1000

// Spec is a parsed indicator kind such as "ema_21".
type Spec struct {
	Type   string // "sma", "ema", "rsi", "smma"
	Period int
}

// Kind renders the spec back into its model.IndicatorKind key.
func (s Spec) Kind() model.IndicatorKind {
	return model.IndicatorKind(s.Type + "_" + strconv.Itoa(s.Period))
}

// SMAKind, EMAKind, RSIKind and SMMAKind build kind keys for strategies.
func SMAKind(period int) model.IndicatorKind  { return Spec{"sma", period}.Kind() }
func EMAKind(period int) model.IndicatorKind  { return Spec{"ema", period}.Kind() }
func RSIKind(period int) model.IndicatorKind  { return Spec{"rsi", period}.Kind() }
func SMMAKind(period int) model.IndicatorKind { return Spec{"smma", period}.Kind() }

// Parse splits a kind key into type and period.
func Parse(kind model.IndicatorKind) (Spec, error) {
	typ, p, ok := strings.Cut(strings.ToLower(string(kind)), "_")
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnsupported, kind)
	}
	period, err := strconv.Atoi(p)
	if err != nil || period <= 0 || period > maxPeriod {
		return Spec{}, fmt.Errorf("%w: bad period in %q", ErrUnsupported, kind)
	}
	switch typ {
	case "sma", "ema", "rsi", "smma":
	default:
		return Spec{}, fmt.Errorf("%w: %q", ErrUnsupported, kind)
	}
	return Spec{Type: typ, Period: period}, nil
}

// New returns a fresh indicator instance for kind.
func New(kind model.IndicatorKind) (Indicator, error) {
	spec, err := Parse(kind)
	if err != nil {
		return nil, err
	}
	switch spec.Type {
	case "sma":
		return NewSMA(spec.Period), nil
	case "ema":
		return NewEMA(spec.Period), nil
	case "rsi":
		return NewRSI(spec.Period), nil
	default:
		return NewSMMA(spec.Period), nil
	}
}

// Backfill replays candles through a new instance of kind. values[i] holds the
// value after candles[i] and ok[i] reports whether the indicator was ready.
// The returned instance continues incrementally from the last candle.
func Backfill(kind model.IndicatorKind, candles []model.Candle) (Indicator, []float64, []bool, error) {
	ind, err := New(kind)
	if err != nil {
		return nil, nil, nil, err
	}
	values := make([]float64, len(candles))
	ok := make([]bool, len(candles))
	for i, c := range candles {
		ind.Update(c)
		values[i] = ind.Value()
		ok[i] = ind.Ready()
	}
	return ind, values, ok, nil
}
