package strategy

import (
	"errors"
	"fmt"

	"tradeengine/internal/model"
)

var (
	// ErrEmptyWindow is returned when a resolution check gets no candles.
	ErrEmptyWindow = errors.New("resolution: empty candle window")

	// ErrNotInitialized is returned when a check runs before Init.
	ErrNotInitialized = errors.New("resolution: not initialized")
)

// Resolution decides when an open trade is closed. Each trade owns its own
// instance; Init is called once with the trade's setup before any check.
type Resolution interface {
	Name() string
	Init(setup model.Setup) error

	// TakeProfitWindow and StopLossWindow are the trailing candle counts the
	// matching check expects.
	TakeProfitWindow() int
	StopLossWindow() int

	TakeProfitReached(o model.Orientation, candles []model.Candle) (bool, error)
	StopLossReached(o model.Orientation, candles []model.Candle) (bool, error)

	Clone() Resolution
}

// Instant closes on the first candle after entry.
type Instant struct{}

func (*Instant) Name() string           { return "Instant" }
func (*Instant) Init(model.Setup) error { return nil }
func (*Instant) TakeProfitWindow() int  { return 1 }
func (*Instant) StopLossWindow() int    { return 1 }
func (*Instant) Clone() Resolution      { return &Instant{} }

func (*Instant) TakeProfitReached(_ model.Orientation, c []model.Candle) (bool, error) {
	if len(c) == 0 {
		return false, ErrEmptyWindow
	}
	return true, nil
}

func (*Instant) StopLossReached(_ model.Orientation, c []model.Candle) (bool, error) {
	if len(c) == 0 {
		return false, ErrEmptyWindow
	}
	return true, nil
}

// FixedPercent closes when the last close moves TakeProfit or StopLoss
// (fractions, 0.02 = 2%) away from the setup candle's close.
type FixedPercent struct {
	TakeProfit float64
	StopLoss   float64

	entry float64
}

// NewFixedPercent validates both thresholds are positive.
func NewFixedPercent(takeProfit, stopLoss float64) (*FixedPercent, error) {
	if takeProfit <= 0 || stopLoss <= 0 {
		return nil, fmt.Errorf("resolution: take profit and stop loss must be positive, got %v/%v", takeProfit, stopLoss)
	}
	return &FixedPercent{TakeProfit: takeProfit, StopLoss: stopLoss}, nil
}

func (r *FixedPercent) Name() string {
	return fmt.Sprintf("FixedPercent(tp=%g,sl=%g)", r.TakeProfit, r.StopLoss)
}

func (r *FixedPercent) Init(setup model.Setup) error {
	if setup.Candle.Close <= 0 {
		return fmt.Errorf("resolution: setup close %v is not a price", setup.Candle.Close)
	}
	r.entry = setup.Candle.Close
	return nil
}

func (r *FixedPercent) TakeProfitWindow() int { return 1 }
func (r *FixedPercent) StopLossWindow() int   { return 1 }

func (r *FixedPercent) TakeProfitReached(o model.Orientation, candles []model.Candle) (bool, error) {
	last, err := r.last(candles)
	if err != nil {
		return false, err
	}
	if o == model.Short {
		return last <= r.entry*(1-r.TakeProfit), nil
	}
	return last >= r.entry*(1+r.TakeProfit), nil
}

func (r *FixedPercent) StopLossReached(o model.Orientation, candles []model.Candle) (bool, error) {
	last, err := r.last(candles)
	if err != nil {
		return false, err
	}
	if o == model.Short {
		return last >= r.entry*(1+r.StopLoss), nil
	}
	return last <= r.entry*(1-r.StopLoss), nil
}

func (r *FixedPercent) Clone() Resolution {
	return &FixedPercent{TakeProfit: r.TakeProfit, StopLoss: r.StopLoss}
}

func (r *FixedPercent) last(candles []model.Candle) (float64, error) {
	if r.entry == 0 {
		return 0, ErrNotInitialized
	}
	if len(candles) == 0 {
		return 0, ErrEmptyWindow
	}
	return candles[len(candles)-1].Close, nil
}
