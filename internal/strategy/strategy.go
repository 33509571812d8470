// Package strategy defines entry strategies and the exit (resolution) policies
// attached to the trades they open.
//
// A Strategy instance carries mutable trigger state, so every component that
// evaluates one owns its own copy obtained through Clone.
package strategy

import (
	"tradeengine/internal/markethours"
	"tradeengine/internal/model"
)

// Strategy is the interface that all entry strategies must implement.
type Strategy interface {
	// Name is recorded on every trade the strategy opens.
	Name() string

	// CheckSetup inspects the last CandlesNeeded candles, oldest first, and
	// returns a builder carrying the setup candle and orientation when an
	// entry is signalled.
	CheckSetup(candles []model.Candle) (*model.SetupBuilder, bool)

	// RequiredIndicators lists the indicator kinds the hub must maintain.
	RequiredIndicators() []model.IndicatorKind

	// MinLength is the history needed before indicators are meaningful.
	MinLength() int

	// CandlesNeeded is the window size passed to CheckSetup.
	CandlesNeeded() int

	Orientation() model.Orientation
	Interval() model.Interval

	// DefaultResolution returns a fresh exit policy for a new trade.
	DefaultResolution() Resolution

	// TradingDays restricts the candles CheckSetup is asked about.
	TradingDays() markethours.Calendar

	Clone() Strategy
}

// Options are the settings every strategy shares.
type Options struct {
	Interval model.Interval
	Calendar *markethours.Calendar
}

func (o Options) interval(def model.Interval) model.Interval {
	if o.Interval.Valid() {
		return o.Interval
	}
	return def
}

func (o Options) calendar() markethours.Calendar {
	if o.Calendar != nil {
		return *o.Calendar
	}
	return markethours.EveryDay()
}
