package model

import (
	"fmt"
	"strings"
)

// Orientation is the directional bias of a position.
type Orientation int

const (
	Long Orientation = iota + 1
	Short
)

func (o Orientation) String() string {
	switch o {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// ParseOrientation accepts "long" or "short".
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long":
		return Long, nil
	case "short":
		return Short, nil
	}
	return 0, fmt.Errorf("unknown orientation %q", s)
}

// BuildError reports a missing field when assembling a component.
type BuildError struct {
	Field  string
	Target string
}

func (e *BuildError) Error() string {
	return e.Field + " is required to build " + e.Target
}

// Setup is the snapshot taken when a strategy signals an entry. It is never
// mutated after Build.
type Setup struct {
	Symbol      string      `json:"symbol"`
	Interval    Interval    `json:"interval"`
	Candle      Candle      `json:"candle"`
	Orientation Orientation `json:"orientation"`
}

// SetupBuilder collects setup fields. Strategies fill candle and orientation,
// the trigger adds symbol and interval.
type SetupBuilder struct {
	symbol      string
	interval    Interval
	candle      *Candle
	orientation Orientation
}

// NewSetupBuilder returns an empty builder.
func NewSetupBuilder() *SetupBuilder {
	return &SetupBuilder{}
}

func (b *SetupBuilder) Symbol(s string) *SetupBuilder {
	b.symbol = s
	return b
}

func (b *SetupBuilder) Interval(iv Interval) *SetupBuilder {
	b.interval = iv
	return b
}

func (b *SetupBuilder) Candle(c Candle) *SetupBuilder {
	cp := c.Copy()
	b.candle = &cp
	return b
}

func (b *SetupBuilder) Orientation(o Orientation) *SetupBuilder {
	b.orientation = o
	return b
}

// Build validates the collected fields and returns the setup.
func (b *SetupBuilder) Build() (Setup, error) {
	switch {
	case b.symbol == "":
		return Setup{}, &BuildError{Field: "symbol", Target: "Setup"}
	case !b.interval.Valid():
		return Setup{}, &BuildError{Field: "interval", Target: "Setup"}
	case b.candle == nil:
		return Setup{}, &BuildError{Field: "candle", Target: "Setup"}
	case b.orientation != Long && b.orientation != Short:
		return Setup{}, &BuildError{Field: "orientation", Target: "Setup"}
	}
	return Setup{
		Symbol:      b.symbol,
		Interval:    b.interval,
		Candle:      b.candle.Copy(),
		Orientation: b.orientation,
	}, nil
}
