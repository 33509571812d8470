package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"tradeengine/internal/model"
)

// ErrUnknownStrategy is returned by New for unregistered names.
var ErrUnknownStrategy = errors.New("strategy: unknown strategy")

// Params are the numeric settings read from a run config.
type Params map[string]float64

func (p Params) int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(v)
	}
	return def
}

func (p Params) float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Factory builds a strategy from run-config parameters.
type Factory func(p Params, opts Options) (Strategy, error)

var registry = map[string]Factory{
	"true_once": func(_ Params, opts Options) (Strategy, error) {
		return NewTrueOnce(opts), nil
	},
	"true_twice": func(_ Params, opts Options) (Strategy, error) {
		return NewTrueTwice(opts), nil
	},
	"sma_crossover": func(p Params, opts Options) (Strategy, error) {
		o := model.Long
		if p.int("short", 0) == 1 {
			o = model.Short
		}
		return NewSMACrossover(SMACrossoverParams{
			FastPeriod:  p.int("fast", 9),
			SlowPeriod:  p.int("slow", 21),
			RSIPeriod:   p.int("rsi", 0),
			Orientation: o,
			TakeProfit:  p.float("take_profit", 0),
			StopLoss:    p.float("stop_loss", 0),
		}, opts)
	},
}

// New builds the strategy registered under name ("true_once", "true_twice",
// "sma_crossover").
func New(name string, p Params, opts Options) (Strategy, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownStrategy, name, strings.Join(Names(), ", "))
	}
	return f(p, opts)
}

// Names lists registered strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
