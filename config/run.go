package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/viper"
)

// DefaultHistoryExtra is the number of candles seeded beyond a strategy's
// minimum length.
const DefaultHistoryExtra = 300

// StrategyConfig describes one trigger.
type StrategyConfig struct {
	Name          string             `mapstructure:"name"`
	Interval      string             `mapstructure:"interval"`
	OnceOnly      bool               `mapstructure:"once_only"`
	Notifications bool               `mapstructure:"notifications"`
	LiveTrading   bool               `mapstructure:"live_trading"`
	Params        map[string]float64 `mapstructure:"params"`
	TradingDays   []string           `mapstructure:"trading_days"`
	Blackout      []string           `mapstructure:"blackout"`
}

// RunConfig is the set of strategies to run on one symbol.
type RunConfig struct {
	Symbol       string           `mapstructure:"symbol"`
	HistoryExtra int              `mapstructure:"history_extra"`
	Validate     bool             `mapstructure:"validate_candles"`
	Strategies   []StrategyConfig `mapstructure:"strategies"`
}

// DefaultRun trades TrueOnce on one-minute candles, once.
func DefaultRun() *RunConfig {
	return &RunConfig{
		HistoryExtra: DefaultHistoryExtra,
		Validate:     true,
		Strategies: []StrategyConfig{{
			Name:        "true_once",
			OnceOnly:    true,
			LiveTrading: true,
		}},
	}
}

// LoadRunConfig reads a YAML, JSON or TOML run file. A missing file yields
// DefaultRun.
func LoadRunConfig(path string) (*RunConfig, error) {
	if path == "" {
		return DefaultRun(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return DefaultRun(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("history_extra", DefaultHistoryExtra)
	v.SetDefault("validate_candles", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var rc RunConfig
	if err := v.Unmarshal(&rc); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if len(rc.Strategies) == 0 {
		return nil, fmt.Errorf("config: %s defines no strategies", path)
	}
	for i, s := range rc.Strategies {
		if s.Name == "" {
			return nil, fmt.Errorf("config: strategy %d has no name", i)
		}
	}
	if rc.HistoryExtra < 0 {
		return nil, fmt.Errorf("config: history_extra must not be negative")
	}
	return &rc, nil
}
