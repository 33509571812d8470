// Package config loads process settings from the environment and the run
// description from a config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrMissingCredentials is returned when live trading on the venue is
// requested without API keys.
var ErrMissingCredentials = errors.New("config: BYBIT_API_KEY and BYBIT_API_SECRET are required for live bybit trading")

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Bybit
	BybitNet       string
	BybitAPIKey    string
	BybitAPISecret string
	BybitWSURL     string
	BybitRESTURL   string

	Symbol       string
	DataSource   string
	PaperBalance float64
	LiveTrading  bool

	// Infrastructure
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	APIAddr       string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	LogLevel  string
	RunConfig string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	balance, err := getEnvFloat("PAPER_BALANCE", 10000)
	if err != nil {
		return nil, err
	}
	live, err := getEnvBool("LIVE_TRADING", true)
	if err != nil {
		return nil, err
	}

	c := &Config{
		BybitNet:       getEnv("BYBIT_NET", "testnet"),
		BybitAPIKey:    os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret: os.Getenv("BYBIT_API_SECRET"),
		BybitWSURL:     os.Getenv("BYBIT_WS_URL"),
		BybitRESTURL:   os.Getenv("BYBIT_REST_URL"),

		Symbol:       strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		DataSource:   strings.ToLower(getEnv("DATA_SOURCE", "paper")),
		PaperBalance: balance,
		LiveTrading:  live,

		SQLitePath:    getEnv("SQLITE_PATH", "data/trades.db"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		WebhookURL:       os.Getenv("WEBHOOK_URL"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		RunConfig: getEnv("RUN_CONFIG", "run.yaml"),
	}

	switch c.DataSource {
	case "bybit", "paper":
	default:
		return nil, fmt.Errorf("config: unknown DATA_SOURCE %q", c.DataSource)
	}
	if c.LiveTrading && c.DataSource == "bybit" && (c.BybitAPIKey == "" || c.BybitAPISecret == "") {
		return nil, ErrMissingCredentials
	}
	return c, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
