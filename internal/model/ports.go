package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the trade lifecycle from concrete storage
// implementations (SQLite, Postgres, Redis).

// TradeStore records trade creation and completion.
type TradeStore interface {
	// Name identifies the store in logs and metrics.
	Name() string

	// CreateTrade inserts a new trade row.
	CreateTrade(ctx context.Context, rec TradeRecord) error

	// FinishTrade writes the exit fields of the trade matching f.ID.
	FinishTrade(ctx context.Context, f TradeFinish) error
}

// TradeReader lists persisted trades, newest first.
type TradeReader interface {
	ListTrades(ctx context.Context, limit int) ([]TradeRecord, error)
}
