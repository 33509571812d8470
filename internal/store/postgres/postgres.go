// Package postgres stores trades in PostgreSQL through gorm.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradeengine/internal/model"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Option defines connection options. ConnString wins when set.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

// tradeRow is the trades table.
type tradeRow struct {
	ID                 string    `gorm:"primaryKey;type:uuid"`
	Symbol             string    `gorm:"not null"`
	Interval           string    `gorm:"not null"`
	Orientation        string    `gorm:"not null"`
	TradingStrategy    string    `gorm:"not null"`
	ResolutionStrategy string    `gorm:"not null"`
	DataSource         string    `gorm:"not null"`
	EnteredAt          time.Time `gorm:"not null;index"`
	ExitedAt           *time.Time
	BarsInTrade        *int
	EntryPrice         float64 `gorm:"not null"`
	ExitPrice          *float64
	Quantity           float64 `gorm:"not null"`
	DollarValue        float64 `gorm:"not null"`
	EntryFee           float64 `gorm:"not null;default:0"`
	ExitFee            *float64
	Comments           *string
}

func (tradeRow) TableName() string { return "trades" }

// Store is a gorm-backed trade store.
type Store struct {
	db *gorm.DB
}

// New connects and migrates the trades table.
func New(opt Option) (*Store, error) {
	dsn, err := opt.dsn()
	if err != nil {
		return nil, err
	}
	cfg := opt.Config
	if cfg == nil {
		cfg = &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	}
	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	slog.Info("postgres connected", "component", "postgres")
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing gorm handle without migrating.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) CreateTrade(ctx context.Context, rec model.TradeRecord) error {
	row := toRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("postgres create trade %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) FinishTrade(ctx context.Context, f model.TradeFinish) error {
	res := s.db.WithContext(ctx).Model(&tradeRow{}).Where("id = ?", f.ID).Updates(finishUpdates(f))
	if res.Error != nil {
		return fmt.Errorf("postgres finish trade %s: %w", f.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("postgres finish trade %s: %w", f.ID, gorm.ErrRecordNotFound)
	}
	return nil
}

// ListTrades returns up to limit trades, most recently entered first.
func (s *Store) ListTrades(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	var rows []tradeRow
	if err := s.db.WithContext(ctx).Order("entered_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("postgres list trades: %w", err)
	}
	out := make([]model.TradeRecord, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// Ping checks the connection for the liveness probe.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func finishUpdates(f model.TradeFinish) map[string]interface{} {
	return map[string]interface{}{
		"exited_at":     f.ExitedAt.UTC(),
		"bars_in_trade": f.BarsInTrade,
		"exit_price":    f.ExitPrice,
	}
}

func toRow(r model.TradeRecord) tradeRow {
	return tradeRow{
		ID:                 r.ID,
		Symbol:             r.Symbol,
		Interval:           r.Interval,
		Orientation:        r.Orientation,
		TradingStrategy:    r.TradingStrategy,
		ResolutionStrategy: r.ResolutionStrategy,
		DataSource:         r.DataSource,
		EnteredAt:          r.EnteredAt.UTC(),
		ExitedAt:           r.ExitedAt,
		BarsInTrade:        r.BarsInTrade,
		EntryPrice:         r.EntryPrice,
		ExitPrice:          r.ExitPrice,
		Quantity:           r.Quantity,
		DollarValue:        r.DollarValue,
		EntryFee:           r.EntryFee,
		ExitFee:            r.ExitFee,
		Comments:           r.Comments,
	}
}

func fromRow(r tradeRow) model.TradeRecord {
	return model.TradeRecord{
		ID:                 r.ID,
		Symbol:             r.Symbol,
		Interval:           r.Interval,
		Orientation:        r.Orientation,
		TradingStrategy:    r.TradingStrategy,
		ResolutionStrategy: r.ResolutionStrategy,
		DataSource:         r.DataSource,
		EnteredAt:          r.EnteredAt,
		ExitedAt:           r.ExitedAt,
		BarsInTrade:        r.BarsInTrade,
		EntryPrice:         r.EntryPrice,
		ExitPrice:          r.ExitPrice,
		Quantity:           r.Quantity,
		DollarValue:        r.DollarValue,
		EntryFee:           r.EntryFee,
		ExitFee:            r.ExitFee,
		Comments:           r.Comments,
	}
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key != "" {
			query.Set(key, value)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
