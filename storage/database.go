package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Closed-trade persistence
// ═══════════════════════════════════════════════════════════════════════════════
//
// Postgres when DATABASE_URL is set, a local sqlite file otherwise. An
// empty path disables persistence entirely; callers treat that as a no-op
// store.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ClosedTrade is one persisted execution result.
type ClosedTrade struct {
	ID       uint            `gorm:"primaryKey"`
	Symbol   string          `gorm:"index;not null"`
	Side     string          `gorm:"not null"`
	PnL      decimal.Decimal `gorm:"type:numeric(18,8)"`
	ClosedAt time.Time       `gorm:"index;not null"`
}

// Database wraps the gorm handle. A zero-value Database is a disabled
// no-op store.
type Database struct {
	db      *gorm.DB
	enabled bool
}

// New opens the trade store. databaseURL (postgres DSN) wins over
// databasePath (sqlite file); both empty disables persistence.
func New(databaseURL, databasePath string) (*Database, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	switch {
	case databaseURL != "":
		db, err = gorm.Open(postgres.Open(databaseURL), gormCfg)
	case databasePath != "":
		if mkErr := os.MkdirAll(filepath.Dir(databasePath), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create database dir: %w", mkErr)
		}
		db, err = gorm.Open(sqlite.Open(databasePath), gormCfg)
	default:
		log.Warn().Msg("No database configured, running without persistence")
		return &Database{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&ClosedTrade{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Msg("💾 Database connected")
	return &Database{db: db, enabled: true}, nil
}

// RecordClosedTrade persists one realised trade.
func (d *Database) RecordClosedTrade(symbol, side string, pnl decimal.Decimal, closedAt time.Time) error {
	if !d.enabled {
		return nil
	}
	return d.db.Create(&ClosedTrade{
		Symbol:   symbol,
		Side:     side,
		PnL:      pnl,
		ClosedAt: closedAt,
	}).Error
}

// RecentTrades returns the latest n closed trades, newest first.
func (d *Database) RecentTrades(n int) ([]ClosedTrade, error) {
	if !d.enabled {
		return nil, nil
	}
	var trades []ClosedTrade
	err := d.db.Order("closed_at desc").Limit(n).Find(&trades).Error
	return trades, err
}
