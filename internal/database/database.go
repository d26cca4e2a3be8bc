// Package database provides database connections and schema management.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aurumvault/metalex_unified/pkg/models"
)

// NewPostgresDB creates a new PostgreSQL connection with pool settings.
func NewPostgresDB(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return db, nil
}

// Migrate creates the settlement tables and the uniqueness constraints the
// reconciliation engine depends on. The partial unique index on
// (kind, external_reference) is what makes reference assignment safe across
// concurrent writers; it cannot be expressed as a gorm tag, so it is created
// explicitly here.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.SettlementRecord{},
		&models.ProcessedSourceEvent{},
		&models.UnmatchedEvent{},
	); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}

	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_settlement_kind_external_ref
		 ON settlement_records (kind, external_reference)
		 WHERE external_reference IS NOT NULL`,
	).Error; err != nil {
		return fmt.Errorf("failed to create reference uniqueness index: %w", err)
	}

	return nil
}
