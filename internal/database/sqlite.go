package database

import (
	"fmt"
	"strings"

	"github.com/contrax-app/contrax/backend/internal/contracts"
	"github.com/contrax-app/contrax/backend/internal/plans"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqliteBusyTimeoutPragma = "_pragma=busy_timeout(5000)"

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, log *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(withBusyTimeout(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, log); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if log != nil {
		log.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates the schema and applies named data migrations once.
func Migrate(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(&plans.Record{}, &contracts.Contract{}, &contracts.Activity{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, log)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withBusyTimeout(path string) string {
	if path == ":memory:" || strings.Contains(path, "_pragma=busy_timeout") {
		return path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + sqliteBusyTimeoutPragma
}
