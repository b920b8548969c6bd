// Package database opens the sqlite store and applies its schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	driverName  = "sqlite3"
	openTimeout = 5 * time.Second
)

// Config holds database configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB is the process-wide sqlite handle
type DB struct {
	*sql.DB
	path   string
	logger *zap.Logger
}

// New opens the sqlite file in WAL mode with foreign keys enforced.
// Write transactions take the lock up front so concurrent writers queue
// on the busy timeout instead of failing on upgrade.
func New(cfg Config, logger *zap.Logger) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	sqlDB, err := sql.Open(driverName, dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	var version string
	if err := sqlDB.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database %s is not usable: %w", cfg.Path, err)
	}

	logger.Info("Opened purchase order database",
		zap.String("path", cfg.Path),
		zap.String("sqlite_version", version))

	return &DB{DB: sqlDB, path: cfg.Path, logger: logger}, nil
}

func dsn(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection
func (db *DB) Close() error {
	db.logger.Info("Closing database", zap.String("path", db.path))
	return db.DB.Close()
}
