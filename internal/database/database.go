// Package database persists resources, reservations and waitlist entries in
// SQLite. It is the single storage surface; no component touches another
// component's tables directly.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// ErrConcurrentModification signals a lost optimistic-version race.
var ErrConcurrentModification = errors.New("concurrent modification")

// DB wraps the sqlite connection.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// New opens (or creates) the database at path and runs migrations.
// Pass ":memory:" for an in-memory database in tests.
func New(path string, logger *zerolog.Logger) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if path == ":memory:" {
		// A second connection would see a different empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	instance := &DB{DB: db, logger: logger}
	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS resources (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			capacity INTEGER NOT NULL DEFAULT 1,
			staff TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			requester_ref TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			hold_expires_at DATETIME,
			external_ref TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY(resource_id) REFERENCES resources(id)
		)`,
		`CREATE TABLE IF NOT EXISTS waitlist_entries (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			requester_ref TEXT NOT NULL,
			category TEXT NOT NULL,
			requested_start DATETIME NOT NULL,
			requested_end DATETIME,
			flexible BOOLEAN NOT NULL DEFAULT 0,
			flex_days INTEGER NOT NULL DEFAULT 0,
			preferred_resource TEXT NOT NULL DEFAULT '',
			preferred_staff TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			expires_at DATETIME NOT NULL,
			offer_count INTEGER NOT NULL DEFAULT 0,
			offered_resource TEXT NOT NULL DEFAULT '',
			offered_start DATETIME,
			offered_end DATETIME,
			offer_expires_at DATETIME,
			converted_reservation TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_resources_tenant ON resources(tenant_id, category, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_resource ON reservations(resource_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_tenant ON reservations(tenant_id, requester_ref, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_holds ON reservations(status, hold_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_tenant ON waitlist_entries(tenant_id, category, status)`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_offers ON waitlist_entries(status, offer_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_expiry ON waitlist_entries(status, expires_at)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec %q: %w", strings.Fields(q)[5], err)
		}
	}
	return nil
}

// PingContext checks the connection, for readiness probes.
func (db *DB) PingContext(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}
