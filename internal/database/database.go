package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite handle shared by every repository in this package.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
	path   string
}

// NewDB opens (and creates, if needed) the SQLite database at path and applies the schema.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: conn, logger: logger, path: path}
	if err := db.createTables(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	for _, column := range []string{"calendar_event_id", "charged_amount"} {
		if err := db.ensureColumn("bookings", column, "TEXT"); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// NewDBFromConn wraps an already opened connection without touching the schema.
func NewDBFromConn(conn *sql.DB, logger *zerolog.Logger) *DB {
	return &DB{DB: conn, logger: logger}
}

func (db *DB) Path() string {
	return db.path
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}

func (db *DB) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS services (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            duration_minutes INTEGER NOT NULL DEFAULT 30,
            price TEXT NOT NULL,
            promo_price TEXT,
            currency TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS customers (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            telegram_chat_id INTEGER NOT NULL DEFAULT 0,
            loyalty_points INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            service_id TEXT NOT NULL,
            customer_id TEXT NOT NULL,
            date TEXT NOT NULL,
            slot TEXT NOT NULL,
            starts_at DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            payment_reference TEXT,
            amount_due TEXT NOT NULL,
            charged_amount TEXT,
            currency TEXT NOT NULL,
            notes TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		// Одна активная бронь на слот общего календаря
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_active_slot
            ON bookings(date, slot) WHERE status IN ('pending', 'confirmed')`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer ON bookings(customer_id, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_payment_reference ON bookings(payment_reference)`,
		`CREATE TABLE IF NOT EXISTS promo_codes (
            code TEXT PRIMARY KEY COLLATE NOCASE,
            discount_type TEXT NOT NULL,
            value TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            valid_from DATETIME NOT NULL,
            valid_until DATETIME NOT NULL,
            max_uses INTEGER,
            used_count INTEGER NOT NULL DEFAULT 0,
            min_amount TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            idempotency_key TEXT NOT NULL UNIQUE,
            job_type TEXT NOT NULL,
            booking_id TEXT NOT NULL DEFAULT '',
            recipient TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            run_at DATETIME NOT NULL,
            locked_until DATETIME,
            created_at DATETIME NOT NULL,
            processed_at DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, run_at)`,
		`CREATE TABLE IF NOT EXISTS payment_events (
            event_id TEXT PRIMARY KEY,
            event_type TEXT NOT NULL,
            intent_id TEXT NOT NULL DEFAULT '',
            booking_id TEXT NOT NULL DEFAULT '',
            outcome TEXT NOT NULL,
            received_count INTEGER NOT NULL DEFAULT 1,
            first_seen_at DATETIME NOT NULL,
            last_seen_at DATETIME NOT NULL
        )`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// ensureColumn adds a column to an existing table; databases created by older
// builds lack columns added later.
func (db *DB) ensureColumn(table, column, definition string) error {
	_, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
		return fmt.Errorf("failed to add column %s.%s: %w", table, column, err)
	}
	return nil
}

// withTx runs fn inside a transaction and commits when fn returns nil.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
