package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"gas-price-alerts/internal/config"
)

const (
	sqliteSchema = `
	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER))
	);`

	sqliteSelectSQL = `SELECT key, value FROM preferences;`

	sqliteUpsertSQL = `INSERT INTO preferences (key, value, updated_at)
    VALUES (?, ?, CAST(strftime('%s','now') AS INTEGER))
    ON CONFLICT (key) DO UPDATE
    SET value = excluded.value,
        updated_at = excluded.updated_at;`
)

type sqliteBackend struct {
	db *sql.DB
}

// openSQLite opens (and creates) the preference database at cfg.Path.
// Transactions take the write lock up front so separate processes
// editing the same file serialize instead of failing mid-transaction.
func openSQLite(ctx context.Context, cfg config.StorageConfig) (*sqliteBackend, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) load(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, sqliteSelectSQL)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()
	return scanValues(rows)
}

func (b *sqliteBackend) apply(ctx context.Context, fn func(map[string]string) (map[string]string, error)) (map[string]string, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, sqliteSelectSQL)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	current, err := scanValues(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	changes, err := fn(copyValues(current))
	if err != nil {
		return nil, err
	}

	for key, value := range changes {
		if _, err := tx.ExecContext(ctx, sqliteUpsertSQL, key, value); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", key, err)
		}
		current[key] = value
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit preferences: %w", err)
	}
	return current, nil
}

func (b *sqliteBackend) tryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return func() {}, true, nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}

func scanValues(rows *sql.Rows) (map[string]string, error) {
	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return values, nil
}
