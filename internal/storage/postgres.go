package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gas-price-alerts/internal/config"
)

// preferencesLockKey serializes edits of the preferences table across processes.
const preferencesLockKey int64 = 0x70726566

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS preferences (
        key        TEXT PRIMARY KEY,
        value      TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	pgSelectSQL = `SELECT key, value FROM preferences;`

	pgUpsertSQL = `INSERT INTO preferences (key, value, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE
    SET value      = EXCLUDED.value,
        updated_at = EXCLUDED.updated_at;`

	pgXactLockSQL      = `SELECT pg_advisory_xact_lock($1);`
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

type postgresBackend struct {
	pool *pgxpool.Pool
}

func newPostgresBackend(ctx context.Context, pool *pgxpool.Pool) (*postgresBackend, error) {
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return nil, fmt.Errorf("initialize postgres schema: %w", err)
	}
	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) load(ctx context.Context) (map[string]string, error) {
	rows, err := b.pool.Query(ctx, pgSelectSQL)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return collectValues(rows)
}

func (b *postgresBackend) apply(ctx context.Context, fn func(map[string]string) (map[string]string, error)) (map[string]string, error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if _, err := tx.Exec(ctx, pgXactLockSQL, preferencesLockKey); err != nil {
		return nil, fmt.Errorf("lock preferences: %w", err)
	}

	rows, err := tx.Query(ctx, pgSelectSQL)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	current, err := collectValues(rows)
	if err != nil {
		return nil, err
	}

	changes, err := fn(copyValues(current))
	if err != nil {
		return nil, err
	}

	for key, value := range changes {
		if _, err := tx.Exec(ctx, pgUpsertSQL, key, value); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", key, err)
		}
		current[key] = value
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit preferences: %w", err)
	}
	return current, nil
}

// tryAdvisoryLock attempts to acquire a session advisory lock and returns a release func.
func (b *postgresBackend) tryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort: the lock also ends with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (b *postgresBackend) close() error {
	b.pool.Close()
	return nil
}

func collectValues(rows pgx.Rows) (map[string]string, error) {
	defer rows.Close()

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
