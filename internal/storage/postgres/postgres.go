//go:build postgres

// Package postgres implements storage.Store on PostgreSQL via pgx. Selected
// with the "postgres" build tag.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"vibegate/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// New connects to the database at connStr and applies pending migrations.
func New(connStr string) (*Store, error) {
	ctx := context.Background()
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewFromPool creates a Store from an existing connection pool. Migrations
// are NOT run.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for shared access.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Status returns a migration state summary for the given connection string
// without running migrations.
func Status(connStr string) (string, error) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return "", err
	}
	defer pool.Close()

	var latest, count int
	_ = pool.QueryRow(ctx, `SELECT COALESCE(MAX(version),0) FROM schema_migrations`).Scan(&latest)
	_ = pool.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&count)

	var schemaVersion, minSupported int
	var appVersion, appliedAt string
	_ = pool.QueryRow(ctx, `SELECT schema_version, min_supported_schema, app_version, applied_at::text FROM schema_info WHERE id=1`).Scan(&schemaVersion, &minSupported, &appVersion, &appliedAt)

	return fmt.Sprintf("schema_version=%d applied=%d latest=%d app_version=%s applied_at=%s min_supported=%d",
		schemaVersion, count, latest, appVersion, appliedAt, minSupported), nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
