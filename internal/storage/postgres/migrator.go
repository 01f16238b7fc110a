//go:build postgres

package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	pgmigrations "vibegate/migrations/postgres"
)

var migFileRe = regexp.MustCompile(`^(\d+)_.+\.up\.sql$`)

// migration is one embedded schema migration file.
type migration struct {
	version int
	name    string
}

// embeddedMigrations lists the embedded *.up.sql files in version order.
func embeddedMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(pgmigrations.Files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migFileRe.FindStringSubmatch(e.Name())
		if len(m) == 0 {
			continue
		}
		v := 0
		fmt.Sscanf(m[1], "%d", &v)
		files = append(files, migration{version: v, name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// appliedVersions returns the set of migration versions already recorded in
// schema_migrations.
func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[int]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// applyMigration runs one migration file inside a transaction and records it.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, f migration) error {
	sqlBytes, err := fs.ReadFile(pgmigrations.Files, f.name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", f.name, err)
	}
	stmt := strings.TrimSpace(string(sqlBytes))
	if stmt == "" {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for migration %s: %w", f.name, err)
	}
	if _, err := tx.Exec(ctx, stmt); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("migration %s failed: %w", f.name, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations(version, name, applied_at) VALUES($1, $2, $3)`,
		f.version, f.name, time.Now().UTC()); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("record migration %s: %w", f.name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", f.name, err)
	}
	return nil
}

// runMigrations applies pending embedded migrations and updates the
// schema_info bookkeeping row. Safe to call on an already-migrated database.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version BIGINT PRIMARY KEY, name TEXT NOT NULL, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_info (id INTEGER PRIMARY KEY CHECK(id=1), schema_version INTEGER NOT NULL, min_supported_schema INTEGER NOT NULL DEFAULT 1, app_version TEXT NOT NULL, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`); err != nil {
		return fmt.Errorf("create schema_info: %w", err)
	}

	files, err := embeddedMigrations()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	latest := 0
	for _, f := range files {
		if !applied[f.version] {
			if err := applyMigration(ctx, pool, f); err != nil {
				return err
			}
		}
		if f.version > latest {
			latest = f.version
		}
	}

	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "dev"
	}
	_, _ = pool.Exec(ctx, `
		INSERT INTO schema_info(id, schema_version, min_supported_schema, app_version, applied_at)
		VALUES(1, $1, COALESCE((SELECT min_supported_schema FROM schema_info WHERE id=1),1), $2, $3)
		ON CONFLICT(id) DO UPDATE SET schema_version=EXCLUDED.schema_version, app_version=EXCLUDED.app_version, applied_at=EXCLUDED.applied_at`,
		latest, appVersion, time.Now().UTC())

	return nil
}
