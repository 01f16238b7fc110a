//go:build sqlite

// Package sqlite implements storage.Store on SQLite via the CGO-less
// modernc.org driver. Selected with the "sqlite" build tag.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // CGO-less SQLite driver

	"vibegate/internal/storage"
)

// Store implements storage.Store backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dsn and applies pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Status returns a migration state summary for the given DSN without running
// migrations.
func Status(dsn string) (string, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var latest, count int
	_ = db.QueryRow(`SELECT COALESCE(MAX(version),0) FROM schema_migrations`).Scan(&latest)
	_ = db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&count)

	var schemaVersion, minSupported int
	var appVersion, appliedAt string
	_ = db.QueryRow(`SELECT schema_version, min_supported_schema, app_version, applied_at FROM schema_info WHERE id=1`).Scan(&schemaVersion, &minSupported, &appVersion, &appliedAt)

	return fmt.Sprintf("schema_version=%d applied=%d latest=%d app_version=%s applied_at=%s min_supported=%d",
		schemaVersion, count, latest, appVersion, appliedAt, minSupported), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalStrings encodes a string slice as a JSON array for TEXT columns.
// nil encodes as "[]" so columns are never NULL.
func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
