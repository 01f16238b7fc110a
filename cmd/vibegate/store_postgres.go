//go:build postgres && !sqlite

package main

import (
	"vibegate/internal/audit"
	"vibegate/internal/config"
	"vibegate/internal/observability"
	"vibegate/internal/storage"
	pgstore "vibegate/internal/storage/postgres"
)

// selectStore returns a PostgreSQL-backed store when the config asks for one.
// Falls back to the memory store when the database is unreachable so the
// gateway still comes up for diagnosis.
func selectStore(logger observability.Logger, cfg *config.Config) storage.Store {
	if cfg.Database != "postgres" {
		if cfg.Database != "memory" {
			logger.Warn("built without requested database support; using memory store",
				"requested", cfg.Database)
		} else {
			logger.Info("using memory store")
		}
		return storage.NewMemoryStore()
	}

	st, err := pgstore.New(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("postgres init failed; falling back to memory store", "error", err)
		return storage.NewMemoryStore()
	}
	logger.Info("using postgres store")
	return st
}

// selectAuditLogger returns a PostgreSQL-backed audit logger sharing the
// store's database, or the memory logger for non-postgres configs.
func selectAuditLogger(logger observability.Logger, cfg *config.Config) audit.AuditLogger {
	if cfg.Database != "postgres" {
		return audit.NewMemoryAuditLogger()
	}
	al, err := audit.NewPostgresAuditLogger(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("postgres audit log init failed; falling back to memory", "error", err)
		return audit.NewMemoryAuditLogger()
	}
	return al
}

// migrationStatus returns PostgreSQL migration status when configured.
func migrationStatus(cfg *config.Config) string {
	if cfg.Database != "postgres" {
		return ""
	}
	s, err := pgstore.Status(cfg.DatabaseDSN)
	if err != nil {
		return ""
	}
	return s
}
