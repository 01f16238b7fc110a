//go:build sqlite && !postgres

package main

import (
	"vibegate/internal/audit"
	"vibegate/internal/config"
	"vibegate/internal/observability"
	"vibegate/internal/storage"
	sqlitestore "vibegate/internal/storage/sqlite"
)

// selectStore returns a SQLite-backed store when the config asks for one.
// Falls back to the memory store when SQLite cannot be opened so the gateway
// still comes up for diagnosis.
func selectStore(logger observability.Logger, cfg *config.Config) storage.Store {
	if cfg.Database != "sqlite" {
		if cfg.Database != "memory" {
			logger.Warn("built without requested database support; using memory store",
				"requested", cfg.Database)
		} else {
			logger.Info("using memory store")
		}
		return storage.NewMemoryStore()
	}

	st, err := sqlitestore.New(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("sqlite init failed; falling back to memory store",
			"dsn", cfg.DatabaseDSN, "error", err)
		return storage.NewMemoryStore()
	}
	logger.Info("using sqlite store", "dsn", cfg.DatabaseDSN)
	return st
}

// selectAuditLogger returns a SQLite-backed audit logger sharing the store's
// database file, or the memory logger for non-sqlite configs.
func selectAuditLogger(logger observability.Logger, cfg *config.Config) audit.AuditLogger {
	if cfg.Database != "sqlite" {
		return audit.NewMemoryAuditLogger()
	}
	al, err := audit.NewSQLiteAuditLogger(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("sqlite audit log init failed; falling back to memory",
			"dsn", cfg.DatabaseDSN, "error", err)
		return audit.NewMemoryAuditLogger()
	}
	return al
}

// migrationStatus returns SQLite migration status when configured.
func migrationStatus(cfg *config.Config) string {
	if cfg.Database != "sqlite" {
		return ""
	}
	s, err := sqlitestore.Status(cfg.DatabaseDSN)
	if err != nil {
		return ""
	}
	return s
}
