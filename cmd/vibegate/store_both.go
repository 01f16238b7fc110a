//go:build sqlite && postgres

package main

import (
	"vibegate/internal/audit"
	"vibegate/internal/config"
	"vibegate/internal/observability"
	"vibegate/internal/storage"
	pgstore "vibegate/internal/storage/postgres"
	sqlitestore "vibegate/internal/storage/sqlite"
)

// selectStore honors cfg.Database when both backends are compiled in.
func selectStore(logger observability.Logger, cfg *config.Config) storage.Store {
	switch cfg.Database {
	case "postgres":
		st, err := pgstore.New(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("postgres init failed; falling back to memory store", "error", err)
			return storage.NewMemoryStore()
		}
		logger.Info("using postgres store")
		return st
	case "sqlite":
		st, err := sqlitestore.New(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("sqlite init failed; falling back to memory store",
				"dsn", cfg.DatabaseDSN, "error", err)
			return storage.NewMemoryStore()
		}
		logger.Info("using sqlite store", "dsn", cfg.DatabaseDSN)
		return st
	default:
		logger.Info("using memory store")
		return storage.NewMemoryStore()
	}
}

// selectAuditLogger pairs the audit backend with the configured store.
func selectAuditLogger(logger observability.Logger, cfg *config.Config) audit.AuditLogger {
	switch cfg.Database {
	case "postgres":
		al, err := audit.NewPostgresAuditLogger(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("postgres audit log init failed; falling back to memory", "error", err)
			return audit.NewMemoryAuditLogger()
		}
		return al
	case "sqlite":
		al, err := audit.NewSQLiteAuditLogger(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("sqlite audit log init failed; falling back to memory",
				"dsn", cfg.DatabaseDSN, "error", err)
			return audit.NewMemoryAuditLogger()
		}
		return al
	default:
		return audit.NewMemoryAuditLogger()
	}
}

// migrationStatus reports status for whichever backend the config selects.
func migrationStatus(cfg *config.Config) string {
	switch cfg.Database {
	case "postgres":
		s, err := pgstore.Status(cfg.DatabaseDSN)
		if err != nil {
			return ""
		}
		return s
	case "sqlite":
		s, err := sqlitestore.Status(cfg.DatabaseDSN)
		if err != nil {
			return ""
		}
		return s
	default:
		return ""
	}
}
