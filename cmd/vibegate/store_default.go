//go:build !sqlite && !postgres

package main

import (
	"vibegate/internal/audit"
	"vibegate/internal/config"
	"vibegate/internal/observability"
	"vibegate/internal/storage"
)

// selectStore returns the in-memory store. Builds without the 'sqlite' or
// 'postgres' tags have no persistent backend; a config asking for one gets
// a loud warning instead of silent data loss at shutdown.
func selectStore(logger observability.Logger, cfg *config.Config) storage.Store {
	if cfg.Database != "memory" {
		logger.Warn("built without database support; using memory store",
			"requested", cfg.Database,
			"hint", "rebuild with -tags "+cfg.Database)
	} else {
		logger.Info("using memory store")
	}
	return storage.NewMemoryStore()
}

// selectAuditLogger returns the in-memory audit logger.
func selectAuditLogger(logger observability.Logger, cfg *config.Config) audit.AuditLogger {
	return audit.NewMemoryAuditLogger()
}

// migrationStatus reports nothing; the memory store has no migrations.
func migrationStatus(cfg *config.Config) string {
	return ""
}
