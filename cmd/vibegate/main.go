package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"vibegate/internal/api"
	"vibegate/internal/auth"
	"vibegate/internal/auth/oidc"
	"vibegate/internal/config"
	"vibegate/internal/domain"
	"vibegate/internal/observability"
	"vibegate/internal/proxy"
	"vibegate/internal/registry"
)

func main() {
	// The genkey subcommand runs without a server configuration.
	if len(os.Args) > 1 && os.Args[1] == "genkey" {
		runGenKey(os.Args[2:])
		return
	}

	// Initialize structured logger from environment configuration
	logCfg := observability.ConfigFromEnv()
	logger := observability.NewLogger(logCfg)

	configPath := flag.String("config", envOr("VIBEGATE_CONFIG", ""), "path to YAML config file")
	migrate := flag.String("migrate", "", "run migrations: 'up' to apply, 'status' to show status")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// Initialize Sentry if DSN is provided
	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      envOr("SENTRY_ENVIRONMENT", "production"),
			Release:          envOr("APP_VERSION", "dev"),
			TracesSampleRate: 1.0, // Capture 100% of transactions for performance monitoring
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			logger.Info("sentry initialized",
				"environment", envOr("SENTRY_ENVIRONMENT", "production"),
				"release", envOr("APP_VERSION", "dev"),
			)
			sentryEnabled = true
		}
	}

	// Handle migrations CLI before starting the server
	if *migrate != "" {
		runMigrationsCLI(logger, cfg, *migrate)
		return
	}

	// Select storage based on build tags and config (see store_*.go in this package).
	store := selectStore(logger, cfg)
	auditLogger := selectAuditLogger(logger, cfg)

	// Initialize metrics
	metricsCfg := observability.MetricsConfigFromEnv()
	var metrics *observability.Metrics
	if metricsCfg.Enabled {
		metrics = observability.NewMetrics(metricsCfg)
		logger.Info("metrics enabled",
			"namespace", metricsCfg.Namespace,
			"version", metricsCfg.Version,
		)
	} else {
		logger.Info("metrics disabled")
	}

	adminKey, err := adminKeyFromConfig(cfg)
	if err != nil {
		logger.Error("invalid admin key configuration", "error", err)
		os.Exit(1)
	}
	if adminKey == nil {
		logger.Warn("no admin key configured; admin API disabled until one is set",
			"hint", "run `vibegate genkey` and set admin_key_hash/admin_key_salt")
	}

	forwarder, err := proxy.NewForwarder(proxy.Config{
		UpstreamURL: cfg.UpstreamURL,
		Secret:      []byte(cfg.UpstreamSecret),
		ServiceName: cfg.ServiceName,
		Timeout:     cfg.UpstreamTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("upstream configuration error", "error", err)
		os.Exit(1)
	}

	// Provider registry and background reconcile loop. The loop seeds
	// bootstrap providers from the config file and keeps the in-memory
	// index in sync with the store.
	registrar := oidc.NewRegistrar()
	reg := registry.New()
	loop := registry.NewRefreshLoop(registry.RefreshConfig{
		Store:     store,
		Registrar: registrar,
		Registry:  reg,
		Bootstrap: bootstrapRecords(cfg),
		Interval:  cfg.RefreshInterval,
		Logger:    logger,
	})

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		loop.Run(refreshCtx)
	}()
	logger.Info("provider refresh loop started",
		"interval", cfg.RefreshInterval.String(),
		"bootstrap_providers", len(cfg.Providers),
	)

	srv := api.NewServer(api.ServerConfig{
		Store:       store,
		Registrar:   registrar,
		Registry:    reg,
		Forwarder:   forwarder,
		Audit:       auditLogger,
		Refresh:     loop,
		Metrics:     metrics,
		Logger:      logger,
		AdminKey:    adminKey,
		TenantClaim: cfg.TenantClaim,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Run server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("vibegate listening", "addr", cfg.ListenAddr, "upstream", cfg.UpstreamURL)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown with 15-second timeout
	logger.Info("shutting down server", "timeout", "15s")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	// Stop the refresh loop and release provider verifiers.
	stopRefresh()
	select {
	case <-refreshDone:
	case <-time.After(5 * time.Second):
		logger.Warn("refresh loop did not stop in time")
	}
	registrar.Close()

	// Close database connections
	if err := store.Close(); err != nil {
		logger.Error("error closing store", "error", err)
	} else {
		logger.Info("database connection closed")
	}
	if c, ok := auditLogger.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			logger.Error("error closing audit log", "error", err)
		}
	}

	// Flush Sentry events
	if sentryEnabled {
		logger.Info("flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}

	logger.Info("shutdown complete")
}

// bootstrapRecords converts configured bootstrap providers into records for
// the refresh loop to seed.
func bootstrapRecords(cfg *config.Config) []*domain.ProviderRecord {
	if len(cfg.Providers) == 0 {
		return nil
	}
	out := make([]*domain.ProviderRecord, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		out = append(out, p.Record())
	}
	return out
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// adminKeyFromConfig reconstructs the bootstrap admin key from its stored
// hash and salt. Returns nil when no key is configured.
func adminKeyFromConfig(cfg *config.Config) (*auth.AdminKey, error) {
	if cfg.AdminKeyHash == "" && cfg.AdminKeySalt == "" {
		return nil, nil
	}
	if cfg.AdminKeyHash == "" || cfg.AdminKeySalt == "" {
		return nil, fmt.Errorf("admin_key_hash and admin_key_salt must both be set")
	}
	hash, err := base64.StdEncoding.DecodeString(cfg.AdminKeyHash)
	if err != nil {
		return nil, fmt.Errorf("decode admin_key_hash: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(cfg.AdminKeySalt)
	if err != nil {
		return nil, fmt.Errorf("decode admin_key_salt: %w", err)
	}
	return &auth.AdminKey{
		ID:        "bootstrap",
		Name:      "bootstrap",
		Hash:      hash,
		Salt:      salt,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// runGenKey generates a bootstrap admin key and prints the plaintext once
// alongside the hash/salt pair to put in the config file.
func runGenKey(args []string) {
	fs := flag.NewFlagSet("genkey", flag.ExitOnError)
	name := fs.String("name", "bootstrap", "key name")
	ttl := fs.Duration("ttl", 0, "key lifetime (0 for no expiry)")
	_ = fs.Parse(args)

	var expiresAt *time.Time
	if *ttl > 0 {
		t := time.Now().UTC().Add(*ttl)
		expiresAt = &t
	}

	plaintext, key, err := auth.GenerateAdminKey(*name, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate admin key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Admin key (shown once, store it securely):\n\n  %s\n\n", plaintext)
	fmt.Printf("Add to the config file (or VIBEGATE_ADMIN_KEY_HASH/_SALT):\n\n")
	fmt.Printf("admin_key_hash: %s\n", base64.StdEncoding.EncodeToString(key.Hash))
	fmt.Printf("admin_key_salt: %s\n", base64.StdEncoding.EncodeToString(key.Salt))
	if expiresAt != nil {
		fmt.Printf("\n# expires %s\n", expiresAt.Format(time.RFC3339))
	}
}

// runMigrationsCLI executes migration commands.
func runMigrationsCLI(logger observability.Logger, cfg *config.Config, cmd string) {
	switch cmd {
	case "up":
		// Opening the store runs pending migrations, then show status.
		st := selectStore(logger, cfg)
		_ = st.Close()
		runMigrationsCLI(logger, cfg, "status")
	case "status":
		status := migrationStatus(cfg)
		if status == "" {
			status = "migrations not applicable in this build"
		}
		logger.Info("migrations status", "status", status)
	default:
		logger.Warn("unknown migrate command", "command", cmd)
	}
}
