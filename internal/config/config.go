// Package config loads gateway configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"vibegate/internal/domain"
)

// Config holds the gateway configuration.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// UpstreamURL is the base URL of the backend query service.
	UpstreamURL string `yaml:"upstream_url"`

	// UpstreamSecret is the HMAC secret shared with the backend.
	UpstreamSecret string `yaml:"upstream_secret"`

	// UpstreamTimeout bounds each forwarded call.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	// ServiceName identifies this gateway instance to the backend.
	ServiceName string `yaml:"service_name"`

	// RefreshInterval is the provider reconcile interval.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// Providers are bootstrap providers seeded into the store at startup.
	Providers []BootstrapProvider `yaml:"providers"`

	// AdminKeyHash is the base64 Argon2id hash of the bootstrap admin key,
	// with AdminKeySalt, as printed by `vibegate genkey`.
	AdminKeyHash string `yaml:"admin_key_hash"`
	AdminKeySalt string `yaml:"admin_key_salt"`

	// TenantClaim is the token claim carrying the tenant id.
	TenantClaim string `yaml:"tenant_claim"`

	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// Database selects the persistence backend: "memory", "sqlite", "postgres".
	Database string `yaml:"database"`
	// DatabaseDSN is the sqlite path or postgres connection string.
	DatabaseDSN string `yaml:"database_dsn"`

	// SentryDSN enables error reporting when set.
	SentryDSN string `yaml:"sentry_dsn"`
}

// BootstrapProvider is a statically configured identity provider. Seeded
// rows are marked as bootstrap and never overwritten by later seeding.
type BootstrapProvider struct {
	Key                 string            `yaml:"key"`
	DisplayName         string            `yaml:"display_name"`
	Issuer              string            `yaml:"issuer"`
	DiscoveryURL        string            `yaml:"discovery_url"`
	Audience            string            `yaml:"audience"`
	ClockSkewSeconds    int               `yaml:"clock_skew_seconds"`
	DisableGraceMinutes int               `yaml:"disable_grace_minutes"`
	ClaimPaths          domain.ClaimPaths `yaml:"claim_paths"`
	AutoProvision       bool              `yaml:"auto_provision"`
	DefaultRole         string            `yaml:"default_role"`
}

// Record converts the bootstrap entry into a provider record.
func (b BootstrapProvider) Record() *domain.ProviderRecord {
	return &domain.ProviderRecord{
		Key:                 b.Key,
		DisplayName:         b.DisplayName,
		Issuer:              b.Issuer,
		SchemeID:            "scheme-" + b.Key,
		DiscoveryURL:        b.DiscoveryURL,
		Audience:            b.Audience,
		ClockSkewSeconds:    b.ClockSkewSeconds,
		Active:              true,
		Bootstrap:           true,
		DisableGraceMinutes: b.DisableGraceMinutes,
		ClaimPaths:          b.ClaimPaths,
		AutoProvision:       b.AutoProvision,
		DefaultRole:         b.DefaultRole,
	}
}

// Load loads configuration from a YAML file and environment variables.
// Environment variables override YAML values.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		ListenAddr:      ":8080",
		ServiceName:     "vibegate",
		UpstreamTimeout: 30 * time.Second,
		RefreshInterval: 5 * time.Minute,
		TenantClaim:     "tenant_id",
		RateBurst:       20,
		Database:        "memory",
	}

	// Load from YAML file if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if v := os.Getenv("VIBEGATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VIBEGATE_UPSTREAM_URL"); v != "" {
		cfg.UpstreamURL = v
	}
	if v := os.Getenv("VIBEGATE_UPSTREAM_SECRET"); v != "" {
		cfg.UpstreamSecret = v
	}
	if v := os.Getenv("VIBEGATE_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.UpstreamTimeout = d
		}
	}
	if v := os.Getenv("VIBEGATE_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("VIBEGATE_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RefreshInterval = d
		}
	}
	if v := os.Getenv("VIBEGATE_ADMIN_KEY_HASH"); v != "" {
		cfg.AdminKeyHash = v
	}
	if v := os.Getenv("VIBEGATE_ADMIN_KEY_SALT"); v != "" {
		cfg.AdminKeySalt = v
	}
	if v := os.Getenv("VIBEGATE_TENANT_CLAIM"); v != "" {
		cfg.TenantClaim = v
	}
	if v := os.Getenv("VIBEGATE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = f
		}
	}
	if v := os.Getenv("VIBEGATE_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateBurst = n
		}
	}
	if v := os.Getenv("VIBEGATE_DB"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("VIBEGATE_DB_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("VIBEGATE_SENTRY_DSN"); v != "" {
		cfg.SentryDSN = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration fields are set.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return errors.New("upstream_url is required (set VIBEGATE_UPSTREAM_URL or yaml)")
	}
	if c.UpstreamSecret == "" {
		return errors.New("upstream_secret is required (set VIBEGATE_UPSTREAM_SECRET or yaml)")
	}
	if c.RefreshInterval < 30*time.Second {
		return errors.New("refresh_interval must be at least 30 seconds")
	}
	switch c.Database {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("database must be one of memory, sqlite, postgres (got %q)", c.Database)
	}
	if c.Database != "memory" && c.DatabaseDSN == "" {
		return fmt.Errorf("database_dsn is required for %s", c.Database)
	}
	seen := map[string]bool{}
	issuers := map[string]bool{}
	for _, p := range c.Providers {
		if p.Key == "" || p.Issuer == "" {
			return errors.New("bootstrap providers require key and issuer")
		}
		if seen[p.Key] {
			return fmt.Errorf("duplicate bootstrap provider key %q", p.Key)
		}
		if issuers[p.Issuer] {
			return fmt.Errorf("duplicate bootstrap provider issuer %q", p.Issuer)
		}
		seen[p.Key] = true
		issuers[p.Issuer] = true
	}
	return nil
}
