package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vibegate/internal/domain"
	"vibegate/internal/observability"
	"vibegate/internal/storage"
)

// SchemeRegistrar is the surface the refresh loop uses to keep token
// validation schemes in step with provider configuration. Implemented by
// the oidc package.
type SchemeRegistrar interface {
	// Register creates or replaces the validation scheme for a provider.
	// It is idempotent for unchanged providers.
	Register(ctx context.Context, p *domain.ProviderRecord) error

	// Unregister removes a scheme and disposes its key-refresh resources.
	// Unregistering an unknown scheme is a no-op.
	Unregister(schemeID string)

	// IsRegistered reports whether a scheme is currently registered.
	IsRegistered(schemeID string) bool

	// RegisteredSchemes returns the ids of all registered schemes.
	RegisteredSchemes() []string
}

// RefreshConfig configures the provider refresh loop.
type RefreshConfig struct {
	Store     storage.ProviderStore
	Registrar SchemeRegistrar
	Registry  *Registry

	// Bootstrap providers are seeded into the store on each cycle if absent.
	// Existing rows are never overwritten.
	Bootstrap []*domain.ProviderRecord

	// Interval between reconcile cycles. Defaults to 5 minutes.
	Interval time.Duration

	Logger observability.Logger
}

// RefreshLoop periodically reconciles the persistent provider configuration
// into the Registry and the SchemeRegistrar. A failed cycle leaves the
// previous registry contents in place; a transient persistence outage must
// never empty or corrupt the live index.
type RefreshLoop struct {
	store     storage.ProviderStore
	registrar SchemeRegistrar
	registry  *Registry
	bootstrap []*domain.ProviderRecord
	interval  time.Duration
	logger    observability.Logger
	trigger   chan struct{}
	now       func() time.Time
}

// NewRefreshLoop creates a refresh loop. Run must be called to start it.
func NewRefreshLoop(cfg RefreshConfig) *RefreshLoop {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &RefreshLoop{
		store:     cfg.Store,
		registrar: cfg.Registrar,
		registry:  cfg.Registry,
		bootstrap: cfg.Bootstrap,
		interval:  interval,
		logger:    logger.WithComponent("provider-refresh"),
		trigger:   make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Run executes an initial reconcile, then loops on the configured interval
// until ctx is cancelled. On-demand cycles can be requested with TriggerNow.
func (l *RefreshLoop) Run(ctx context.Context) {
	if err := l.RefreshNow(ctx); err != nil {
		l.logger.ErrorContext(ctx, "initial provider refresh failed", "error", err)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.trigger:
		}
		if err := l.RefreshNow(ctx); err != nil {
			l.logger.ErrorContext(ctx, "provider refresh failed; keeping previous registry", "error", err)
		}
	}
}

// TriggerNow requests an immediate reconcile cycle. It never blocks; if a
// trigger is already pending the call is a no-op.
func (l *RefreshLoop) TriggerNow() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// RefreshNow runs one reconcile cycle synchronously.
func (l *RefreshLoop) RefreshNow(ctx context.Context) error {
	start := l.now()

	if err := l.seedBootstrap(ctx); err != nil {
		return fmt.Errorf("seed bootstrap providers: %w", err)
	}

	providers, err := l.store.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}

	now := l.now()
	knownSchemes := make(map[string]string, len(providers)) // scheme id -> provider key
	for _, p := range providers {
		knownSchemes[p.SchemeID] = p.Key

		validatable := p.Active || p.InGracePeriod(now)
		switch {
		case validatable:
			if err := l.registrar.Register(ctx, p); err != nil {
				// One unreachable provider must not block the others.
				l.logger.WarnContext(ctx, "scheme registration failed",
					"provider", p.Key, "issuer", p.Issuer, "error", err)
			}
		case l.registrar.IsRegistered(p.SchemeID):
			l.logger.InfoContext(ctx, "unregistering scheme for inactive provider",
				"provider", p.Key, "scheme", p.SchemeID)
			l.registrar.Unregister(p.SchemeID)
		}
	}

	// Orphan cleanup: schemes whose provider no longer exists in the store.
	for _, schemeID := range l.registrar.RegisteredSchemes() {
		if _, ok := knownSchemes[schemeID]; !ok {
			l.logger.InfoContext(ctx, "unregistering orphaned scheme", "scheme", schemeID)
			l.registrar.Unregister(schemeID)
		}
	}

	l.registry.Replace(providers)

	l.logger.DebugContext(ctx, "provider refresh complete",
		"providers", len(providers),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// seedBootstrap inserts statically configured providers that are missing from
// the store. Rows that already exist are left untouched so administrative
// edits survive restarts.
func (l *RefreshLoop) seedBootstrap(ctx context.Context) error {
	for _, b := range l.bootstrap {
		_, err := l.store.GetProvider(ctx, b.Key)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("check bootstrap provider %s: %w", b.Key, err)
		}

		seed := *b
		seed.Bootstrap = true
		if seed.CreatedAt.IsZero() {
			seed.CreatedAt = l.now().UTC()
		}
		seed.UpdatedAt = seed.CreatedAt
		if err := l.store.CreateProvider(ctx, &seed); err != nil {
			// A concurrent seeder may have won the race.
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return fmt.Errorf("seed bootstrap provider %s: %w", b.Key, err)
		}
		l.logger.InfoContext(ctx, "seeded bootstrap provider", "provider", b.Key, "issuer", b.Issuer)
	}
	return nil
}
