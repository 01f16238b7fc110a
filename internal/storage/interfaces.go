// Package storage defines the persistence interfaces for VibeGate and an
// in-memory reference implementation. Database-backed implementations live in
// the sqlite and postgres subpackages, selected by build tags.
package storage

import (
	"context"
	"time"

	"vibegate/internal/domain"
)

// ProviderStore persists identity provider configuration. Provider keys and
// issuers are both unique; the issuer is the sole lookup key used on the
// request path.
type ProviderStore interface {
	// CreateProvider stores a new provider record.
	CreateProvider(ctx context.Context, p *domain.ProviderRecord) error

	// GetProvider retrieves a provider by its key.
	GetProvider(ctx context.Context, key string) (*domain.ProviderRecord, error)

	// GetProviderByIssuer retrieves a provider by issuer.
	GetProviderByIssuer(ctx context.Context, issuer string) (*domain.ProviderRecord, error)

	// ListProviders returns all provider records.
	ListProviders(ctx context.Context) ([]*domain.ProviderRecord, error)

	// UpdateProvider modifies an existing provider record.
	UpdateProvider(ctx context.Context, p *domain.ProviderRecord) error

	// DeleteProvider removes a provider by key.
	DeleteProvider(ctx context.Context, key string) error
}

// RoleMappingStore persists (provider, external role) -> permission level
// mappings. One mapping per (provider key, external role).
type RoleMappingStore interface {
	// UpsertRoleMapping creates or replaces a role mapping.
	UpsertRoleMapping(ctx context.Context, m *domain.RoleMapping) error

	// GetRoleMapping retrieves the mapping for one external role.
	GetRoleMapping(ctx context.Context, providerKey, externalRole string) (*domain.RoleMapping, error)

	// ListRoleMappings returns all mappings for a provider. An empty
	// providerKey lists mappings for all providers.
	ListRoleMappings(ctx context.Context, providerKey string) ([]*domain.RoleMapping, error)

	// DeleteRoleMapping removes a mapping by id.
	DeleteRoleMapping(ctx context.Context, id string) error
}

// ClientMappingStore persists tenant-level permission ceilings. One mapping
// per (provider key, tenant id).
type ClientMappingStore interface {
	// UpsertClientMapping creates or replaces a client mapping.
	UpsertClientMapping(ctx context.Context, m *domain.ClientMapping) error

	// GetClientMapping retrieves the mapping for one tenant.
	GetClientMapping(ctx context.Context, providerKey, tenantID string) (*domain.ClientMapping, error)

	// ListClientMappings returns all mappings for a provider. An empty
	// providerKey lists mappings for all providers.
	ListClientMappings(ctx context.Context, providerKey string) ([]*domain.ClientMapping, error)

	// HasActiveClientMappings reports whether the provider has at least one
	// active mapping, which makes tenant checks mandatory for its callers.
	HasActiveClientMappings(ctx context.Context, providerKey string) (bool, error)

	// DeleteClientMapping removes a mapping by id.
	DeleteClientMapping(ctx context.Context, id string) error
}

// IdentityStore persists federated identities keyed by (provider key,
// subject). Rows are never deleted automatically; deactivation is
// administrative.
type IdentityStore interface {
	// CreateIdentity stores a new federated identity. Returns ErrConflict
	// if the (provider key, subject) pair already exists; callers rely on
	// this for idempotent concurrent provisioning.
	CreateIdentity(ctx context.Context, id *domain.FederatedIdentity) error

	// GetIdentity retrieves an identity by provider key and subject.
	GetIdentity(ctx context.Context, providerKey, subject string) (*domain.FederatedIdentity, error)

	// ListIdentities returns identities, optionally filtered by provider,
	// with pagination. The second return value is the total match count.
	ListIdentities(ctx context.Context, providerKey string, limit, offset int) ([]*domain.FederatedIdentity, int, error)

	// TouchIdentity refreshes last-seen and, when non-empty, email.
	TouchIdentity(ctx context.Context, providerKey, subject, email string, seenAt time.Time) error

	// SetIdentityActive activates or deactivates an identity.
	SetIdentityActive(ctx context.Context, providerKey, subject string, active bool) error

	// MaxInternalUserID returns the highest allocated internal user id,
	// or 0 when no identities exist. Used to seed the sequence allocator.
	MaxInternalUserID(ctx context.Context) (int64, error)
}

// Store aggregates all persistence interfaces backing the gateway.
type Store interface {
	ProviderStore
	RoleMappingStore
	ClientMappingStore
	IdentityStore

	// Close releases any resources held by the store.
	Close() error
}
