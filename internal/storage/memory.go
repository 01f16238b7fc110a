package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"vibegate/internal/domain"
)

// MemoryStore is an in-memory implementation of Store. It is the default for
// tests and local development; all methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	providers   map[string]*domain.ProviderRecord // keyed by provider key
	issuerIndex map[string]string                 // issuer -> provider key

	roleMappings   map[string]*domain.RoleMapping   // keyed by id
	clientMappings map[string]*domain.ClientMapping // keyed by id

	identities map[identityKey]*domain.FederatedIdentity
}

type identityKey struct {
	providerKey string
	subject     string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers:      make(map[string]*domain.ProviderRecord),
		issuerIndex:    make(map[string]string),
		roleMappings:   make(map[string]*domain.RoleMapping),
		clientMappings: make(map[string]*domain.ClientMapping),
		identities:     make(map[identityKey]*domain.FederatedIdentity),
	}
}

// Close implements Store. It is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

// --- ProviderStore ---

func (s *MemoryStore) CreateProvider(_ context.Context, p *domain.ProviderRecord) error {
	if p == nil || p.Key == "" || p.Issuer == "" {
		return ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.providers[p.Key]; exists {
		return ErrConflict
	}
	if _, exists := s.issuerIndex[p.Issuer]; exists {
		return ErrDuplicateIssuer
	}

	s.providers[p.Key] = copyProvider(p)
	s.issuerIndex[p.Issuer] = p.Key
	return nil
}

func (s *MemoryStore) GetProvider(_ context.Context, key string) (*domain.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.providers[key]
	if !exists {
		return nil, ErrNotFound
	}
	return copyProvider(p), nil
}

func (s *MemoryStore) GetProviderByIssuer(_ context.Context, issuer string) (*domain.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, exists := s.issuerIndex[issuer]
	if !exists {
		return nil, ErrNotFound
	}
	return copyProvider(s.providers[key]), nil
}

func (s *MemoryStore) ListProviders(_ context.Context) ([]*domain.ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ProviderRecord, 0, len(s.providers))
	for _, p := range s.providers {
		result = append(result, copyProvider(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *MemoryStore) UpdateProvider(_ context.Context, p *domain.ProviderRecord) error {
	if p == nil || p.Key == "" || p.Issuer == "" {
		return ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.providers[p.Key]
	if !exists {
		return ErrNotFound
	}

	if existing.Issuer != p.Issuer {
		if _, taken := s.issuerIndex[p.Issuer]; taken {
			return ErrDuplicateIssuer
		}
		delete(s.issuerIndex, existing.Issuer)
		s.issuerIndex[p.Issuer] = p.Key
	}

	s.providers[p.Key] = copyProvider(p)
	return nil
}

func (s *MemoryStore) DeleteProvider(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.providers[key]
	if !exists {
		return ErrNotFound
	}

	delete(s.issuerIndex, p.Issuer)
	delete(s.providers, key)
	return nil
}

// --- RoleMappingStore ---

func (s *MemoryStore) UpsertRoleMapping(_ context.Context, m *domain.RoleMapping) error {
	if m == nil || m.ID == "" || m.ProviderKey == "" || m.ExternalRole == "" {
		return ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// One mapping per (provider key, external role): replace any existing
	// mapping for the pair regardless of id.
	for id, existing := range s.roleMappings {
		if existing.ProviderKey == m.ProviderKey && existing.ExternalRole == m.ExternalRole && id != m.ID {
			delete(s.roleMappings, id)
		}
	}
	s.roleMappings[m.ID] = copyRoleMapping(m)
	return nil
}

func (s *MemoryStore) GetRoleMapping(_ context.Context, providerKey, externalRole string) (*domain.RoleMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.roleMappings {
		if m.ProviderKey == providerKey && m.ExternalRole == externalRole {
			return copyRoleMapping(m), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListRoleMappings(_ context.Context, providerKey string) ([]*domain.RoleMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RoleMapping
	for _, m := range s.roleMappings {
		if providerKey == "" || m.ProviderKey == providerKey {
			result = append(result, copyRoleMapping(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ProviderKey != result[j].ProviderKey {
			return result[i].ProviderKey < result[j].ProviderKey
		}
		return result[i].ExternalRole < result[j].ExternalRole
	})
	return result, nil
}

func (s *MemoryStore) DeleteRoleMapping(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roleMappings[id]; !exists {
		return ErrNotFound
	}
	delete(s.roleMappings, id)
	return nil
}

// --- ClientMappingStore ---

func (s *MemoryStore) UpsertClientMapping(_ context.Context, m *domain.ClientMapping) error {
	if m == nil || m.ID == "" || m.ProviderKey == "" || m.TenantID == "" {
		return ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.clientMappings {
		if existing.ProviderKey == m.ProviderKey && existing.TenantID == m.TenantID && id != m.ID {
			delete(s.clientMappings, id)
		}
	}
	s.clientMappings[m.ID] = copyClientMapping(m)
	return nil
}

func (s *MemoryStore) GetClientMapping(_ context.Context, providerKey, tenantID string) (*domain.ClientMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.clientMappings {
		if m.ProviderKey == providerKey && m.TenantID == tenantID {
			return copyClientMapping(m), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListClientMappings(_ context.Context, providerKey string) ([]*domain.ClientMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ClientMapping
	for _, m := range s.clientMappings {
		if providerKey == "" || m.ProviderKey == providerKey {
			result = append(result, copyClientMapping(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ProviderKey != result[j].ProviderKey {
			return result[i].ProviderKey < result[j].ProviderKey
		}
		return result[i].TenantID < result[j].TenantID
	})
	return result, nil
}

func (s *MemoryStore) HasActiveClientMappings(_ context.Context, providerKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.clientMappings {
		if m.ProviderKey == providerKey && m.Active {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DeleteClientMapping(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clientMappings[id]; !exists {
		return ErrNotFound
	}
	delete(s.clientMappings, id)
	return nil
}

// --- IdentityStore ---

func (s *MemoryStore) CreateIdentity(_ context.Context, id *domain.FederatedIdentity) error {
	if id == nil || id.ProviderKey == "" || id.Subject == "" || id.InternalUserID <= 0 {
		return ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := identityKey{id.ProviderKey, id.Subject}
	if _, exists := s.identities[k]; exists {
		return ErrConflict
	}
	cpy := *id
	s.identities[k] = &cpy
	return nil
}

func (s *MemoryStore) GetIdentity(_ context.Context, providerKey, subject string) (*domain.FederatedIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.identities[identityKey{providerKey, subject}]
	if !exists {
		return nil, ErrNotFound
	}
	cpy := *id
	return &cpy, nil
}

func (s *MemoryStore) ListIdentities(_ context.Context, providerKey string, limit, offset int) ([]*domain.FederatedIdentity, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*domain.FederatedIdentity
	for _, id := range s.identities {
		if providerKey == "" || id.ProviderKey == providerKey {
			cpy := *id
			all = append(all, &cpy)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].InternalUserID < all[j].InternalUserID })

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *MemoryStore) TouchIdentity(_ context.Context, providerKey, subject, email string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.identities[identityKey{providerKey, subject}]
	if !exists {
		return ErrNotFound
	}
	id.LastSeenAt = seenAt
	if email != "" {
		id.Email = email
	}
	return nil
}

func (s *MemoryStore) SetIdentityActive(_ context.Context, providerKey, subject string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.identities[identityKey{providerKey, subject}]
	if !exists {
		return ErrNotFound
	}
	id.Active = active
	return nil
}

func (s *MemoryStore) MaxInternalUserID(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, id := range s.identities {
		if id.InternalUserID > max {
			max = id.InternalUserID
		}
	}
	return max, nil
}

// --- copy helpers ---

func copyProvider(p *domain.ProviderRecord) *domain.ProviderRecord {
	if p == nil {
		return nil
	}
	cpy := *p
	if p.DisabledAt != nil {
		t := *p.DisabledAt
		cpy.DisabledAt = &t
	}
	return &cpy
}

func copyRoleMapping(m *domain.RoleMapping) *domain.RoleMapping {
	if m == nil {
		return nil
	}
	cpy := *m
	cpy.DeniedStatements = append([]string(nil), m.DeniedStatements...)
	cpy.AllowedCollections = append([]string(nil), m.AllowedCollections...)
	return &cpy
}

func copyClientMapping(m *domain.ClientMapping) *domain.ClientMapping {
	if m == nil {
		return nil
	}
	cpy := *m
	return &cpy
}
