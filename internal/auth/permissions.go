package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"vibegate/internal/storage"
)

// Decision is the resolved authorization state for one request.
type Decision struct {
	// Level is the effective permission level: the maximum across matched
	// role mappings, capped by the tenant ceiling when one applies.
	Level Level

	// DeniedStatements is the union of denied statement tags across the
	// matched role mappings, sorted and de-duplicated.
	DeniedStatements []string

	// AllowedCollections is the union of collection restrictions across
	// matched role mappings. Empty means unrestricted.
	AllowedCollections []string

	// Tier is the tenant's service tier when a client mapping applied.
	Tier string
}

// PermissionResolver turns a caller's external roles into an effective
// permission level. Everything here fails closed: unknown roles contribute
// nothing, unknown levels parse to None, and a provider with tenant ceilings
// grants nothing to callers without a matching active tenant.
type PermissionResolver struct {
	roles   storage.RoleMappingStore
	clients storage.ClientMappingStore
}

// NewPermissionResolver creates a resolver over the given mapping stores.
func NewPermissionResolver(roles storage.RoleMappingStore, clients storage.ClientMappingStore) *PermissionResolver {
	return &PermissionResolver{roles: roles, clients: clients}
}

// Resolve computes the decision for a caller holding the given external
// roles under the given provider. tenantID may be empty when the token
// carried no tenant claim.
func (p *PermissionResolver) Resolve(ctx context.Context, providerKey string, roles []string, tenantID string) (Decision, error) {
	decision := Decision{Level: LevelNone}
	if len(roles) > 0 {
		mappings, err := p.roles.ListRoleMappings(ctx, providerKey)
		if err != nil {
			return Decision{}, fmt.Errorf("list role mappings: %w", err)
		}

		byRole := make(map[string]int, len(mappings))
		for i, m := range mappings {
			byRole[m.ExternalRole] = i
		}

		denied := map[string]struct{}{}
		collections := map[string]struct{}{}
		for _, role := range roles {
			i, ok := byRole[role]
			if !ok {
				continue
			}
			m := mappings[i]
			if level := ParseLevel(m.PermissionLevel); level > decision.Level {
				decision.Level = level
			}
			for _, stmt := range m.DeniedStatements {
				denied[stmt] = struct{}{}
			}
			for _, c := range m.AllowedCollections {
				collections[c] = struct{}{}
			}
		}
		decision.DeniedStatements = sortedKeys(denied)
		decision.AllowedCollections = sortedKeys(collections)
	}

	hasCeilings, err := p.clients.HasActiveClientMappings(ctx, providerKey)
	if err != nil {
		return Decision{}, fmt.Errorf("check client mappings: %w", err)
	}
	if !hasCeilings {
		return decision, nil
	}

	// The provider is tenant-scoped. No tenant claim, or no active mapping
	// for the claimed tenant, means no access at all.
	if tenantID == "" {
		decision.Level = LevelNone
		return decision, nil
	}
	mapping, err := p.clients.GetClientMapping(ctx, providerKey, tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			decision.Level = LevelNone
			return decision, nil
		}
		return Decision{}, fmt.Errorf("get client mapping: %w", err)
	}
	if !mapping.Active {
		decision.Level = LevelNone
		return decision, nil
	}

	if ceiling := ParseLevel(mapping.MaxPermissionLevel); decision.Level > ceiling {
		decision.Level = ceiling
	}
	decision.Tier = mapping.Tier
	return decision, nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
