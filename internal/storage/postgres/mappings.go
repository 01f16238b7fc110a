//go:build postgres

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"vibegate/internal/domain"
	"vibegate/internal/storage"
)

// UpsertRoleMapping creates or replaces the mapping for the mapping's
// (provider key, external role) pair. The stored id is preserved on replace.
func (s *Store) UpsertRoleMapping(ctx context.Context, m *domain.RoleMapping) error {
	if m == nil || m.ID == "" || m.ProviderKey == "" || m.ExternalRole == "" {
		return storage.ErrValidation
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO role_mappings (id, provider_key, external_role, permission_level, denied_statements, allowed_collections, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (provider_key, external_role) DO UPDATE SET
			permission_level = EXCLUDED.permission_level,
			denied_statements = EXCLUDED.denied_statements,
			allowed_collections = EXCLUDED.allowed_collections,
			updated_at = EXCLUDED.updated_at`,
		m.ID, m.ProviderKey, m.ExternalRole, m.PermissionLevel,
		marshalStrings(m.DeniedStatements), marshalStrings(m.AllowedCollections),
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	return storage.WrapIfConflict(err)
}

// GetRoleMapping retrieves the mapping for one external role.
func (s *Store) GetRoleMapping(ctx context.Context, providerKey, externalRole string) (*domain.RoleMapping, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, provider_key, external_role, permission_level, denied_statements, allowed_collections, created_at, updated_at
		 FROM role_mappings WHERE provider_key = $1 AND external_role = $2`,
		providerKey, externalRole)
	m, err := scanRoleMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// ListRoleMappings returns mappings for a provider, or for all providers when
// providerKey is empty.
func (s *Store) ListRoleMappings(ctx context.Context, providerKey string) ([]*domain.RoleMapping, error) {
	query := `SELECT id, provider_key, external_role, permission_level, denied_statements, allowed_collections, created_at, updated_at
		 FROM role_mappings`
	args := []any{}
	if providerKey != "" {
		query += ` WHERE provider_key = $1`
		args = append(args, providerKey)
	}
	query += ` ORDER BY provider_key, external_role`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RoleMapping
	for rows.Next() {
		m, err := scanRoleMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteRoleMapping removes a mapping by id.
func (s *Store) DeleteRoleMapping(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_mappings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanRoleMapping(row pgx.Row) (*domain.RoleMapping, error) {
	var m domain.RoleMapping
	var denied, allowed []byte
	var createdAt, updatedAt time.Time
	if err := row.Scan(&m.ID, &m.ProviderKey, &m.ExternalRole, &m.PermissionLevel,
		&denied, &allowed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.DeniedStatements = unmarshalStrings(denied)
	m.AllowedCollections = unmarshalStrings(allowed)
	m.CreatedAt = createdAt
	m.UpdatedAt = updatedAt
	return &m, nil
}

// UpsertClientMapping creates or replaces the mapping for the mapping's
// (provider key, tenant id) pair.
func (s *Store) UpsertClientMapping(ctx context.Context, m *domain.ClientMapping) error {
	if m == nil || m.ID == "" || m.ProviderKey == "" || m.TenantID == "" {
		return storage.ErrValidation
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO client_mappings (id, provider_key, tenant_id, active, max_permission_level, tier, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (provider_key, tenant_id) DO UPDATE SET
			active = EXCLUDED.active,
			max_permission_level = EXCLUDED.max_permission_level,
			tier = EXCLUDED.tier,
			updated_at = EXCLUDED.updated_at`,
		m.ID, m.ProviderKey, m.TenantID, m.Active, m.MaxPermissionLevel, m.Tier,
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	return storage.WrapIfConflict(err)
}

// GetClientMapping retrieves the mapping for one tenant.
func (s *Store) GetClientMapping(ctx context.Context, providerKey, tenantID string) (*domain.ClientMapping, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, provider_key, tenant_id, active, max_permission_level, tier, created_at, updated_at
		 FROM client_mappings WHERE provider_key = $1 AND tenant_id = $2`,
		providerKey, tenantID)
	m, err := scanClientMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// ListClientMappings returns mappings for a provider, or for all providers
// when providerKey is empty.
func (s *Store) ListClientMappings(ctx context.Context, providerKey string) ([]*domain.ClientMapping, error) {
	query := `SELECT id, provider_key, tenant_id, active, max_permission_level, tier, created_at, updated_at
		 FROM client_mappings`
	args := []any{}
	if providerKey != "" {
		query += ` WHERE provider_key = $1`
		args = append(args, providerKey)
	}
	query += ` ORDER BY provider_key, tenant_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ClientMapping
	for rows.Next() {
		m, err := scanClientMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HasActiveClientMappings reports whether the provider has at least one
// active mapping.
func (s *Store) HasActiveClientMappings(ctx context.Context, providerKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM client_mappings WHERE provider_key = $1 AND active)`,
		providerKey).Scan(&exists)
	return exists, err
}

// DeleteClientMapping removes a mapping by id.
func (s *Store) DeleteClientMapping(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM client_mappings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanClientMapping(row pgx.Row) (*domain.ClientMapping, error) {
	var m domain.ClientMapping
	var createdAt, updatedAt time.Time
	if err := row.Scan(&m.ID, &m.ProviderKey, &m.TenantID, &m.Active,
		&m.MaxPermissionLevel, &m.Tier, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = createdAt
	m.UpdatedAt = updatedAt
	return &m, nil
}

// marshalStrings encodes a string slice as a JSON array for JSONB columns.
// nil encodes as "[]" so columns are never NULL.
func marshalStrings(ss []string) []byte {
	if len(ss) == 0 {
		return []byte("[]")
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return []byte("[]")
	}
	return b
}

func unmarshalStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
