//go:build sqlite

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vibegate/internal/domain"
	"vibegate/internal/storage"
)

// UpsertRoleMapping creates or replaces the mapping for the mapping's
// (provider key, external role) pair. The stored id is preserved on replace.
func (s *Store) UpsertRoleMapping(ctx context.Context, m *domain.RoleMapping) error {
	if m == nil || m.ID == "" || m.ProviderKey == "" || m.ExternalRole == "" {
		return storage.ErrValidation
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_mappings (id, provider_key, external_role, permission_level, denied_statements, allowed_collections, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider_key, external_role) DO UPDATE SET
			permission_level = excluded.permission_level,
			denied_statements = excluded.denied_statements,
			allowed_collections = excluded.allowed_collections,
			updated_at = excluded.updated_at`,
		m.ID, m.ProviderKey, m.ExternalRole, m.PermissionLevel,
		marshalStrings(m.DeniedStatements), marshalStrings(m.AllowedCollections),
		m.CreatedAt.UTC().Format(time.RFC3339), m.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return storage.WrapIfConflict(err)
}

// GetRoleMapping retrieves the mapping for one external role.
func (s *Store) GetRoleMapping(ctx context.Context, providerKey, externalRole string) (*domain.RoleMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider_key, external_role, permission_level, denied_statements, allowed_collections, created_at, updated_at
		 FROM role_mappings WHERE provider_key = ? AND external_role = ?`,
		providerKey, externalRole)
	m, err := scanRoleMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		query += ` WHERE provider_key = ?`
		args = append(args, providerKey)
	}
	query += ` ORDER BY provider_key, external_role`

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM role_mappings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanRoleMapping(row scanner) (*domain.RoleMapping, error) {
	var m domain.RoleMapping
	var denied, allowed, createdAt, updatedAt string
	if err := row.Scan(&m.ID, &m.ProviderKey, &m.ExternalRole, &m.PermissionLevel,
		&denied, &allowed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.DeniedStatements = unmarshalStrings(denied)
	m.AllowedCollections = unmarshalStrings(allowed)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &m, nil
}

// UpsertClientMapping creates or replaces the mapping for the mapping's
// (provider key, tenant id) pair.
func (s *Store) UpsertClientMapping(ctx context.Context, m *domain.ClientMapping) error {
	if m == nil || m.ID == "" || m.ProviderKey == "" || m.TenantID == "" {
		return storage.ErrValidation
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_mappings (id, provider_key, tenant_id, active, max_permission_level, tier, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider_key, tenant_id) DO UPDATE SET
			active = excluded.active,
			max_permission_level = excluded.max_permission_level,
			tier = excluded.tier,
			updated_at = excluded.updated_at`,
		m.ID, m.ProviderKey, m.TenantID, boolToInt(m.Active), m.MaxPermissionLevel, m.Tier,
		m.CreatedAt.UTC().Format(time.RFC3339), m.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return storage.WrapIfConflict(err)
}

// GetClientMapping retrieves the mapping for one tenant.
func (s *Store) GetClientMapping(ctx context.Context, providerKey, tenantID string) (*domain.ClientMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider_key, tenant_id, active, max_permission_level, tier, created_at, updated_at
		 FROM client_mappings WHERE provider_key = ? AND tenant_id = ?`,
		providerKey, tenantID)
	m, err := scanClientMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		query += ` WHERE provider_key = ?`
		args = append(args, providerKey)
	}
	query += ` ORDER BY provider_key, tenant_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM client_mappings WHERE provider_key = ? AND active = 1)`,
		providerKey).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// DeleteClientMapping removes a mapping by id.
func (s *Store) DeleteClientMapping(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM client_mappings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanClientMapping(row scanner) (*domain.ClientMapping, error) {
	var m domain.ClientMapping
	var active int
	var createdAt, updatedAt string
	if err := row.Scan(&m.ID, &m.ProviderKey, &m.TenantID, &active,
		&m.MaxPermissionLevel, &m.Tier, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.Active = active == 1
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &m, nil
}
