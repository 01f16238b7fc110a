//go:build sqlite

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"vibegate/internal/domain"
	"vibegate/internal/storage"
)

const providerColumns = `key, display_name, issuer, scheme_id, discovery_url, audience, clock_skew_seconds,
	active, bootstrap, disabled_at, disable_grace_minutes,
	claim_subject, claim_role, claim_email, auto_provision, default_role, created_at, updated_at`

// CreateProvider stores a new provider record.
func (s *Store) CreateProvider(ctx context.Context, p *domain.ProviderRecord) error {
	if p == nil || p.Key == "" || p.Issuer == "" {
		return storage.ErrValidation
	}

	var disabledAt any
	if p.DisabledAt != nil {
		disabledAt = p.DisabledAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (`+providerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Key, p.DisplayName, p.Issuer, p.SchemeID, p.DiscoveryURL, p.Audience, p.ClockSkewSeconds,
		boolToInt(p.Active), boolToInt(p.Bootstrap), disabledAt, p.DisableGraceMinutes,
		p.ClaimPaths.Subject, p.ClaimPaths.Role, p.ClaimPaths.Email,
		boolToInt(p.AutoProvision), p.DefaultRole,
		p.CreatedAt.UTC().Format(time.RFC3339), p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") && strings.Contains(err.Error(), "issuer") {
			return storage.ErrDuplicateIssuer
		}
		return storage.WrapIfConflict(err)
	}
	return nil
}

// GetProvider retrieves a provider by key.
func (s *Store) GetProvider(ctx context.Context, key string) (*domain.ProviderRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE key = ?`, key)
	return scanProvider(row)
}

// GetProviderByIssuer retrieves a provider by issuer.
func (s *Store) GetProviderByIssuer(ctx context.Context, issuer string) (*domain.ProviderRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE issuer = ?`, issuer)
	return scanProvider(row)
}

// ListProviders returns all provider records ordered by key.
func (s *Store) ListProviders(ctx context.Context) ([]*domain.ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM providers ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ProviderRecord
	for rows.Next() {
		p, err := scanProviderFields(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProvider modifies an existing provider record.
func (s *Store) UpdateProvider(ctx context.Context, p *domain.ProviderRecord) error {
	if p == nil || p.Key == "" || p.Issuer == "" {
		return storage.ErrValidation
	}

	var disabledAt any
	if p.DisabledAt != nil {
		disabledAt = p.DisabledAt.UTC().Format(time.RFC3339)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET display_name = ?, issuer = ?, scheme_id = ?, discovery_url = ?, audience = ?,
			clock_skew_seconds = ?, active = ?, bootstrap = ?, disabled_at = ?, disable_grace_minutes = ?,
			claim_subject = ?, claim_role = ?, claim_email = ?, auto_provision = ?, default_role = ?, updated_at = ?
		 WHERE key = ?`,
		p.DisplayName, p.Issuer, p.SchemeID, p.DiscoveryURL, p.Audience,
		p.ClockSkewSeconds, boolToInt(p.Active), boolToInt(p.Bootstrap), disabledAt, p.DisableGraceMinutes,
		p.ClaimPaths.Subject, p.ClaimPaths.Role, p.ClaimPaths.Email,
		boolToInt(p.AutoProvision), p.DefaultRole, p.UpdatedAt.UTC().Format(time.RFC3339),
		p.Key,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") && strings.Contains(err.Error(), "issuer") {
			return storage.ErrDuplicateIssuer
		}
		return storage.WrapIfConflict(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteProvider removes a provider by key.
func (s *Store) DeleteProvider(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE key = ?`, key)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProviderFields(row scanner) (*domain.ProviderRecord, error) {
	var p domain.ProviderRecord
	var active, bootstrap, autoProvision int
	var disabledAt sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&p.Key, &p.DisplayName, &p.Issuer, &p.SchemeID, &p.DiscoveryURL, &p.Audience, &p.ClockSkewSeconds,
		&active, &bootstrap, &disabledAt, &p.DisableGraceMinutes,
		&p.ClaimPaths.Subject, &p.ClaimPaths.Role, &p.ClaimPaths.Email,
		&autoProvision, &p.DefaultRole, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	p.Active = active == 1
	p.Bootstrap = bootstrap == 1
	p.AutoProvision = autoProvision == 1
	if disabledAt.Valid && disabledAt.String != "" {
		if t, err := time.Parse(time.RFC3339, disabledAt.String); err == nil {
			p.DisabledAt = &t
		}
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func scanProvider(row *sql.Row) (*domain.ProviderRecord, error) {
	p, err := scanProviderFields(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}
