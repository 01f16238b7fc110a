//go:build postgres

package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO providers (`+providerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.Key, p.DisplayName, p.Issuer, p.SchemeID, p.DiscoveryURL, p.Audience, p.ClockSkewSeconds,
		p.Active, p.Bootstrap, p.DisabledAt, p.DisableGraceMinutes,
		p.ClaimPaths.Subject, p.ClaimPaths.Role, p.ClaimPaths.Email,
		p.AutoProvision, p.DefaultRole, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") && strings.Contains(err.Error(), "issuer") {
			return storage.ErrDuplicateIssuer
		}
		return storage.WrapIfConflict(err)
	}
	return nil
}

// GetProvider retrieves a provider by key.
func (s *Store) GetProvider(ctx context.Context, key string) (*domain.ProviderRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE key = $1`, key)
	return scanProviderRow(row)
}

// GetProviderByIssuer retrieves a provider by issuer.
func (s *Store) GetProviderByIssuer(ctx context.Context, issuer string) (*domain.ProviderRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE issuer = $1`, issuer)
	return scanProviderRow(row)
}

// ListProviders returns all provider records ordered by key.
func (s *Store) ListProviders(ctx context.Context) ([]*domain.ProviderRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+providerColumns+` FROM providers ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ProviderRecord
	for rows.Next() {
		p, err := scanProvider(rows)
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

	tag, err := s.pool.Exec(ctx,
		`UPDATE providers SET display_name = $1, issuer = $2, scheme_id = $3, discovery_url = $4, audience = $5,
			clock_skew_seconds = $6, active = $7, bootstrap = $8, disabled_at = $9, disable_grace_minutes = $10,
			claim_subject = $11, claim_role = $12, claim_email = $13, auto_provision = $14, default_role = $15, updated_at = $16
		 WHERE key = $17`,
		p.DisplayName, p.Issuer, p.SchemeID, p.DiscoveryURL, p.Audience,
		p.ClockSkewSeconds, p.Active, p.Bootstrap, p.DisabledAt, p.DisableGraceMinutes,
		p.ClaimPaths.Subject, p.ClaimPaths.Role, p.ClaimPaths.Email,
		p.AutoProvision, p.DefaultRole, p.UpdatedAt.UTC(),
		p.Key,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") && strings.Contains(err.Error(), "issuer") {
			return storage.ErrDuplicateIssuer
		}
		return storage.WrapIfConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteProvider removes a provider by key.
func (s *Store) DeleteProvider(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM providers WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanProvider(row pgx.Row) (*domain.ProviderRecord, error) {
	var p domain.ProviderRecord
	var disabledAt *time.Time
	var createdAt, updatedAt time.Time

	if err := row.Scan(&p.Key, &p.DisplayName, &p.Issuer, &p.SchemeID, &p.DiscoveryURL, &p.Audience, &p.ClockSkewSeconds,
		&p.Active, &p.Bootstrap, &disabledAt, &p.DisableGraceMinutes,
		&p.ClaimPaths.Subject, &p.ClaimPaths.Role, &p.ClaimPaths.Email,
		&p.AutoProvision, &p.DefaultRole, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	p.DisabledAt = disabledAt
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return &p, nil
}

func scanProviderRow(row pgx.Row) (*domain.ProviderRecord, error) {
	p, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}
