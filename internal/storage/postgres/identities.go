//go:build postgres

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"vibegate/internal/domain"
	"vibegate/internal/storage"
)

// CreateIdentity stores a new federated identity. Returns ErrConflict when the
// (provider key, subject) pair already exists.
func (s *Store) CreateIdentity(ctx context.Context, id *domain.FederatedIdentity) error {
	if id == nil || id.ProviderKey == "" || id.Subject == "" || id.InternalUserID <= 0 {
		return storage.ErrValidation
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO federated_identities (provider_key, subject, internal_user_id, email, display_name, active, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id.ProviderKey, id.Subject, id.InternalUserID, id.Email, id.DisplayName,
		id.Active, id.FirstSeenAt.UTC(), id.LastSeenAt.UTC(),
	)
	return storage.WrapIfConflict(err)
}

// GetIdentity retrieves an identity by provider key and subject.
func (s *Store) GetIdentity(ctx context.Context, providerKey, subject string) (*domain.FederatedIdentity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT provider_key, subject, internal_user_id, email, display_name, active, first_seen_at, last_seen_at
		 FROM federated_identities WHERE provider_key = $1 AND subject = $2`,
		providerKey, subject)
	id, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return id, nil
}

// ListIdentities returns identities ordered by internal user id, optionally
// filtered by provider, with pagination. The second return value is the total
// match count before pagination.
func (s *Store) ListIdentities(ctx context.Context, providerKey string, limit, offset int) ([]*domain.FederatedIdentity, int, error) {
	where := ""
	countArgs := []any{}
	if providerKey != "" {
		where = ` WHERE provider_key = $1`
		countArgs = append(countArgs, providerKey)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM federated_identities`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = total
	}
	if offset < 0 {
		offset = 0
	}

	var rows pgx.Rows
	var err error
	if providerKey != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT provider_key, subject, internal_user_id, email, display_name, active, first_seen_at, last_seen_at
			 FROM federated_identities WHERE provider_key = $1 ORDER BY internal_user_id LIMIT $2 OFFSET $3`,
			providerKey, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT provider_key, subject, internal_user_id, email, display_name, active, first_seen_at, last_seen_at
			 FROM federated_identities ORDER BY internal_user_id LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.FederatedIdentity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, id)
	}
	return out, total, rows.Err()
}

// TouchIdentity refreshes last-seen and, when non-empty, email.
func (s *Store) TouchIdentity(ctx context.Context, providerKey, subject, email string, seenAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE federated_identities
		 SET last_seen_at = $1, email = CASE WHEN $2 = '' THEN email ELSE $2 END
		 WHERE provider_key = $3 AND subject = $4`,
		seenAt.UTC(), email, providerKey, subject)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetIdentityActive activates or deactivates an identity.
func (s *Store) SetIdentityActive(ctx context.Context, providerKey, subject string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE federated_identities SET active = $1 WHERE provider_key = $2 AND subject = $3`,
		active, providerKey, subject)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MaxInternalUserID returns the highest allocated internal user id, or 0 when
// no identities exist.
func (s *Store) MaxInternalUserID(ctx context.Context) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(internal_user_id), 0) FROM federated_identities`).Scan(&max)
	return max, err
}

func scanIdentity(row pgx.Row) (*domain.FederatedIdentity, error) {
	var id domain.FederatedIdentity
	var firstSeen, lastSeen time.Time
	if err := row.Scan(&id.ProviderKey, &id.Subject, &id.InternalUserID, &id.Email, &id.DisplayName,
		&id.Active, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}
	id.FirstSeenAt = firstSeen
	id.LastSeenAt = lastSeen
	return &id, nil
}
