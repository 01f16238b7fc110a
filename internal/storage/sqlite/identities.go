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

// CreateIdentity stores a new federated identity. Returns ErrConflict when the
// (provider key, subject) pair already exists.
func (s *Store) CreateIdentity(ctx context.Context, id *domain.FederatedIdentity) error {
	if id == nil || id.ProviderKey == "" || id.Subject == "" || id.InternalUserID <= 0 {
		return storage.ErrValidation
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO federated_identities (provider_key, subject, internal_user_id, email, display_name, active, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.ProviderKey, id.Subject, id.InternalUserID, id.Email, id.DisplayName,
		boolToInt(id.Active),
		id.FirstSeenAt.UTC().Format(time.RFC3339), id.LastSeenAt.UTC().Format(time.RFC3339),
	)
	return storage.WrapIfConflict(err)
}

// GetIdentity retrieves an identity by provider key and subject.
func (s *Store) GetIdentity(ctx context.Context, providerKey, subject string) (*domain.FederatedIdentity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT provider_key, subject, internal_user_id, email, display_name, active, first_seen_at, last_seen_at
		 FROM federated_identities WHERE provider_key = ? AND subject = ?`,
		providerKey, subject)
	id, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	args := []any{}
	if providerKey != "" {
		where = ` WHERE provider_key = ?`
		args = append(args, providerKey)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM federated_identities`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT provider_key, subject, internal_user_id, email, display_name, active, first_seen_at, last_seen_at
		 FROM federated_identities` + where + ` ORDER BY internal_user_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	} else {
		query += ` LIMIT -1`
	}
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE federated_identities
		 SET last_seen_at = ?, email = CASE WHEN ? = '' THEN email ELSE ? END
		 WHERE provider_key = ? AND subject = ?`,
		seenAt.UTC().Format(time.RFC3339), email, email, providerKey, subject)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetIdentityActive activates or deactivates an identity.
func (s *Store) SetIdentityActive(ctx context.Context, providerKey, subject string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE federated_identities SET active = ? WHERE provider_key = ? AND subject = ?`,
		boolToInt(active), providerKey, subject)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MaxInternalUserID returns the highest allocated internal user id, or 0 when
// no identities exist.
func (s *Store) MaxInternalUserID(ctx context.Context) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(internal_user_id), 0) FROM federated_identities`).Scan(&max)
	return max, err
}

func scanIdentity(row scanner) (*domain.FederatedIdentity, error) {
	var id domain.FederatedIdentity
	var active int
	var firstSeen, lastSeen string
	if err := row.Scan(&id.ProviderKey, &id.Subject, &id.InternalUserID, &id.Email, &id.DisplayName,
		&active, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}
	id.Active = active == 1
	id.FirstSeenAt, _ = time.Parse(time.RFC3339, firstSeen)
	id.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeen)
	return &id, nil
}
