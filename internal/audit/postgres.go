//go:build postgres

package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAuditLogger is a PostgreSQL-backed implementation of AuditLogger.
type PostgresAuditLogger struct {
	pool    *pgxpool.Pool
	ownPool bool // true if we created the pool (and should close it)
}

// NewPostgresAuditLogger creates a new PostgreSQL-backed audit logger with
// its own connection pool.
func NewPostgresAuditLogger(connStr string) (*PostgresAuditLogger, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, err
	}
	l := &PostgresAuditLogger{pool: pool, ownPool: true}
	if err := l.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// NewPostgresAuditLoggerFromPool creates an audit logger using an existing pool.
func NewPostgresAuditLoggerFromPool(pool *pgxpool.Pool) (*PostgresAuditLogger, error) {
	l := &PostgresAuditLogger{pool: pool, ownPool: false}
	if err := l.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresAuditLogger) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			actor TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			provider_key TEXT,
			subject TEXT,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			required_level TEXT NOT NULL,
			effective_level TEXT NOT NULL,
			statement_type TEXT,
			decision TEXT NOT NULL,
			reason TEXT,
			request_id TEXT,
			ip_address TEXT,
			status_code INT NOT NULL,
			duration_ms BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor);
		CREATE INDEX IF NOT EXISTS idx_audit_events_decision ON audit_events(decision);
	`)
	return err
}

// Close closes the database connection if we own it.
func (s *PostgresAuditLogger) Close() error {
	if s.ownPool {
		s.pool.Close()
	}
	return nil
}

// Log records an access decision to the database.
func (s *PostgresAuditLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, timestamp, actor, actor_type, provider_key, subject,
			method, path, required_level, effective_level, statement_type, decision,
			reason, request_id, ip_address, status_code, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		event.ID, event.Timestamp, event.Actor, event.ActorType,
		textOrNil(event.ProviderKey), textOrNil(event.Subject),
		event.Method, event.Path, event.RequiredLevel, event.EffectiveLevel,
		textOrNil(event.StatementType), event.Decision,
		textOrNil(event.Reason), textOrNil(event.RequestID), textOrNil(event.IPAddress),
		event.StatusCode, event.DurationMS,
	)
	return err
}

// List retrieves events with optional filtering, newest first.
func (s *PostgresAuditLogger) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	where := "TRUE"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if opts.Actor != "" {
		where += " AND actor = " + arg(opts.Actor)
	}
	if opts.ProviderKey != "" {
		where += " AND provider_key = " + arg(opts.ProviderKey)
	}
	if opts.Decision != "" {
		where += " AND decision = " + arg(opts.Decision)
	}
	if opts.Since != nil {
		where += " AND timestamp >= " + arg(*opts.Since)
	}
	if opts.Until != nil {
		where += " AND timestamp <= " + arg(*opts.Until)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_events WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	query := `SELECT id, timestamp, actor, actor_type,
		COALESCE(provider_key, ''), COALESCE(subject, ''), method, path,
		required_level, effective_level, COALESCE(statement_type, ''), decision,
		COALESCE(reason, ''), COALESCE(request_id, ''), COALESCE(ip_address, ''),
		status_code, duration_ms
		FROM audit_events WHERE ` + where +
		" ORDER BY timestamp DESC LIMIT " + arg(opts.Limit) + " OFFSET " + arg(opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.ActorType,
			&e.ProviderKey, &e.Subject, &e.Method, &e.Path,
			&e.RequiredLevel, &e.EffectiveLevel, &e.StatementType, &e.Decision,
			&e.Reason, &e.RequestID, &e.IPAddress, &e.StatusCode, &e.DurationMS); err != nil {
			return nil, 0, err
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}

func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

