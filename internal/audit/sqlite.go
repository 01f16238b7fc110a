//go:build sqlite

package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-less SQLite driver
)

// SQLiteAuditLogger is a SQLite-backed implementation of AuditLogger.
type SQLiteAuditLogger struct {
	db *sql.DB
}

// NewSQLiteAuditLogger creates a new SQLite-backed audit logger.
// It shares the same database as the main store.
func NewSQLiteAuditLogger(dsn string) (*SQLiteAuditLogger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteAuditLogger{db: db}, nil
}

// NewSQLiteAuditLoggerFromDB creates an audit logger using an existing DB
// connection.
func NewSQLiteAuditLoggerFromDB(db *sql.DB) (*SQLiteAuditLogger, error) {
	if err := ensureSQLiteSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAuditLogger{db: db}, nil
}

func ensureSQLiteSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
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
			status_code INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor);
		CREATE INDEX IF NOT EXISTS idx_audit_events_decision ON audit_events(decision);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteAuditLogger) Close() error {
	return s.db.Close()
}

// Log records an access decision to the database.
func (s *SQLiteAuditLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, timestamp, actor, actor_type, provider_key, subject,
			method, path, required_level, effective_level, statement_type, decision,
			reason, request_id, ip_address, status_code, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.Timestamp.Format(time.RFC3339Nano),
		event.Actor,
		event.ActorType,
		nullStr(event.ProviderKey),
		nullStr(event.Subject),
		event.Method,
		event.Path,
		event.RequiredLevel,
		event.EffectiveLevel,
		nullStr(event.StatementType),
		event.Decision,
		nullStr(event.Reason),
		nullStr(event.RequestID),
		nullStr(event.IPAddress),
		event.StatusCode,
		event.DurationMS,
	)
	return err
}

// List retrieves events with optional filtering, newest first.
func (s *SQLiteAuditLogger) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	where := "1=1"
	args := []any{}

	if opts.Actor != "" {
		where += " AND actor = ?"
		args = append(args, opts.Actor)
	}
	if opts.ProviderKey != "" {
		where += " AND provider_key = ?"
		args = append(args, opts.ProviderKey)
	}
	if opts.Decision != "" {
		where += " AND decision = ?"
		args = append(args, opts.Decision)
	}
	if opts.Since != nil {
		where += " AND timestamp >= ?"
		args = append(args, opts.Since.Format(time.RFC3339Nano))
	}
	if opts.Until != nil {
		where += " AND timestamp <= ?"
		args = append(args, opts.Until.Format(time.RFC3339Nano))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_events WHERE " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	query := `SELECT id, timestamp, actor, actor_type, provider_key, subject, method, path,
		required_level, effective_level, statement_type, decision, reason, request_id,
		ip_address, status_code, duration_ms
		FROM audit_events WHERE ` + where + " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var timestamp string
		var providerKey, subject, statementType, reason, requestID, ipAddress sql.NullString

		if err := rows.Scan(&e.ID, &timestamp, &e.Actor, &e.ActorType, &providerKey, &subject,
			&e.Method, &e.Path, &e.RequiredLevel, &e.EffectiveLevel, &statementType,
			&e.Decision, &reason, &requestID, &ipAddress, &e.StatusCode, &e.DurationMS); err != nil {
			return nil, 0, err
		}

		e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		e.ProviderKey = providerKey.String
		e.Subject = subject.String
		e.StatementType = statementType.String
		e.Reason = reason.String
		e.RequestID = requestID.String
		e.IPAddress = ipAddress.String

		events = append(events, &e)
	}
	return events, total, rows.Err()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
