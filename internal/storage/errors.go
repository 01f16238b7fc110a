package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the storage layer.
// HTTP handlers should use errors.Is() to map these to appropriate HTTP status codes.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the operation conflicts with existing state
	// (e.g., a duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates the input failed validation
	// (e.g., missing required fields).
	ErrValidation = errors.New("validation error")

	// ErrDuplicateIssuer indicates a provider with the same issuer already
	// exists. Issuers must be unique because they are the sole lookup key
	// for provider selection.
	ErrDuplicateIssuer = fmt.Errorf("%w: issuer already registered", ErrConflict)
)

// WrapIfConflict wraps a database error as ErrConflict if it represents a
// unique constraint violation. This detects UNIQUE errors from SQLite drivers
// and duplicate-key errors from PostgreSQL.
func WrapIfConflict(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
