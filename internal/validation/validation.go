// Package validation provides input validation for admin API requests.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"vibegate/internal/auth"
	"vibegate/internal/domain"
)

// Validation error types for specific error handling.
var (
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrTooLong       = errors.New("value exceeds maximum length")
	ErrInvalidFormat = errors.New("invalid format")
	ErrInvalidLevel  = errors.New("unknown permission level")
	ErrInsecureURL   = errors.New("url must use https")
)

// Constraints for validation.
const (
	MaxKeyLength    = 64
	MaxNameLength   = 255
	MaxIssuerLength = 512
	MaxSkewSeconds  = 600
)

// keyPattern matches provider keys and tenant ids: lowercase alphanumeric
// with hyphens, starting with a letter.
var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// FieldError carries the offending field and a human-readable reason.
type FieldError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, truncate(e.Value, 50), e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, truncate(e.Value, 50), e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValidateKey validates a provider key or tenant id.
func ValidateKey(field, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &FieldError{Field: field, Value: key, Reason: "cannot be empty", Err: ErrEmptyValue}
	}
	if len(key) > MaxKeyLength {
		return &FieldError{
			Field: field, Value: key,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxKeyLength),
			Err:    ErrTooLong,
		}
	}
	if !keyPattern.MatchString(key) {
		return &FieldError{
			Field: field, Value: key,
			Reason: "must be lowercase alphanumeric with hyphens, starting with a letter",
			Err:    ErrInvalidFormat,
		}
	}
	return nil
}

// ValidateIssuer validates an issuer URL. Issuers must be absolute https
// URLs; http is allowed only for loopback addresses (local development).
func ValidateIssuer(issuer string) error {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return &FieldError{Field: "issuer", Value: issuer, Reason: "cannot be empty", Err: ErrEmptyValue}
	}
	if len(issuer) > MaxIssuerLength {
		return &FieldError{
			Field: "issuer", Value: issuer,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxIssuerLength),
			Err:    ErrTooLong,
		}
	}
	u, err := url.Parse(issuer)
	if err != nil || u.Host == "" {
		return &FieldError{Field: "issuer", Value: issuer, Reason: "must be an absolute url", Err: ErrInvalidFormat}
	}
	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return &FieldError{Field: "issuer", Value: issuer, Reason: "http is only allowed for loopback hosts", Err: ErrInsecureURL}
		}
	default:
		return &FieldError{Field: "issuer", Value: issuer, Reason: "must use https", Err: ErrInsecureURL}
	}
	if u.Fragment != "" || u.RawQuery != "" {
		return &FieldError{Field: "issuer", Value: issuer, Reason: "must not carry query or fragment", Err: ErrInvalidFormat}
	}
	return nil
}

// ValidateLevelName validates a configured permission level name.
// "none" is accepted: a mapping may exist purely for its denied statements.
func ValidateLevelName(field, level string) error {
	if !auth.IsValidLevelName(level) {
		return &FieldError{
			Field: field, Value: level,
			Reason: "must be one of none, read, write, schema, admin",
			Err:    ErrInvalidLevel,
		}
	}
	return nil
}

// ValidateProvider validates a provider record for create or update.
func ValidateProvider(p *domain.ProviderRecord) error {
	if err := ValidateKey("provider key", p.Key); err != nil {
		return err
	}
	if err := ValidateIssuer(p.Issuer); err != nil {
		return err
	}
	if len(p.DisplayName) > MaxNameLength {
		return &FieldError{
			Field: "display_name", Value: p.DisplayName,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxNameLength),
			Err:    ErrTooLong,
		}
	}
	if p.ClockSkewSeconds < 0 || p.ClockSkewSeconds > MaxSkewSeconds {
		return &FieldError{
			Field: "clock_skew_seconds", Value: fmt.Sprint(p.ClockSkewSeconds),
			Reason: fmt.Sprintf("must be between 0 and %d", MaxSkewSeconds),
			Err:    ErrInvalidFormat,
		}
	}
	if p.DisableGraceMinutes < 0 {
		return &FieldError{
			Field: "disable_grace_minutes", Value: fmt.Sprint(p.DisableGraceMinutes),
			Reason: "must not be negative",
			Err:    ErrInvalidFormat,
		}
	}
	if p.DefaultRole != "" && len(p.DefaultRole) > MaxNameLength {
		return &FieldError{Field: "default_role", Value: p.DefaultRole, Err: ErrTooLong,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxNameLength)}
	}
	return nil
}

// ValidateRoleMapping validates a role mapping for create or update.
func ValidateRoleMapping(m *domain.RoleMapping) error {
	if err := ValidateKey("provider key", m.ProviderKey); err != nil {
		return err
	}
	if strings.TrimSpace(m.ExternalRole) == "" {
		return &FieldError{Field: "external_role", Value: m.ExternalRole, Reason: "cannot be empty", Err: ErrEmptyValue}
	}
	if len(m.ExternalRole) > MaxNameLength {
		return &FieldError{Field: "external_role", Value: m.ExternalRole, Err: ErrTooLong,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxNameLength)}
	}
	if err := ValidateLevelName("permission_level", m.PermissionLevel); err != nil {
		return err
	}
	for _, stmt := range m.DeniedStatements {
		if strings.TrimSpace(stmt) == "" {
			return &FieldError{Field: "denied_statements", Value: stmt, Reason: "entries cannot be empty", Err: ErrEmptyValue}
		}
	}
	return nil
}

// ValidateClientMapping validates a client mapping for create or update.
func ValidateClientMapping(m *domain.ClientMapping) error {
	if err := ValidateKey("provider key", m.ProviderKey); err != nil {
		return err
	}
	if err := ValidateKey("tenant id", m.TenantID); err != nil {
		return err
	}
	if err := ValidateLevelName("max_permission_level", m.MaxPermissionLevel); err != nil {
		return err
	}
	if len(m.Tier) > MaxNameLength {
		return &FieldError{Field: "tier", Value: m.Tier, Err: ErrTooLong,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxNameLength)}
	}
	return nil
}

// truncate shortens a string for display in error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
