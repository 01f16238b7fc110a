package oidc

import (
	"fmt"
	"strings"

	"vibegate/internal/domain"
)

// Claims is the identity information extracted from a verified token.
type Claims struct {
	Subject string
	Roles   []string
	Email   string
}

// Alias fallbacks tried when a provider does not configure an explicit claim
// path, in priority order. They cover the common IdPs (generic OIDC, Azure
// AD, ADFS).
var (
	subjectAliases = []string{"sub", "oid", "preferred_username", "upn", "email"}
	roleAliases    = []string{"roles", "groups", "role", "scp"}
	emailAliases   = []string{"email", "preferred_username", "upn"}
)

// Extract pulls the subject, roles, and email out of a verified claim
// payload using the provider's configured claim paths, falling back to the
// alias lists. A missing subject is fatal; missing roles yield an empty
// slice and a missing email an empty string.
func Extract(raw map[string]any, paths domain.ClaimPaths) (Claims, error) {
	var c Claims

	c.Subject = firstString(raw, paths.Subject, subjectAliases)
	if c.Subject == "" {
		tried := strings.Join(subjectAliases, ", ")
		if paths.Subject != "" {
			tried = paths.Subject + ", " + tried
		}
		return Claims{}, fmt.Errorf("no subject claim found (tried: %s)", tried)
	}

	c.Roles = roleValues(raw, paths.Role)
	c.Email = firstString(raw, paths.Email, emailAliases)
	return c, nil
}

// firstString returns the first non-empty string at the configured path,
// then at any of the aliases. A configured path narrows nothing: tokens
// missing it still resolve through the alias list.
func firstString(raw map[string]any, configured string, aliases []string) string {
	if configured != "" {
		if s, ok := lookup(raw, configured).(string); ok && s != "" {
			return s
		}
	}
	for _, alias := range aliases {
		if s, ok := lookup(raw, alias).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// roleValues collects role strings from the configured path, falling back
// to the first alias that carries any. Claims may be a single string
// (space-separated for scope-style claims) or an array.
func roleValues(raw map[string]any, configured string) []string {
	paths := roleAliases
	if configured != "" {
		paths = append([]string{configured}, roleAliases...)
	}
	for _, path := range paths {
		roles := stringsAt(lookup(raw, path))
		if len(roles) > 0 {
			return roles
		}
	}
	return nil
}

func stringsAt(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.Fields(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	}
	return nil
}

// lookup resolves a dotted path into nested claim objects. A plain claim
// name is the single-segment case.
func lookup(raw map[string]any, path string) any {
	if path == "" {
		return nil
	}
	segments := strings.Split(path, ".")
	var current any = raw
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}
