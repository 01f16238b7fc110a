package auth

import "context"

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the fully resolved caller identity attached to a request
// after authentication and permission resolution.
type Principal struct {
	// UserID is the internal user id the federated identity resolved to.
	// Zero for admin-key callers.
	UserID int64

	// Subject is the external subject claim from the verified token.
	Subject string

	// ProviderKey identifies the provider that authenticated the caller.
	ProviderKey string

	Email string
	Roles []string

	// Level is the effective permission level after role resolution and
	// any tenant ceiling.
	Level Level

	// DeniedStatements is the union of denied statement tags across the
	// caller's matched role mappings.
	DeniedStatements []string

	TenantID string
	Tier     string

	// AdminKey marks callers authenticated with the bootstrap admin key
	// rather than a provider token.
	AdminKey bool
}

// ContextWithPrincipal returns a new context with the principal stored in it.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the principal from the context.
// Returns nil if no principal is present.
func PrincipalFromContext(ctx context.Context) *Principal {
	if ctx == nil {
		return nil
	}
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// EffectiveLevel returns the permission level of the context's principal,
// or LevelNone when no principal is present.
func EffectiveLevel(ctx context.Context) Level {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.Level
	}
	return LevelNone
}
