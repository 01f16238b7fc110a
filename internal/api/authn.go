package api

import (
	"errors"
	"net/http"
	"strings"

	"vibegate/internal/audit"
	"vibegate/internal/auth"
	"vibegate/internal/auth/oidc"
	"vibegate/internal/observability"
)

// authenticate resolves the caller to a Principal before any enforcement
// runs. Two credential forms are accepted: the bootstrap admin key
// (vgk_ prefix) and a provider-issued bearer token. Token failures are
// answered with an opaque 401 so callers cannot probe provider
// configuration.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, err := oidc.BearerToken(r)
		if err != nil {
			s.denyAuth(w, r, audit.DecisionAuthFailed, "missing_token",
				http.StatusUnauthorized, CodeAuthFailed, "authentication required")
			return
		}

		if strings.HasPrefix(raw, auth.AdminKeyPrefix) {
			if err := auth.ValidateAdminKey(raw, s.adminKey); err != nil {
				s.denyAuth(w, r, audit.DecisionAuthFailed, "invalid_admin_key",
					http.StatusUnauthorized, CodeAuthFailed, "authentication failed")
				return
			}
			principal := &auth.Principal{
				Subject:  s.adminKey.Prefix,
				Level:    auth.LevelAdmin,
				AdminKey: true,
			}
			s.recordAuthOutcome("admin_key")
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(ctx, principal)))
			return
		}

		provider, err := s.selector.Select(raw)
		if err != nil {
			s.denyAuth(w, r, audit.DecisionAuthFailed, "no_provider",
				http.StatusUnauthorized, CodeAuthFailed, "authentication failed")
			return
		}

		claims, err := s.registrar.Verify(ctx, provider.SchemeID, raw)
		if err != nil {
			s.logger.DebugContext(ctx, "token verification failed",
				"provider", provider.Key, "error", err)
			s.denyAuth(w, r, audit.DecisionAuthFailed, "token_rejected",
				http.StatusUnauthorized, CodeAuthFailed, "authentication failed")
			return
		}

		extracted, err := oidc.Extract(claims, provider.ClaimPaths)
		if err != nil {
			s.denyAuth(w, r, audit.DecisionAuthFailed, "claim_extraction",
				http.StatusUnauthorized, CodeClaimExtractionFailed, err.Error())
			return
		}

		resolution, err := s.identities.Resolve(ctx, provider, extracted.Subject, extracted.Email)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrIdentityInactive), errors.Is(err, auth.ErrProvisioningDisabled):
				s.denyAuth(w, r, audit.DecisionIdentityDenied, "identity",
					http.StatusForbidden, CodeIdentityNotResolved, "identity could not be resolved")
			default:
				s.logger.ErrorContext(ctx, "identity resolution failed",
					"provider", provider.Key, "error", err)
				s.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
			}
			return
		}

		roles := extracted.Roles
		if len(roles) == 0 && provider.DefaultRole != "" {
			roles = []string{provider.DefaultRole}
		}

		tenantID, _ := claims[s.tenantClaim].(string)

		decision, err := s.permissions.Resolve(ctx, provider.Key, roles, tenantID)
		if err != nil {
			s.logger.ErrorContext(ctx, "permission resolution failed",
				"provider", provider.Key, "error", err)
			s.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}

		principal := &auth.Principal{
			UserID:           resolution.UserID,
			Subject:          extracted.Subject,
			ProviderKey:      provider.Key,
			Email:            extracted.Email,
			Roles:            roles,
			Level:            decision.Level,
			DeniedStatements: decision.DeniedStatements,
			TenantID:         tenantID,
			Tier:             decision.Tier,
		}
		s.recordAuthOutcome("ok")
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(ctx, principal)))
	})
}

// denyAuth rejects an unauthenticated request and records the decision.
func (s *Server) denyAuth(w http.ResponseWriter, r *http.Request, decision, outcome string, status int, code, message string) {
	s.recordAuthOutcome(outcome)
	s.logDecision(r, &audit.Event{
		Actor:      "anonymous",
		ActorType:  audit.ActorTypeAnonymous,
		Method:     r.Method,
		Path:       r.URL.Path,
		Decision:   decision,
		Reason:     outcome,
		StatusCode: status,
	})
	s.writeError(w, r, status, code, message)
}

func (s *Server) recordAuthOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAuthOutcome(outcome)
	}
}

// logDecision writes an audit event, filling request-scoped fields.
func (s *Server) logDecision(r *http.Request, e *audit.Event) {
	if s.audit == nil {
		return
	}
	ctx := r.Context()
	if e.RequestID == "" {
		e.RequestID = observability.RequestIDFromContext(ctx)
	}
	if e.IPAddress == "" {
		e.IPAddress = clientIP(r)
	}
	if err := s.audit.Log(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "audit log write failed", "error", err)
	}
}
