// Package api implements the gateway's HTTP surface: the middleware
// pipeline (request id, logging, rate limiting, authentication, permission
// enforcement), the query proxy, the admin configuration API, and the
// health and metrics endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"vibegate/internal/audit"
	"vibegate/internal/auth"
	"vibegate/internal/auth/oidc"
	"vibegate/internal/observability"
	"vibegate/internal/proxy"
	"vibegate/internal/registry"
	"vibegate/internal/storage"
)

// Error codes returned in the error envelope.
const (
	CodeAuthFailed            = "AUTH_FAILED"
	CodeClaimExtractionFailed = "CLAIM_EXTRACTION_FAILED"
	CodeIdentityNotResolved   = "IDENTITY_NOT_RESOLVED"
	CodeInvalidSQL            = "INVALID_SQL"
	CodePermissionDenied      = "PERMISSION_DENIED"
	CodeStatementDenied       = "STATEMENT_DENIED"
	CodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamTimeout       = "UPSTREAM_TIMEOUT"
	CodeRequestAborted        = "REQUEST_ABORTED"
	CodeRateLimited           = "RATE_LIMITED"
	CodeNotFound              = "NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeInternal              = "INTERNAL"
)

// StatusClientClosedRequest mirrors nginx's non-standard 499: the client
// went away before the upstream answered.
const StatusClientClosedRequest = 499

// errorBody is the error half of the response envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the JSON shape of every rejection the gateway produces.
type envelope struct {
	Success bool       `json:"success"`
	Error   *errorBody `json:"error,omitempty"`
}

// RefreshTrigger requests an immediate provider reconcile cycle.
// Implemented by registry.RefreshLoop.
type RefreshTrigger interface {
	TriggerNow()
}

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Store       storage.Store
	Registrar   *oidc.Registrar
	Registry    *registry.Registry
	Forwarder   *proxy.Forwarder
	Audit       audit.AuditLogger
	Refresh     RefreshTrigger
	Metrics     *observability.Metrics
	Logger      observability.Logger

	// AdminKey is the bootstrap admin credential; nil disables key auth.
	AdminKey *auth.AdminKey

	// TenantClaim names the token claim carrying the tenant id.
	// Defaults to "tenant_id".
	TenantClaim string

	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// Server handles all gateway HTTP traffic.
type Server struct {
	store       storage.Store
	registrar   *oidc.Registrar
	registry    *registry.Registry
	selector    *oidc.Selector
	identities  *auth.IdentityResolver
	permissions *auth.PermissionResolver
	forwarder   *proxy.Forwarder
	audit       audit.AuditLogger
	refresh     RefreshTrigger
	metrics     *observability.Metrics
	logger      observability.Logger
	adminKey    *auth.AdminKey
	tenantClaim string
	rateLimit   float64
	rateBurst   int
	adminMux    *http.ServeMux
	now         func() time.Time
}

// NewServer assembles the server from its collaborators.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	tenantClaim := cfg.TenantClaim
	if tenantClaim == "" {
		tenantClaim = "tenant_id"
	}

	s := &Server{
		store:       cfg.Store,
		registrar:   cfg.Registrar,
		registry:    cfg.Registry,
		selector:    oidc.NewSelector(cfg.Registry),
		identities:  auth.NewIdentityResolver(cfg.Store, auth.NewSequenceAllocator(cfg.Store), logger),
		permissions: auth.NewPermissionResolver(cfg.Store, cfg.Store),
		forwarder:   cfg.Forwarder,
		audit:       cfg.Audit,
		refresh:     cfg.Refresh,
		metrics:     cfg.Metrics,
		logger:      logger.WithComponent("api"),
		adminKey:    cfg.AdminKey,
		tenantClaim: tenantClaim,
		rateLimit:   cfg.RateLimit,
		rateBurst:   cfg.RateBurst,
		now:         time.Now,
	}
	s.adminMux = s.buildAdminMux()
	return s
}

// Handler returns the fully assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	protected := ApplyMiddlewares(
		http.HandlerFunc(s.dispatch),
		s.authenticate,
		s.enforce,
	)
	mux.Handle("/", protected)

	var h http.Handler = mux
	if s.metrics != nil {
		h = observability.MetricsMiddleware(s.metrics)(h)
	}
	return ApplyMiddlewares(h,
		RequestIDMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(RateLimitConfig{RequestsPerSecond: s.rateLimit, Burst: s.rateBurst}, s.logger),
	)
}

// dispatch routes an authenticated, authorized request to the admin API or
// the upstream forwarder.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if isAdminPath(r.URL.Path) {
		s.adminMux.ServeHTTP(w, r)
		return
	}
	s.handleProxy(w, r)
}

// handleProxy relays an authorized request to the backend query service.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	meta := proxy.ForwardMeta{}
	if p != nil {
		meta.UserID = p.UserID
		meta.TenantID = p.TenantID
		meta.Tier = p.Tier
	}

	err := s.forwarder.Forward(w, r, meta)
	if err == nil {
		s.recordProxyOutcome("forwarded")
		return
	}

	switch {
	case errors.Is(err, proxy.ErrUpstreamTimeout):
		s.recordProxyOutcome("timeout")
		s.writeError(w, r, http.StatusGatewayTimeout, CodeUpstreamTimeout, "backend did not respond in time")
	case errors.Is(err, proxy.ErrRequestAborted):
		s.recordProxyOutcome("aborted")
		s.writeError(w, r, StatusClientClosedRequest, CodeRequestAborted, "request aborted by client")
	case errors.Is(err, proxy.ErrUpstreamUnavailable):
		s.recordProxyOutcome("unavailable")
		s.writeError(w, r, http.StatusBadGateway, CodeUpstreamUnavailable, "backend is unavailable")
	default:
		s.recordProxyOutcome("error")
		s.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func (s *Server) recordProxyOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordProxyOutcome(outcome)
	}
}

// writeJSON writes a success payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the rejection envelope. 5xx responses are captured in
// sentry; everything is logged with the request id.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	ctx := r.Context()
	attrs := appendRequestID(ctx, []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"code", code,
	})
	if status >= 500 {
		s.logger.ErrorContext(ctx, message, attrs...)
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			hub.CaptureMessage(fmt.Sprintf("%s: %s", code, message))
		}
	} else {
		s.logger.WarnContext(ctx, message, attrs...)
	}
	writeJSON(w, status, envelope{Success: false, Error: &errorBody{Code: code, Message: message}})
}

// writeStoreErr maps storage sentinel errors onto the envelope.
func (s *Server) writeStoreErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
	case errors.Is(err, storage.ErrConflict):
		s.writeError(w, r, http.StatusConflict, CodeConflict, "resource already exists")
	case errors.Is(err, storage.ErrValidation):
		s.writeError(w, r, http.StatusBadRequest, CodeValidationFailed, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "store operation failed", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// statusRecorder captures the response status for logging and auditing.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
