package api

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"vibegate/internal/observability"
)

const (
	requestIDHeader        = "X-Request-ID"
	maxRequestIDLength     = 64
	rateLimiterVisitorTTL  = 5 * time.Minute
	minimumCleanupInterval = 30 * time.Second
)

// Middleware wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

// ApplyMiddlewares applies the provided middleware in order, where the first
// middleware in the list is the outermost handler.
func ApplyMiddlewares(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestIDMiddleware ensures every request carries a stable request ID.
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := sanitizeRequestID(r.Header.Get(requestIDHeader))
			if requestID == "" {
				requestID = uuid.New().String()
			}
			ctx := observability.WithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)
			w.Header().Set(requestIDHeader, requestID)
			next.ServeHTTP(w, r)
		})
	}
}

func sanitizeRequestID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxRequestIDLength {
		return ""
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return ""
		}
	}
	return id
}

// LoggingMiddleware records structured request logs and wires Sentry tracing.
func LoggingMiddleware(logger observability.Logger) Middleware {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			hub := sentry.GetHubFromContext(ctx)
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
				ctx = sentry.SetHubOnContext(ctx, hub)
				r = r.WithContext(ctx)
			}

			transaction := sentry.StartTransaction(
				ctx,
				fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				sentry.WithOpName("http.server"),
				sentry.ContinueFromRequest(r),
				sentry.WithTransactionSource(sentry.SourceURL),
			)
			defer transaction.Finish()
			r = r.WithContext(transaction.Context())
			ctx = r.Context()

			hub.Scope().SetRequest(r)

			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			var panicRecovered any

			defer func() {
				if rec := recover(); rec != nil {
					panicRecovered = rec
					transaction.Status = sentry.SpanStatusInternalError
					hub.RecoverWithContext(ctx, rec)
					attrs := appendRequestID(ctx, []any{
						"method", r.Method,
						"path", r.URL.Path,
						"panic", rec,
					})
					logger.ErrorContext(ctx, "panic recovered", attrs...)
					writeJSON(recorder, http.StatusInternalServerError,
						envelope{Success: false, Error: &errorBody{Code: CodeInternal, Message: "internal error"}})
				}
			}()

			next.ServeHTTP(recorder, r)

			if panicRecovered != nil {
				return
			}

			transaction.Status = sentry.HTTPtoSpanStatus(recorder.status)
			duration := time.Since(start)
			attrs := appendRequestID(r.Context(), []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration_ms", duration.Milliseconds(),
			})

			switch {
			case recorder.status >= 500:
				logger.ErrorContext(r.Context(), "request completed", attrs...)
			case recorder.status >= 400:
				logger.WarnContext(r.Context(), "request completed", attrs...)
			default:
				logger.InfoContext(r.Context(), "request completed", attrs...)
			}
		})
	}
}

// RateLimitConfig configures the token bucket rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Enabled reports whether rate limiting should be enforced.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerSecond > 0 && c.Burst > 0
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware enforces per-client-IP rate limiting using a token
// bucket. Exceeding the limit yields 429 RATE_LIMITED with a Retry-After
// header.
func RateLimitMiddleware(cfg RateLimitConfig, logger observability.Logger) Middleware {
	if !cfg.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}

	var (
		mu          sync.Mutex
		visitors    = make(map[string]*clientLimiter)
		lastCleanup time.Time
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			key := clientIP(r)

			mu.Lock()
			v, ok := visitors[key]
			if !ok {
				v = &clientLimiter{
					limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
					lastSeen: now,
				}
				visitors[key] = v
			} else {
				v.lastSeen = now
			}

			if lastCleanup.IsZero() || now.Sub(lastCleanup) > minimumCleanupInterval {
				for k, limiter := range visitors {
					if now.Sub(limiter.lastSeen) > rateLimiterVisitorTTL {
						delete(visitors, k)
					}
				}
				lastCleanup = now
			}
			mu.Unlock()

			w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64))
			remaining := int(math.Floor(v.limiter.Tokens()))
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !v.limiter.AllowN(now, 1) {
				attrs := appendRequestID(r.Context(), []any{
					"method", r.Method,
					"path", r.URL.Path,
					"client", key,
				})
				logger.WarnContext(r.Context(), "rate limit exceeded", attrs...)
				retryAfter := int(math.Ceil(1 / cfg.RequestsPerSecond))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeJSON(w, http.StatusTooManyRequests,
					envelope{Success: false, Error: &errorBody{Code: CodeRateLimited, Message: "too many requests"}})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the remote host for rate limiting and audit records.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// appendRequestID adds the request id to a log attribute list when present.
func appendRequestID(ctx context.Context, attrs []any) []any {
	if id := observability.RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	return attrs
}
