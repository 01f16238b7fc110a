// Package observability provides structured logging, metrics, and tracing.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsConfig holds configuration for the metrics subsystem.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool
	// Namespace prefix for all metrics (default: vibegate).
	Namespace string
	// Version is the application version for the info metric.
	Version string
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "vibegate",
		Version:   "dev",
	}
}

// MetricsConfigFromEnv creates a MetricsConfig from environment variables.
// VIBEGATE_METRICS_ENABLED: true/false (default: true)
// APP_VERSION: version string (default: dev)
func MetricsConfigFromEnv() MetricsConfig {
	cfg := DefaultMetricsConfig()

	if v := os.Getenv("VIBEGATE_METRICS_ENABLED"); v != "" {
		cfg.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("APP_VERSION"); v != "" {
		cfg.Version = v
	}
	return cfg
}

// Metrics provides application metrics collection.
// Thread-safe for concurrent use.
type Metrics struct {
	mu        sync.RWMutex
	namespace string
	version   string

	// HTTP request counters: key = "method:path:status"
	httpRequestCounts map[string]*atomic.Int64

	// HTTP request durations: key = "method:path"
	httpDurations  map[string]*durationCollector
	httpDurationMu sync.RWMutex

	// Authentication outcomes: key = outcome label
	// ("ok", "no_provider", "invalid_token", "claim_error", "identity_denied")
	authOutcomes  map[string]*atomic.Int64
	authOutcomeMu sync.RWMutex

	// Authorization decisions: key = decision label
	// ("allowed", "denied_permission", "denied_statement", "invalid_sql")
	authzDecisions  map[string]*atomic.Int64
	authzDecisionMu sync.RWMutex

	// Classifier results: key = statement type tag
	classifierResults  map[string]*atomic.Int64
	classifierResultMu sync.RWMutex

	// Proxy outcomes: key = upstream result
	// ("2xx", "3xx", "4xx", "5xx", "unavailable", "timeout", "aborted")
	proxyOutcomes  map[string]*atomic.Int64
	proxyOutcomeMu sync.RWMutex

	// Rate limiter counters
	rateLimitAllowed  atomic.Int64
	rateLimitRejected atomic.Int64

	// Active connections gauge
	activeConnections atomic.Int64
}

// durationCollector collects duration samples for quantile computation.
// It keeps a sliding window of samples.
type durationCollector struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

func newDurationCollector(maxSize int) *durationCollector {
	return &durationCollector{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
	}
}

func (d *durationCollector) add(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seconds := duration.Seconds()
	if len(d.samples) >= d.maxSize {
		copy(d.samples, d.samples[1:])
		d.samples = d.samples[:len(d.samples)-1]
	}
	d.samples = append(d.samples, seconds)
}

func (d *durationCollector) quantile(q float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.samples) == 0 {
		return 0
	}

	sorted := make([]float64, len(d.samples))
	copy(sorted, d.samples)
	sort.Float64s(sorted)

	idx := q * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func (d *durationCollector) sum() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	var total float64
	for _, s := range d.samples {
		total += s
	}
	return total
}

func (d *durationCollector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.samples)
}

// NewMetrics creates a new Metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		namespace:         cfg.Namespace,
		version:           cfg.Version,
		httpRequestCounts: make(map[string]*atomic.Int64),
		httpDurations:     make(map[string]*durationCollector),
		authOutcomes:      make(map[string]*atomic.Int64),
		authzDecisions:    make(map[string]*atomic.Int64),
		classifierResults: make(map[string]*atomic.Int64),
		proxyOutcomes:     make(map[string]*atomic.Int64),
	}
}

func bumpCounter(mu *sync.RWMutex, counters map[string]*atomic.Int64, key string) {
	mu.Lock()
	counter, ok := counters[key]
	if !ok {
		counter = &atomic.Int64{}
		counters[key] = counter
	}
	mu.Unlock()
	counter.Add(1)
}

// RecordHTTPRequest records an HTTP request with its method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	normalizedPath := normalizePath(path)

	countKey := fmt.Sprintf("%s:%s:%d", method, normalizedPath, statusCode)
	m.mu.Lock()
	counter, ok := m.httpRequestCounts[countKey]
	if !ok {
		counter = &atomic.Int64{}
		m.httpRequestCounts[countKey] = counter
	}
	m.mu.Unlock()
	counter.Add(1)

	durationKey := fmt.Sprintf("%s:%s", method, normalizedPath)
	m.httpDurationMu.Lock()
	collector, ok := m.httpDurations[durationKey]
	if !ok {
		collector = newDurationCollector(1000) // keep last 1000 samples
		m.httpDurations[durationKey] = collector
	}
	m.httpDurationMu.Unlock()
	collector.add(duration)
}

// RecordAuthOutcome records the result of the authentication pipeline.
func (m *Metrics) RecordAuthOutcome(outcome string) {
	bumpCounter(&m.authOutcomeMu, m.authOutcomes, outcome)
}

// RecordAuthzDecision records an allow/deny decision from permission enforcement.
func (m *Metrics) RecordAuthzDecision(decision string) {
	bumpCounter(&m.authzDecisionMu, m.authzDecisions, decision)
}

// RecordClassifierResult records the statement type tag the SQL classifier produced.
func (m *Metrics) RecordClassifierResult(statementType string) {
	bumpCounter(&m.classifierResultMu, m.classifierResults, statementType)
}

// RecordProxyOutcome records the result of forwarding a request upstream.
func (m *Metrics) RecordProxyOutcome(outcome string) {
	bumpCounter(&m.proxyOutcomeMu, m.proxyOutcomes, outcome)
}

// RecordRateLimitAllowed increments the count of allowed requests.
func (m *Metrics) RecordRateLimitAllowed() {
	m.rateLimitAllowed.Add(1)
}

// RecordRateLimitRejected increments the count of rejected requests.
func (m *Metrics) RecordRateLimitRejected() {
	m.rateLimitRejected.Add(1)
}

// IncrementActiveConnections increments the active connection gauge.
func (m *Metrics) IncrementActiveConnections() {
	m.activeConnections.Add(1)
}

// DecrementActiveConnections decrements the active connection gauge.
func (m *Metrics) DecrementActiveConnections() {
	m.activeConnections.Add(-1)
}

// normalizePath normalizes URL paths to reduce cardinality.
// It replaces numeric IDs and UUIDs with {id} placeholders.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = "{id}"
		}
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// Handler returns an http.Handler that serves Prometheus-format metrics.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		m.writePrometheusMetrics(w)
	})
}

func (m *Metrics) writeLabeledCounters(w http.ResponseWriter, mu *sync.RWMutex, counters map[string]*atomic.Int64, metric, label, help string) {
	fmt.Fprintf(w, "# HELP %s_%s %s\n", m.namespace, metric, help)
	fmt.Fprintf(w, "# TYPE %s_%s counter\n", m.namespace, metric)
	mu.RLock()
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s_%s{%s=%q} %d\n", m.namespace, metric, label, key, counters[key].Load())
	}
	mu.RUnlock()
	_, _ = fmt.Fprintln(w)
}

// writePrometheusMetrics writes all metrics in Prometheus text format.
func (m *Metrics) writePrometheusMetrics(w http.ResponseWriter) {
	// App info metric
	_, _ = fmt.Fprintf(w, "# HELP %s_info Application information\n", m.namespace)
	_, _ = fmt.Fprintf(w, "# TYPE %s_info gauge\n", m.namespace)
	_, _ = fmt.Fprintf(w, "%s_info{version=%q} 1\n\n", m.namespace, m.version)

	// HTTP request total
	fmt.Fprintf(w, "# HELP %s_http_requests_total Total number of HTTP requests\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_http_requests_total counter\n", m.namespace)
	m.mu.RLock()
	keys := make([]string, 0, len(m.httpRequestCounts))
	for k := range m.httpRequestCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		counter := m.httpRequestCounts[key]
		parts := strings.SplitN(key, ":", 3)
		if len(parts) == 3 {
			fmt.Fprintf(w, "%s_http_requests_total{method=%q,path=%q,status=%q} %d\n",
				m.namespace, parts[0], parts[1], parts[2], counter.Load())
		}
	}
	m.mu.RUnlock()
	_, _ = fmt.Fprintln(w)

	// HTTP request duration quantiles
	fmt.Fprintf(w, "# HELP %s_http_request_duration_seconds HTTP request duration in seconds\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_http_request_duration_seconds summary\n", m.namespace)
	m.httpDurationMu.RLock()
	durationKeys := make([]string, 0, len(m.httpDurations))
	for k := range m.httpDurations {
		durationKeys = append(durationKeys, k)
	}
	sort.Strings(durationKeys)
	for _, key := range durationKeys {
		collector := m.httpDurations[key]
		parts := strings.SplitN(key, ":", 2)
		if len(parts) == 2 {
			method, path := parts[0], parts[1]
			for _, q := range []float64{0.5, 0.9, 0.99} {
				val := collector.quantile(q)
				fmt.Fprintf(w, "%s_http_request_duration_seconds{method=%q,path=%q,quantile=\"%.2f\"} %.6f\n",
					m.namespace, method, path, q, val)
			}
			fmt.Fprintf(w, "%s_http_request_duration_seconds_sum{method=%q,path=%q} %.6f\n",
				m.namespace, method, path, collector.sum())
			fmt.Fprintf(w, "%s_http_request_duration_seconds_count{method=%q,path=%q} %d\n",
				m.namespace, method, path, collector.count())
		}
	}
	m.httpDurationMu.RUnlock()
	_, _ = fmt.Fprintln(w)

	m.writeLabeledCounters(w, &m.authOutcomeMu, m.authOutcomes,
		"auth_outcomes_total", "outcome", "Authentication pipeline outcomes")
	m.writeLabeledCounters(w, &m.authzDecisionMu, m.authzDecisions,
		"authz_decisions_total", "decision", "Permission enforcement decisions")
	m.writeLabeledCounters(w, &m.classifierResultMu, m.classifierResults,
		"sql_classifications_total", "statement_type", "SQL classifier results by statement type")
	m.writeLabeledCounters(w, &m.proxyOutcomeMu, m.proxyOutcomes,
		"proxy_outcomes_total", "outcome", "Upstream forwarding outcomes")

	// Rate limiter metrics
	fmt.Fprintf(w, "# HELP %s_rate_limit_requests_total Total rate limit decisions\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_rate_limit_requests_total counter\n", m.namespace)
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"allowed\"} %d\n", m.namespace, m.rateLimitAllowed.Load())
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"rejected\"} %d\n\n", m.namespace, m.rateLimitRejected.Load())

	// Active connections gauge
	fmt.Fprintf(w, "# HELP %s_active_connections Current number of active HTTP connections\n", m.namespace)
	fmt.Fprintf(w, "# TYPE %s_active_connections gauge\n", m.namespace)
	fmt.Fprintf(w, "%s_active_connections %d\n", m.namespace, m.activeConnections.Load())
}

// MetricsMiddleware returns an HTTP middleware that records request metrics.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics endpoint itself to avoid recursion
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			m.IncrementActiveConnections()
			defer m.DecrementActiveConnections()

			start := time.Now()

			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, duration)
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap returns the underlying ResponseWriter for compatibility with
// http.ResponseController and other wrapping utilities.
func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RateLimitMetricsMiddleware returns middleware that records rate limit metrics.
// It should wrap the rate limiting middleware to capture allow/reject decisions.
func RateLimitMetricsMiddleware(m *Metrics, rateLimitEnabled bool) func(http.Handler) http.Handler {
	if m == nil || !rateLimitEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			if wrapped.statusCode == http.StatusTooManyRequests {
				m.RecordRateLimitRejected()
			} else {
				m.RecordRateLimitAllowed()
			}
		})
	}
}

// GetMetrics extracts Metrics from context if present.
func GetMetrics(ctx context.Context) *Metrics {
	if m, ok := ctx.Value(metricsContextKey).(*Metrics); ok {
		return m
	}
	return nil
}

// WithMetrics adds Metrics to the context.
func WithMetrics(ctx context.Context, m *Metrics) context.Context {
	return context.WithValue(ctx, metricsContextKey, m)
}

// metricsContextKey is the context key for metrics.
type metricsContextKeyType string

const metricsContextKey metricsContextKeyType = "metrics"
