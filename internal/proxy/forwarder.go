package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"vibegate/internal/observability"
)

// Gateway identification headers sent to the backend.
const (
	HeaderTimestamp = "X-Vibe-Timestamp"
	HeaderSignature = "X-Vibe-Signature"
	HeaderService   = "X-Vibe-Service"
	HeaderTenant    = "X-Vibe-Tenant"
	HeaderTier      = "X-Vibe-Tier"
	HeaderUserID    = "X-Vibe-User-Id"
)

var (
	// ErrUpstreamUnavailable indicates the backend could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout indicates the backend did not respond in time.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrRequestAborted indicates the client went away while the request
	// was in flight. Not a server failure.
	ErrRequestAborted = errors.New("request aborted by client")
)

// hopByHopHeaders are stripped in both directions per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ForwardMeta carries the resolved caller attributes stamped onto the
// outbound request.
type ForwardMeta struct {
	UserID   int64
	TenantID string
	Tier     string
}

// Forwarder relays an authorized request to the backend query service with
// gateway authentication headers attached.
type Forwarder struct {
	upstream *url.URL
	client   *http.Client
	signer   *Signer
	service  string
	logger   observability.Logger
}

// Config configures a Forwarder.
type Config struct {
	// UpstreamURL is the base URL of the backend query service.
	UpstreamURL string

	// Secret is the HMAC secret shared with the backend.
	Secret []byte

	// ServiceName identifies this gateway instance to the backend.
	ServiceName string

	// Timeout bounds each upstream call. Defaults to 30s.
	Timeout time.Duration

	Logger observability.Logger
}

// NewForwarder creates a forwarder for the configured upstream.
func NewForwarder(cfg Config) (*Forwarder, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", cfg.UpstreamURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	service := cfg.ServiceName
	if service == "" {
		service = "vibegate"
	}

	return &Forwarder{
		upstream: upstream,
		client:   &http.Client{Timeout: timeout},
		signer:   NewSigner(cfg.Secret),
		service:  service,
		logger:   logger.WithComponent("proxy"),
	}, nil
}

// Forward relays the request upstream and streams the response back. On
// success the response has been fully written; on failure nothing has been
// written and the returned error is one of ErrUpstreamUnavailable,
// ErrUpstreamTimeout, or ErrRequestAborted.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, meta ForwardMeta) error {
	ctx := r.Context()

	target := *f.upstream
	target.Path = singleJoin(f.upstream.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	out.ContentLength = r.ContentLength

	copyHeaders(out.Header, r.Header)
	stripHopByHop(out.Header)

	ts, sig := f.signer.Sign(r.Method, r.URL.Path)
	out.Header.Set(HeaderTimestamp, ts)
	out.Header.Set(HeaderSignature, sig)
	out.Header.Set(HeaderService, f.service)
	if meta.UserID != 0 {
		out.Header.Set(HeaderUserID, strconv.FormatInt(meta.UserID, 10))
	}
	if meta.TenantID != "" {
		out.Header.Set(HeaderTenant, meta.TenantID)
	}
	if meta.Tier != "" {
		out.Header.Set(HeaderTier, meta.Tier)
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return f.classifyError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w.Header(), resp.Header)
	stripHopByHop(w.Header())
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Response headers are already gone; log and move on.
		f.logger.WarnContext(ctx, "copying upstream response failed", "error", err)
	}
	return nil
}

// classifyError maps transport failures to the gateway's error taxonomy.
// A client that hung up is not an upstream failure.
func (f *Forwarder) classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ErrRequestAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout
	}
	f.logger.WarnContext(ctx, "upstream request failed", "error", err)
	return ErrUpstreamUnavailable
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func stripHopByHop(h http.Header) {
	// Headers named by the Connection header are also hop-by-hop.
	for _, field := range h.Values("Connection") {
		h.Del(field)
	}
	for _, field := range hopByHopHeaders {
		h.Del(field)
	}
}

func singleJoin(base, path string) string {
	switch {
	case base == "" || base == "/":
		return path
	case path == "":
		return base
	}
	baseSlash := base[len(base)-1] == '/'
	pathSlash := path[0] == '/'
	switch {
	case baseSlash && pathSlash:
		return base + path[1:]
	case !baseSlash && !pathSlash:
		return base + "/" + path
	}
	return base + path
}
