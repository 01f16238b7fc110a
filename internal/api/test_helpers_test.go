package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"vibegate/internal/audit"
	"vibegate/internal/auth"
	"vibegate/internal/auth/oidc"
	"vibegate/internal/domain"
	"vibegate/internal/observability"
	"vibegate/internal/proxy"
	"vibegate/internal/registry"
	"vibegate/internal/storage"
)

// mockIDP serves OIDC discovery and JWKS from httptest and mints signed
// tokens against its key.
type mockIDP struct {
	srv *httptest.Server
	key *rsa.PrivateKey
}

func newMockIDP(t *testing.T) *mockIDP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	idp := &mockIDP{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		discovery := map[string]any{
			"issuer":                                idp.srv.URL,
			"authorization_endpoint":                idp.srv.URL + "/authorize",
			"token_endpoint":                        idp.srv.URL + "/token",
			"jwks_uri":                              idp.srv.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
			"subject_types_supported":               []string{"public"},
			"response_types_supported":              []string{"code"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(discovery)
	})
	mux.HandleFunc("GET /keys", func(w http.ResponseWriter, r *http.Request) {
		jwks := jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{{
				Key:       &key.PublicKey,
				KeyID:     "test-key-1",
				Algorithm: string(jose.RS256),
				Use:       "sig",
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	})

	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

// mint signs a token for audience "vibegate"; extra claims are merged on top.
func (idp *mockIDP) mint(t *testing.T, subject string, extra map[string]any) string {
	t.Helper()

	if extra == nil {
		extra = map[string]any{}
	}

	signerKey := jose.SigningKey{Algorithm: jose.RS256, Key: idp.key}
	signerOpts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", "test-key-1")
	signer, err := jose.NewSigner(signerKey, signerOpts)
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}

	now := time.Now()
	claims := jwt.Claims{
		Issuer:   idp.srv.URL,
		Subject:  subject,
		Audience: jwt.Audience{"vibegate"},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
	}

	raw, err := jwt.Signed(signer).Claims(claims).Claims(extra).Serialize()
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return raw
}

// capturingUpstream is a stand-in backend that records the last request it
// received, including the body and the gateway headers.
type capturingUpstream struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests int
	lastReq  *http.Request
	lastBody []byte

	status int
	body   string
}

func newCapturingUpstream(t *testing.T) *capturingUpstream {
	t.Helper()
	u := &capturingUpstream{status: http.StatusOK, body: `{"rows":[]}`}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.requests++
		u.lastReq = r.Clone(context.Background())
		u.lastBody = body
		status, respBody := u.status, u.body
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *capturingUpstream) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests
}

func (u *capturingUpstream) last() (*http.Request, []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastReq, u.lastBody
}

const testUpstreamSecret = "test-upstream-secret"

// testGateway is a fully wired gateway over a memory store, one mock
// provider, and a capturing upstream.
type testGateway struct {
	srv      *httptest.Server
	store    *storage.MemoryStore
	idp      *mockIDP
	provider *domain.ProviderRecord
	upstream *capturingUpstream
	audit    *audit.MemoryAuditLogger
	adminKey string
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	ctx := context.Background()

	idp := newMockIDP(t)
	store := storage.NewMemoryStore()

	provider := &domain.ProviderRecord{
		Key:           "okta",
		Issuer:        idp.srv.URL,
		SchemeID:      "scheme-okta",
		Audience:      "vibegate",
		Active:        true,
		AutoProvision: true,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.CreateProvider(ctx, provider); err != nil {
		t.Fatalf("create provider: %v", err)
	}

	registrar := oidc.NewRegistrar()
	t.Cleanup(registrar.Close)
	if err := registrar.Register(ctx, provider); err != nil {
		t.Fatalf("register scheme: %v", err)
	}

	reg := registry.New()
	reg.Replace([]*domain.ProviderRecord{provider})

	upstream := newCapturingUpstream(t)
	logger := observability.NewLogger(observability.Config{Level: "error", Format: "text", Output: io.Discard})

	forwarder, err := proxy.NewForwarder(proxy.Config{
		UpstreamURL: upstream.srv.URL,
		Secret:      []byte(testUpstreamSecret),
		ServiceName: "vibegate-test",
		Timeout:     5 * time.Second,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}

	adminPlain, adminKey, err := auth.GenerateAdminKey("test-admin", nil)
	if err != nil {
		t.Fatalf("generate admin key: %v", err)
	}

	auditLogger := audit.NewMemoryAuditLogger()

	server := NewServer(ServerConfig{
		Store:     store,
		Registrar: registrar,
		Registry:  reg,
		Forwarder: forwarder,
		Audit:     auditLogger,
		Metrics:   observability.NewMetrics(observability.MetricsConfig{Enabled: true, Namespace: "vibegate"}),
		Logger:    logger,
		AdminKey:  adminKey,
	})

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testGateway{
		srv:      srv,
		store:    store,
		idp:      idp,
		provider: provider,
		upstream: upstream,
		audit:    auditLogger,
		adminKey: adminPlain,
	}
}

// seedRoleMapping installs a role mapping for the test provider.
func (g *testGateway) seedRoleMapping(t *testing.T, role, level string, denied ...string) {
	t.Helper()
	m := &domain.RoleMapping{
		ID:               "rm-" + role,
		ProviderKey:      g.provider.Key,
		ExternalRole:     role,
		PermissionLevel:  level,
		DeniedStatements: denied,
	}
	if err := g.store.UpsertRoleMapping(context.Background(), m); err != nil {
		t.Fatalf("seed role mapping: %v", err)
	}
}

// do issues a request against the gateway with the given bearer credential.
func (g *testGateway) do(t *testing.T, method, path, bearer string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, g.srv.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// decodeEnvelope parses a rejection envelope.
func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func errCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	env := decodeEnvelope(t, resp)
	if env.Error == nil {
		t.Fatalf("response has no error body")
	}
	return env.Error.Code
}
