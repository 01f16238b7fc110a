package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// mockIDP is an httptest-backed identity provider serving OIDC discovery and
// JWKS, with a helper to mint signed tokens against its key.
type mockIDP struct {
	srv            *httptest.Server
	key            *rsa.PrivateKey
	discoveryCalls atomic.Int64
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
		idp.discoveryCalls.Add(1)
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

// mint signs a token with the IdP's key. Standard claims default to a valid
// token for audience "vibegate"; extra claims are merged on top.
func (idp *mockIDP) mint(t *testing.T, subject string, extra map[string]any) string {
	t.Helper()
	return idp.mintAt(t, subject, time.Now(), time.Hour, extra)
}

func (idp *mockIDP) mintAt(t *testing.T, subject string, issuedAt time.Time, ttl time.Duration, extra map[string]any) string {
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

	claims := jwt.Claims{
		Issuer:   idp.srv.URL,
		Subject:  subject,
		Audience: jwt.Audience{"vibegate"},
		IssuedAt: jwt.NewNumericDate(issuedAt),
		Expiry:   jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	if aud, ok := extra["aud"].(string); ok {
		claims.Audience = jwt.Audience{aud}
		delete(extra, "aud")
	}
	if iss, ok := extra["iss"].(string); ok {
		claims.Issuer = iss
		delete(extra, "iss")
	}

	raw, err := jwt.Signed(signer).Claims(claims).Claims(extra).Serialize()
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return raw
}
