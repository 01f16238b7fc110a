package oidc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"vibegate/internal/domain"
	"vibegate/internal/registry"
)

// maxTokenBytes caps the bearer token size before any parsing happens.
const maxTokenBytes = 16 * 1024

var (
	// ErrNoBearerToken is returned when the Authorization header is absent
	// or not a bearer credential.
	ErrNoBearerToken = errors.New("no bearer token")

	// ErrTokenTooLarge is returned for tokens over the size cap.
	ErrTokenTooLarge = errors.New("bearer token exceeds size limit")

	// ErrUnknownIssuer is returned when no configured provider matches the
	// token's issuer.
	ErrUnknownIssuer = errors.New("no provider for token issuer")

	// ErrProviderInactive is returned when the matched provider is disabled
	// and outside its grace window.
	ErrProviderInactive = errors.New("provider is inactive")
)

// supportedSigAlgs lists the signature algorithms accepted when peeking at
// an unverified token. Real verification happens per-scheme against JWKS.
var supportedSigAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
}

// Selector picks the identity provider responsible for a request by reading
// the token's issuer claim without verifying the token. The selection result
// only designates which scheme must verify the token; nothing read here is
// trusted for authorization.
type Selector struct {
	registry *registry.Registry
	now      func() time.Time
}

// NewSelector creates a selector over the given provider registry.
func NewSelector(reg *registry.Registry) *Selector {
	return &Selector{registry: reg, now: time.Now}
}

// BearerToken extracts the bearer credential from a request. It returns
// ErrNoBearerToken when the header is missing or uses another auth scheme,
// and ErrTokenTooLarge for oversized tokens.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoBearerToken
	}
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrNoBearerToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrNoBearerToken
	}
	if len(token) > maxTokenBytes {
		return "", ErrTokenTooLarge
	}
	return token, nil
}

// Select resolves the provider for a raw bearer token by decoding the
// unverified issuer claim and looking it up in the registry. Disabled
// providers still inside their grace window are returned; fully inactive
// ones are not.
func (s *Selector) Select(rawToken string) (*domain.ProviderRecord, error) {
	tok, err := jwt.ParseSigned(rawToken, supportedSigAlgs)
	if err != nil {
		return nil, ErrNoBearerToken
	}

	var unverified jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&unverified); err != nil {
		return nil, ErrNoBearerToken
	}
	if unverified.Issuer == "" {
		return nil, ErrUnknownIssuer
	}

	p, ok := s.registry.GetByIssuer(unverified.Issuer)
	if !ok {
		return nil, ErrUnknownIssuer
	}
	if !p.Active && !p.InGracePeriod(s.now()) {
		return nil, ErrProviderInactive
	}
	return p, nil
}
