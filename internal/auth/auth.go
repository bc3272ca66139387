// ABOUTME: Bearer token verification for the HTTP and WebSocket surfaces
// ABOUTME: Static shared-token and HS256 JWT modes behind one Verifier interface

package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Verification errors.
var (
	ErrMissingToken  = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotConfigured = errors.New("server token not configured")
)

// Verifier validates a bearer token and returns the principal it
// identifies.
type Verifier interface {
	Verify(token string) (principal string, err error)
}

// FromConfig selects the verifier for the deployment: JWT verification
// when a signing secret is configured, static token comparison
// otherwise.
func FromConfig(token, jwtSecret string) Verifier {
	if jwtSecret != "" {
		return NewJWTVerifier([]byte(jwtSecret))
	}
	return NewStaticVerifier(token)
}

// StaticVerifier compares tokens against one configured shared secret.
type StaticVerifier struct {
	token string
}

// NewStaticVerifier creates a verifier for the given shared token.
func NewStaticVerifier(token string) *StaticVerifier {
	return &StaticVerifier{token: strings.TrimSpace(token)}
}

// Verify implements Verifier. An unconfigured token rejects everything
// rather than letting the hub run open.
func (v *StaticVerifier) Verify(token string) (string, error) {
	if v.token == "" {
		return "", ErrNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.token)) != 1 {
		return "", ErrInvalidToken
	}
	return "client", nil
}

// ExtractBearer pulls the bearer token off a request's Authorization
// header.
func ExtractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(header[len("bearer "):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
