// Package tokenxtest mints JWTs for tests. The client never verifies
// signatures, so an HMAC key known only to the tests is enough to produce
// tokens that decode like the ones the auth service issues.
package tokenxtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/tabsession/pkg/tokenx"
)

var key = []byte("tokenxtest-signing-key")

// Mint returns a token that expires at exp.
func Mint(t testing.TB, exp time.Time, opts ...func(*tokenx.Claims)) string {
	t.Helper()

	c := tokenx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: "tester",
	}
	for _, opt := range opts {
		opt(&c)
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		t.Fatalf("tokenxtest: sign: %v", err)
	}
	return s
}

// WithRole sets the role and status claims.
func WithRole(role, status string) func(*tokenx.Claims) {
	return func(c *tokenx.Claims) {
		c.Role = role
		c.Status = status
	}
}

// WithoutExpiry drops the exp claim.
func WithoutExpiry() func(*tokenx.Claims) {
	return func(c *tokenx.Claims) { c.ExpiresAt = nil }
}
