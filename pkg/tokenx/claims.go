package tokenx

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed = errors.New("tokenx: malformed token")
	ErrNoExpiry  = errors.New("tokenx: token has no exp claim")
)

// Claims are the access-token claims the client cares about. Signatures are
// never checked here; the server does that. The client only needs to know
// when to stop sending the token and what to show in the user chrome.
type Claims struct {
	jwt.RegisteredClaims

	SID           string   `json:"sid,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	Username      string   `json:"username,omitempty"`
	PreferredName string   `json:"preferred_name,omitempty"`
	Role          string   `json:"role,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// Expiry returns the exp claim. Decode guarantees it is set.
func (c *Claims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Decode parses the token's claims without verifying its signature.
func Decode(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || strings.Count(token, ".") != 2 {
		return nil, ErrMalformed
	}

	var c Claims
	if _, _, err := parser.ParseUnverified(token, &c); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}

	if c.ExpiresAt == nil {
		return nil, ErrNoExpiry
	}

	return &c, nil
}

// DecodePayload is Decode for callers that only care whether the claims
// are usable. It returns nil for anything malformed.
func DecodePayload(token string) *Claims {
	c, err := Decode(token)
	if err != nil {
		return nil
	}
	return c
}
