package session

import (
	"context"
	"net/http"
)

// TokenSource supplies the bearer token for outbound requests.
type TokenSource interface {
	CurrentToken(ctx context.Context) (string, bool)
}

// Transport adds "Authorization: Bearer <token>" to requests that do not
// already carry an Authorization header. Without a token the request goes
// out unchanged.
type Transport struct {
	Base   http.RoundTripper
	Source TokenSource
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	if req.Header.Get("Authorization") != "" {
		return base.RoundTrip(req)
	}
	tok, ok := t.Source.CurrentToken(req.Context())
	if !ok {
		return base.RoundTrip(req)
	}

	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+tok)
	return base.RoundTrip(r)
}

// HTTPClient returns a client whose requests carry the manager's token.
func (m *Manager) HTTPClient(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Base: base, Source: m}}
}
