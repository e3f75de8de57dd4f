package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tabsession/pkg/guard"
	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
	"github.com/aussiebroadwan/tabsession/pkg/tokenx/tokenxtest"
)

type fakeAuth struct {
	mu         sync.Mutex
	login      session.Grant
	loginErr   error
	refresh    session.Grant
	refreshErr error
	logoutErr  error
	logouts    int
}

func (f *fakeAuth) Login(_ context.Context, _ session.Credentials) (session.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.login, f.loginErr
}

func (f *fakeAuth) Refresh(context.Context) (session.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refresh, f.refreshErr
}

func (f *fakeAuth) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return f.logoutErr
}

var epoch = time.Unix(1_700_000_000, 0)

func newManager(t *testing.T, auth session.Authenticator, opts ...session.Option) *session.Manager {
	t.Helper()
	now := func() time.Time { return epoch }

	store := tokenstore.New(tokenstore.NewMemoryBackend(), tokenstore.DefaultConfig(),
		tokenstore.WithClock(now),
		tokenstore.WithLogger(slogx.Discard()),
	)
	cfg := session.DefaultConfig()
	cfg.Monitor.CheckInterval = time.Hour

	opts = append([]session.Option{
		session.WithClock(now),
		session.WithLogger(slogx.Discard()),
	}, opts...)
	m := session.NewManager(store, auth, cfg, opts...)
	t.Cleanup(m.Close)
	return m
}

func TestLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	auth := &fakeAuth{login: session.Grant{
		Token:    "opaque-token",
		Lifetime: time.Hour,
		Profile:  &tokenstore.Profile{Username: "kim", Role: "admin", Status: "active"},
	}}
	m := newManager(t, auth)
	require.False(t, m.Initialized())

	p, err := m.Login(ctx, session.Credentials{Username: "kim", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "admin", p.Role)
	require.True(t, m.Initialized())

	tok, ok := m.CurrentToken(ctx)
	require.True(t, ok)
	require.Equal(t, "opaque-token", tok)

	require.True(t, m.Status().HasToken)
	require.Equal(t, guard.Session{
		Initialized:   true,
		Authenticated: true,
		Role:          "admin",
		Status:        "active",
		HasProfile:    true,
	}, m.GuardSession(ctx))
}

func TestLoginProfileFromClaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tok := tokenxtest.Mint(t, epoch.Add(time.Hour), tokenxtest.WithRole("driver", "active"))
	m := newManager(t, &fakeAuth{login: session.Grant{Token: tok}})

	p, err := m.Login(ctx, session.Credentials{Username: "kim", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "driver", p.Role)

	require.Equal(t, epoch.Add(time.Hour).UnixMilli(), m.Status().ExpiresAt)
}

func TestLoginValidation(t *testing.T) {
	t.Parallel()
	m := newManager(t, &fakeAuth{})

	_, err := m.Login(context.Background(), session.Credentials{Username: "kim"})
	require.ErrorIs(t, err, session.ErrInvalidCredentials)
	require.Contains(t, err.Error(), "password is required")
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rejected := errors.New("invalid_grant")
	m := newManager(t, &fakeAuth{loginErr: rejected})

	_, err := m.Login(ctx, session.Credentials{Username: "kim", Password: "bad"})
	require.ErrorIs(t, err, session.ErrLoginFailed)
	require.ErrorIs(t, err, rejected)

	_, ok := m.CurrentToken(ctx)
	require.False(t, ok)
}

func TestLoginWithoutAuthenticator(t *testing.T) {
	t.Parallel()
	m := newManager(t, nil)

	_, err := m.Login(context.Background(), session.Credentials{Username: "kim", Password: "pw"})
	require.ErrorIs(t, err, session.ErrLoginFailed)
	require.False(t, m.Initialized())
}

func TestLogoutClearsLocallyEvenWhenRemoteFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	auth := &fakeAuth{
		login:     session.Grant{Token: "abc", Lifetime: time.Hour},
		logoutErr: errors.New("network down"),
	}
	m := newManager(t, auth)

	_, err := m.Login(ctx, session.Credentials{Username: "kim", Password: "pw"})
	require.NoError(t, err)

	m.Logout(ctx)
	require.Equal(t, 1, auth.logouts)

	_, ok := m.CurrentToken(ctx)
	require.False(t, ok)
	_, ok = m.Profile(ctx)
	require.False(t, ok)
	require.False(t, m.Status().HasToken)
}

func TestRefreshFailureLogsOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ended := make(chan struct{})
	auth := &fakeAuth{
		login:      session.Grant{Token: "abc", Lifetime: 4 * time.Minute},
		refreshErr: errors.New("refresh token revoked"),
	}
	m := newManager(t, auth, session.WithSessionEnded(func() { close(ended) }))

	_, err := m.Login(ctx, session.Credentials{Username: "kim", Password: "pw"})
	require.NoError(t, err)
	require.True(t, m.Status().NeedsRefresh)

	require.Error(t, m.Monitor().RefreshNow(ctx))
	<-ended

	_, ok := m.CurrentToken(ctx)
	require.False(t, ok)
	require.False(t, m.Status().HasToken)
}

type recordingNav struct {
	mu     sync.Mutex
	pushed []string
}

func (n *recordingNav) Push(p string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushed = append(n.pushed, p)
	return nil
}

func TestRouteGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	auth := &fakeAuth{login: session.Grant{
		Token:    "abc",
		Lifetime: time.Hour,
		Profile:  &tokenstore.Profile{Role: "driver", Status: "active"},
	}}
	m := newManager(t, auth)
	nav := &recordingNav{}
	rg := m.RouteGuard(guard.AdminOnly(), nav)

	t.Run("loading before start", func(t *testing.T) {
		d := rg.Evaluate(ctx, "/admin")
		require.True(t, d.Loading)
		require.Empty(t, nav.pushed)
	})

	m.Start(ctx)

	t.Run("anonymous is sent to login", func(t *testing.T) {
		d := rg.Evaluate(ctx, "/admin")
		require.Equal(t, guard.ReasonNotAuthenticated, d.Reason)
		require.Equal(t, []string{"/login?returnUrl=%2Fadmin"}, nav.pushed)
	})

	t.Run("driver lacks role", func(t *testing.T) {
		_, err := m.Login(ctx, session.Credentials{Username: "kim", Password: "pw"})
		require.NoError(t, err)

		d := rg.Evaluate(ctx, "/admin")
		require.Equal(t, guard.ReasonInsufficientRole, d.Reason)
		require.Len(t, nav.pushed, 1, "same pathname is not redirected twice")
	})
}

func TestTransport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
	}))
	t.Cleanup(srv.Close)

	m := newManager(t, &fakeAuth{login: session.Grant{Token: "abc", Lifetime: time.Hour}})
	client := m.HTTPClient(nil)

	get := func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	get()
	_, err := m.Login(ctx, session.Credentials{Username: "kim", Password: "pw"})
	require.NoError(t, err)
	get()

	require.Equal(t, []string{"", "Bearer abc"}, got)
}
