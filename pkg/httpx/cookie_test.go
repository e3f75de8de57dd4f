package httpx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tabsession/pkg/httpx"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

// nextRequest carries the cookies set on rec into a fresh request, the way
// a browser would.
func nextRequest(rec *httptest.ResponseRecorder, target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			req.AddCookie(c)
		}
	}
	return req
}

func TestCookieBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const key = "tabsession.token"

	t.Run("round trip across requests", func(t *testing.T) {
		rec := httptest.NewRecorder()
		b := httpx.NewCookieBackend(rec, httptest.NewRequest(http.MethodGet, "/", nil), httpx.CookieConfig{Secure: true})

		_, err := b.Load(ctx, key)
		require.ErrorIs(t, err, tokenstore.ErrNotFound)

		require.NoError(t, b.Save(ctx, key, []byte(`{"token":"abc"}`), time.Now().Add(time.Hour)))
		data, err := b.Load(ctx, key)
		require.NoError(t, err)
		require.JSONEq(t, `{"token":"abc"}`, string(data), "writes are visible within the request")

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		require.True(t, c.Secure)
		require.True(t, c.HttpOnly)
		require.Equal(t, http.SameSiteStrictMode, c.SameSite)
		require.Equal(t, "/", c.Path)
		require.Positive(t, c.MaxAge)
		require.NotContains(t, c.Value, "{")

		next := httpx.NewCookieBackend(httptest.NewRecorder(), nextRequest(rec, "/"), httpx.CookieConfig{})
		data, err = next.Load(ctx, key)
		require.NoError(t, err)
		require.JSONEq(t, `{"token":"abc"}`, string(data))
	})

	t.Run("delete replaces the pending cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		b := httpx.NewCookieBackend(rec, httptest.NewRequest(http.MethodGet, "/", nil), httpx.CookieConfig{})

		require.NoError(t, b.Save(ctx, key, []byte("x"), time.Time{}))
		require.NoError(t, b.Delete(ctx, key))

		_, err := b.Load(ctx, key)
		require.ErrorIs(t, err, tokenstore.ErrNotFound)

		set := rec.Header().Values("Set-Cookie")
		require.Len(t, set, 1)
		require.Contains(t, set[0], "Max-Age=0")
	})

	t.Run("lapsed save deletes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		b := httpx.NewCookieBackend(rec, httptest.NewRequest(http.MethodGet, "/", nil), httpx.CookieConfig{})

		require.NoError(t, b.Save(ctx, key, []byte("x"), time.Now().Add(-time.Second)))
		_, err := b.Load(ctx, key)
		require.ErrorIs(t, err, tokenstore.ErrNotFound)
	})

	t.Run("too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		b := httpx.NewCookieBackend(rec, httptest.NewRequest(http.MethodGet, "/", nil), httpx.CookieConfig{})

		err := b.Save(ctx, key, []byte(strings.Repeat("a", httpx.MaxCookieSize)), time.Time{})
		require.ErrorIs(t, err, tokenstore.ErrTooLarge)
		require.Empty(t, rec.Header().Values("Set-Cookie"))
	})

	t.Run("undecodable value is corrupt and expired", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: key, Value: "!!not-base64!!"})
		rec := httptest.NewRecorder()
		b := httpx.NewCookieBackend(rec, req, httpx.CookieConfig{})

		_, err := b.Load(ctx, key)
		require.ErrorIs(t, err, tokenstore.ErrCorrupt)
		require.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")
	})
}

func TestStoreOverCookies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	newStore := func(w http.ResponseWriter, r *http.Request) *tokenstore.Store {
		return tokenstore.New(httpx.NewCookieBackend(w, r, httpx.CookieConfig{}), tokenstore.DefaultConfig(),
			tokenstore.WithLogger(slogx.Discard()))
	}

	rec := httptest.NewRecorder()
	s := newStore(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	require.True(t, s.SetToken(ctx, "abc", time.Hour))
	require.True(t, s.SetUserProfile(ctx, tokenstore.Profile{Username: "kim", Role: "admin"}))

	s = newStore(httptest.NewRecorder(), nextRequest(rec, "/dashboard"))
	tok, ok := s.GetToken(ctx)
	require.True(t, ok)
	require.Equal(t, "abc", tok)
	p, ok := s.GetUserProfile(ctx)
	require.True(t, ok)
	require.Equal(t, "admin", p.Role)
}

func TestServerSideBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := tokenstore.NewMemoryBackend()
	backend := httpx.ServerSideBackend(inner, httpx.CookieConfig{})

	anon := backend(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := anon.Load(ctx, "tabsession.token")
	require.ErrorIs(t, err, tokenstore.ErrNotFound)
	require.NoError(t, anon.Delete(ctx, "tabsession.token"))
	require.Zero(t, inner.Len())

	rec := httptest.NewRecorder()
	b := backend(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	require.NoError(t, b.Save(ctx, "tabsession.token", []byte("rec"), time.Time{}))
	require.NoError(t, b.Save(ctx, "tabsession.profile", []byte("prof"), time.Time{}))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1, "one id per browser")
	require.Equal(t, httpx.SessionIDCookie, cookies[0].Name)
	require.Equal(t, 2, inner.Len())

	data, err := backend(httptest.NewRecorder(), nextRequest(rec, "/")).Load(ctx, "tabsession.token")
	require.NoError(t, err)
	require.Equal(t, "rec", string(data))

	forged := httptest.NewRequest(http.MethodGet, "/", nil)
	forged.AddCookie(&http.Cookie{Name: httpx.SessionIDCookie, Value: "not-a-ulid"})
	_, err = backend(httptest.NewRecorder(), forged).Load(ctx, "tabsession.token")
	require.ErrorIs(t, err, tokenstore.ErrNotFound)
}
