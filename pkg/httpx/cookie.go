package httpx

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

// MaxCookieSize is the largest Set-Cookie value browsers reliably keep.
const MaxCookieSize = 4096

type CookieConfig struct {
	// Secure restricts cookies to HTTPS. Leave it off only for local dev.
	Secure bool

	// Path scopes the cookies. Defaults to "/".
	Path string
}

// CookieBackend stores entries as cookies on a single request/response
// pair. Values are base64url so JSON survives cookie syntax. Writes made
// during the request are visible to later reads of the same backend.
type CookieBackend struct {
	w   http.ResponseWriter
	r   *http.Request
	cfg CookieConfig
	now func() time.Time

	mu      sync.Mutex
	pending map[string]pendingCookie
}

type pendingCookie struct {
	data    []byte
	deleted bool
}

func NewCookieBackend(w http.ResponseWriter, r *http.Request, cfg CookieConfig) *CookieBackend {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &CookieBackend{
		w:       w,
		r:       r,
		cfg:     cfg,
		now:     time.Now,
		pending: make(map[string]pendingCookie),
	}
}

func (b *CookieBackend) Load(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	p, ok := b.pending[key]
	b.mu.Unlock()
	if ok {
		if p.deleted {
			return nil, tokenstore.ErrNotFound
		}
		return append([]byte(nil), p.data...), nil
	}

	c, err := b.r.Cookie(key)
	if err != nil {
		return nil, tokenstore.ErrNotFound
	}
	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		_ = b.Delete(ctx, key)
		return nil, fmt.Errorf("%w: cookie %s: %w", tokenstore.ErrCorrupt, key, err)
	}
	return data, nil
}

func (b *CookieBackend) Save(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	c := b.cookie(key, base64.RawURLEncoding.EncodeToString(data))
	if !expiresAt.IsZero() {
		left := expiresAt.Sub(b.now())
		if left <= 0 {
			return b.Delete(ctx, key)
		}
		c.Expires = expiresAt.UTC()
		c.MaxAge = int((left + time.Second - 1) / time.Second)
	}

	if n := len(c.String()); n > MaxCookieSize {
		return fmt.Errorf("%w: cookie %s is %d bytes", tokenstore.ErrTooLarge, key, n)
	}

	b.set(c)
	b.mu.Lock()
	b.pending[key] = pendingCookie{data: append([]byte(nil), data...)}
	b.mu.Unlock()
	return nil
}

func (b *CookieBackend) Delete(_ context.Context, key string) error {
	c := b.cookie(key, "")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)

	b.set(c)
	b.mu.Lock()
	b.pending[key] = pendingCookie{deleted: true}
	b.mu.Unlock()
	return nil
}

func (b *CookieBackend) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     b.cfg.Path,
		Secure:   b.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// set replaces any Set-Cookie already queued for the same name.
func (b *CookieBackend) set(c *http.Cookie) {
	h := b.w.Header()
	prefix := c.Name + "="

	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	http.SetCookie(b.w, c)
}
