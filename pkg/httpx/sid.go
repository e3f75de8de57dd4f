package httpx

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/idx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

// SessionIDCookie names the cookie that ties a browser to its server-side
// entries.
const SessionIDCookie = "tabsession.sid"

// ServerSideBackend keeps session entries in inner, keyed by a per-browser
// session ID cookie, so only the ID travels to the client. The ID is
// issued on first write.
func ServerSideBackend(inner tokenstore.Backend, cfg CookieConfig) func(http.ResponseWriter, *http.Request) tokenstore.Backend {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return func(w http.ResponseWriter, r *http.Request) tokenstore.Backend {
		b := &sidBackend{inner: inner, w: w, cfg: cfg}
		if c, err := r.Cookie(SessionIDCookie); err == nil {
			if id, err := idx.Parse(c.Value); err == nil {
				b.sid = id
			}
		}
		return b
	}
}

type sidBackend struct {
	inner tokenstore.Backend
	w     http.ResponseWriter
	cfg   CookieConfig

	mu  sync.Mutex
	sid idx.ID
}

func (b *sidBackend) Load(ctx context.Context, key string) ([]byte, error) {
	sid := b.current()
	if sid.IsZero() {
		return nil, tokenstore.ErrNotFound
	}
	return b.inner.Load(ctx, sid.String()+":"+key)
}

func (b *sidBackend) Save(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	return b.inner.Save(ctx, b.issue().String()+":"+key, data, expiresAt)
}

func (b *sidBackend) Delete(ctx context.Context, key string) error {
	sid := b.current()
	if sid.IsZero() {
		return nil
	}
	return b.inner.Delete(ctx, sid.String()+":"+key)
}

func (b *sidBackend) current() idx.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sid
}

func (b *sidBackend) issue() idx.ID {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sid.IsZero() {
		b.sid = idx.New()
		http.SetCookie(b.w, &http.Cookie{
			Name:     SessionIDCookie,
			Value:    b.sid.String(),
			Path:     b.cfg.Path,
			Secure:   b.cfg.Secure,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}
	return b.sid
}
