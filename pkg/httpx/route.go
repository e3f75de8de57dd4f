package httpx

import (
	"net/http"

	"github.com/aussiebroadwan/tabsession/pkg/guard"
	"github.com/aussiebroadwan/tabsession/pkg/metricsx"
	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

// RouteDeps is what guarded routes share. Every request gets its own
// store and guard built from it.
type RouteDeps struct {
	// Backend builds the durable backend for one request. Nil means plain
	// cookies with Cookies applied.
	Backend func(w http.ResponseWriter, r *http.Request) tokenstore.Backend
	Cookies CookieConfig

	Store   tokenstore.Config
	Guard   guard.Config
	Metrics *metricsx.Metrics
}

// NewStore returns a store over the request's session cookies.
func (d RouteDeps) NewStore(w http.ResponseWriter, r *http.Request) *tokenstore.Store {
	var backend tokenstore.Backend
	if d.Backend != nil {
		backend = d.Backend(w, r)
	} else {
		backend = NewCookieBackend(w, r, d.Cookies)
	}

	// The store only lives for this request, so its cache adds nothing.
	cfg := d.Store
	cfg.CacheTTL = 0

	return tokenstore.New(backend, cfg,
		tokenstore.WithLogger(slogx.FromContext(r.Context())),
		tokenstore.WithMetrics(d.Metrics),
	)
}

// RequireRoute guards next with req. Denied requests are redirected; when
// the guard holds the redirect back (the request is already at the target)
// the request is refused with a JSON error instead. Allowed requests carry
// the decision, store and profile in their context.
func RequireRoute(deps RouteDeps, req guard.Requirements) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			store := deps.NewStore(w, r)
			nav := NewRedirectNavigator(w, r)
			g := guard.New(req, nav, deps.Guard,
				guard.WithLogger(log),
				guard.WithMetrics(deps.Metrics),
			)

			d := g.Evaluate(session.GuardSession(ctx, store, true), r.URL.RequestURI())
			if d.Allowed {
				ctx = WithDecision(ctx, d)
				ctx = WithStore(ctx, store)
				if p, ok := profileFor(r, store); ok {
					ctx = WithProfile(ctx, p)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if _, ok := nav.Target(); ok {
				return
			}

			code := http.StatusForbidden
			if d.Reason == guard.ReasonNotAuthenticated {
				code = http.StatusUnauthorized
			}
			log.Info("route refused without redirect", "reason", d.Reason)
			WriteError(w, code, string(d.Reason), "")
		})
	}
}

func profileFor(r *http.Request, store *tokenstore.Store) (tokenstore.Profile, bool) {
	if p, ok := store.GetUserProfile(r.Context()); ok {
		return p, true
	}
	tok, ok := store.GetToken(r.Context())
	if !ok {
		return tokenstore.Profile{}, false
	}
	p := session.ProfileFromClaims(tok)
	return p, p != (tokenstore.Profile{})
}
