package app

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/tabsession/pkg/authsdk"
	"github.com/aussiebroadwan/tabsession/pkg/guard"
	"github.com/aussiebroadwan/tabsession/pkg/httpx"
	"github.com/aussiebroadwan/tabsession/pkg/metricsx"
	"github.com/aussiebroadwan/tabsession/pkg/monitor"
	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

const defaultLanding = "/dashboard"

// Portal is a small web front end whose pages are guarded by the session
// subsystem. Each request reads its session from cookies (or the
// server-side store they point at); nothing is held between requests.
type Portal struct {
	cfg     Config
	sdk     *authsdk.SDKClient
	deps    httpx.RouteDeps
	metrics *metricsx.Metrics
	logger  *slog.Logger
	started time.Time

	router  *mux.Router
	handler http.Handler
}

func NewPortal(cfg Config, sdk *authsdk.SDKClient, deps httpx.RouteDeps, reg *prometheus.Registry, logger *slog.Logger) *Portal {
	p := &Portal{
		cfg:     cfg,
		sdk:     sdk,
		deps:    deps,
		metrics: deps.Metrics,
		logger:  logger,
		started: time.Now(),
		router:  mux.NewRouter(),
	}
	p.routes(reg)
	p.handler = httpx.Chain(p.router, slogx.HTTPMiddleware(logger))
	return p
}

func (p *Portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

func (p *Portal) routes(reg *prometheus.Registry) {
	r := p.router
	guarded := func(req guard.Requirements, h http.HandlerFunc, mws ...httpx.Middleware) http.Handler {
		mws = append([]httpx.Middleware{httpx.RequireRoute(p.deps, p.cfg.Requirements(req))}, mws...)
		return httpx.Chain(h, mws...)
	}

	admin := guard.AdminOnly()
	admin.DeniedRedirectTo = defaultLanding
	authed := guard.Requirements{RequireAuth: true}

	r.Handle("/", guarded(guard.Public(), p.page)).Methods(http.MethodGet)
	r.HandleFunc(p.cfg.LoginPath, p.loginForm).Methods(http.MethodGet)
	r.Handle(p.cfg.LoginPath, httpx.Chain(http.HandlerFunc(p.login),
		httpx.RateLimitByIPAndFormField(p.cfg.LoginLimit, "username"),
	)).Methods(http.MethodPost)
	r.HandleFunc("/logout", p.logout).Methods(http.MethodPost)

	r.Handle(defaultLanding, guarded(guard.ActiveUser(), p.page)).Methods(http.MethodGet)
	r.Handle("/admin", guarded(admin, p.page)).Methods(http.MethodGet)

	r.Handle("/v1/session/status", httpx.Chain(http.HandlerFunc(p.status),
		httpx.RateLimitByIP(p.cfg.SessionLimit),
	)).Methods(http.MethodGet)
	r.Handle("/v1/session/refresh", guarded(authed, p.refresh,
		httpx.RateLimit(p.cfg.SessionLimit, httpx.CompositeKeyExtractor(":", httpx.ProfileKeyExtractor, httpx.IPKeyExtractor)),
	)).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})).Methods(http.MethodGet)
	r.HandleFunc("/livez", p.livez).Methods(http.MethodGet)
}

type pageResponse struct {
	Path    string              `json:"path"`
	Profile *tokenstore.Profile `json:"profile,omitempty"`
	Session guard.Session       `json:"session"`
}

func (p *Portal) page(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := pageResponse{Path: r.URL.Path}
	if prof, ok := httpx.ProfileFromContext(ctx); ok {
		resp.Profile = &prof
	}
	if store := httpx.StoreFromContext(ctx); store != nil {
		resp.Session = session.GuardSession(ctx, store, true)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (p *Portal) loginForm(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"action":    p.cfg.LoginPath,
		"returnUrl": landing(r.URL.Query().Get(guard.DefaultReturnParam)),
	})
}

// authenticator builds an auth client whose refresh token lives next to
// the request's access token.
func (p *Portal) authenticator(store *tokenstore.Store, logger *slog.Logger) *authsdk.Authenticator {
	return authsdk.NewAuthenticator(p.sdk, store.Backend(), authsdk.AuthenticatorConfig{
		ClientID:  p.cfg.ClientID,
		Scopes:    p.cfg.Scopes,
		Namespace: p.cfg.Namespace,
	}, logger)
}

func (p *Portal) manager(w http.ResponseWriter, r *http.Request) *session.Manager {
	log := slogx.FromContext(r.Context())
	store := p.deps.NewStore(w, r)
	return session.NewManager(store, p.authenticator(store, log), p.cfg.SessionConfig(),
		session.WithLogger(log),
		session.WithMetrics(p.metrics),
	)
}

func (p *Portal) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	mgr := p.manager(w, r)
	defer mgr.Close()

	_, err := mgr.Login(r.Context(), session.Credentials{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	})
	if err != nil {
		writeLoginError(w, err)
		return
	}

	httpx.NoCache(w)
	http.Redirect(w, r, landing(r.PostForm.Get(guard.DefaultReturnParam)), http.StatusSeeOther)
}

func writeLoginError(w http.ResponseWriter, err error) {
	var oerr *authsdk.OAuth2Error
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		authsdk.NewOAuth2Error(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error()).WriteError(w)
	case errors.As(err, &oerr) && oerr.StatusCode < http.StatusInternalServerError:
		oerr.WriteError(w)
	case errors.Is(err, session.ErrNotStored):
		authsdk.ErrServerError.WriteError(w)
	default:
		authsdk.NewOAuth2Error(http.StatusBadGateway, authsdk.ErrorCodeServerError, "auth service unavailable").WriteError(w)
	}
}

func (p *Portal) logout(w http.ResponseWriter, r *http.Request) {
	mgr := p.manager(w, r)
	defer mgr.Close()

	mgr.Logout(r.Context())
	httpx.NoCache(w)
	http.Redirect(w, r, p.cfg.LoginPath, http.StatusSeeOther)
}

func (p *Portal) status(w http.ResponseWriter, r *http.Request) {
	mon := monitor.New(p.deps.NewStore(w, r), nil, p.cfg.SessionConfig().Monitor,
		monitor.WithLogger(slogx.FromContext(r.Context())),
		monitor.WithMetrics(p.metrics),
	)
	httpx.WriteJSON(w, http.StatusOK, mon.Check(r.Context()))
}

func (p *Portal) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	store := httpx.StoreFromContext(ctx)

	mon := monitor.New(store, p.authenticator(store, log).Refresh, p.cfg.SessionConfig().Monitor,
		monitor.WithLogger(log),
		monitor.WithMetrics(p.metrics),
	)
	if err := mon.RefreshNow(ctx); err != nil {
		var oerr *authsdk.OAuth2Error
		if errors.As(err, &oerr) {
			oerr.WriteError(w)
			return
		}
		authsdk.NewOAuth2Error(http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant, "session ended").WriteError(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mon.Status())
}

func (p *Portal) livez(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(p.started).String(),
		Version: BuildVersion,
	})
}

func landing(returnURL string) string {
	if returnURL != "" && httpx.LocalPath(returnURL) {
		return returnURL
	}
	return defaultLanding
}
