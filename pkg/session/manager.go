package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aussiebroadwan/tabsession/pkg/guard"
	"github.com/aussiebroadwan/tabsession/pkg/metricsx"
	"github.com/aussiebroadwan/tabsession/pkg/monitor"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
	"github.com/aussiebroadwan/tabsession/pkg/tokenx"
)

var (
	ErrInvalidCredentials = errors.New("session: invalid credentials")
	ErrLoginFailed        = errors.New("session: login failed")
	ErrNotStored          = errors.New("session: token could not be stored")
)

// Grant is the result of a login or refresh.
type Grant = monitor.Grant

type Credentials struct {
	Username string   `json:"username" validate:"required"`
	Password string   `json:"password" validate:"required"`
	Scopes   []string `json:"scopes,omitempty" validate:"omitempty,dive,required"`
}

// Authenticator is the remote side of the session. Implementations live
// outside this package; see authsdk for the HTTP one.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (Grant, error)
	Refresh(ctx context.Context) (Grant, error)
	Logout(ctx context.Context) error
}

type Config struct {
	Monitor monitor.Config
	Guard   guard.Config
}

func DefaultConfig() Config {
	return Config{
		Monitor: monitor.DefaultConfig(),
		Guard:   guard.DefaultConfig(),
	}
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metricsx.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithSessionEnded registers fn to run when a failed refresh ends the
// session.
func WithSessionEnded(fn func()) Option {
	return func(m *Manager) { m.onEnded = fn }
}

type Manager struct {
	store    *tokenstore.Store
	auth     Authenticator
	monitor  *monitor.Monitor
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metricsx.Metrics
	onEnded  func()
	validate *validator.Validate

	initialized atomic.Bool
}

// NewManager wires a monitor over store using auth for refreshes. The
// monitor uses the store's policy so both agree on expiry.
func NewManager(store *tokenstore.Store, auth Authenticator, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		auth:     auth,
		cfg:      cfg,
		now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = slogx.OrDefault(m.logger).With("component", "session")

	var refresh monitor.RefreshFunc
	if auth != nil {
		refresh = auth.Refresh
	}

	mcfg := cfg.Monitor
	mcfg.Policy = store.Policy()
	m.monitor = monitor.New(store, refresh, mcfg,
		monitor.WithClock(m.now),
		monitor.WithLogger(m.logger),
		monitor.WithMetrics(m.metrics),
		monitor.WithSessionEnded(m.sessionEnded),
	)
	return m
}

// Start publishes the first status and starts background monitoring.
// Until Start has run, route guards report Loading.
func (m *Manager) Start(ctx context.Context) {
	m.monitor.Start(ctx)
	m.initialized.Store(true)
}

// Close stops background monitoring. Stored credentials are kept.
func (m *Manager) Close() {
	m.monitor.Stop()
}

func (m *Manager) Initialized() bool { return m.initialized.Load() }

func (m *Manager) Monitor() *monitor.Monitor { return m.monitor }

func (m *Manager) Store() *tokenstore.Store { return m.store }

// Login exchanges creds for a token and stores it with the user's profile.
// Authenticator errors stay in the chain for errors.As.
func (m *Manager) Login(ctx context.Context, creds Credentials) (tokenstore.Profile, error) {
	if err := m.validate.Struct(creds); err != nil {
		return tokenstore.Profile{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, describeValidation(err))
	}

	if m.auth == nil {
		return tokenstore.Profile{}, fmt.Errorf("%w: no authenticator configured", ErrLoginFailed)
	}

	grant, err := m.auth.Login(ctx, creds)
	if err != nil {
		m.logger.Info("login rejected", "username", creds.Username, "error", err)
		return tokenstore.Profile{}, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	if !m.store.SetToken(ctx, grant.Token, grant.Lifetime) {
		return tokenstore.Profile{}, ErrNotStored
	}

	profile := ProfileFromClaims(grant.Token)
	if grant.Profile != nil {
		profile = *grant.Profile
	}
	if !m.store.SetUserProfile(ctx, profile) {
		m.logger.Warn("profile not stored; guards will treat role as unknown")
	}

	m.monitor.Recheck(ctx)
	m.initialized.Store(true)

	m.logger.Info("logged in", "username", profile.Username, "role", profile.Role)
	return profile, nil
}

// Logout clears the remote session if it can and the local one always.
func (m *Manager) Logout(ctx context.Context) {
	if m.auth != nil {
		if err := m.auth.Logout(ctx); err != nil {
			m.logger.Warn("remote logout failed; clearing local session anyway", "error", err)
		}
	}
	m.store.ClearAll(ctx)
	m.monitor.Recheck(ctx)
	m.logger.Info("logged out")
}

// CurrentToken returns the token to attach to outbound API calls.
func (m *Manager) CurrentToken(ctx context.Context) (string, bool) {
	return m.store.GetToken(ctx)
}

func (m *Manager) Status() monitor.Status { return m.monitor.Status() }

// Profile returns the stored profile, if any.
func (m *Manager) Profile(ctx context.Context) (tokenstore.Profile, bool) {
	return m.store.GetUserProfile(ctx)
}

// GuardSession describes the current session the way route guards see it.
func (m *Manager) GuardSession(ctx context.Context) guard.Session {
	return GuardSession(ctx, m.store, m.Initialized())
}

func (m *Manager) sessionEnded() {
	m.logger.Info("session ended after failed refresh")
	if m.onEnded != nil {
		m.onEnded()
	}
}

// GuardSession builds a guard.Session from store. Role and status come
// from the stored profile, or from the token's claims when no profile is
// stored.
func GuardSession(ctx context.Context, store *tokenstore.Store, initialized bool) guard.Session {
	sess := guard.Session{Initialized: initialized}

	tok, ok := store.GetToken(ctx)
	if !ok {
		return sess
	}
	sess.Authenticated = true

	if p, ok := store.GetUserProfile(ctx); ok && (p.Role != "" || p.Status != "") {
		sess.Role, sess.Status, sess.HasProfile = p.Role, p.Status, true
		return sess
	}
	if p := ProfileFromClaims(tok); p.Role != "" || p.Status != "" {
		sess.Role, sess.Status, sess.HasProfile = p.Role, p.Status, true
	}
	return sess
}

// ProfileFromClaims reads display fields out of a JWT. Opaque tokens give
// an empty profile.
func ProfileFromClaims(token string) tokenstore.Profile {
	c := tokenx.DecodePayload(token)
	if c == nil {
		return tokenstore.Profile{}
	}
	return tokenstore.Profile{
		UserID:   c.Subject,
		Username: c.Username,
		Name:     c.PreferredName,
		Role:     c.Role,
		Status:   c.Status,
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, strings.ToLower(fe.Field())+" is "+fe.Tag())
	}
	return strings.Join(msgs, ", ")
}
