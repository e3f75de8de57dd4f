package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

const (
	DefaultLoginAttempts = 3
	DefaultRetryDelay    = 200 * time.Millisecond
)

type AuthenticatorConfig struct {
	ClientID string
	Scopes   []string

	// Namespace prefixes the refresh token key in the backend. It should
	// match the token store's namespace.
	Namespace string

	// LoginAttempts bounds retries of a login that failed in transport.
	LoginAttempts uint
	RetryDelay    time.Duration
}

// Authenticator implements session.Authenticator against the auth
// service. The refresh token never leaves the backend it is stored in.
type Authenticator struct {
	client  *SDKClient
	backend tokenstore.Backend
	cfg     AuthenticatorConfig
	logger  *slog.Logger
}

var _ session.Authenticator = (*Authenticator)(nil)

func NewAuthenticator(client *SDKClient, backend tokenstore.Backend, cfg AuthenticatorConfig, logger *slog.Logger) *Authenticator {
	if cfg.LoginAttempts == 0 {
		cfg.LoginAttempts = DefaultLoginAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	return &Authenticator{
		client:  client,
		backend: backend,
		cfg:     cfg,
		logger:  slogx.OrDefault(logger).With("component", "authsdk"),
	}
}

func (a *Authenticator) refreshKey() string {
	return tokenstore.Key(a.cfg.Namespace, tokenstore.KeyRefresh)
}

// Login runs the password grant. Transport failures are retried; an
// OAuth2 error from the server is returned at once.
func (a *Authenticator) Login(ctx context.Context, creds session.Credentials) (session.Grant, error) {
	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = a.cfg.Scopes
	}

	var resp *TokenResponse
	err := retry.Do(
		func() error {
			r, err := a.client.PasswordGrant(ctx, a.cfg.ClientID, creds.Username, creds.Password, scopes)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(a.cfg.LoginAttempts),
		retry.Delay(a.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Warn("login attempt failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return session.Grant{}, err
	}

	return a.grant(ctx, resp)
}

// Refresh runs the refresh token grant once.
func (a *Authenticator) Refresh(ctx context.Context) (session.Grant, error) {
	refreshToken, err := a.loadRefreshToken(ctx)
	if err != nil {
		return session.Grant{}, err
	}

	resp, err := a.client.RefreshGrant(ctx, a.cfg.ClientID, refreshToken)
	if err != nil {
		return session.Grant{}, err
	}

	return a.grant(ctx, resp)
}

// Logout revokes the stored refresh token and forgets it. The local copy
// is removed even when revocation fails.
func (a *Authenticator) Logout(ctx context.Context) error {
	refreshToken, err := a.loadRefreshToken(ctx)
	if errors.Is(err, ErrNoRefreshToken) {
		return nil
	}
	if err != nil {
		return err
	}

	revokeErr := a.client.RevokeToken(ctx, a.cfg.ClientID, refreshToken)
	if err := a.backend.Delete(ctx, a.refreshKey()); err != nil {
		a.logger.Warn("failed to forget refresh token", "error", err)
	}
	return revokeErr
}

func (a *Authenticator) grant(ctx context.Context, resp *TokenResponse) (session.Grant, error) {
	if resp.RefreshToken != "" {
		if err := a.backend.Save(ctx, a.refreshKey(), []byte(resp.RefreshToken), time.Time{}); err != nil {
			return session.Grant{}, fmt.Errorf("authsdk: store refresh token: %w", err)
		}
	}

	profile := a.profile(ctx, resp.AccessToken)
	return session.Grant{
		Token:    resp.AccessToken,
		Lifetime: time.Duration(resp.ExpiresIn) * time.Second,
		Profile:  &profile,
	}, nil
}

// profile asks /v1/userinfo first and falls back to the token's claims,
// filling gaps from the claims either way.
func (a *Authenticator) profile(ctx context.Context, accessToken string) tokenstore.Profile {
	claims := session.ProfileFromClaims(accessToken)

	info, err := a.client.GetUserInfo(ctx, accessToken)
	if err != nil {
		a.logger.Debug("userinfo unavailable, using token claims", "error", err)
		return claims
	}

	p := tokenstore.Profile{
		UserID:   info.UserID,
		Username: info.Username,
		Name:     info.PreferredName,
		Role:     info.Role,
		Status:   info.Status,
	}
	if p.UserID == "" {
		p.UserID = claims.UserID
	}
	if p.Role == "" {
		p.Role = claims.Role
	}
	if p.Status == "" {
		p.Status = claims.Status
	}
	return p
}

func (a *Authenticator) loadRefreshToken(ctx context.Context) (string, error) {
	data, err := a.backend.Load(ctx, a.refreshKey())
	if errors.Is(err, tokenstore.ErrNotFound) || (err == nil && len(data) == 0) {
		return "", ErrNoRefreshToken
	}
	if err != nil {
		return "", fmt.Errorf("authsdk: load refresh token: %w", err)
	}
	return string(data), nil
}

func isTransient(err error) bool {
	var oerr *OAuth2Error
	if errors.As(err, &oerr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
