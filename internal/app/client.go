package app

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/tabsession/pkg/authsdk"
	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

// Client is the command line's session: one store over the configured
// backend, shared by every subcommand.
type Client struct {
	SDK     *authsdk.SDKClient
	Manager *session.Manager

	backend *Backend
}

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger, opts ...session.Option) (*Client, error) {
	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	sdk := authsdk.NewSDKClient(cfg.AuthURL)
	auth := authsdk.NewAuthenticator(sdk, backend, authsdk.AuthenticatorConfig{
		ClientID:  cfg.ClientID,
		Scopes:    cfg.Scopes,
		Namespace: cfg.Namespace,
	}, logger)

	store := tokenstore.New(backend, cfg.StoreConfig(), tokenstore.WithLogger(logger))
	opts = append([]session.Option{session.WithLogger(logger)}, opts...)

	return &Client{
		SDK:     sdk,
		Manager: session.NewManager(store, auth, cfg.SessionConfig(), opts...),
		backend: backend,
	}, nil
}

// Close stops monitoring and releases the backend. The session stays
// stored for the next command.
func (c *Client) Close() error {
	c.Manager.Close()
	return c.backend.Close()
}
