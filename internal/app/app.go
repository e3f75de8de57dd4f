package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aussiebroadwan/tabsession/pkg/authsdk"
	"github.com/aussiebroadwan/tabsession/pkg/httpx"
	"github.com/aussiebroadwan/tabsession/pkg/metricsx"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// NewLogger configures the process logger from cfg.
func NewLogger(cfg Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "tabsession",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
	})
}

// Application is the portal server with its storage and housekeeping.
type Application struct {
	cfg    Config
	logger *slog.Logger

	backend      *Backend // nil for cookie sessions
	housekeeping *HousekeepingService

	server *http.Server
	portal *Portal
}

func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg:    cfg,
		logger: NewLogger(cfg),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := httpx.RouteDeps{
		Cookies: httpx.CookieConfig{Secure: cfg.Production()},
		Store:   cfg.StoreConfig(),
		Guard:   cfg.SessionConfig().Guard,
		Metrics: metricsx.New(reg),
	}
	if err := app.initSessions(ctx, &deps); err != nil {
		return nil, err
	}

	app.portal = NewPortal(cfg, authsdk.NewSDKClient(cfg.AuthURL), deps, reg, app.logger)
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.portal,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return app, nil
}

// initSessions decides where portal sessions live. Cookie sessions are
// sealed when a secret is configured; server sessions use the configured
// store and only put an ID in the cookie.
func (app *Application) initSessions(ctx context.Context, deps *httpx.RouteDeps) error {
	if app.cfg.PortalSessions == PortalServer {
		backend, err := OpenBackend(ctx, app.cfg, app.logger)
		if err != nil {
			return err
		}
		app.backend = backend
		deps.Backend = httpx.ServerSideBackend(backend, deps.Cookies)

		if sw := backend.Sweeper(); sw != nil {
			app.housekeeping = NewHousekeepingService(sw, app.logger, app.cfg.HousekeepingInterval)
		}
		return nil
	}

	if app.cfg.StoreSecret == "" {
		if app.cfg.Production() {
			app.logger.Warn("cookie sessions are not sealed; set TABSESSION_STORE_SECRET")
		}
		return nil
	}

	secret := []byte(app.cfg.StoreSecret)
	cookies := deps.Cookies
	deps.Backend = func(w http.ResponseWriter, r *http.Request) tokenstore.Backend {
		// The secret was checked non-empty above, so sealing cannot fail.
		sealed, _ := tokenstore.NewSealedBackend(httpx.NewCookieBackend(w, r, cookies), secret)
		return sealed
	}
	return nil
}

// Run serves until SIGINT or SIGTERM.
func (app *Application) Run() error {
	if app.housekeeping != nil {
		app.housekeeping.Start()
	}

	app.logger.Info("portal starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"sessions", app.cfg.PortalSessions,
		"auth_url", app.cfg.AuthURL)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

func (app *Application) Shutdown() error {
	app.logger.Info("shutting down portal...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.housekeeping != nil {
		app.housekeeping.Stop()
	}

	if app.backend != nil {
		if err := app.backend.Close(); err != nil {
			app.logger.Error("error closing session store", "error", err)
			return err
		}
	}

	app.logger.Info("portal stopped")
	return nil
}

// Handler exposes the portal for tests and embedding.
func (app *Application) Handler() http.Handler { return app.portal }
