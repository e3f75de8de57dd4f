package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tabsession/pkg/guard"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TABSESSION_STORE_DIR", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreFile, cfg.Store)
	require.Equal(t, []string{"profile:read"}, cfg.Scopes)
	require.Equal(t, 60*time.Second, cfg.CheckInterval)
	require.Equal(t, time.Second, cfg.RefreshDelay)
	require.Equal(t, 5*time.Minute, cfg.FreshnessBuffer)
	require.Equal(t, 30*time.Second, cfg.ExpiryLeeway)
	require.Equal(t, 5*time.Second, cfg.CacheTTL)
	require.True(t, cfg.AutoRefresh)
	require.Equal(t, "/login", cfg.LoginPath)
	require.Equal(t, PortalCookie, cfg.PortalSessions)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("TABSESSION_STORE", "redis")
	t.Setenv("TABSESSION_REDIS_ADDR", "localhost:6379")
	t.Setenv("TABSESSION_SCOPES", "profile:read  orders:write")
	t.Setenv("TABSESSION_CHECK_INTERVAL", "15")
	t.Setenv("TABSESSION_AUTO_REFRESH", "false")
	t.Setenv("TABSESSION_LOGIN_PATH", "/signin")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreRedis, cfg.Store)
	require.Equal(t, []string{"profile:read", "orders:write"}, cfg.Scopes)
	require.Equal(t, 15*time.Second, cfg.CheckInterval, "bare integers are seconds")
	require.False(t, cfg.AutoRefresh)
	require.False(t, cfg.SessionConfig().Monitor.AutoRefresh)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "/signin", cfg.Requirements(guard.ActiveUser()).RedirectTo)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":          {"TABSESSION_STORE": "etcd"},
		"redis without address":  {"TABSESSION_STORE": "redis"},
		"relative login path":    {"TABSESSION_LOGIN_PATH": "login"},
		"buffer below leeway":    {"TABSESSION_FRESHNESS_BUFFER": "10s", "TABSESSION_EXPIRY_LEEWAY": "30s"},
		"bad auth url":           {"TABSESSION_AUTH_URL": "not a url"},
		"unknown portal session": {"TABSESSION_PORTAL_SESSIONS": "jwt"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TABSESSION_STORE_DIR", t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
