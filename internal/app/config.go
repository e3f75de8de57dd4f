package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/tabsession/pkg/guard"
	"github.com/aussiebroadwan/tabsession/pkg/httpx"
	"github.com/aussiebroadwan/tabsession/pkg/monitor"
	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
	"github.com/aussiebroadwan/tabsession/pkg/tokenx"
)

const envPrefix = "TABSESSION_"

var ErrInvalidConfig = errors.New("app: invalid config")

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Portal session modes.
const (
	PortalCookie = "cookie"
	PortalServer = "server"
)

type Config struct {
	AuthURL  string   `validate:"required,url"` // auth service base URL
	ClientID string   `validate:"required"`
	Scopes   []string `validate:"dive,required"`

	Store       string `validate:"oneof=memory file sqlite redis"`
	StoreDir    string `validate:"required_if=Store file"`
	SQLiteFile  string `validate:"required_if=Store sqlite"`
	RedisAddr   string `validate:"required_if=Store redis"`
	StoreSecret string // Optional: seals every stored entry when set
	Namespace   string `validate:"required"`

	CheckInterval   time.Duration `validate:"gt=0"`
	RefreshDelay    time.Duration `validate:"gt=0"`
	FreshnessBuffer time.Duration `validate:"gte=0"`
	ExpiryLeeway    time.Duration `validate:"gte=0"`
	AutoRefresh     bool
	CacheTTL        time.Duration `validate:"gte=0"`
	LoginPath       string        `validate:"startswith=/"`

	PortalSessions       string        `validate:"oneof=cookie server"`
	Port                 int           `validate:"min=1,max=65535"`
	ShutdownGracePeriod  time.Duration `validate:"gt=0"`
	HousekeepingInterval time.Duration `validate:"gt=0"`
	LoginLimit           httpx.RateLimitConfig
	SessionLimit         httpx.RateLimitConfig

	Env       string `validate:"oneof=dev staging prod"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`
	LogFile   string
}

// LoadConfig reads TABSESSION_* variables (and the shared ENV and LOG_*
// ones), after loading a .env file from the working directory if there is
// one.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AuthURL:  getEnvOrDefault(envPrefix+"AUTH_URL", "http://localhost:8080"),
		ClientID: getEnvOrDefault(envPrefix+"CLIENT_ID", "tab-portal"),
		Scopes:   httpx.ParseSpaceDelimitedFields(getEnvOrDefault(envPrefix+"SCOPES", "profile:read")),

		Store:       getEnvOrDefault(envPrefix+"STORE", StoreFile),
		StoreDir:    getEnvOrDefault(envPrefix+"STORE_DIR", defaultStoreDir()),
		SQLiteFile:  getEnvOrDefault(envPrefix+"SQLITE_FILE", "tabsession.db"),
		RedisAddr:   os.Getenv(envPrefix + "REDIS_ADDR"),
		StoreSecret: os.Getenv(envPrefix + "STORE_SECRET"),
		Namespace:   getEnvOrDefault(envPrefix+"NAMESPACE", tokenstore.DefaultNamespace),

		CheckInterval:   getEnvDurationOrDefault(envPrefix+"CHECK_INTERVAL", monitor.DefaultCheckInterval),
		RefreshDelay:    getEnvDurationOrDefault(envPrefix+"REFRESH_DELAY", monitor.DefaultRefreshDelay),
		FreshnessBuffer: getEnvDurationOrDefault(envPrefix+"FRESHNESS_BUFFER", tokenx.DefaultFreshnessBuffer),
		ExpiryLeeway:    getEnvDurationOrDefault(envPrefix+"EXPIRY_LEEWAY", tokenx.DefaultLeeway),
		AutoRefresh:     getEnvBoolOrDefault(envPrefix+"AUTO_REFRESH", true),
		CacheTTL:        getEnvDurationOrDefault(envPrefix+"CACHE_TTL", tokenstore.DefaultCacheTTL),
		LoginPath:       getEnvOrDefault(envPrefix+"LOGIN_PATH", guard.DefaultLoginPath),

		PortalSessions:       getEnvOrDefault(envPrefix+"PORTAL_SESSIONS", PortalCookie),
		Port:                 getEnvIntOrDefault(envPrefix+"PORT", 3000),
		ShutdownGracePeriod:  getEnvDurationOrDefault(envPrefix+"SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault(envPrefix+"HOUSEKEEPING_INTERVAL", 15*time.Minute),
		LoginLimit:           httpx.RateLimitFromEnv("login", httpx.LoginLimit),
		SessionLimit:         httpx.RateLimitFromEnv("session", httpx.SessionLimit),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		LogFile:   os.Getenv("LOG_FILE"),
	}

	return cfg, cfg.Validate()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) Policy() tokenx.Policy {
	return tokenx.Policy{Leeway: c.ExpiryLeeway, FreshnessBuffer: c.FreshnessBuffer}
}

func (c Config) StoreConfig() tokenstore.Config {
	return tokenstore.Config{
		Namespace: c.Namespace,
		Policy:    c.Policy(),
		CacheTTL:  c.CacheTTL,
	}
}

func (c Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Monitor.CheckInterval = c.CheckInterval
	cfg.Monitor.RefreshDelay = c.RefreshDelay
	cfg.Monitor.AutoRefresh = c.AutoRefresh
	cfg.Monitor.Policy = c.Policy()
	return cfg
}

// Requirements applies the configured login path to a guard preset.
func (c Config) Requirements(req guard.Requirements) guard.Requirements {
	if req.RedirectTo == "" {
		req.RedirectTo = c.LoginPath
	}
	return req
}

func (c Config) Production() bool { return c.Env == "prod" }

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".tabsession"
	}
	return filepath.Join(dir, "tabsession")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare integers are seconds.
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
