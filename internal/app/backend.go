package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore/sqlite"
)

// Backend is the durable storage selected by Config.Store, sealed when a
// store secret is configured.
type Backend struct {
	tokenstore.Backend

	sweeper Sweeper
	closers []func() error
}

// OpenBackend opens the configured storage. Redis is pinged so a bad
// address fails here rather than on the first read.
func OpenBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}

	switch cfg.Store {
	case StoreMemory:
		m := tokenstore.NewMemoryBackend()
		b.Backend, b.sweeper = m, m

	case StoreFile:
		b.Backend = tokenstore.NewFileBackend(afero.NewOsFs(), cfg.StoreDir)

	case StoreSQLite:
		db, err := sqlite.Open(cfg.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		b.Backend, b.sweeper = db, db
		b.closers = append(b.closers, db.Close)

	case StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		b.Backend = tokenstore.NewRedisBackend(client, "")
		b.closers = append(b.closers, client.Close)

	default:
		return nil, fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, cfg.Store)
	}

	if cfg.StoreSecret != "" {
		sealed, err := tokenstore.NewSealedBackend(b.Backend, []byte(cfg.StoreSecret))
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Backend = sealed
	}

	logger.Info("token storage ready", "store", cfg.Store, "sealed", cfg.StoreSecret != "")
	return b, nil
}

// Sweeper returns the expired-entry sweeper for stores that need one, or
// nil for stores that lapse entries themselves.
func (b *Backend) Sweeper() Sweeper { return b.sweeper }

func (b *Backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
