// Package sqlite is a tokenstore.Backend on an embedded SQLite database,
// for desktop and CLI clients that want their session to survive restarts
// alongside other local state.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
	_ "modernc.org/sqlite"
)

type Backend struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies
// pending migrations.
func Open(path string) (*Backend, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	b := &Backend{db: db, now: time.Now}
	if err := b.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply migrations: %w", err)
	}
	return b, nil
}

// WithClock overrides the clock used to lapse entries.
func (b *Backend) WithClock(now func() time.Time) *Backend {
	b.now = now
	return b
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) Load(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tokenstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load %s: %w", key, err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= b.now().UnixMilli() {
		_, _ = b.db.ExecContext(ctx,
			`DELETE FROM entries WHERE key = ? AND expires_at = ?`, key, expiresAt.Int64)
		return nil, tokenstore.ErrNotFound
	}

	return value, nil
}

func (b *Backend) Save(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	var exp sql.NullInt64
	if !expiresAt.IsZero() {
		exp = sql.NullInt64{Int64: expiresAt.UnixMilli(), Valid: true}
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO entries (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value      = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, data, exp, b.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save %s: %w", key, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes lapsed entries and reports how many went.
func (b *Backend) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		b.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete expired: %w", err)
	}
	return res.RowsAffected()
}
