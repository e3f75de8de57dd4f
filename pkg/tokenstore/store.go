package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/tabsession/pkg/idx"
	"github.com/aussiebroadwan/tabsession/pkg/metricsx"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenx"
)

const DefaultCacheTTL = 5 * time.Second

type Config struct {
	// Namespace prefixes every backend key.
	Namespace string

	// Policy decides when a stored token stops being served.
	Policy tokenx.Policy

	// CacheTTL is how long a cached entry is trusted before the durable
	// copy is consulted again. Zero disables the cache.
	CacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Namespace: DefaultNamespace,
		Policy:    tokenx.DefaultPolicy(),
		CacheTTL:  DefaultCacheTTL,
	}
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithMetrics(m *metricsx.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is the client's token and profile store. Construct one per
// session context; there is no package-level instance.
type Store struct {
	backend Backend
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
	metrics *metricsx.Metrics
	loads   singleflight.Group

	mu      sync.RWMutex
	token   *cached[Record]
	profile *cached[Profile]
}

type cached[T any] struct {
	value     T
	checkedAt time.Time
}

func New(backend Backend, cfg Config, opts ...Option) *Store {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}

	s := &Store{
		backend: backend,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = slogx.OrDefault(s.logger).With("component", "tokenstore")
	return s
}

func (s *Store) Policy() tokenx.Policy { return s.cfg.Policy }

// Backend returns the durable storage under the store, for collaborators
// that keep their own entries next to the token.
func (s *Store) Backend() Backend { return s.backend }

func (s *Store) key(name string) string { return Key(s.cfg.Namespace, name) }

// SetToken stores token with a lifetime measured from now. When lifetime
// is not positive, or the token's own exp claim is earlier, the exp claim
// wins. Records that would already be expired are refused.
func (s *Store) SetToken(ctx context.Context, token string, lifetime time.Duration) bool {
	if strings.TrimSpace(token) == "" {
		s.logger.Warn("refusing to store empty token")
		return false
	}

	now := s.now()
	var expiresAt time.Time
	if lifetime > 0 {
		expiresAt = now.Add(lifetime)
	}
	if c := tokenx.DecodePayload(token); c != nil {
		if expiresAt.IsZero() || c.Expiry().Before(expiresAt) {
			expiresAt = c.Expiry()
		}
	}
	if expiresAt.IsZero() {
		s.logger.Warn("refusing to store token without lifetime or exp claim")
		return false
	}

	rec := Record{
		ID:        idx.NewAt(now),
		Token:     token,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
	}
	if err := rec.validate(); err != nil {
		s.logger.Warn("refusing to store token", "error", err)
		return false
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.storageFailure("encode_token", err)
		return false
	}
	if err := s.backend.Save(ctx, s.key(KeyToken), data, expiresAt); err != nil {
		s.storageFailure("save_token", err)
		return false
	}

	s.mu.Lock()
	s.token = &cached[Record]{value: rec, checkedAt: now}
	s.mu.Unlock()

	s.logger.Debug("token stored", "record_id", rec.ID, "expires_at", expiresAt)
	return true
}

// GetToken returns the held token if it is still usable.
func (s *Store) GetToken(ctx context.Context) (string, bool) {
	rec, ok := s.Record(ctx)
	if !ok {
		return "", false
	}
	return rec.Token, true
}

// Record returns the held record if it is still usable. Expired or corrupt
// durable entries are deleted on the way through.
func (s *Store) Record(ctx context.Context) (Record, bool) {
	now := s.now()

	s.mu.RLock()
	c := s.token
	s.mu.RUnlock()

	if c != nil && s.fresh(c.checkedAt, now) {
		s.metrics.CacheLookup(true)
		if !s.cfg.Policy.Expired(c.value.Expiry(), now) {
			return c.value, true
		}
		// Another writer may have replaced it; only the durable copy decides.
		s.logger.Debug("cached token expired", "record_id", c.value.ID)
		s.dropToken()
	} else {
		s.metrics.CacheLookup(false)
	}

	data, err := s.load(ctx, KeyToken)
	if err != nil {
		s.dropToken()
		if !errors.Is(err, ErrNotFound) {
			s.storageFailure("load_token", err)
		}
		return Record{}, false
	}

	rec, err := decodeRecord(data)
	if err != nil {
		s.storageFailure("decode_token", err)
		s.ClearToken(ctx)
		return Record{}, false
	}

	if s.cfg.Policy.Expired(rec.Expiry(), now) {
		s.logger.Debug("stored token expired", "record_id", rec.ID)
		s.ClearToken(ctx)
		return Record{}, false
	}

	if c != nil && c.value.ID != rec.ID {
		s.logger.Debug("token replaced by another writer", "cached", c.value.ID, "stored", rec.ID)
	}

	s.mu.Lock()
	s.token = &cached[Record]{value: rec, checkedAt: now}
	s.mu.Unlock()

	return rec, true
}

// ClearToken removes the token from cache and durable storage. Calling it
// with nothing stored is fine.
func (s *Store) ClearToken(ctx context.Context) {
	s.dropToken()
	if err := s.backend.Delete(ctx, s.key(KeyToken)); err != nil {
		s.storageFailure("delete_token", err)
	}
}

func (s *Store) SetUserProfile(ctx context.Context, p Profile) bool {
	data, err := json.Marshal(p)
	if err != nil {
		s.storageFailure("encode_profile", err)
		return false
	}
	if err := s.backend.Save(ctx, s.key(KeyProfile), data, time.Time{}); err != nil {
		s.storageFailure("save_profile", err)
		return false
	}

	s.mu.Lock()
	s.profile = &cached[Profile]{value: p, checkedAt: s.now()}
	s.mu.Unlock()
	return true
}

func (s *Store) GetUserProfile(ctx context.Context) (Profile, bool) {
	now := s.now()

	s.mu.RLock()
	c := s.profile
	s.mu.RUnlock()

	if c != nil && s.fresh(c.checkedAt, now) {
		return c.value, true
	}

	data, err := s.load(ctx, KeyProfile)
	if err != nil {
		s.dropProfile()
		if !errors.Is(err, ErrNotFound) {
			s.storageFailure("load_profile", err)
		}
		return Profile{}, false
	}

	p, err := decodeProfile(data)
	if err != nil {
		s.storageFailure("decode_profile", err)
		s.clearProfile(ctx)
		return Profile{}, false
	}

	s.mu.Lock()
	s.profile = &cached[Profile]{value: p, checkedAt: now}
	s.mu.Unlock()
	return p, true
}

// ClearAll removes the token and the profile.
func (s *Store) ClearAll(ctx context.Context) {
	s.ClearToken(ctx)
	s.clearProfile(ctx)
}

func (s *Store) clearProfile(ctx context.Context) {
	s.dropProfile()
	if err := s.backend.Delete(ctx, s.key(KeyProfile)); err != nil {
		s.storageFailure("delete_profile", err)
	}
}

func (s *Store) fresh(checkedAt, now time.Time) bool {
	return s.cfg.CacheTTL > 0 && now.Sub(checkedAt) < s.cfg.CacheTTL
}

// load coalesces concurrent cache misses for the same key into one
// backend read.
func (s *Store) load(ctx context.Context, name string) ([]byte, error) {
	key := s.key(name)
	v, err, _ := s.loads.Do(key, func() (any, error) {
		return s.backend.Load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Store) dropToken() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

func (s *Store) dropProfile() {
	s.mu.Lock()
	s.profile = nil
	s.mu.Unlock()
}

func (s *Store) storageFailure(op string, err error) {
	s.metrics.StorageError(op)
	s.logger.Warn("token storage failure", "op", op, "error", err)
}
