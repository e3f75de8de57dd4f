package monitor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tabsession/pkg/monitor"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clk   *clock
	store *tokenstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := newClock()
	return &fixture{
		clk: clk,
		store: tokenstore.New(tokenstore.NewMemoryBackend().WithClock(clk.Now), tokenstore.DefaultConfig(),
			tokenstore.WithClock(clk.Now),
			tokenstore.WithLogger(slogx.Discard()),
		),
	}
}

func (f *fixture) monitor(t *testing.T, refresh monitor.RefreshFunc, cfg monitor.Config, opts ...monitor.Option) *monitor.Monitor {
	t.Helper()
	opts = append([]monitor.Option{
		monitor.WithClock(f.clk.Now),
		monitor.WithLogger(slogx.Discard()),
	}, opts...)
	m := monitor.New(f.store, refresh, cfg, opts...)
	t.Cleanup(m.Stop)
	return m
}

func quietConfig() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.CheckInterval = time.Hour
	return cfg
}

func TestStartPublishesInitialStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.True(t, f.store.SetToken(context.Background(), "abc", time.Hour))

	m := f.monitor(t, nil, quietConfig())
	require.False(t, m.Status().HasToken, "nothing published before start")

	m.Start(context.Background())

	st := m.Status()
	require.True(t, st.HasToken)
	require.True(t, st.IsValid)
	require.False(t, st.IsExpiringSoon)
	require.Equal(t, f.clk.Now().Add(time.Hour).UnixMilli(), st.ExpiresAt)
	require.Equal(t, time.Hour, st.TimeUntilExpiry)
}

func TestUnchangedChecksKeepSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "abc", time.Hour))

	m := f.monitor(t, nil, quietConfig())

	var published atomic.Int32
	cancel := m.Subscribe(func(monitor.Status) { published.Add(1) })
	defer cancel()

	first := m.Check(ctx)
	f.clk.Advance(10 * time.Second)
	second := m.Check(ctx)

	require.Equal(t, first, second)
	require.EqualValues(t, 1, published.Load())

	left, ok := m.GetTimeUntilExpiry()
	require.True(t, ok)
	require.Equal(t, time.Hour-10*time.Second, left, "accessor is computed against the clock")
}

func TestFreshnessWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("auto refresh on", func(t *testing.T) {
		f := newFixture(t)
		require.True(t, f.store.SetToken(ctx, "abc", 4*time.Minute))

		st := f.monitor(t, nil, quietConfig()).Check(ctx)
		require.True(t, st.IsValid)
		require.True(t, st.IsExpiringSoon)
		require.True(t, st.NeedsRefresh)
	})

	t.Run("auto refresh off", func(t *testing.T) {
		f := newFixture(t)
		require.True(t, f.store.SetToken(ctx, "abc", 4*time.Minute))

		cfg := quietConfig()
		cfg.AutoRefresh = false
		st := f.monitor(t, nil, cfg).Check(ctx)
		require.True(t, st.IsExpiringSoon)
		require.False(t, st.NeedsRefresh)
	})
}

func TestRefreshFailureEndsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "abc", 4*time.Minute))
	require.True(t, f.store.SetUserProfile(ctx, tokenstore.Profile{Name: "Kim"}))

	var ended atomic.Bool
	refresh := func(context.Context) (monitor.Grant, error) {
		return monitor.Grant{}, errors.New("invalid_grant")
	}
	m := f.monitor(t, refresh, quietConfig(), monitor.WithSessionEnded(func() { ended.Store(true) }))

	var last monitor.Status
	m.Subscribe(func(st monitor.Status) { last = st })
	require.True(t, m.Check(ctx).HasToken)

	err := m.RefreshNow(ctx)
	require.ErrorIs(t, err, monitor.ErrRefreshFailed)

	_, ok := f.store.GetToken(ctx)
	require.False(t, ok)
	_, ok = f.store.GetUserProfile(ctx)
	require.False(t, ok)

	require.False(t, last.HasToken)
	require.False(t, m.Status().HasToken)
	require.False(t, m.IsTokenValid())
	require.True(t, ended.Load())
}

func TestRefreshStoresNewToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "old", 4*time.Minute))

	refresh := func(context.Context) (monitor.Grant, error) {
		return monitor.Grant{
			Token:    "new",
			Lifetime: time.Hour,
			Profile:  &tokenstore.Profile{Username: "kim", Role: "admin"},
		}, nil
	}
	m := f.monitor(t, refresh, quietConfig())
	require.True(t, m.Check(ctx).NeedsRefresh)

	require.NoError(t, m.RefreshNow(ctx))

	tok, ok := f.store.GetToken(ctx)
	require.True(t, ok)
	require.Equal(t, "new", tok)

	p, ok := f.store.GetUserProfile(ctx)
	require.True(t, ok)
	require.Equal(t, "admin", p.Role)

	st := m.Status()
	require.True(t, st.IsValid)
	require.False(t, st.NeedsRefresh)
}

func TestRefreshThatCannotBeStoredEndsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "old", 4*time.Minute))

	refresh := func(context.Context) (monitor.Grant, error) {
		return monitor.Grant{Token: "", Lifetime: time.Hour}, nil
	}
	m := f.monitor(t, refresh, quietConfig())

	require.ErrorIs(t, m.RefreshNow(ctx), monitor.ErrPersistFailed)
	require.False(t, m.Status().HasToken)
}

func TestRefreshWithoutRefresher(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := f.monitor(t, nil, quietConfig())
	require.ErrorIs(t, m.RefreshNow(context.Background()), monitor.ErrNoRefresher)
}

func TestScheduledRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "old", 4*time.Minute))

	var calls atomic.Int32
	refresh := func(context.Context) (monitor.Grant, error) {
		calls.Add(1)
		return monitor.Grant{Token: "fresh", Lifetime: time.Hour}, nil
	}

	cfg := quietConfig()
	cfg.RefreshDelay = 10 * time.Millisecond
	m := f.monitor(t, refresh, cfg)
	m.Start(ctx)

	require.Eventually(t, func() bool {
		tok, _ := f.store.GetToken(ctx)
		return tok == "fresh"
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return !m.Status().NeedsRefresh }, time.Second, 5*time.Millisecond)
	m.Stop()
	require.EqualValues(t, 1, calls.Load())
}

func TestTriggerIsThrottled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "abc", time.Hour))

	cfg := quietConfig()
	cfg.CheckInterval = time.Minute
	m := f.monitor(t, nil, cfg)

	require.True(t, m.Trigger(ctx), "first trigger always checks")

	f.clk.Advance(30 * time.Second)
	require.False(t, m.Trigger(ctx))

	f.clk.Advance(30 * time.Second)
	require.True(t, m.Trigger(ctx))
}

type blockingStore struct {
	monitor.Store
	block   atomic.Bool
	entered chan struct{}
	release chan struct{}
	reads   atomic.Int32
}

func (b *blockingStore) Record(ctx context.Context) (tokenstore.Record, bool) {
	b.reads.Add(1)
	if b.block.Load() {
		b.entered <- struct{}{}
		<-b.release
	}
	return b.Store.Record(ctx)
}

func TestConcurrentCheckIsANoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "abc", time.Hour))

	bs := &blockingStore{
		Store:   f.store,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := monitor.New(bs, nil, quietConfig(), monitor.WithClock(f.clk.Now), monitor.WithLogger(slogx.Discard()))
	before := m.Check(ctx)

	bs.block.Store(true)
	done := make(chan monitor.Status)
	go func() { done <- m.Check(ctx) }()
	<-bs.entered

	require.Equal(t, before, m.Check(ctx), "overlapping check returns last snapshot")
	require.EqualValues(t, 2, bs.reads.Load())

	close(bs.release)
	<-done
}

func TestStopCancelsInflightRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "old", 4*time.Minute))

	entered := make(chan struct{})
	refresh := func(ctx context.Context) (monitor.Grant, error) {
		close(entered)
		<-ctx.Done()
		return monitor.Grant{}, ctx.Err()
	}

	cfg := quietConfig()
	cfg.RefreshDelay = time.Millisecond
	m := f.monitor(t, refresh, cfg)
	m.Start(ctx)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never started")
	}

	m.Stop()
	m.Stop()

	tok, ok := f.store.GetToken(ctx)
	require.True(t, ok, "teardown is not a refresh failure")
	require.Equal(t, "old", tok)
}

func TestWillExpireWithin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	m := f.monitor(t, nil, quietConfig())

	m.Check(ctx)
	require.True(t, m.WillExpireWithin(time.Minute), "no token counts as expiring")
	_, ok := m.GetTimeUntilExpiry()
	require.False(t, ok)

	require.True(t, f.store.SetToken(ctx, "abc", 10*time.Minute))
	f.clk.Advance(tokenstore.DefaultCacheTTL)
	m.Check(ctx)

	require.False(t, m.WillExpireWithin(5*time.Minute))
	require.True(t, m.WillExpireWithin(10*time.Minute))
	require.True(t, m.IsTokenValid())
}

// staleStore reads the store, then parks the caller once, so the check
// holding it publishes what it read before the park.
type staleStore struct {
	monitor.Store
	park    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *staleStore) Record(ctx context.Context) (tokenstore.Record, bool) {
	rec, ok := s.Store.Record(ctx)
	if s.park.CompareAndSwap(true, false) {
		s.entered <- struct{}{}
		<-s.release
	}
	return rec, ok
}

func TestRecheckWaitsForCheckInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "abc", time.Hour))

	ss := &staleStore{
		Store:   f.store,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := monitor.New(ss, nil, quietConfig(), monitor.WithClock(f.clk.Now), monitor.WithLogger(slogx.Discard()))
	require.True(t, m.Check(ctx).HasToken)

	ss.park.Store(true)
	inflight := make(chan monitor.Status)
	go func() { inflight <- m.Check(ctx) }()
	<-ss.entered

	f.store.ClearAll(ctx)
	require.True(t, m.Check(ctx).HasToken, "plain check is a no-op while one is running")

	rechecked := make(chan monitor.Status)
	go func() { rechecked <- m.Recheck(ctx) }()
	close(ss.release)

	require.True(t, (<-inflight).HasToken)
	require.False(t, (<-rechecked).HasToken)
	require.False(t, m.Status().HasToken)
}

func TestShortGrantsBackOff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.True(t, f.store.SetToken(ctx, "old", 4*time.Minute))

	var calls atomic.Int32
	refresh := func(context.Context) (monitor.Grant, error) {
		calls.Add(1)
		return monitor.Grant{Token: "short", Lifetime: 2 * time.Minute}, nil
	}

	cfg := quietConfig()
	cfg.RefreshDelay = time.Millisecond
	m := f.monitor(t, refresh, cfg)
	m.Start(ctx)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	require.True(t, m.Status().NeedsRefresh)

	m.Check(ctx)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, calls.Load(), "no refresh until the check interval has passed")

	require.NoError(t, m.RefreshNow(ctx), "explicit refresh is not held back")
	require.EqualValues(t, 2, calls.Load())
}
