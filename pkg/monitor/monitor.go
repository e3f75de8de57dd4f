package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/aussiebroadwan/tabsession/pkg/metricsx"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
	"github.com/aussiebroadwan/tabsession/pkg/tokenx"
)

var (
	ErrNoRefresher   = errors.New("monitor: no refresher configured")
	ErrRefreshFailed = errors.New("monitor: refresh failed")
	ErrPersistFailed = errors.New("monitor: could not persist refreshed token")
)

const (
	DefaultCheckInterval = 60 * time.Second
	DefaultRefreshDelay  = time.Second
)

type Config struct {
	CheckInterval time.Duration
	RefreshDelay  time.Duration
	AutoRefresh   bool
	Policy        tokenx.Policy
}

func DefaultConfig() Config {
	return Config{
		CheckInterval: DefaultCheckInterval,
		RefreshDelay:  DefaultRefreshDelay,
		AutoRefresh:   true,
		Policy:        tokenx.DefaultPolicy(),
	}
}

// Store is the part of *tokenstore.Store the monitor reads and writes.
type Store interface {
	Record(ctx context.Context) (tokenstore.Record, bool)
	SetToken(ctx context.Context, token string, lifetime time.Duration) bool
	SetUserProfile(ctx context.Context, p tokenstore.Profile) bool
	ClearAll(ctx context.Context)
}

// Grant is what a successful login or refresh hands back. A zero Lifetime
// means the token's own exp claim decides.
type Grant struct {
	Token    string
	Lifetime time.Duration
	Profile  *tokenstore.Profile
}

// RefreshFunc extends the current session.
type RefreshFunc func(ctx context.Context) (Grant, error)

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

func WithMetrics(mt *metricsx.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithSessionEnded registers fn to run after a failed refresh has cleared
// the session.
func WithSessionEnded(fn func()) Option {
	return func(m *Monitor) { m.onEnded = fn }
}

type Monitor struct {
	store   Store
	refresh RefreshFunc
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
	metrics *metricsx.Metrics
	onEnded func()

	checking    atomic.Bool
	evalMu      sync.Mutex
	refreshMu   sync.Mutex
	wantRefresh chan struct{}

	mu           sync.RWMutex
	status       Status
	published    bool
	lastChecked  time.Time
	backoffUntil time.Time
	subs        map[uint64]func(Status)
	nextSub     uint64

	lifecycle sync.Mutex
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        *conc.WaitGroup
}

// New builds a Monitor over store. refresh may be nil, in which case the
// monitor only observes.
func New(store Store, refresh RefreshFunc, cfg Config, opts ...Option) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = DefaultRefreshDelay
	}

	m := &Monitor{
		store:       store,
		refresh:     refresh,
		cfg:         cfg,
		now:         time.Now,
		wantRefresh: make(chan struct{}, 1),
		subs:        make(map[uint64]func(Status)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = slogx.OrDefault(m.logger).With("component", "monitor")
	return m
}

// Start publishes the initial status and begins polling. Calling Start on
// a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.runCtx, m.cancel = ctx, cancel
	m.wg = conc.NewWaitGroup()

	m.Check(ctx)
	m.wg.Go(func() { m.run(ctx) })

	m.logger.Info("session monitor started",
		"check_interval", m.cfg.CheckInterval,
		"auto_refresh", m.cfg.AutoRefresh)
}

// Stop cancels the poll timer, any scheduled refresh and any refresh in
// flight, then waits for the loop to exit. It is safe to call repeatedly.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.runCtx, m.cancel, m.wg = nil, nil, nil

	m.logger.Info("session monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			m.Check(ctx)

		case <-m.wantRefresh:
			if timer == nil {
				timer = time.NewTimer(m.cfg.RefreshDelay)
				timerCh = timer.C
			}

		case <-timerCh:
			timer, timerCh = nil, nil
			m.refreshIfNeeded(ctx)
		}
	}
}

// Check evaluates the store now and returns the published status. If a
// check is already running it returns the last snapshot without waiting.
func (m *Monitor) Check(ctx context.Context) Status {
	if !m.checking.CompareAndSwap(false, true) {
		return m.Status()
	}
	defer m.checking.Store(false)

	return m.evaluate(ctx)
}

// Recheck evaluates the store after a local mutation such as login or
// logout. Unlike Check it waits for a check in flight and then runs its
// own, so the published status reflects the mutation.
func (m *Monitor) Recheck(ctx context.Context) Status {
	return m.evaluate(ctx)
}

// Trigger runs a check unless one ran within the check interval. It is
// meant for external nudges such as a window regaining focus, and reports
// whether a check ran.
func (m *Monitor) Trigger(ctx context.Context) bool {
	m.mu.RLock()
	last := m.lastChecked
	m.mu.RUnlock()

	if !last.IsZero() && m.now().Sub(last) < m.cfg.CheckInterval {
		return false
	}
	m.Check(ctx)
	return true
}

// RefreshNow extends the session immediately. On failure the session is
// cleared and the error returned.
func (m *Monitor) RefreshNow(ctx context.Context) error {
	if m.refresh == nil {
		return ErrNoRefresher
	}

	m.lifecycle.Lock()
	runCtx := m.runCtx
	m.lifecycle.Unlock()

	if runCtx != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(runCtx, cancel)
		defer stop()
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	return m.doRefresh(ctx)
}

func (m *Monitor) refreshIfNeeded(ctx context.Context) {
	if m.refresh == nil {
		return
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.RLock()
	hold := m.backoffUntil
	m.mu.RUnlock()
	if m.now().Before(hold) {
		return
	}

	// Another refresh may have landed while the delay ran.
	if !m.evaluate(ctx).NeedsRefresh {
		return
	}
	if err := m.doRefresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Debug("scheduled refresh ended session", "error", err)
	}
}

func (m *Monitor) doRefresh(ctx context.Context) error {
	grant, err := m.refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.metrics.Refresh(metricsx.OutcomeFailure)
		m.logger.Warn("token refresh failed, ending session", "error", err)
		m.endSession(ctx)
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if !m.store.SetToken(ctx, grant.Token, grant.Lifetime) {
		m.metrics.Refresh(metricsx.OutcomeFailure)
		m.logger.Warn("refreshed token could not be stored, ending session")
		m.endSession(ctx)
		return ErrPersistFailed
	}
	if grant.Profile != nil {
		m.store.SetUserProfile(ctx, *grant.Profile)
	}

	m.metrics.Refresh(metricsx.OutcomeSuccess)
	st := m.evaluate(ctx)

	// A grant shorter than the freshness buffer would be refreshed again
	// right away; hold scheduled refreshes for a check interval instead.
	var hold time.Time
	if st.NeedsRefresh {
		hold = m.now().Add(m.cfg.CheckInterval)
		m.logger.Warn("refreshed token is already expiring soon, backing off",
			"time_until_expiry", st.TimeUntilExpiry,
			"retry_after", m.cfg.CheckInterval)
	}
	m.mu.Lock()
	m.backoffUntil = hold
	m.mu.Unlock()

	m.logger.Info("token refreshed", "expires_at", st.Expiry())
	return nil
}

func (m *Monitor) endSession(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	m.store.ClearAll(ctx)
	m.evaluate(ctx)

	if m.onEnded != nil {
		m.onEnded()
	}
}

func (m *Monitor) evaluate(ctx context.Context) Status {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	now := m.now()
	rec, ok := m.store.Record(ctx)
	next := computeStatus(rec, ok, m.cfg, now)

	m.metrics.Check()
	m.metrics.SetExpiry(next.TimeUntilExpiry)

	m.mu.Lock()
	m.lastChecked = now
	if m.published && m.status.Equivalent(next) {
		cur := m.status
		m.mu.Unlock()
		m.scheduleRefresh(cur)
		return cur
	}
	prev := m.status
	m.status, m.published = next, true
	subs := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.metrics.StatusChanged()
	m.logger.Debug("session status changed",
		"has_token", next.HasToken,
		"valid", next.IsValid,
		"expiring_soon", next.IsExpiringSoon,
		"was_valid", prev.IsValid)

	for _, fn := range subs {
		fn(next)
	}
	m.scheduleRefresh(next)
	return next
}

func (m *Monitor) scheduleRefresh(st Status) {
	if !st.NeedsRefresh || m.refresh == nil {
		return
	}
	select {
	case m.wantRefresh <- struct{}{}:
	default:
	}
}

// Subscribe registers fn to receive every newly published status. The
// returned func removes it. fn runs on the goroutine that performed the
// check and must not call back into Check.
func (m *Monitor) Subscribe(fn func(Status)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Status returns the last published snapshot.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsTokenValid reports whether the last snapshot holds a token that is
// still usable now.
func (m *Monitor) IsTokenValid() bool {
	st := m.Status()
	return st.HasToken && st.IsValid && !m.cfg.Policy.Expired(st.Expiry(), m.now())
}

// GetTimeUntilExpiry returns the time left on the snapshot's token, or
// false when there is none.
func (m *Monitor) GetTimeUntilExpiry() (time.Duration, bool) {
	st := m.Status()
	if !st.HasToken {
		return 0, false
	}
	return tokenx.Remaining(st.Expiry(), m.now()), true
}

// WillExpireWithin reports whether the token expires within d. Without a
// token the answer is true.
func (m *Monitor) WillExpireWithin(d time.Duration) bool {
	left, ok := m.GetTimeUntilExpiry()
	return !ok || left <= d
}

func (m *Monitor) Config() Config { return m.cfg }
