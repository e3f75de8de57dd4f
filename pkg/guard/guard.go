package guard

import (
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/tabsession/pkg/metricsx"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
)

var ErrNavigation = errors.New("guard: navigation failed")

const (
	DefaultThrottle    = time.Second
	DefaultReturnParam = "returnUrl"
)

// State is where a Guard sits in its redirect state machine.
type State int

const (
	StateInitializing State = iota
	StateAllowed
	StateDeniedPending
	StateDeniedRedirected
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAllowed:
		return "allowed"
	case StateDeniedPending:
		return "denied_pending_redirect"
	case StateDeniedRedirected:
		return "denied_redirected"
	default:
		return "unknown"
	}
}

type Config struct {
	// Throttle is the minimum gap between redirect attempts.
	Throttle time.Duration

	// ReturnParam names the query parameter carrying the denied path.
	ReturnParam string
}

func DefaultConfig() Config {
	return Config{Throttle: DefaultThrottle, ReturnParam: DefaultReturnParam}
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

func WithMetrics(m *metricsx.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// Guard applies one set of requirements to a sequence of (session,
// pathname) evaluations and issues at most one redirect per pathname
// visited. A Guard belongs to one mounted page or request; it is safe for
// concurrent use.
type Guard struct {
	req     Requirements
	nav     Navigator
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
	metrics *metricsx.Metrics

	mu         sync.Mutex
	limiter    *rate.Limiter
	pathname   string
	redirected bool
	state      State
}

func New(req Requirements, nav Navigator, cfg Config, opts ...Option) *Guard {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.ReturnParam == "" {
		cfg.ReturnParam = DefaultReturnParam
	}

	g := &Guard{
		req:     req,
		nav:     nav,
		cfg:     cfg,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(cfg.Throttle), 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = slogx.OrDefault(g.logger).With("component", "guard")
	return g
}

func (g *Guard) Requirements() Requirements { return g.req }

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Evaluate decides access for sess at pathname and, when denied, attempts
// the redirect unless one of the brakes holds it back.
func (g *Guard) Evaluate(sess Session, pathname string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pathname != g.pathname {
		g.pathname = pathname
		g.redirected = false
	}

	d := Decide(sess, g.req)
	switch {
	case d.Loading:
		g.state = StateInitializing
	case d.Allowed:
		g.state = StateAllowed
	case g.redirected:
		g.state = StateDeniedRedirected
	default:
		g.state = StateDeniedPending
		if g.redirect(d, pathname) {
			g.redirected = true
			g.state = StateDeniedRedirected
		}
	}
	return d
}

// redirect reports whether a navigation was attempted. Callers hold g.mu.
func (g *Guard) redirect(d Decision, pathname string) bool {
	log := g.logger.With("pathname", pathname, "target", d.RedirectTarget, "reason", d.Reason)

	if samePath(pathname, d.RedirectTarget) {
		g.metrics.Redirect(string(d.Reason), metricsx.OutcomeSuppressed)
		log.Debug("already at redirect target")
		return false
	}
	if !g.limiter.AllowN(g.now(), 1) {
		g.metrics.Redirect(string(d.Reason), metricsx.OutcomeSuppressed)
		log.Debug("redirect throttled")
		return false
	}

	err := g.nav.Push(withReturn(d.RedirectTarget, g.cfg.ReturnParam, pathname))
	if err == nil {
		g.metrics.Redirect(string(d.Reason), metricsx.OutcomeSuccess)
		log.Debug("redirected")
		return true
	}

	log.Warn("redirect failed, retrying without return path", "error", err)
	if err := g.nav.Push(d.RedirectTarget); err != nil {
		g.metrics.Redirect(string(d.Reason), metricsx.OutcomeFailure)
		log.Error("redirect fallback failed", "error", errors.Join(ErrNavigation, err))
		return true
	}

	g.metrics.Redirect(string(d.Reason), metricsx.OutcomeFallback)
	return true
}

func withReturn(target, param, pathname string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(param, pathname)
	u.RawQuery = q.Encode()
	return u.String()
}

func samePath(pathname, target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return pathname == target
	}
	p, err := url.Parse(pathname)
	if err != nil {
		return pathname == u.Path
	}
	return p.Path == u.Path
}
