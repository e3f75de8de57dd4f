package session

import (
	"context"

	"github.com/aussiebroadwan/tabsession/pkg/guard"
)

// RouteGuard ties a guard to a Manager so callers only supply the
// pathname.
type RouteGuard struct {
	m     *Manager
	guard *guard.Guard
}

// RouteGuard returns a guard for one page or view. Keep it for as long as
// the view lives; its redirect bookkeeping is per instance.
func (m *Manager) RouteGuard(req guard.Requirements, nav guard.Navigator) *RouteGuard {
	return &RouteGuard{
		m: m,
		guard: guard.New(req, nav, m.cfg.Guard,
			guard.WithClock(m.now),
			guard.WithLogger(m.logger),
			guard.WithMetrics(m.metrics),
		),
	}
}

func (rg *RouteGuard) Evaluate(ctx context.Context, pathname string) guard.Decision {
	return rg.guard.Evaluate(rg.m.GuardSession(ctx), pathname)
}

func (rg *RouteGuard) State() guard.State { return rg.guard.State() }
