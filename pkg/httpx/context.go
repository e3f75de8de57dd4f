package httpx

import (
	"context"

	"github.com/aussiebroadwan/tabsession/pkg/guard"
	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
)

type ctxKey int

const (
	ctxKeyDecision ctxKey = iota
	ctxKeyProfile
	ctxKeyStore
)

func WithDecision(ctx context.Context, d guard.Decision) context.Context {
	return context.WithValue(ctx, ctxKeyDecision, d)
}

// DecisionFromContext returns the guard decision RequireRoute made for
// this request.
func DecisionFromContext(ctx context.Context) (guard.Decision, bool) {
	d, ok := ctx.Value(ctxKeyDecision).(guard.Decision)
	return d, ok
}

func WithProfile(ctx context.Context, p tokenstore.Profile) context.Context {
	return context.WithValue(ctx, ctxKeyProfile, p)
}

func ProfileFromContext(ctx context.Context) (tokenstore.Profile, bool) {
	p, ok := ctx.Value(ctxKeyProfile).(tokenstore.Profile)
	return p, ok
}

func WithStore(ctx context.Context, s *tokenstore.Store) context.Context {
	return context.WithValue(ctx, ctxKeyStore, s)
}

// StoreFromContext returns the per-request store, or nil outside a
// guarded route.
func StoreFromContext(ctx context.Context) *tokenstore.Store {
	s, _ := ctx.Value(ctxKeyStore).(*tokenstore.Store)
	return s
}
