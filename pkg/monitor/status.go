package monitor

import (
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/tokenstore"
	"github.com/aussiebroadwan/tabsession/pkg/tokenx"
)

// Status is an immutable snapshot of session freshness. ExpiresAt is epoch
// milliseconds and, like TimeUntilExpiry, is only meaningful when HasToken
// is set.
type Status struct {
	HasToken        bool          `json:"hasToken"`
	IsValid         bool          `json:"isValid"`
	ExpiresAt       int64         `json:"expiresAt,omitempty"`
	TimeUntilExpiry time.Duration `json:"timeUntilExpiry"`
	IsExpiringSoon  bool          `json:"isExpiringSoon"`
	NeedsRefresh    bool          `json:"needsRefresh"`
}

// Equivalent reports whether s and o describe the same session state.
// TimeUntilExpiry is ignored because it moves on every check.
func (s Status) Equivalent(o Status) bool {
	return s.HasToken == o.HasToken &&
		s.IsValid == o.IsValid &&
		s.ExpiresAt == o.ExpiresAt &&
		s.IsExpiringSoon == o.IsExpiringSoon &&
		s.NeedsRefresh == o.NeedsRefresh
}

// Expiry returns ExpiresAt as a time, or the zero time without a token.
func (s Status) Expiry() time.Time {
	if !s.HasToken || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ExpiresAt)
}

func computeStatus(rec tokenstore.Record, ok bool, cfg Config, now time.Time) Status {
	if !ok {
		return Status{}
	}

	exp := rec.Expiry()
	remaining := tokenx.Remaining(exp, now)
	soon := cfg.Policy.ExpiringSoon(remaining)

	return Status{
		HasToken:        true,
		IsValid:         !cfg.Policy.Expired(exp, now),
		ExpiresAt:       rec.ExpiresAt,
		TimeUntilExpiry: remaining,
		IsExpiringSoon:  soon,
		NeedsRefresh:    soon && cfg.AutoRefresh,
	}
}
