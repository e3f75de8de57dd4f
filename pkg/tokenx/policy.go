package tokenx

import (
	"errors"
	"time"
)

const (
	// DefaultLeeway is how long before its literal expiry a token stops
	// being sent, so requests in flight don't reach the server expired.
	DefaultLeeway = 30 * time.Second

	// DefaultFreshnessBuffer is the window in which a token counts as
	// expiring soon and becomes a refresh candidate.
	DefaultFreshnessBuffer = 5 * time.Minute
)

var ErrInvalidPolicy = errors.New("tokenx: invalid policy")

// Policy holds the two buffers every expiry decision is made with. The
// store and the monitor share one Policy so they never disagree about
// whether a session is alive.
type Policy struct {
	Leeway          time.Duration
	FreshnessBuffer time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Leeway:          DefaultLeeway,
		FreshnessBuffer: DefaultFreshnessBuffer,
	}
}

func (p Policy) Validate() error {
	if p.Leeway < 0 || p.FreshnessBuffer < 0 {
		return ErrInvalidPolicy
	}
	if p.FreshnessBuffer < p.Leeway {
		return ErrInvalidPolicy
	}
	return nil
}

// Expired reports whether a token expiring at expiresAt is unusable at now.
func (p Policy) Expired(expiresAt, now time.Time) bool {
	return ExpiredAt(expiresAt, p.Leeway, now)
}

// ExpiringSoon reports whether remaining falls inside the freshness window.
func (p Policy) ExpiringSoon(remaining time.Duration) bool {
	return ExpiringSoon(remaining, p.FreshnessBuffer)
}

// IsExpired reports whether token is unusable now, treating buffer as
// already elapsed. Undecodable tokens are expired.
func IsExpired(token string, buffer time.Duration) bool {
	return IsExpiredAt(token, buffer, time.Now())
}

func IsExpiredAt(token string, buffer time.Duration, now time.Time) bool {
	c := DecodePayload(token)
	if c == nil {
		return true
	}
	return ExpiredAt(c.Expiry(), buffer, now)
}

// TimeUntilExpiry returns max(0, exp-now), or false when token cannot be
// decoded.
func TimeUntilExpiry(token string) (time.Duration, bool) {
	return TimeUntilExpiryAt(token, time.Now())
}

func TimeUntilExpiryAt(token string, now time.Time) (time.Duration, bool) {
	c := DecodePayload(token)
	if c == nil {
		return 0, false
	}
	return Remaining(c.Expiry(), now), true
}

// ExpiredAt is true once now >= expiresAt-buffer. A zero expiresAt is
// always expired.
func ExpiredAt(expiresAt time.Time, buffer time.Duration, now time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return !now.Before(expiresAt.Add(-buffer))
}

// Remaining is max(0, expiresAt-now).
func Remaining(expiresAt, now time.Time) time.Duration {
	return max(expiresAt.Sub(now), 0)
}

// ExpiringSoon is true iff 0 <= remaining <= buffer.
func ExpiringSoon(remaining, buffer time.Duration) bool {
	return remaining >= 0 && remaining <= buffer
}
