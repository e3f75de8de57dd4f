package httpx

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/tabsession/pkg/slogx"
)

// RateLimitConfig allows RequestsPerWindow requests per Window per key,
// with up to Burst at once.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

var (
	// LoginLimit guards credential submission against guessing.
	LoginLimit = RateLimitConfig{RequestsPerWindow: 5, Window: time.Minute, Burst: 5}

	// SessionLimit covers the status and refresh endpoints that pages poll.
	SessionLimit = RateLimitConfig{RequestsPerWindow: 120, Window: time.Minute, Burst: 30}
)

// RateLimitFromEnv overrides def from TABSESSION_RATELIMIT_{name}_REQUESTS,
// _WINDOW and _BURST. Unparseable or non-positive values are ignored.
func RateLimitFromEnv(name string, def RateLimitConfig) RateLimitConfig {
	prefix := "TABSESSION_RATELIMIT_" + strings.ToUpper(name) + "_"
	cfg := def

	if n, err := strconv.Atoi(os.Getenv(prefix + "REQUESTS")); err == nil && n > 0 {
		cfg.RequestsPerWindow = n
	}
	if d, err := time.ParseDuration(os.Getenv(prefix + "WINDOW")); err == nil && d > 0 {
		cfg.Window = d
	}
	if n, err := strconv.Atoi(os.Getenv(prefix + "BURST")); err == nil && n > 0 {
		cfg.Burst = n
	}
	return cfg
}

// KeyExtractor groups requests for rate limiting. An empty key skips the
// limiter.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor uses the first X-Forwarded-For hop, then X-Real-IP, then
// the peer address.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// FormFieldKeyExtractor keys on a form or query field, e.g. the username
// on a login form.
func FormFieldKeyExtractor(field string) KeyExtractor {
	return func(r *http.Request) string {
		if err := r.ParseForm(); err != nil {
			return ""
		}
		return r.FormValue(field)
	}
}

// ProfileKeyExtractor keys on the signed-in user placed in context by
// RequireRoute.
func ProfileKeyExtractor(r *http.Request) string {
	p, _ := ProfileFromContext(r.Context())
	return p.UserID
}

// CompositeKeyExtractor joins the non-empty keys of extractors with sep.
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(extractors))
		for _, ex := range extractors {
			if k := ex(r); k != "" {
				parts = append(parts, k)
			}
		}
		return strings.Join(parts, sep)
	}
}

type limiterSet struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// allow takes a token for key, or reports how long until one is free.
func (s *limiterSet) allow(key string) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > s.idle {
		for k, e := range s.entries {
			if now.Sub(e.seen) > s.idle {
				delete(s.entries, k)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.seen = now

	res := e.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// RateLimit refuses requests over cfg per key with 429 and Retry-After.
func RateLimit(cfg RateLimitConfig, key KeyExtractor) Middleware {
	set := &limiterSet{
		limit:   rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:   max(cfg.Burst, 1),
		idle:    max(cfg.Window, 5*time.Minute),
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, delay := set.allow(k)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(int((delay+time.Second-1)/time.Second), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			slogx.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", k,
				"retry_after", retryAfter)
			WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
		})
	}
}

// RateLimitByIP limits each client address.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return RateLimit(cfg, IPKeyExtractor)
}

// RateLimitByIPAndFormField limits each address and field value pair.
func RateLimitByIPAndFormField(cfg RateLimitConfig, field string) Middleware {
	return RateLimit(cfg, CompositeKeyExtractor(":", IPKeyExtractor, FormFieldKeyExtractor(field)))
}
