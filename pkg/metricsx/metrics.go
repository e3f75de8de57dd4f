// Package metricsx exposes Prometheus collectors for the session subsystem.
// A nil *Metrics is valid and records nothing, so components can take one
// optionally without guarding every call site.
package metricsx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tabsession"

// Outcome labels shared by refresh and redirect counters.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeSuppressed = "suppressed"
	OutcomeFallback   = "fallback"
)

type Metrics struct {
	checks        prometheus.Counter
	statusChanges prometheus.Counter
	refreshes     *prometheus.CounterVec
	redirects     *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	expiry        prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		checks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_checks_total",
			Help:      "Session freshness checks performed.",
		}),
		statusChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_status_changes_total",
			Help:      "Session status snapshots published.",
		}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		redirects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_redirects_total",
			Help:      "Guard redirect attempts by denial reason and outcome.",
		}, []string{"reason", "outcome"}),
		storageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Token store failures degraded to no-token, by operation.",
		}, []string{"op"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_cache_lookups_total",
			Help:      "Token store cache lookups by result.",
		}, []string{"result"}),
		expiry: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "token_expiry_seconds",
			Help:      "Seconds until the held token expires, 0 when there is none.",
		}),
	}
}

func (m *Metrics) Check() {
	if m != nil {
		m.checks.Inc()
	}
}

func (m *Metrics) StatusChanged() {
	if m != nil {
		m.statusChanges.Inc()
	}
}

func (m *Metrics) Refresh(outcome string) {
	if m != nil {
		m.refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Redirect(reason, outcome string) {
	if m != nil {
		m.redirects.WithLabelValues(reason, outcome).Inc()
	}
}

func (m *Metrics) StorageError(op string) {
	if m != nil {
		m.storageErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SetExpiry(d time.Duration) {
	if m != nil {
		m.expiry.Set(d.Seconds())
	}
}
