// Package metrics provides Prometheus metrics for authentication and
// authorization decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. A nil *Metrics, or one built with
// a nil registerer, records nothing.
type Metrics struct {
	enabled bool

	// Identity resolution
	resolutionsTotal   *prometheus.CounterVec
	resolutionFailures *prometheus.CounterVec

	// Authorization
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram

	// Credentials
	tokensIssuedTotal   *prometheus.CounterVec
	passwordChecksTotal *prometheus.CounterVec
	loginAttemptsTotal  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// If reg is nil, returns a no-op Metrics instance.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}
	if !m.enabled {
		return m
	}
	f := promauto.With(reg)

	m.resolutionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_identity_resolutions_total",
		Help: "Identity resolutions by credential method, mode and result",
	}, []string{"method", "mode", "result"})

	m.resolutionFailures = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_identity_resolution_failures_total",
		Help: "Failed identity resolutions by credential method and reason",
	}, []string{"method", "reason"})

	m.decisionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_authorization_decisions_total",
		Help: "Authorization decisions by requirement kind and result",
	}, []string{"kind", "result"})

	m.decisionDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "authkit_authorization_duration_seconds",
		Help:    "Authorization check duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
	})

	m.tokensIssuedTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_tokens_issued_total",
		Help: "Access tokens issued by result",
	}, []string{"result"})

	m.passwordChecksTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_password_verifications_total",
		Help: "Password verifications by result",
	}, []string{"result"})

	m.loginAttemptsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_login_attempts_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordResolution records a successful identity resolution.
// mode is "required" or "optional".
func (m *Metrics) RecordResolution(method, mode string) {
	if !m.on() {
		return
	}
	m.resolutionsTotal.WithLabelValues(method, mode, "success").Inc()
}

// RecordResolutionFailure records a failed identity resolution.
func (m *Metrics) RecordResolutionFailure(method, mode, reason string) {
	if !m.on() {
		return
	}
	m.resolutionsTotal.WithLabelValues(method, mode, "failure").Inc()
	m.resolutionFailures.WithLabelValues(method, reason).Inc()
}

// RecordDecision records an authorization decision.
// kind is one of "permission", "scope", "superuser" or "authenticated".
func (m *Metrics) RecordDecision(kind string, allowed bool, durationSeconds float64) {
	if !m.on() {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.decisionsTotal.WithLabelValues(kind, result).Inc()
	m.decisionDuration.Observe(durationSeconds)
}

// RecordTokenIssued records a token issuance attempt.
func (m *Metrics) RecordTokenIssued(ok bool) {
	if !m.on() {
		return
	}
	m.tokensIssuedTotal.WithLabelValues(result(ok)).Inc()
}

// RecordPasswordCheck records a password verification.
func (m *Metrics) RecordPasswordCheck(match bool) {
	if !m.on() {
		return
	}
	r := "mismatch"
	if match {
		r = "match"
	}
	m.passwordChecksTotal.WithLabelValues(r).Inc()
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(ok bool) {
	if !m.on() {
		return
	}
	m.loginAttemptsTotal.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
