package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDisabled(t *testing.T) {
	m := New(nil)
	if m == nil {
		t.Fatal("metrics should not be nil (noop)")
	}

	// These should not panic even though they're noop
	m.RecordResolution("bearer", "required")
	m.RecordResolutionFailure("api_key", "optional", "not_found")
	m.RecordDecision("permission", true, 0.001)
	m.RecordTokenIssued(true)
	m.RecordPasswordCheck(false)
	m.RecordLogin(false)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordResolution("bearer", "required")
	m.RecordDecision("scope", false, 0)
}

func TestRecordResolution(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordResolution("bearer", "required")
	m.RecordResolution("bearer", "required")
	m.RecordResolutionFailure("bearer", "optional", "invalid_token")

	if got := testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("bearer", "required", "success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("bearer", "optional", "failure")); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.resolutionFailures.WithLabelValues("bearer", "invalid_token")); got != 1 {
		t.Errorf("reason count = %v, want 1", got)
	}
}

func TestRecordDecision(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDecision("permission", true, 0.001)
	m.RecordDecision("permission", false, 0.002)
	m.RecordDecision("scope", false, 0.002)

	if got := testutil.ToFloat64(m.decisionsTotal.WithLabelValues("permission", "allowed")); got != 1 {
		t.Errorf("allowed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.decisionsTotal.WithLabelValues("scope", "denied")); got != 1 {
		t.Errorf("scope denied = %v, want 1", got)
	}
}

func TestCredentialCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTokenIssued(true)
	m.RecordTokenIssued(false)
	m.RecordPasswordCheck(true)
	m.RecordLogin(false)

	if got := testutil.ToFloat64(m.tokensIssuedTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("token failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.passwordChecksTotal.WithLabelValues("match")); got != 1 {
		t.Errorf("password matches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.loginAttemptsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("login failures = %v, want 1", got)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	New(reg)
}
