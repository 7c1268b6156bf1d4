package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReputationMetricsCounters(t *testing.T) {
	m := newReputationMetrics()

	m.ObserveUpdate("LoanRepayment", 60)
	m.ObserveUpdate("LoanRepayment", 80)
	m.ObserveRejected("")
	m.ObserveLoanTerms("Gold", true)
	m.SetActiveLoans(3)

	if got := testutil.ToFloat64(m.updates.WithLabelValues("LoanRepayment")); got != 2 {
		t.Fatalf("expected 2 updates, got %v", got)
	}
	if got := testutil.ToFloat64(m.rejected.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected unknown rejection bucket, got %v", got)
	}
	if got := testutil.ToFloat64(m.loanTerms.WithLabelValues("Gold", "true")); got != 1 {
		t.Fatalf("expected one approved Gold evaluation, got %v", got)
	}
	if got := testutil.ToFloat64(m.activeLoans); got != 3 {
		t.Fatalf("expected 3 active loans, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *ReputationMetrics
	m.ObserveUpdate("x", 1)
	m.ObserveRejected("x")
	m.ObserveLoanTerms("x", false)
	m.ObserveLoanEvent("x")
	m.SetActiveLoans(1)
	m.ObserveScorerChange("x")
	m.ObserveRPC("x", "ok")
}
