package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ReputationMetrics exposes counters for the scoring, access and lending
// engines.
type ReputationMetrics struct {
	updates       *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	totalScore    prometheus.Histogram
	loanTerms     *prometheus.CounterVec
	loanEvents    *prometheus.CounterVec
	activeLoans   prometheus.Gauge
	scorerChanges *prometheus.CounterVec
	rpcRequests   *prometheus.CounterVec
}

var (
	reputationOnce     sync.Once
	reputationRegistry *ReputationMetrics
)

// Reputation returns the process-wide collector set, registering it with the
// default prometheus registry on first use.
func Reputation() *ReputationMetrics {
	reputationOnce.Do(func() {
		reputationRegistry = newReputationMetrics()
		prometheus.MustRegister(reputationRegistry.collectors()...)
	})
	return reputationRegistry
}

func newReputationMetrics() *ReputationMetrics {
	return &ReputationMetrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reputation_updates_total",
			Help: "Count of committed reputation updates by category.",
		}, []string{"category"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reputation_rejected_total",
			Help: "Count of refused reputation mutations by reason.",
		}, []string{"reason"}),
		totalScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reputation_total_score",
			Help:    "Distribution of total scores produced by updates.",
			Buckets: prometheus.LinearBuckets(0, 100, 11),
		}),
		loanTerms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_loan_terms_total",
			Help: "Loan term evaluations by tier and approval outcome.",
		}, []string{"tier", "approved"}),
		loanEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_loan_events_total",
			Help: "Loan lifecycle transitions by kind.",
		}, []string{"kind"}),
		activeLoans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lending_active_loans",
			Help: "Number of open loans.",
		}),
		scorerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reputation_scorer_changes_total",
			Help: "Authorized scorer set changes by action.",
		}, []string{"action"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "JSON-RPC requests by method and outcome.",
		}, []string{"method", "outcome"}),
	}
}

func (m *ReputationMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.updates,
		m.rejected,
		m.totalScore,
		m.loanTerms,
		m.loanEvents,
		m.activeLoans,
		m.scorerChanges,
		m.rpcRequests,
	}
}

func (m *ReputationMetrics) ObserveUpdate(category string, total uint64) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	m.updates.WithLabelValues(category).Inc()
	m.totalScore.Observe(float64(total))
}

func (m *ReputationMetrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *ReputationMetrics) ObserveLoanTerms(tier string, approved bool) {
	if m == nil {
		return
	}
	m.loanTerms.WithLabelValues(tier, strconv.FormatBool(approved)).Inc()
}

func (m *ReputationMetrics) ObserveLoanEvent(kind string) {
	if m == nil {
		return
	}
	m.loanEvents.WithLabelValues(kind).Inc()
}

func (m *ReputationMetrics) SetActiveLoans(count uint64) {
	if m == nil {
		return
	}
	m.activeLoans.Set(float64(count))
}

func (m *ReputationMetrics) ObserveScorerChange(action string) {
	if m == nil {
		return
	}
	m.scorerChanges.WithLabelValues(action).Inc()
}

func (m *ReputationMetrics) ObserveRPC(method, outcome string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
}
