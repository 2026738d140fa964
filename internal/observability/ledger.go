package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Posting outcomes used as metric labels.
const (
	OutcomeSuccess      = "success"
	OutcomeConfig       = "configuration"
	OutcomeValidation   = "validation"
	OutcomePrecondition = "precondition"
	OutcomeConflict     = "conflict"
	OutcomeError        = "error"
)

// LedgerMetrics instruments postings, retries and account code generation.
// A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	postings        *prometheus.CounterVec
	postingDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	integrity       prometheus.Gauge
}

// NewLedgerMetrics registers the ledger collectors on registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &LedgerMetrics{
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_postings_total",
			Help: "Ledger posting events by event type and outcome.",
		}, []string{"event", "outcome"}),
		postingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_ledger_posting_duration_seconds",
			Help:    "Latency of ledger posting events including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_retries_total",
			Help: "Retried attempts after a concurrency conflict.",
		}, []string{"operation"}),
		integrity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_ledger_equation_difference",
			Help: "Assets minus liabilities, equity and net profit at the last integrity check.",
		}),
	}
	registerer.MustRegister(m.postings, m.postingDuration, m.retries, m.integrity)
	return m
}

// ObservePosting records one posting event.
func (m *LedgerMetrics) ObservePosting(event, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(event, outcome).Inc()
	m.postingDuration.WithLabelValues(event).Observe(elapsed.Seconds())
}

// ObserveRetry counts a retried attempt for operation.
func (m *LedgerMetrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// SetEquationDifference publishes the last integrity check result.
func (m *LedgerMetrics) SetEquationDifference(diff float64) {
	if m == nil {
		return
	}
	m.integrity.Set(diff)
}
