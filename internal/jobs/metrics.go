// Package jobmetrics instruments asynq task processing and the ledger
// integrity check.
package jobmetrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Task outcomes recorded in odyssey_jobs_total.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

// Metrics holds the worker collectors. A nil *Metrics records nothing.
type Metrics struct {
	tasks       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	drift       prometheus.Gauge
	imbalance   prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors. A nil registerer means the Prometheus
// default, registered once per process.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Middleware records outcome and duration of every task served by the mux.
func (m *Metrics) Middleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, task)
		m.observe(task.Type(), time.Since(start), err)
		return err
	})
}

func (m *Metrics) observe(taskType string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, asynq.SkipRetry):
		outcome = OutcomeDropped
	case err != nil:
		outcome = OutcomeRetry
	default:
		m.lastSuccess.WithLabelValues(taskType).SetToCurrentTime()
	}
	m.tasks.WithLabelValues(taskType, outcome).Inc()
	m.duration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// RecordIntegrity publishes the result of the last integrity check.
func (m *Metrics) RecordIntegrity(driftedAccounts int, imbalance float64) {
	if m == nil {
		return
	}
	m.drift.Set(float64(driftedAccounts))
	m.imbalance.Set(imbalance)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Processed tasks by type and outcome.",
		}, []string{"task", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Task processing time in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
		}, []string{"task"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per task type.",
		}, []string{"task"}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_ledger_integrity_drift_accounts",
			Help: "Accounts whose balance disagrees with the posting log at the last integrity check.",
		}),
		imbalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_ledger_integrity_imbalance",
			Help: "Absolute difference between assets and liabilities plus equity at the last integrity check.",
		}),
	}
	registerer.MustRegister(m.tasks, m.duration, m.lastSuccess, m.drift, m.imbalance)
	return m
}
