package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RetentionMetrics records retention job runs and purged rows.
type RetentionMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	purged   *prometheus.CounterVec
}

// NewRetentionMetrics registers the retention worker metrics on the provided registerer.
func NewRetentionMetrics(reg prometheus.Registerer) *RetentionMetrics {
	if reg == nil {
		return &RetentionMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_job_runs_total",
		Help: "Retention job executions by outcome.",
	}, []string{"job", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retention_job_duration_seconds",
		Help:    "Duration of retention jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	purged := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_rows_purged_total",
		Help: "Rows deleted by retention jobs.",
	}, []string{"job"})
	reg.MustRegister(runs, duration, purged)
	return &RetentionMetrics{runs: runs, duration: duration, purged: purged}
}

// ObserveRun records one job execution. err decides the outcome label.
func (m *RetentionMetrics) ObserveRun(job string, elapsed time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	job = normalizeLabel(job)
	m.runs.WithLabelValues(job, outcome).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// AddPurged adds rows deleted by the job.
func (m *RetentionMetrics) AddPurged(job string, rows int64) {
	if m == nil || m.purged == nil || rows <= 0 {
		return
	}
	m.purged.WithLabelValues(normalizeLabel(job)).Add(float64(rows))
}
