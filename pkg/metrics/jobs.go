package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records runs of the maintenance worker's scheduled jobs.
type JobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	findings *prometheus.CounterVec
}

// NewJobMetrics registers the job metrics on the provided registerer.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maintenance_job_duration_seconds",
		Help:    "Duration of maintenance jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "maintenance_job_runs_total",
		Help: "Maintenance job executions by outcome.",
	}, []string{"job", "outcome"})
	findings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "maintenance_job_findings_total",
		Help: "Rows a maintenance job flagged or removed.",
	}, []string{"job", "kind"})
	reg.MustRegister(duration, runs, findings)
	return &JobMetrics{
		duration: duration,
		runs:     runs,
		findings: findings,
	}
}

// ObserveRun records one finished job run.
func (m *JobMetrics) ObserveRun(job string, elapsed time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	label := normalizeLabel(job)
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
	m.runs.WithLabelValues(label, outcome(err)).Inc()
}

// AddFindings counts rows a job acted on, such as purged outbox rows or drifted SKUs.
func (m *JobMetrics) AddFindings(job, kind string, n int) {
	if m == nil || m.findings == nil || n <= 0 {
		return
	}
	m.findings.WithLabelValues(normalizeLabel(job), normalizeLabel(kind)).Add(float64(n))
}
