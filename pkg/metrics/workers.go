package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron cycle outcomes.
const (
	CycleRan       = "ran"
	CycleSkipped   = "skipped"
	CycleLockError = "lock_error"
)

// Relay outcomes for a single outbox row.
const (
	RelayPublished = "published"
	RelayRetried   = "retried"
	RelayParked    = "parked"
)

// CronJobMetrics tracks the reconciliation worker. A nil value records nothing.
type CronJobMetrics struct {
	cycles   *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_cron_cycles_total",
			Help: "Scheduler ticks by whether this replica held the lock.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_cron_job_runs_total",
			Help: "Reconciliation job executions by result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketplace_cron_job_duration_seconds",
			Help:    "Wall time of one reconciliation job.",
			Buckets: []float64{.05, .25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
	}
	reg.MustRegister(m.cycles, m.runs, m.duration)
	return m
}

func (m *CronJobMetrics) Cycle(outcome string) {
	if m == nil || m.cycles == nil {
		return
	}
	m.cycles.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveJob records one job execution; a non-nil err counts as a failure.
func (m *CronJobMetrics) ObserveJob(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(normalizeLabel(job), result).Inc()
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(took.Seconds())
}

// RelayMetrics tracks the outbox publisher.
type RelayMetrics struct {
	rows    *prometheus.CounterVec
	batches prometheus.Histogram
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	m := &RelayMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_outbox_rows_total",
			Help: "Outbox rows handled by the relay, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketplace_outbox_batch_rows",
			Help:    "Rows claimed per relay batch.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	reg.MustRegister(m.rows, m.batches)
	return m
}

func (m *RelayMetrics) Row(eventType, outcome string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *RelayMetrics) Batch(rows int) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(float64(rows))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
