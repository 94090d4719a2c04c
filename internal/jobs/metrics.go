// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	refreshed   prometheus.Counter
}

var (
	sharedOnce    sync.Once
	sharedMetrics *Metrics
)

// NewMetrics registers job collectors on registerer. A nil registerer returns one
// process-wide instance bound to the default registry, so repeated calls never panic
// on duplicate registration.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	sharedOnce.Do(func() {
		sharedMetrics = register(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubroster_jobs_total",
			Help: "Job executions by job name and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubroster_jobs_failures_total",
			Help: "Failed job executions by job name.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubroster_job_duration_seconds",
			Help:    "Wall time of job executions.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clubroster_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		refreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clubroster_member_status_refreshed_total",
			Help: "Stored member statuses rewritten because a future-dated transition became effective.",
		}),
	}
	reg.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.refreshed)
	return m
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job. It is safe on a nil receiver.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		m.runs.WithLabelValues(t.job, outcomeFailure).Inc()
		m.failures.WithLabelValues(t.job).Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, outcomeSuccess).Inc()
	m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// AddRefreshed counts members whose stored status moved during a refresh run.
func (m *Metrics) AddRefreshed(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.refreshed.Add(float64(count))
}
