package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	drift        prometheus.Counter
	ingestRows   *prometheus.CounterVec
	failedChunks prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddDrift counts variants the integrity audit found out of sync.
func (m *Metrics) AddDrift(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.drift.Add(float64(count))
}

// AddIngest records the outcome of one ingest job.
func (m *Metrics) AddIngest(imported, skipped, failedChunks int) {
	if m == nil {
		return
	}
	if imported > 0 {
		m.ingestRows.WithLabelValues("imported").Add(float64(imported))
	}
	if skipped > 0 {
		m.ingestRows.WithLabelValues("skipped").Add(float64(skipped))
	}
	if failedChunks > 0 {
		m.failedChunks.Add(float64(failedChunks))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	drift := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_stock_drift_variants_total",
		Help: "Variants whose stored stock differed from the replayed movement log.",
	})
	ingestRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ingest_rows_total",
		Help: "Ingested rows partitioned by outcome.",
	}, []string{"status"})
	failedChunks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_ingest_failed_chunks_total",
		Help: "Ingest chunks rolled back as a whole.",
	})
	registerer.MustRegister(runs, failures, duration, drift, ingestRows, failedChunks)
	return &Metrics{runs: runs, failures: failures, duration: duration, drift: drift, ingestRows: ingestRows, failedChunks: failedChunks}
}
