package report

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are boring counters derived from frozen Results only.
// Each harness owns its registry; nothing is registered globally.
type Metrics struct {
	registry      *prometheus.Registry
	repetitions   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	storageErrors *prometheus.CounterVec
	lastFinished  *prometheus.GaugeVec
}

// NewMetrics creates the harness metrics on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		repetitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expharness_repetitions_total",
			Help: "Repetitions logged, by terminal status",
		}, []string{"experiment", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "expharness_repetition_duration_seconds",
			Help:    "Wall-clock time of a repetition from start to logged output",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"experiment"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expharness_storage_errors_total",
			Help: "Repetitions abandoned because an artifact could not be written",
		}, []string{"experiment"}),
		lastFinished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "expharness_last_repetition_timestamp_seconds",
			Help: "Unix time the last repetition was logged",
		}, []string{"experiment"}),
	}
	m.registry.MustRegister(m.repetitions, m.duration, m.storageErrors, m.lastFinished)
	return m
}

// RecordResult updates all metrics from a single immutable Result.
// This is the only way repetition metrics change.
func (m *Metrics) RecordResult(r *Result) {
	m.repetitions.WithLabelValues(r.Experiment, string(r.Status)).Inc()
	m.duration.WithLabelValues(r.Experiment).Observe(r.Duration.Seconds())
	m.lastFinished.WithLabelValues(r.Experiment).Set(float64(r.EndTime.UnixNano()) / 1e9)
}

// RecordStorageError counts a repetition lost to a storage failure
func (m *Metrics) RecordStorageError(experimentName string) {
	m.storageErrors.WithLabelValues(experimentName).Inc()
}

// Gatherer exposes the registry for export
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the metrics over HTTP
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
