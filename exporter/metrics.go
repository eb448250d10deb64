package exporter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments export jobs. A nil *Metrics is a valid no-op.
type Metrics struct {
	jobs     *prometheus.CounterVec
	rows     *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewMetrics registers the export metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exporter_jobs_total",
			Help: "Export jobs by format and outcome.",
		}, []string{"format", "outcome"}),
		rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exporter_rows_total",
			Help: "Rows streamed into encoders, by format.",
		}, []string{"format"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exporter_delivered_bytes_total",
			Help: "Bytes accepted by destinations, by format.",
		}, []string{"format"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exporter_job_duration_seconds",
			Help:    "End to end export duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"format"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exporter_jobs_in_flight",
			Help: "Exports currently streaming.",
		}),
	}
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) jobDone(format Format, outcome string, rows, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	f := string(format)
	m.inFlight.Dec()
	m.jobs.WithLabelValues(f, outcome).Inc()
	m.rows.WithLabelValues(f).Add(float64(rows))
	m.bytes.WithLabelValues(f).Add(float64(bytes))
	m.duration.WithLabelValues(f).Observe(elapsed.Seconds())
}
