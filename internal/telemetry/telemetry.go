// Package telemetry exposes the live state of a run as Prometheus metrics so
// an operator can watch a long soak from the status endpoint.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vk/perfgate/internal/monitor"
	"github.com/vk/perfgate/internal/stats"
)

// Metrics is the Prometheus view of a single run. It implements
// stats.Recorder so the scheduler can feed it alongside the aggregator.
type Metrics struct {
	registry *prometheus.Registry

	hits    *prometheus.CounterVec
	errors  *prometheus.CounterVec
	bytes   *prometheus.CounterVec
	latency *prometheus.HistogramVec

	processes prometheus.Gauge
	fds       prometheus.Gauge
	memRSS    prometheus.Gauge
}

// New creates an isolated metrics registry for one run.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perfgate_hits_total",
			Help: "Scenario iteration elements executed.",
		}, []string{"scenario"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perfgate_errors_total",
			Help: "Scenario iteration elements that failed.",
		}, []string{"scenario"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perfgate_response_bytes_total",
			Help: "Response bytes received.",
		}, []string{"scenario"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perfgate_response_seconds",
			Help:    "Response latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"scenario"}),
		processes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perfgate_monitored_processes",
			Help: "Processes matched by the monitoring module.",
		}),
		fds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perfgate_monitored_file_descriptors",
			Help: "Open file descriptors across monitored processes.",
		}),
		memRSS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perfgate_monitored_memory_rss_bytes",
			Help: "Resident memory across monitored processes.",
		}),
	}
}

// Record implements stats.Recorder.
func (m *Metrics) Record(s stats.Sample) {
	m.hits.WithLabelValues(s.Scenario).Inc()
	if !s.OK() {
		m.errors.WithLabelValues(s.Scenario).Inc()
	}
	m.bytes.WithLabelValues(s.Scenario).Add(float64(s.Bytes))
	m.latency.WithLabelValues(s.Scenario).Observe(s.Latency.Seconds())
}

// SetGauges publishes a monitoring snapshot.
func (m *Metrics) SetGauges(g monitor.Gauges) {
	m.processes.Set(float64(g.Processes))
	m.fds.Set(float64(g.FileDescriptors))
	m.memRSS.Set(float64(g.ResidentBytes))
}

// Handler serves the run's registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
