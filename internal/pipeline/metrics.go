package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records one run. Each instance owns its registry, so a run's
// numbers can be exported to a node-exporter textfile without mixing in
// process-global collectors.
type Metrics struct {
	registry *prometheus.Registry

	entries       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	linksChanged  prometheus.Counter
	lastRun       prometheus.Gauge
}

// NewMetrics creates the run's collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		entries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "punlock_entries_total",
				Help: "Entries processed in the last run, by outcome",
			},
			[]string{"status"},
		),
		fetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "punlock_fetch_duration_seconds",
				Help:    "Time spent fetching and resolving one entry",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		linksChanged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "punlock_links_changed_total",
				Help: "Symlinks created or replaced in the last run",
			},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "punlock_last_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
		),
	}
}

// RecordEntry records the outcome of one entry.
func (m *Metrics) RecordEntry(ok bool, fetch time.Duration, links int) {
	status := "success"
	if !ok {
		status = "failure"
	}
	m.entries.WithLabelValues(status).Inc()
	m.fetchDuration.Observe(fetch.Seconds())
	m.linksChanged.Add(float64(links))
}

// RecordRun stamps the end of a run.
func (m *Metrics) RecordRun(at time.Time) {
	m.lastRun.Set(float64(at.Unix()))
}

// Registry exposes the collectors, mainly for tests and exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in the text exposition format, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
