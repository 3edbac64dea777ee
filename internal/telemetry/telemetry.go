// Package telemetry exposes Prometheus metrics for the monitor.
//
// All collectors live on a private registry so tests can build as many
// Metrics as they like. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netmon"

// Probe results.
const (
	ResultOK   = "ok"
	ResultLost = "lost"
)

// Metrics holds the collectors of one monitor.
type Metrics struct {
	registry *prometheus.Registry

	probesTotal        *prometheus.CounterVec
	probeLatency       *prometheus.HistogramVec
	windowsEmitted     prometheus.Counter
	storageWriteErrors *prometheus.CounterVec
	detectErrors       prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	historyLoaded      *prometheus.CounterVec
	cleanupFiles       prometheus.Counter
}

// New creates Metrics on a fresh registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		probesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Total number of probes by target and result",
		}, []string{"target", "result"}),

		probeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_ms",
			Help:      "Round trip time of successful probes in milliseconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000},
		}, []string{"target"}),

		windowsEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_emitted_total",
			Help:      "Total number of metrics windows closed",
		}),

		storageWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_write_errors_total",
			Help:      "Total number of failed storage appends by file kind",
		}, []string{"kind"}),

		detectErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_detect_errors_total",
			Help:      "Total number of failed network detections",
		}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "code"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		historyLoaded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_rows_loaded_total",
			Help:      "Rows loaded from disk at startup by kind",
		}, []string{"kind"}),

		cleanupFiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_files_removed_total",
			Help:      "Total number of log files removed by retention",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveProbe records one probe outcome.
func (m *Metrics) ObserveProbe(target string, latencyMs float64, ok bool) {
	if m == nil {
		return
	}
	if !ok {
		m.probesTotal.WithLabelValues(target, ResultLost).Inc()
		return
	}
	m.probesTotal.WithLabelValues(target, ResultOK).Inc()
	m.probeLatency.WithLabelValues(target).Observe(latencyMs)
}

// WindowEmitted counts one closed window.
func (m *Metrics) WindowEmitted() {
	if m == nil {
		return
	}
	m.windowsEmitted.Inc()
}

// StorageWriteError counts one failed append of the given file kind.
func (m *Metrics) StorageWriteError(kind string) {
	if m == nil {
		return
	}
	m.storageWriteErrors.WithLabelValues(kind).Inc()
}

// DetectError counts one failed network detection.
func (m *Metrics) DetectError(error) {
	if m == nil {
		return
	}
	m.detectErrors.Inc()
}

// HistoryLoaded counts rows loaded at startup.
func (m *Metrics) HistoryLoaded(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.historyLoaded.WithLabelValues(kind).Add(float64(n))
}

// CleanupRemoved counts files removed by retention.
func (m *Metrics) CleanupRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupFiles.Add(float64(n))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
