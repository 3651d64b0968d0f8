package utils

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeAborted = "aborted"
)

// MetricsCollector owns the scanner metrics on a private registry so several
// scanners can live in one process (and in tests).
type MetricsCollector struct {
	registry     *prometheus.Registry
	scans        *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	activeScans  prometheus.Gauge
	aborted      prometheus.Counter
	rejected     *prometheus.CounterVec
}

func NewMetricsCollector(enableRuntimeMetrics bool) *MetricsCollector {
	reg := prometheus.NewRegistry()
	if enableRuntimeMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}

	m := &MetricsCollector{
		registry: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scorelynx_scans_total",
			Help: "Finished scans by outcome.",
		}, []string{"outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scorelynx_tasks_total",
			Help: "Executed test suite tasks by test and outcome.",
		}, []string{"test", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scorelynx_task_duration_seconds",
			Help:    "Wall clock duration of test suite tasks.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"test"}),
		activeScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scorelynx_active_scans",
			Help: "Scans currently running in this process.",
		}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scorelynx_aborted_scans_total",
			Help: "Scans marked as aborted by the sweeper.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scorelynx_rejected_scans_total",
			Help: "Scan requests rejected before starting.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.scans, m.tasks, m.taskDuration, m.activeScans, m.aborted, m.rejected)
	return m
}

func (m *MetricsCollector) ScanStarted() {
	if m == nil {
		return
	}
	m.activeScans.Inc()
}

func (m *MetricsCollector) ScanFinished(outcome string) {
	if m == nil {
		return
	}
	m.activeScans.Dec()
	m.scans.WithLabelValues(outcome).Inc()
}

func (m *MetricsCollector) ScanRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *MetricsCollector) ScansAborted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.aborted.Add(float64(n))
}

func (m *MetricsCollector) TaskDone(test, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(test, outcome).Inc()
	m.taskDuration.WithLabelValues(test).Observe(d.Seconds())
}

func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) GetRegistry() *prometheus.Registry {
	return m.registry
}
