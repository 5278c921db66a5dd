package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	// Counters
	tasksDispatched *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	editsApplied    *prometheus.CounterVec
	staleResults    prometheus.Counter

	// Gauges
	tasksPending  prometheus.Gauge
	tasksRunning  prometheus.Gauge
	devicesOnline prometheus.Gauge

	// Histograms
	taskDuration     prometheus.Histogram
	dispatchLatency  prometheus.Histogram
}

// NewMetrics creates and registers all orchestrator metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "constellation_tasks_dispatched_total",
				Help: "Total number of tasks dispatched to devices",
			},
			[]string{"device_id"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "constellation_tasks_finished_total",
				Help: "Total number of tasks reaching a terminal status",
			},
			[]string{"status"},
		),
		editsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "constellation_edits_total",
				Help: "Total number of oracle edit commands processed",
			},
			[]string{"command", "outcome"},
		),
		staleResults: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "constellation_stale_results_total",
				Help: "Total number of device results discarded as stale",
			},
		),
		tasksPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "constellation_tasks_pending",
				Help: "Current number of pending tasks",
			},
		),
		tasksRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "constellation_tasks_running",
				Help: "Current number of tasks in flight on devices",
			},
		),
		devicesOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "constellation_devices_online",
				Help: "Current number of online devices",
			},
		),
		taskDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "constellation_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 300, 600},
			},
		),
		dispatchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "constellation_dispatch_latency_seconds",
				Help:    "Time from a task becoming ready to it being sent to a device",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(
		m.tasksDispatched,
		m.tasksFinished,
		m.editsApplied,
		m.staleResults,
		m.tasksPending,
		m.tasksRunning,
		m.devicesOnline,
		m.taskDuration,
		m.dispatchLatency,
	)

	return m
}
