// Package metrics exposes Prometheus collectors for runs, tasks and alerts.
// Collectors are registered on the controller-runtime registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "kpiwatch"

var (
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Finished runs by graph and final status.",
	}, []string{"graph", "status"})

	RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of finished runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"graph"})

	SkippedTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_ticks_total",
		Help:      "Cadence ticks skipped because a run was still active.",
	}, []string{"graph"})

	TaskAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_attempts_total",
		Help:      "Task action invocations by outcome.",
	}, []string{"graph", "task", "outcome"})

	ActiveTasks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_tasks",
		Help:      "Tasks holding a worker slot, by graph.",
	}, []string{"graph"})

	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Alerts emitted by threshold checks.",
	}, []string{"alert_type", "severity"})

	DispatchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_dispatch_errors_total",
		Help:      "Failed alert deliveries by channel.",
	}, []string{"channel"})
)

func init() {
	crmetrics.Registry.MustRegister(
		RunsTotal,
		RunDuration,
		SkippedTicks,
		TaskAttempts,
		ActiveTasks,
		AlertsTotal,
		DispatchErrors,
	)
}
