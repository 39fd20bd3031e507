// Package metrics exposes the Prometheus counters and histograms that track
// run/task throughput and latency for operators.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups the collectors Foreman registers at startup.
type Registry struct {
	RunsCreated       *prometheus.CounterVec
	RunsCompleted     *prometheus.CounterVec
	TasksCreated      *prometheus.CounterVec
	TasksCompleted    *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec
	WorkerDispatchErr *prometheus.CounterVec
}

// NewRegistry builds and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		RunsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman", Name: "runs_created_total", Help: "Runs created, by org.",
		}, []string{"org_id"}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman", Name: "runs_completed_total", Help: "Runs reaching a terminal status, by org and status.",
		}, []string{"org_id", "status"}),
		TasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman", Name: "tasks_created_total", Help: "Tasks created, by org and type.",
		}, []string{"org_id", "type"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman", Name: "tasks_completed_total", Help: "Tasks reaching a terminal status, by org, type, and status.",
		}, []string{"org_id", "type", "status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foreman", Name: "task_duration_seconds", Help: "Task wall-clock duration from started_at to completed_at.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"type", "status"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "foreman", Name: "queue_depth", Help: "Pending entries observed on a queue at last poll.",
		}, []string{"queue"}),
		WorkerDispatchErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foreman", Name: "worker_dispatch_errors_total", Help: "Handler dispatch failures, by task type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.RunsCreated, m.RunsCompleted, m.TasksCreated, m.TasksCompleted,
		m.TaskDuration, m.QueueDepth, m.WorkerDispatchErr,
	)
	return m
}

// ObserveTaskDuration records durationMs under the histogram for
// (taskType, status).
func (m *Registry) ObserveTaskDuration(taskType, status string, durationMs int64) {
	m.TaskDuration.WithLabelValues(taskType, status).Observe(float64(durationMs) / 1000.0)
}
