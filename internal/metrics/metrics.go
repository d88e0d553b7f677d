package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stage counters, partitioned by stream or event name.

var (
	// Scheduler
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Total scheduler ticks",
	})

	SchedulerTicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "scheduler",
		Name:      "ticks_skipped_total",
		Help:      "Ticks skipped because the previous tick was still running",
	})

	SchedulerTasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "scheduler",
		Name:      "tasks_enqueued_total",
		Help:      "Fetch tasks enqueued",
	}, []string{"stream"})

	SchedulerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "scheduler",
		Name:      "errors_total",
		Help:      "Scheduler stream errors",
	}, []string{"stream"})

	CursorBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracesync",
		Subsystem: "scheduler",
		Name:      "cursor_block",
		Help:      "Next block to scan per stream",
	}, []string{"stream"})

	// Worker
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "worker",
		Name:      "tasks_completed_total",
		Help:      "Fetch tasks acknowledged",
	}, []string{"stream"})

	TasksRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "worker",
		Name:      "tasks_retried_total",
		Help:      "Fetch tasks scheduled for retry",
	}, []string{"stream"})

	TasksDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "worker",
		Name:      "tasks_dead_lettered_total",
		Help:      "Fetch tasks dead-lettered after exhausting attempts",
	}, []string{"stream"})

	EventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "worker",
		Name:      "events_decoded_total",
		Help:      "Logs decoded into events",
	}, []string{"event"})

	LogsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "worker",
		Name:      "logs_dropped_total",
		Help:      "Logs dropped because they could not be decoded",
	}, []string{"reason"})

	// Reconciliation
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "reconcile",
		Name:      "outcomes_total",
		Help:      "Reconciliation results by event and outcome",
	}, []string{"event", "outcome"})

	// Commit
	CommitsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracesync",
		Subsystem: "commit",
		Name:      "submitted_total",
		Help:      "Merkle root commit attempts by result",
	}, []string{"result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
