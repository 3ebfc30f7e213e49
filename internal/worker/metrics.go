package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task metrics, exposed on the worker's /metrics endpoint.
var (
	tasksQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recalld_tasks_queued_total",
		Help: "Analysis tasks accepted into the queue.",
	})

	tasksSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recalld_tasks_saved_total",
		Help: "Analysis tasks that produced a persisted summary.",
	})

	tasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recalld_tasks_failed_total",
		Help: "Analysis tasks dropped after a failure (at-most-once, no retry).",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recalld_queue_depth",
		Help: "Tasks waiting or in flight.",
	})
)
