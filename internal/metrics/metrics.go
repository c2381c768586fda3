package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_manager_tasks_created_total",
		Help: "Total number of download tasks created",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_manager_tasks_completed_total",
		Help: "Total number of download tasks completed",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_manager_tasks_failed_total",
		Help: "Total number of download tasks failed",
	})

	TasksCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_manager_tasks_cancelled_total",
		Help: "Total number of download tasks cancelled",
	})

	TasksRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_manager_tasks_retried_total",
		Help: "Total number of retry commands accepted",
	})

	ActiveDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "download_manager_active_downloads",
		Help: "Number of tasks currently occupying a worker slot",
	})

	PendingDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "download_manager_pending_downloads",
		Help: "Number of tasks waiting for a worker slot",
	})

	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "download_manager_task_duration_seconds",
		Help:    "Wall time from claim to completion",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)
