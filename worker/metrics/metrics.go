// Package metrics holds the worker's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "presentation"

// StageDuration tracks wall time per stage attempt sequence.
var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "stage_duration_seconds",
	Help:      "Stage duration in seconds, retries included.",
	Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
}, []string{"stage", "outcome"})

// StageRetries counts retried stage attempts.
var StageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "stage_retries_total",
	Help:      "Total stage attempts beyond the first.",
}, []string{"stage"})

// TasksFinished counts tasks reaching a terminal status.
var TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_finished_total",
	Help:      "Total tasks reaching a terminal status.",
}, []string{"status"})

var TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "tasks_active",
	Help:      "Number of tasks currently running in this worker.",
})

// StateWriteFailures counts best-effort writes that were dropped.
var StateWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "state_write_failures_total",
	Help:      "Total state, checkpoint and mirror writes that failed and were skipped.",
}, []string{"op"})

// Messages counts consumed queue messages by result.
var Messages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "messages_total",
	Help:      "Total queue messages handled.",
}, []string{"result"})
