// Package metrics registers the Prometheus metrics for the pipeline
// orchestration engine: one promauto counter/gauge per package-level
// var, incremented at the call sites that own the event.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HealthCheckTotal mirrors the watchdog's exported healthCheck
	// counter; a stalled watchdog stops advancing it.
	HealthCheckTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hsf_pipeline_manager_watchdog_ticks_total",
			Help: "Total number of watchdog ticks observed by the PipelineManager.",
		},
	)

	// WeightBudgetTotal and WeightBudgetInUse track the weight budget:
	// in-use plus free always equals the configured total. Both gauges
	// are shared by every Manager in the process, so the total is the
	// sum of their budgets.
	WeightBudgetTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hsf_pipeline_manager_weight_budget_total",
			Help: "Configured maxConcurrentWorkload summed over the process's PipelineManagers.",
		},
	)
	WeightBudgetInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hsf_pipeline_manager_weight_budget_in_use",
			Help: "Sum of suggestedWeight across active pipelines.",
		},
	)

	// PipelinesActive tracks the worklist size.
	PipelinesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hsf_pipeline_manager_pipelines_active",
			Help: "Number of pipeline handles currently registered in the worklist.",
		},
	)

	// TasksDispatchedTotal counts dispatched tasks by kind and outcome.
	TasksDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsf_pipeline_manager_tasks_dispatched_total",
			Help: "Total number of PipelineManager tasks dispatched, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// FramesEmittedTotal counts per-frame response messages emitted by
	// ResponseNode, by status code.
	FramesEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hsf_pipeline_frames_emitted_total",
			Help: "Total number of per-frame response messages emitted, labeled by status.",
		},
		[]string{"status"},
	)

	// StreamConsistencyViolationsTotal counts BatchingWithStream workers
	// observing a Blob from a foreign streamId.
	StreamConsistencyViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hsf_pipeline_stream_consistency_violations_total",
			Help: "Total number of stream-affinity violations detected under BatchingWithStream.",
		},
	)

	// NodeProcessLatencySeconds measures per-node process() latency,
	// observed by the pipeline around every Process call.
	NodeProcessLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hsf_pipeline_node_process_latency_seconds",
			Help:    "Latency of one NodeWorker.process() invocation.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs .. ~3.3s
		},
		[]string{"node", "class"},
	)
)
