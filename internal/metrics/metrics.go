// Package metrics defines the Prometheus collectors for the three core
// subsystems (message-consumer pool, workflow state machine, WebSocket
// registry/ack-worker), grounded on tombee-conductor's
// internal/controller/filewatcher/metrics.go promauto.NewCounterVec/
// NewGaugeVec collector-variable shape, generalized from one watcher's
// counters to this runtime's three subsystems.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConsumerMessagesTotal counts messages classified by outcome kind
	// per spec.md §4.5's outcome table.
	ConsumerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celerity_consumer_messages_total",
			Help: "Total messages processed by the consumer worker pool, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	// ConsumerDLQForwardedTotal counts messages forwarded to the dead
	// letter sink.
	ConsumerDLQForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celerity_consumer_dlq_forwarded_total",
			Help: "Total messages forwarded to the DLQ, by source",
		},
		[]string{"source"},
	)

	// ConsumerRetryAttemptsTotal counts per-attempt retries within a
	// polled batch.
	ConsumerRetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celerity_consumer_retry_attempts_total",
			Help: "Total retry attempts made before a batch succeeded or exhausted its retry budget",
		},
		[]string{"source"},
	)

	// WorkflowStateTransitionsTotal counts state transitions by state
	// name and terminal status.
	WorkflowStateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celerity_workflow_state_transitions_total",
			Help: "Total workflow state transitions, by state name and outcome status",
		},
		[]string{"state_name", "status"},
	)

	// WorkflowExecutionsInProgress tracks the number of in-flight
	// workflow executions.
	WorkflowExecutionsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "celerity_workflow_executions_in_progress",
			Help: "Number of workflow executions currently driving state transitions",
		},
	)

	// WorkflowExecutionDurationSeconds observes full-execution wall
	// clock duration on completion.
	WorkflowExecutionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "celerity_workflow_execution_duration_seconds",
			Help:    "Wall-clock duration of completed workflow executions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// WSConnectionsActive tracks the number of locally-held WebSocket
	// connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "celerity_ws_connections_active",
			Help: "Number of WebSocket connections currently held locally",
		},
	)

	// WSMessagesLostTotal counts ack-worker Lost actions emitted, per
	// spec.md §4.3.
	WSMessagesLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "celerity_ws_messages_lost_total",
			Help: "Total outbound WebSocket messages declared lost after exhausting ack retries",
		},
	)
)

// Handler returns the HTTP handler serving the process's default
// Prometheus registry, the same registry promauto.* registers against.
func Handler() http.Handler { return promhttp.Handler() }
