// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the workflow engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// WORKFLOW METRICS
// =============================================================================

var (
	workflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_workflow_executions_total",
			Help: "Total number of workflow executions",
		},
		[]string{"kind", "state"}, // state: completed, partially_completed, failed, timed_out, user_rejected
	)

	workflowDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genflow_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"kind"},
	)
)

// RecordWorkflowExecution records a finished workflow.
func RecordWorkflowExecution(kind, state string, duration time.Duration) {
	workflowExecutionsTotal.WithLabelValues(kind, state).Inc()
	workflowDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// =============================================================================
// PHASE METRICS
// =============================================================================

var (
	phaseOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_phase_outcomes_total",
			Help: "Total number of terminal phase outcomes",
		},
		[]string{"outcome"}, // outcome: success, failed, blocked, skipped
	)

	phaseAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_phase_attempts_total",
			Help: "Total number of phase attempts",
		},
		[]string{"outcome"}, // outcome: success, retryable_failure, fatal_failure
	)

	phaseDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genflow_phase_duration_seconds",
			Help:    "Phase execution duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900},
		},
	)
)

// RecordPhaseOutcome records the terminal outcome of one phase.
func RecordPhaseOutcome(outcome string, duration time.Duration) {
	phaseOutcomesTotal.WithLabelValues(outcome).Inc()
	phaseDurationSeconds.Observe(duration.Seconds())
}

// RecordPhaseAttempt records a single phase attempt.
func RecordPhaseAttempt(outcome string) {
	phaseAttemptsTotal.WithLabelValues(outcome).Inc()
}

// =============================================================================
// ROLE METRICS
// =============================================================================

var (
	roleInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_role_invocations_total",
			Help: "Total number of role invocations",
		},
		[]string{"role", "status"}, // status: success, transient, malformed
	)

	roleDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genflow_role_duration_seconds",
			Help:    "Role invocation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"role"},
	)
)

// RecordRoleInvocation records one role invocation.
func RecordRoleInvocation(role, status string, duration time.Duration) {
	roleInvocationsTotal.WithLabelValues(role, status).Inc()
	roleDurationSeconds.WithLabelValues(role).Observe(duration.Seconds())
}

// =============================================================================
// PLANNING METRICS
// =============================================================================

var (
	reflectionIterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genflow_reflection_iterations_total",
			Help: "Total number of deep-planning reflection iterations",
		},
	)

	reflectionFinalScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genflow_reflection_final_score",
			Help:    "Quality score of the plan selected by deep planning",
			Buckets: []float64{2, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	gateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_gate_decisions_total",
			Help: "Total number of interactive approval gate decisions",
		},
		[]string{"action"}, // action: approve, modify, reject, details
	)
)

// RecordReflectionIteration records one reflection loop iteration.
func RecordReflectionIteration() {
	reflectionIterationsTotal.Inc()
}

// RecordReflectionResult records the score of the plan deep planning selected.
func RecordReflectionResult(score float64) {
	reflectionFinalScore.Observe(score)
}

// RecordGateDecision records one operator decision at the approval gate.
func RecordGateDecision(action string) {
	gateDecisionsTotal.WithLabelValues(action).Inc()
}
