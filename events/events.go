// Package events provides the event emission boundary between the workflow
// engine and external logging/persistence collaborators.
//
// The engine publishes terminal facts (plan versions, reflection records,
// gate decisions, phase results, workflow completion) and never reads them
// back within a run. Subscribers are external: debug persistence, audit
// logging, progress display.
package events

import "time"

// Event is implemented by every published event type.
type Event interface {
	// Kind returns the subscription key for this event type.
	Kind() string
}

// Event kinds.
const (
	KindWorkflowStarted      = "workflow_started"
	KindWorkflowFinished     = "workflow_finished"
	KindPlanVersionCreated   = "plan_version_created"
	KindReflectionRecorded   = "reflection_recorded"
	KindGateDecided          = "gate_decided"
	KindPhaseAttemptFinished = "phase_attempt_finished"
	KindPhaseCompleted       = "phase_completed"
)

// WorkflowStarted is emitted once per workflow run.
type WorkflowStarted struct {
	WorkflowID   string    `json:"workflow_id"`
	WorkflowKind string    `json:"workflow_kind"`
	Prompt       string    `json:"prompt"`
	StartedAt    time.Time `json:"started_at"`
}

func (WorkflowStarted) Kind() string { return KindWorkflowStarted }

// WorkflowFinished is emitted with the terminal workflow state.
type WorkflowFinished struct {
	WorkflowID  string        `json:"workflow_id"`
	State       string        `json:"state"`
	PlanVersion int           `json:"plan_version"`
	Succeeded   int           `json:"succeeded_phases"`
	Failed      int           `json:"failed_phases"`
	Elapsed     time.Duration `json:"elapsed"`
}

func (WorkflowFinished) Kind() string { return KindWorkflowFinished }

// PlanVersionCreated is emitted whenever a plan version becomes active.
type PlanVersionCreated struct {
	WorkflowID string         `json:"workflow_id"`
	PlanID     string         `json:"plan_id"`
	Version    int            `json:"version"`
	PhaseCount int            `json:"phase_count"`
	Source     string         `json:"source"` // planner, reflection, modification
	Payload    map[string]any `json:"payload,omitempty"`
}

func (PlanVersionCreated) Kind() string { return KindPlanVersionCreated }

// ReflectionRecorded is emitted per deep-planning iteration.
type ReflectionRecorded struct {
	WorkflowID  string  `json:"workflow_id"`
	Iteration   int     `json:"iteration"`
	PlanVersion int     `json:"plan_version"`
	Score       float64 `json:"score"`
	Converged   bool    `json:"converged"`
	Critique    string  `json:"critique"`
}

func (ReflectionRecorded) Kind() string { return KindReflectionRecorded }

// GateDecided is emitted per operator decision at the approval gate.
type GateDecided struct {
	WorkflowID  string `json:"workflow_id"`
	Action      string `json:"action"`
	PlanVersion int    `json:"plan_version"`
	Feedback    string `json:"feedback,omitempty"`
}

func (GateDecided) Kind() string { return KindGateDecided }

// PhaseAttemptFinished is emitted per phase attempt.
type PhaseAttemptFinished struct {
	WorkflowID string `json:"workflow_id"`
	PhaseID    string `json:"phase_id"`
	Attempt    int    `json:"attempt"`
	Outcome    string `json:"outcome"` // success, retryable_failure, fatal_failure
	Feedback   string `json:"feedback,omitempty"`
}

func (PhaseAttemptFinished) Kind() string { return KindPhaseAttemptFinished }

// PhaseCompleted is emitted when a phase reaches a terminal outcome.
type PhaseCompleted struct {
	WorkflowID string        `json:"workflow_id"`
	PhaseID    string        `json:"phase_id"`
	Outcome    string        `json:"outcome"`
	Attempts   int           `json:"attempts"`
	Cause      string        `json:"cause,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (PhaseCompleted) Kind() string { return KindPhaseCompleted }
