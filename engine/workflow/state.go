package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/genforge-labs/genflow/engine/executor"
	"github.com/genforge-labs/genflow/engine/plan"
	"github.com/genforge-labs/genflow/engine/reflect"
)

// Status is a workflow coordinator state.
type Status string

const (
	StatusInitializing     Status = "initializing"
	StatusPlanning         Status = "planning"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusExecuting        Status = "executing"

	// Terminal states.
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
	StatusTimedOut           Status = "timed_out"
	StatusUserRejected       Status = "user_rejected"
)

// Terminal reports whether no further transitions occur from this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusTimedOut, StatusUserRejected:
		return true
	default:
		return false
	}
}

// State is the session-scoped mutable state of one workflow run. It is
// owned exclusively by one Coordinator and never shared: concurrent
// workflow instances each carry their own State, so no locking is needed
// within a run.
type State struct {
	WorkflowID string    `json:"workflow_id"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	Deadline   time.Time `json:"deadline"`

	ActivePlan   *plan.Plan             `json:"active_plan,omitempty"`
	Reflection   []reflect.Record       `json:"reflection,omitempty"`
	PhaseResults []executor.PhaseResult `json:"phase_results,omitempty"`
}

func newState(timeout time.Duration) *State {
	now := time.Now().UTC()
	return &State{
		WorkflowID: "wf_" + uuid.New().String()[:8],
		Status:     StatusInitializing,
		StartedAt:  now,
		Deadline:   now.Add(timeout),
	}
}

// activate makes p the single active plan version, superseding any prior.
func (s *State) activate(p *plan.Plan) {
	s.ActivePlan = p
}

func (s *State) record(result executor.PhaseResult) {
	s.PhaseResults = append(s.PhaseResults, result)
}

func (s *State) countOutcome(outcome executor.Outcome) int {
	n := 0
	for _, r := range s.PhaseResults {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Result is the terminal, user-visible outcome of one workflow run. Partial
// progress is never silently discarded: every phase reached is reported with
// its outcome, taxonomy cause, and last feedback.
type Result struct {
	WorkflowID string `json:"workflow_id"`
	Status     Status `json:"status"`

	// Plan identifies the final plan version used, nil when planning
	// never produced one.
	Plan *plan.Plan `json:"plan,omitempty"`

	Phases     []executor.PhaseResult `json:"phases,omitempty"`
	Reflection []reflect.Record       `json:"reflection,omitempty"`

	Succeeded int `json:"succeeded_phases"`
	Failed    int `json:"failed_phases"`
	Blocked   int `json:"blocked_phases"`
	Skipped   int `json:"skipped_phases"`

	Elapsed time.Duration `json:"elapsed"`

	// Error describes a planning-level or infrastructure-level abort.
	Error string `json:"error,omitempty"`
}

// Success reports whether every phase of the plan completed successfully.
func (r Result) Success() bool {
	return r.Status == StatusCompleted
}
