// Package executor drives a single phase to a terminal outcome through
// bounded write/verify attempt cycles.
//
// Plan-and-create phases verify with the reviewer role and feed review
// feedback verbatim into the next writer attempt. Test-and-fix phases verify
// with the tester role and route the error log through the fixer role first,
// so the next writer attempt receives a structured fix plan instead of raw
// output.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/genforge-labs/genflow/engine/observability"
	"github.com/genforge-labs/genflow/engine/plan"
	"github.com/genforge-labs/genflow/engine/roles"
	"github.com/genforge-labs/genflow/events"
)

var tracer = otel.Tracer("genflow/executor")

// Mode selects the verify side of the attempt cycle.
type Mode string

const (
	// ModePlanAndCreate verifies with the reviewer role.
	ModePlanAndCreate Mode = "plan_and_create"
	// ModeTestAndFix verifies with the tester role and engages the fixer.
	ModeTestAndFix Mode = "test_and_fix"
)

// VerifyRole returns the role that produces the verdict for this mode.
func (m Mode) VerifyRole() roles.Role {
	if m == ModeTestAndFix {
		return roles.RoleTester
	}
	return roles.RoleReviewer
}

// Outcome is a terminal phase outcome.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	// OutcomeBlocked marks a phase whose dependency never succeeded; the
	// phase is never started. Assigned by the coordinator.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeSkipped marks a phase not reached before the deadline or
	// cancellation. Assigned by the coordinator.
	OutcomeSkipped Outcome = "skipped"
)

// AttemptOutcome classifies one attempt.
type AttemptOutcome string

const (
	AttemptSuccess          AttemptOutcome = "success"
	AttemptRetryableFailure AttemptOutcome = "retryable_failure"
	AttemptFatalFailure     AttemptOutcome = "fatal_failure"
)

// FailureCause names the taxonomy kind behind a failed phase.
type FailureCause string

const (
	CauseNone           FailureCause = ""
	CauseLogicFailure   FailureCause = "logic_failure"
	CauseMalformed      FailureCause = "malformed_response"
	CauseTransientInfra FailureCause = "transient_infra"
	CauseFatalConfig    FailureCause = "fatal_config"
	CauseBlocked        FailureCause = "blocked_dependency"
	CauseTimeout        FailureCause = "timeout"
)

// Attempt records one execution of a phase. Index is 0-based and bounded by
// the attempt cap.
type Attempt struct {
	Index    int            `json:"index"`
	Outcome  AttemptOutcome `json:"outcome"`
	Cause    FailureCause   `json:"cause,omitempty"`
	Feedback string         `json:"feedback,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// PhaseResult is the terminal result of one phase.
type PhaseResult struct {
	PhaseID  string        `json:"phase_id"`
	Name     string        `json:"name,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Attempts []Attempt     `json:"attempts,omitempty"`
	Cause    FailureCause  `json:"cause,omitempty"`
	Feedback string        `json:"feedback,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor runs phases against a role invoker.
type Executor struct {
	invoker roles.Invoker
	logger  roles.Logger
	bus     *events.Bus
	mode    Mode
}

// New creates an Executor for the given mode.
func New(invoker roles.Invoker, logger roles.Logger, bus *events.Bus, mode Mode) (*Executor, error) {
	if invoker == nil {
		return nil, roles.NewFatalConfigError("role invoker")
	}
	if mode != ModePlanAndCreate && mode != ModeTestAndFix {
		return nil, roles.NewFatalConfigError(fmt.Sprintf("unknown executor mode '%s'", mode))
	}
	if logger == nil {
		logger = roles.NopLogger{}
	}
	return &Executor{
		invoker: invoker,
		logger:  logger.Bind("component", "executor"),
		bus:     bus,
		mode:    mode,
	}, nil
}

// Run drives one phase to SUCCESS or FAILED within maxAttempts. The returned
// error is non-nil only for fatal configuration problems and context expiry;
// every logic or infrastructure failure is absorbed into the PhaseResult.
func (e *Executor) Run(ctx context.Context, workflowID string, ph plan.Phase, planContext map[string]any, maxAttempts int) (PhaseResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	ctx, span := tracer.Start(ctx, "phase.run")
	span.SetAttributes(
		attribute.String("genflow.workflow.id", workflowID),
		attribute.String("genflow.phase.id", ph.ID),
		attribute.Int("genflow.phase.max_attempts", maxAttempts),
	)
	defer span.End()

	startTime := time.Now()
	result := PhaseResult{PhaseID: ph.ID, Name: ph.Name, Outcome: OutcomeFailed}
	feedback := ""

	e.logger.Info("phase_started",
		"workflow_id", workflowID,
		"phase_id", ph.ID,
		"phase_name", ph.Name,
		"max_attempts", maxAttempts,
	)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Cause = CauseTimeout
			result.Duration = time.Since(startTime)
			return result, err
		}

		attemptStart := time.Now()
		verdict, err := e.runAttempt(ctx, workflowID, ph, planContext, attempt, feedback)

		switch {
		case err != nil && roles.IsTransient(err):
			// Already retried once inside invokeResilient; a recurring
			// transient failure is an infrastructure fault, never
			// conflated with a logic failure.
			result.Cause = CauseTransientInfra
			result.Feedback = err.Error()
			result.Attempts = append(result.Attempts, e.recordAttempt(ctx, workflowID, ph.ID, Attempt{
				Index:    attempt,
				Outcome:  AttemptFatalFailure,
				Cause:    CauseTransientInfra,
				Feedback: err.Error(),
				Duration: time.Since(attemptStart),
			}))
			return e.finish(ctx, workflowID, result, startTime), nil

		case err != nil && roles.IsMalformed(err):
			// A malformed response consumes one attempt like any other
			// logic failure.
			feedback = err.Error()
			result.Cause = CauseMalformed
			result.Feedback = feedback
			result.Attempts = append(result.Attempts, e.recordAttempt(ctx, workflowID, ph.ID, Attempt{
				Index:    attempt,
				Outcome:  attemptFailureOutcome(attempt, maxAttempts),
				Cause:    CauseMalformed,
				Feedback: feedback,
				Duration: time.Since(attemptStart),
			}))
			continue

		case err != nil:
			result.Cause = CauseFatalConfig
			result.Duration = time.Since(startTime)
			return result, err

		case verdict.Pass:
			result.Outcome = OutcomeSuccess
			result.Cause = CauseNone
			result.Feedback = ""
			result.Attempts = append(result.Attempts, e.recordAttempt(ctx, workflowID, ph.ID, Attempt{
				Index:    attempt,
				Outcome:  AttemptSuccess,
				Duration: time.Since(attemptStart),
			}))
			return e.finish(ctx, workflowID, result, startTime), nil

		default:
			feedback = verdict.Feedback
			result.Cause = CauseLogicFailure
			result.Feedback = feedback
			result.Attempts = append(result.Attempts, e.recordAttempt(ctx, workflowID, ph.ID, Attempt{
				Index:    attempt,
				Outcome:  attemptFailureOutcome(attempt, maxAttempts),
				Cause:    CauseLogicFailure,
				Feedback: feedback,
				Duration: time.Since(attemptStart),
			}))

			// In test-and-fix the next writer attempt receives a fix
			// plan derived from the error log, not raw feedback.
			if e.mode == ModeTestAndFix && attempt < maxAttempts-1 {
				feedback = e.deriveFixFeedback(ctx, workflowID, ph, verdict, feedback)
			}
		}
	}

	return e.finish(ctx, workflowID, result, startTime), nil
}

// runAttempt performs one write/verify cycle and returns the verdict.
func (e *Executor) runAttempt(ctx context.Context, workflowID string, ph plan.Phase, planContext map[string]any, attempt int, feedback string) (roles.Verdict, error) {
	writeResp, err := e.invokeResilient(ctx, roles.Request{
		Role:          roles.RoleWriter,
		WorkflowID:    workflowID,
		PhaseID:       ph.ID,
		Attempt:       attempt,
		SystemContext: "Implement the files for this phase of the project plan.",
		UserContext:   ph.Description,
		Feedback:      feedback,
		Payload: map[string]any{
			"phase":        phasePayload(ph),
			"plan_context": planContext,
		},
	})
	if err != nil {
		return roles.Verdict{}, err
	}
	if !writeResp.Succeeded() {
		// The writer reporting its own failure is a logic failure with
		// the writer's message as feedback.
		return roles.Verdict{Pass: false, Feedback: writeResp.ErrorText()}, nil
	}

	verifyResp, err := e.invokeResilient(ctx, roles.Request{
		Role:          e.mode.VerifyRole(),
		WorkflowID:    workflowID,
		PhaseID:       ph.ID,
		Attempt:       attempt,
		SystemContext: "Validate the generated output against the phase success criteria.",
		UserContext:   ph.SuccessCriteria,
		Payload: map[string]any{
			"phase":         phasePayload(ph),
			"files_written": roles.StringsField(writeResp.Payload, "files_written"),
		},
	})
	if err != nil {
		return roles.Verdict{}, err
	}
	return roles.DecodeVerdict(verifyResp)
}

// invokeResilient retries exactly one immediate time on a transient error.
// The retry budget is deliberately separate from the phase attempt budget: a
// transient infrastructure fault never consumes an attempt.
func (e *Executor) invokeResilient(ctx context.Context, req roles.Request) (roles.Response, error) {
	resp, err := e.invoker.Invoke(ctx, req)
	if err == nil || !roles.IsTransient(err) {
		return resp, err
	}

	e.logger.Warn("transient_failure_retrying",
		"workflow_id", req.WorkflowID,
		"phase_id", req.PhaseID,
		"role", string(req.Role),
		"error", err.Error(),
	)
	return e.invoker.Invoke(ctx, req)
}

// deriveFixFeedback routes the tester's error log through the fixer role.
// If the fixer fails, the raw verdict feedback is used instead; the repair
// path degrading never fails the phase by itself.
func (e *Executor) deriveFixFeedback(ctx context.Context, workflowID string, ph plan.Phase, verdict roles.Verdict, fallback string) string {
	resp, err := e.invokeResilient(ctx, roles.Request{
		Role:          roles.RoleFixer,
		WorkflowID:    workflowID,
		PhaseID:       ph.ID,
		SystemContext: "Produce a fix plan for the failing tests.",
		UserContext:   verdict.Feedback,
		Payload: map[string]any{
			"phase":     phasePayload(ph),
			"error_log": verdict.ErrorLog,
		},
	})
	if err != nil {
		e.logger.Warn("fixer_failed_using_raw_feedback",
			"workflow_id", workflowID,
			"phase_id", ph.ID,
			"error", err.Error(),
		)
		return fallback
	}

	fixPlan, err := roles.DecodeFixPlan(resp)
	if err != nil {
		e.logger.Warn("fix_plan_malformed_using_raw_feedback",
			"workflow_id", workflowID,
			"phase_id", ph.ID,
			"error", err.Error(),
		)
		return fallback
	}

	encoded, err := json.Marshal(fixPlan)
	if err != nil {
		return fallback
	}
	return string(encoded)
}

func (e *Executor) recordAttempt(ctx context.Context, workflowID, phaseID string, a Attempt) Attempt {
	observability.RecordPhaseAttempt(string(a.Outcome))
	e.bus.Publish(ctx, events.PhaseAttemptFinished{
		WorkflowID: workflowID,
		PhaseID:    phaseID,
		Attempt:    a.Index,
		Outcome:    string(a.Outcome),
		Feedback:   a.Feedback,
	})
	e.logger.Debug("phase_attempt_finished",
		"workflow_id", workflowID,
		"phase_id", phaseID,
		"attempt", a.Index,
		"outcome", string(a.Outcome),
		"duration_ms", a.Duration.Milliseconds(),
	)
	return a
}

func (e *Executor) finish(ctx context.Context, workflowID string, result PhaseResult, startTime time.Time) PhaseResult {
	result.Duration = time.Since(startTime)
	observability.RecordPhaseOutcome(string(result.Outcome), result.Duration)
	e.bus.Publish(ctx, events.PhaseCompleted{
		WorkflowID: workflowID,
		PhaseID:    result.PhaseID,
		Outcome:    string(result.Outcome),
		Attempts:   len(result.Attempts),
		Cause:      string(result.Cause),
		Duration:   result.Duration,
	})
	e.logger.Info("phase_finished",
		"workflow_id", workflowID,
		"phase_id", result.PhaseID,
		"outcome", string(result.Outcome),
		"attempts", len(result.Attempts),
		"cause", string(result.Cause),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result
}

// attemptFailureOutcome distinguishes a failure with retries remaining from
// the final one.
func attemptFailureOutcome(attempt, maxAttempts int) AttemptOutcome {
	if attempt < maxAttempts-1 {
		return AttemptRetryableFailure
	}
	return AttemptFatalFailure
}

func phasePayload(ph plan.Phase) map[string]any {
	return map[string]any{
		"phase_id":         ph.ID,
		"name":             ph.Name,
		"description":      ph.Description,
		"files_to_create":  ph.FilesToCreate,
		"dependencies":     ph.Dependencies,
		"success_criteria": ph.SuccessCriteria,
	}
}
