package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/genforge-labs/genflow/engine/approval"
	"github.com/genforge-labs/genflow/engine/executor"
	"github.com/genforge-labs/genflow/engine/observability"
	"github.com/genforge-labs/genflow/engine/plan"
	"github.com/genforge-labs/genflow/engine/reflect"
	"github.com/genforge-labs/genflow/engine/roles"
	"github.com/genforge-labs/genflow/events"
)

var tracer = otel.Tracer("genflow/workflow")

// Coordinator sequences one workflow run. Each run owns its State
// exclusively; independent Coordinator instances may run concurrently with
// no shared mutable state between them.
type Coordinator struct {
	req      Request
	invoker  roles.Invoker
	operator approval.Operator
	logger   roles.Logger
	bus      *events.Bus

	exec *executor.Executor
	loop *reflect.Loop
}

// NewCoordinator creates a Coordinator for one request. The operator is
// required only for interactive requests without deep planning; when both
// flags are set, deep planning takes precedence and the gate is never
// constructed.
func NewCoordinator(req Request, invoker roles.Invoker, operator approval.Operator, logger roles.Logger, bus *events.Bus) (*Coordinator, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if invoker == nil {
		return nil, roles.NewFatalConfigError("role invoker")
	}
	if logger == nil {
		logger = roles.NopLogger{}
	}
	if req.Interactive && !req.DeepPlan && operator == nil {
		return nil, roles.NewFatalConfigError("approval operator")
	}

	exec, err := executor.New(invoker, logger, bus, req.Kind.ExecutorMode())
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		req:      req,
		invoker:  invoker,
		operator: operator,
		logger:   logger.Bind("component", "coordinator"),
		bus:      bus,
		exec:     exec,
	}

	if req.DeepPlan {
		c.loop, err = reflect.NewLoop(invoker, logger, bus, reflect.Config{})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Run executes the workflow to a terminal state. The returned Result always
// reports which phases succeeded and which failed and why; Run itself never
// returns an error because every failure mode is a terminal Result.
func (c *Coordinator) Run(ctx context.Context) Result {
	state := newState(c.req.Timeout)
	logger := c.logger.Bind("workflow_id", state.WorkflowID)

	ctx, span := tracer.Start(ctx, "workflow.run")
	span.SetAttributes(
		attribute.String("genflow.workflow.id", state.WorkflowID),
		attribute.String("genflow.workflow.kind", string(c.req.Kind)),
	)
	defer span.End()

	// The deadline is advisory: it is checked before each phase and each
	// planning round-trip, and bounds in-flight role invocations through
	// the context.
	runCtx, cancel := context.WithDeadline(ctx, state.Deadline)
	defer cancel()

	logger.Info("workflow_started",
		"kind", string(c.req.Kind),
		"max_phases", c.req.MaxPhases,
		"max_attempts", c.req.MaxAttempts,
		"timeout", c.req.Timeout.String(),
		"interactive", c.req.Interactive,
		"deep_plan", c.req.DeepPlan,
	)
	c.bus.Publish(ctx, events.WorkflowStarted{
		WorkflowID:   state.WorkflowID,
		WorkflowKind: string(c.req.Kind),
		Prompt:       c.req.Prompt,
		StartedAt:    state.StartedAt,
	})

	result := c.run(runCtx, state, logger)
	result.Elapsed = time.Since(state.StartedAt)

	observability.RecordWorkflowExecution(string(c.req.Kind), string(result.Status), result.Elapsed)
	c.bus.Publish(ctx, events.WorkflowFinished{
		WorkflowID:  state.WorkflowID,
		State:       string(result.Status),
		PlanVersion: planVersion(result.Plan),
		Succeeded:   result.Succeeded,
		Failed:      result.Failed,
		Elapsed:     result.Elapsed,
	})
	logger.Info("workflow_finished",
		"status", string(result.Status),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"blocked", result.Blocked,
		"skipped", result.Skipped,
		"elapsed_ms", result.Elapsed.Milliseconds(),
	)
	return result
}

func (c *Coordinator) run(ctx context.Context, state *State, logger roles.Logger) Result {
	state.Status = StatusPlanning
	activePlan, status, planErr := c.establishPlan(ctx, state, logger)
	if status.Terminal() {
		state.Status = status
		return c.resultFrom(state, planErr)
	}
	state.activate(activePlan)

	if len(activePlan.Phases) > c.req.MaxPhases {
		state.Status = StatusFailed
		return c.resultFrom(state, fmt.Errorf(
			"plan has %d phases, exceeding the configured maximum of %d",
			len(activePlan.Phases), c.req.MaxPhases,
		))
	}

	state.Status = StatusExecuting
	c.executePhases(ctx, state, logger)
	return c.resultFrom(state, nil)
}

// establishPlan produces the active plan through exactly one of: deep
// planning, a single planner call gated by operator approval, or a plain
// single planner call. A terminal status return short-circuits the run.
func (c *Coordinator) establishPlan(ctx context.Context, state *State, logger roles.Logger) (*plan.Plan, Status, error) {
	if c.req.DeepPlan {
		res, err := c.loop.Run(ctx, state.WorkflowID, c.req.Prompt)
		if err != nil {
			return nil, c.abortStatus(err), err
		}
		state.Reflection = res.Records
		return res.Plan, StatusPlanning, nil
	}

	initial, err := c.generatePlan(ctx, state.WorkflowID)
	if err != nil {
		return nil, c.abortStatus(err), err
	}
	c.bus.Publish(ctx, events.PlanVersionCreated{
		WorkflowID: state.WorkflowID,
		PlanID:     initial.ID,
		Version:    initial.Version,
		PhaseCount: len(initial.Phases),
		Source:     "planner",
	})

	if !c.req.Interactive {
		return initial, StatusPlanning, nil
	}

	state.Status = StatusAwaitingApproval
	gate, err := approval.NewGate(c.invoker, c.operator, logger, c.bus)
	if err != nil {
		return nil, StatusFailed, err
	}
	outcome, err := gate.Run(ctx, state.WorkflowID, initial)
	if err != nil {
		return nil, c.abortStatus(err), err
	}
	if outcome.State == approval.StateRejected {
		logger.Info("workflow_rejected_by_operator", "rounds", outcome.Rounds)
		return nil, StatusUserRejected, nil
	}
	return outcome.Plan, StatusPlanning, nil
}

// generatePlan is the non-deep-planning path: one planner call with a
// single immediate retry on transient failure, mirroring the executor's
// infra-retry policy.
func (c *Coordinator) generatePlan(ctx context.Context, workflowID string) (*plan.Plan, error) {
	req := roles.Request{
		Role:        roles.RolePlanner,
		WorkflowID:  workflowID,
		UserContext: c.req.Prompt,
	}
	resp, err := c.invoker.Invoke(ctx, req)
	if err != nil && roles.IsTransient(err) {
		resp, err = c.invoker.Invoke(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	return plan.FromPayload(resp.Payload, nil)
}

func (c *Coordinator) executePhases(ctx context.Context, state *State, logger roles.Logger) {
	order, err := state.ActivePlan.ExecutionOrder()
	if err != nil {
		// Validate() already ran in FromPayload; a cycle here means the
		// plan was corrupted after activation.
		state.Status = StatusFailed
		logger.Error("plan_execution_order_failed", "error", err.Error())
		return
	}

	outcomes := make(map[string]executor.Outcome, len(order))
	planContext := state.ActivePlan.Payload()
	timedOut := false

	for i, phaseID := range order {
		if err := ctx.Err(); err != nil {
			// Already-completed phase outcomes are preserved; phases not
			// reached are reported as skipped, never dropped.
			timedOut = true
			c.skipRemaining(state, order[i:], outcomes)
			break
		}

		ph := state.ActivePlan.GetPhase(phaseID)

		if blockedBy := unmetDependency(ph, outcomes); blockedBy != "" {
			result := executor.PhaseResult{
				PhaseID:  ph.ID,
				Name:     ph.Name,
				Outcome:  executor.OutcomeBlocked,
				Cause:    executor.CauseBlocked,
				Feedback: fmt.Sprintf("dependency '%s' did not succeed", blockedBy),
			}
			outcomes[ph.ID] = executor.OutcomeBlocked
			state.record(result)
			observability.RecordPhaseOutcome(string(executor.OutcomeBlocked), 0)
			c.bus.Publish(ctx, events.PhaseCompleted{
				WorkflowID: state.WorkflowID,
				PhaseID:    ph.ID,
				Outcome:    string(executor.OutcomeBlocked),
				Cause:      string(executor.CauseBlocked),
			})
			logger.Warn("phase_blocked", "phase_id", ph.ID, "blocked_by", blockedBy)
			continue
		}

		result, err := c.exec.Run(ctx, state.WorkflowID, *ph, planContext, c.req.MaxAttempts)
		if err != nil {
			if isContextErr(err) {
				state.record(result)
				outcomes[ph.ID] = result.Outcome
				timedOut = true
				c.skipRemaining(state, order[i+1:], outcomes)
				break
			}
			// Fatal configuration failure: abort, preserving progress.
			state.record(result)
			state.Status = StatusFailed
			logger.Error("phase_fatal_error", "phase_id", ph.ID, "error", err.Error())
			return
		}
		outcomes[ph.ID] = result.Outcome
		state.record(result)
	}

	state.Status = c.terminalStatus(state, timedOut)
}

func (c *Coordinator) skipRemaining(state *State, remaining []string, outcomes map[string]executor.Outcome) {
	for _, phaseID := range remaining {
		if _, done := outcomes[phaseID]; done {
			continue
		}
		ph := state.ActivePlan.GetPhase(phaseID)
		state.record(executor.PhaseResult{
			PhaseID: ph.ID,
			Name:    ph.Name,
			Outcome: executor.OutcomeSkipped,
			Cause:   executor.CauseTimeout,
		})
		outcomes[phaseID] = executor.OutcomeSkipped
	}
}

func (c *Coordinator) terminalStatus(state *State, timedOut bool) Status {
	if timedOut {
		return StatusTimedOut
	}
	succeeded := state.countOutcome(executor.OutcomeSuccess)
	if succeeded == len(state.ActivePlan.Phases) {
		return StatusCompleted
	}
	if succeeded > 0 {
		return StatusPartiallyCompleted
	}
	return StatusFailed
}

// abortStatus maps a planning-stage error onto the terminal status: context
// expiry is a timeout (or caller cancellation), everything else fails the
// workflow.
func (c *Coordinator) abortStatus(err error) Status {
	if isContextErr(err) {
		return StatusTimedOut
	}
	return StatusFailed
}

func (c *Coordinator) resultFrom(state *State, err error) Result {
	result := Result{
		WorkflowID: state.WorkflowID,
		Status:     state.Status,
		Plan:       state.ActivePlan,
		Phases:     state.PhaseResults,
		Reflection: state.Reflection,
		Succeeded:  state.countOutcome(executor.OutcomeSuccess),
		Failed:     state.countOutcome(executor.OutcomeFailed),
		Blocked:    state.countOutcome(executor.OutcomeBlocked),
		Skipped:    state.countOutcome(executor.OutcomeSkipped),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func unmetDependency(ph *plan.Phase, outcomes map[string]executor.Outcome) string {
	for _, dep := range ph.Dependencies {
		if outcomes[dep] != executor.OutcomeSuccess {
			return dep
		}
	}
	return ""
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func planVersion(p *plan.Plan) int {
	if p == nil {
		return 0
	}
	return p.Version
}
