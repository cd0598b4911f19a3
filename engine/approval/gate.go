// Package approval provides the interactive approval gate: a synchronous
// checkpoint where an external operator approves, modifies, or rejects a
// plan before execution continues.
//
// The gate is a small finite state machine. From PRESENTED an operator
// decision moves it to APPROVED or REJECTED (both terminal), or through
// MODIFYING back to PRESENTED with a superseding plan version. There is no
// iteration cap: the loop is bounded only by operator patience and the
// workflow deadline carried in the context.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/genforge-labs/genflow/engine/observability"
	"github.com/genforge-labs/genflow/engine/plan"
	"github.com/genforge-labs/genflow/engine/roles"
	"github.com/genforge-labs/genflow/events"
)

// State is a gate FSM state.
type State string

const (
	// StatePresented means the plan is exposed and awaiting a decision.
	StatePresented State = "presented"
	// StateModifying means a planner round-trip is revising the plan.
	StateModifying State = "modifying"
	// StateApproved is terminal: the plan is execution-ready, unchanged.
	StateApproved State = "approved"
	// StateRejected is terminal: the workflow ends, no phases execute.
	StateRejected State = "rejected"
)

// Action is one operator command.
type Action string

const (
	ActionApprove Action = "approve"
	ActionModify  Action = "modify"
	ActionReject  Action = "reject"
	// ActionDetails re-presents the plan without a state transition.
	ActionDetails Action = "details"
)

// ActionFromString parses an operator command, accepting the single-letter
// shorthand forms.
func ActionFromString(value string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "approve", "a":
		return ActionApprove, nil
	case "modify", "m":
		return ActionModify, nil
	case "reject", "r":
		return ActionReject, nil
	case "details", "d":
		return ActionDetails, nil
	default:
		return "", fmt.Errorf("invalid action '%s'. Must be one of: approve, modify, reject, details", value)
	}
}

// Decision is one operator response to a presented plan.
type Decision struct {
	Action   Action `json:"action"`
	Feedback string `json:"feedback,omitempty"`
}

// Operator is the external interface presenting plans and collecting
// decisions. The engine defines only the state transitions, not the
// presentation format.
type Operator interface {
	// Review presents the plan and blocks until the operator decides.
	Review(ctx context.Context, p *plan.Plan) (Decision, error)

	// NotifyModification reports the outcome of a modify round-trip
	// before the plan is re-presented.
	NotifyModification(succeeded bool, message string)
}

// Outcome is the terminal result of one gate session.
type Outcome struct {
	State State      `json:"state"`
	Plan  *plan.Plan `json:"plan,omitempty"`

	// Rounds counts operator round-trips, including details requests.
	Rounds int `json:"rounds"`
}

// Gate drives one approval session.
type Gate struct {
	invoker  roles.Invoker
	operator Operator
	logger   roles.Logger
	bus      *events.Bus
}

// NewGate creates an approval Gate.
func NewGate(invoker roles.Invoker, operator Operator, logger roles.Logger, bus *events.Bus) (*Gate, error) {
	if invoker == nil {
		return nil, roles.NewFatalConfigError("role invoker")
	}
	if operator == nil {
		return nil, roles.NewFatalConfigError("approval operator")
	}
	if logger == nil {
		logger = roles.NopLogger{}
	}
	return &Gate{
		invoker:  invoker,
		operator: operator,
		logger:   logger.Bind("component", "approval"),
		bus:      bus,
	}, nil
}

// Run presents the plan and loops on operator decisions until a terminal
// state. Each accepted modification strictly supersedes the active plan
// version; a failed modification keeps the current version and returns to
// PRESENTED. Context expiry (the workflow deadline) surfaces as ctx.Err().
func (g *Gate) Run(ctx context.Context, workflowID string, p *plan.Plan) (Outcome, error) {
	sessionID := "gate_" + uuid.New().String()[:8]
	rounds := 0

	g.logger.Info("approval_gate_opened",
		"workflow_id", workflowID,
		"session_id", sessionID,
		"plan_version", p.Version,
	)

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		decision, err := g.operator.Review(ctx, p)
		if err != nil {
			// Operator channel broke mid-session: fall back to the plan
			// as presented rather than losing the workflow.
			g.logger.Error("operator_review_failed_approving_current_plan",
				"workflow_id", workflowID,
				"session_id", sessionID,
				"error", err.Error(),
			)
			return Outcome{State: StateApproved, Plan: p, Rounds: rounds}, nil
		}
		rounds++
		observability.RecordGateDecision(string(decision.Action))
		g.bus.Publish(ctx, events.GateDecided{
			WorkflowID:  workflowID,
			Action:      string(decision.Action),
			PlanVersion: p.Version,
			Feedback:    decision.Feedback,
		})

		switch decision.Action {
		case ActionApprove:
			g.logger.Info("plan_approved",
				"workflow_id", workflowID,
				"session_id", sessionID,
				"plan_version", p.Version,
				"rounds", rounds,
			)
			return Outcome{State: StateApproved, Plan: p, Rounds: rounds}, nil

		case ActionReject:
			g.logger.Info("plan_rejected",
				"workflow_id", workflowID,
				"session_id", sessionID,
				"plan_version", p.Version,
				"rounds", rounds,
			)
			return Outcome{State: StateRejected, Rounds: rounds}, nil

		case ActionModify:
			if decision.Feedback == "" {
				g.operator.NotifyModification(false, "no feedback provided for modification")
				continue
			}
			revised, err := g.modifyPlan(ctx, workflowID, p, decision.Feedback)
			if err != nil {
				g.logger.Warn("plan_modification_failed",
					"workflow_id", workflowID,
					"session_id", sessionID,
					"plan_version", p.Version,
					"error", err.Error(),
				)
				g.operator.NotifyModification(false, "plan modification failed, keeping current plan")
				continue
			}
			p = revised
			g.operator.NotifyModification(true, "plan updated with your feedback")
			g.bus.Publish(ctx, events.PlanVersionCreated{
				WorkflowID: workflowID,
				PlanID:     p.ID,
				Version:    p.Version,
				PhaseCount: len(p.Phases),
				Source:     "modification",
			})

		case ActionDetails:
			// Stay in PRESENTED; the operator re-renders on next Review.
			continue

		default:
			g.operator.NotifyModification(false, fmt.Sprintf("unknown action '%s'", decision.Action))
		}
	}
}

func (g *Gate) modifyPlan(ctx context.Context, workflowID string, current *plan.Plan, feedback string) (*plan.Plan, error) {
	startTime := time.Now()
	resp, err := g.invoker.Invoke(ctx, roles.Request{
		Role:        roles.RolePlanner,
		WorkflowID:  workflowID,
		UserContext: "Revise this project plan according to the operator feedback.",
		Feedback:    feedback,
		Payload:     map[string]any{"plan": current.Payload()},
	})
	if err != nil {
		return nil, err
	}

	revised, err := plan.FromPayload(resp.Payload, current)
	if err != nil {
		return nil, err
	}

	g.logger.Info("plan_modified",
		"workflow_id", workflowID,
		"old_version", current.Version,
		"new_version", revised.Version,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return revised, nil
}
