// Package workflow tests for the coordinator.
package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genforge-labs/genflow/engine/approval"
	"github.com/genforge-labs/genflow/engine/executor"
	"github.com/genforge-labs/genflow/engine/roles"
	"github.com/genforge-labs/genflow/engine/testutil"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testRequest() Request {
	return Request{Prompt: "build a todo app", Kind: KindPlanAndCreate}
}

func happyPathInvoker(phases int) *testutil.MockInvoker {
	return testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Payload: testutil.PlanPayload("todo app", phases)}).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleReviewer, testutil.Step{Payload: testutil.PassVerdict()})
}

func newTestCoordinator(t *testing.T, req Request, invoker roles.Invoker, operator approval.Operator) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(req, invoker, operator, nil, nil)
	require.NoError(t, err)
	return c
}

// =============================================================================
// CREATION TESTS
// =============================================================================

func TestNewCoordinatorRequiresInvoker(t *testing.T) {
	// Test that creating a coordinator without an invoker fails.
	c, err := NewCoordinator(testRequest(), nil, nil, nil, nil)

	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, roles.IsFatalConfig(err))
}

func TestNewCoordinatorInteractiveRequiresOperator(t *testing.T) {
	// Test that an interactive request without an operator fails.
	req := testRequest()
	req.Interactive = true

	c, err := NewCoordinator(req, testutil.NewMockInvoker(), nil, nil, nil)

	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, roles.IsFatalConfig(err))
}

func TestNewCoordinatorDeepPlanWaivesOperator(t *testing.T) {
	// Test that deep planning takes precedence over interactive, so no
	// operator is required when both flags are set.
	req := testRequest()
	req.Interactive = true
	req.DeepPlan = true

	c, err := NewCoordinator(req, testutil.NewMockInvoker(), nil, nil, nil)

	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestRequestValidateDefaults(t *testing.T) {
	// Test that validation fills the documented defaults in place.
	req := Request{Prompt: "build something"}

	require.NoError(t, req.Validate())
	assert.Equal(t, KindPlanAndCreate, req.Kind)
	assert.Equal(t, DefaultMaxPhases, req.MaxPhases)
	assert.Equal(t, DefaultMaxAttempts, req.MaxAttempts)
	assert.Equal(t, DefaultTimeout, req.Timeout)
}

// =============================================================================
// TERMINAL STATUS TESTS
// =============================================================================

func TestRunCompletes(t *testing.T) {
	// Test the happy path: every phase succeeds and the workflow
	// completes.
	invoker := happyPathInvoker(3)
	c := newTestCoordinator(t, testRequest(), invoker, nil)

	result := c.Run(context.Background())

	assert.Equal(t, StatusCompleted, result.Status)
	assert.True(t, result.Success())
	assert.Equal(t, 3, result.Succeeded)
	assert.Len(t, result.Phases, 3)
	assert.Contains(t, result.WorkflowID, "wf_")
	assert.Greater(t, result.Elapsed, time.Duration(0))
}

func TestRunPartiallyCompleted(t *testing.T) {
	// Test that independent phases after a failure still run, producing
	// PARTIALLY_COMPLETED with the failure cause preserved.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Payload: testutil.IndependentPlanPayload("todo app", 2)}).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleReviewer,
			testutil.Step{Payload: testutil.FailVerdict("broken", "")},
			testutil.Step{Payload: testutil.FailVerdict("broken", "")},
			testutil.Step{Payload: testutil.FailVerdict("broken", "")},
			testutil.Step{Payload: testutil.PassVerdict()},
		)
	req := testRequest()
	req.MaxAttempts = 3
	c := newTestCoordinator(t, req, invoker, nil)

	result := c.Run(context.Background())

	assert.Equal(t, StatusPartiallyCompleted, result.Status)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, executor.OutcomeFailed, result.Phases[0].Outcome)
	assert.Equal(t, executor.OutcomeSuccess, result.Phases[1].Outcome)
}

func TestRunAllPhasesFailed(t *testing.T) {
	// Test that a workflow with zero successful phases ends FAILED.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Payload: testutil.IndependentPlanPayload("todo app", 2)}).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleReviewer, testutil.Step{Payload: testutil.FailVerdict("broken", "")})
	req := testRequest()
	req.MaxAttempts = 1
	c := newTestCoordinator(t, req, invoker, nil)

	result := c.Run(context.Background())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
}

func TestRunPlanningFailure(t *testing.T) {
	// Test that a persistently malformed planner fails the workflow with
	// no phases executed.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Err: roles.NewMalformedError(roles.RolePlanner, "no JSON object found", nil)})
	c := newTestCoordinator(t, testRequest(), invoker, nil)

	result := c.Run(context.Background())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Empty(t, result.Phases)
	assert.Contains(t, result.Error, "planning failed")
}

func TestRunPlanningTransientRetry(t *testing.T) {
	// Test that the single planner call gets one immediate retry on a
	// transient failure.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner,
			testutil.Step{Err: roles.NewTransientError(roles.RolePlanner, assert.AnError)},
			testutil.Step{Payload: testutil.PlanPayload("todo app", 1)},
		).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleReviewer, testutil.Step{Payload: testutil.PassVerdict()})
	c := newTestCoordinator(t, testRequest(), invoker, nil)

	result := c.Run(context.Background())

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, invoker.CallCount(roles.RolePlanner))
}

func TestRunPlanExceedsMaxPhases(t *testing.T) {
	// Test that a plan larger than the configured cap fails before any
	// phase executes.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Payload: testutil.PlanPayload("todo app", 4)})
	req := testRequest()
	req.MaxPhases = 3
	c := newTestCoordinator(t, req, invoker, nil)

	result := c.Run(context.Background())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Empty(t, result.Phases)
	assert.Contains(t, result.Error, "exceeding the configured maximum")
}

// =============================================================================
// DEPENDENCY GATING TESTS
// =============================================================================

func TestRunBlockedPhaseIsNotFailed(t *testing.T) {
	// Test that a phase whose dependency failed is reported blocked, never
	// started, and never conflated with a failure of its own.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Payload: testutil.PlanPayload("todo app", 2)}).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleReviewer, testutil.Step{Payload: testutil.FailVerdict("broken", "")})
	req := testRequest()
	req.MaxAttempts = 1
	c := newTestCoordinator(t, req, invoker, nil)

	result := c.Run(context.Background())

	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.Phases, 2)
	assert.Equal(t, executor.OutcomeFailed, result.Phases[0].Outcome)
	assert.Equal(t, executor.OutcomeBlocked, result.Phases[1].Outcome)
	assert.Equal(t, executor.CauseBlocked, result.Phases[1].Cause)
	assert.Contains(t, result.Phases[1].Feedback, "did not succeed")

	// The blocked phase never reached the writer.
	assert.Equal(t, 1, invoker.CallCount(roles.RoleWriter))
}

// =============================================================================
// TIMEOUT TESTS
// =============================================================================

func TestRunTimeoutPreservesCompletedPhases(t *testing.T) {
	// Test that cancellation mid-workflow keeps completed phase outcomes
	// and reports unreached phases as skipped, never dropped.
	ctx, cancel := context.WithCancel(context.Background())

	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Payload: testutil.PlanPayload("todo app", 3)}).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleReviewer, testutil.Step{Payload: testutil.PassVerdict()})
	c := newTestCoordinator(t, testRequest(), invoker, nil)

	// Cancel once the first phase has fully succeeded.
	reviews := 0
	invoker.InvokeFunc = func(fnCtx context.Context, req roles.Request) (roles.Response, error) {
		switch req.Role {
		case roles.RolePlanner:
			return roles.Response{Role: req.Role, Status: roles.StatusSuccess, Payload: testutil.PlanPayload("todo app", 3)}, nil
		case roles.RoleWriter:
			return roles.Response{Role: req.Role, Status: roles.StatusSuccess, Payload: testutil.WritePayload("main.go")}, nil
		default:
			reviews++
			if reviews == 1 {
				cancel()
			}
			return roles.Response{Role: req.Role, Status: roles.StatusSuccess, Payload: testutil.PassVerdict()}, nil
		}
	}

	result := c.Run(ctx)

	assert.Equal(t, StatusTimedOut, result.Status)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Phases, 3)
	assert.Equal(t, executor.OutcomeSuccess, result.Phases[0].Outcome)
	assert.Equal(t, executor.CauseTimeout, result.Phases[1].Cause)
}

func TestRunPlanningTimeout(t *testing.T) {
	// Test that cancellation during planning ends TIMED_OUT.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	invoker := testutil.NewMockInvoker()
	invoker.InvokeFunc = func(fnCtx context.Context, req roles.Request) (roles.Response, error) {
		return roles.Response{}, fnCtx.Err()
	}
	c := newTestCoordinator(t, testRequest(), invoker, nil)

	result := c.Run(ctx)

	assert.Equal(t, StatusTimedOut, result.Status)
	assert.Empty(t, result.Phases)
}

// =============================================================================
// APPROVAL GATE TESTS
// =============================================================================

func TestRunInteractiveApprove(t *testing.T) {
	// Test that an approved plan executes normally.
	invoker := happyPathInvoker(2)
	operator := &testutil.MockOperator{Decisions: []approval.Decision{{Action: approval.ActionApprove}}}
	req := testRequest()
	req.Interactive = true
	c := newTestCoordinator(t, req, invoker, operator)

	result := c.Run(context.Background())

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []int{1}, operator.Presented)
}

func TestRunInteractiveReject(t *testing.T) {
	// Test that an operator reject ends the workflow USER_REJECTED with
	// zero phases executed.
	invoker := happyPathInvoker(2)
	operator := &testutil.MockOperator{Decisions: []approval.Decision{{Action: approval.ActionReject}}}
	req := testRequest()
	req.Interactive = true
	c := newTestCoordinator(t, req, invoker, operator)

	result := c.Run(context.Background())

	assert.Equal(t, StatusUserRejected, result.Status)
	assert.Empty(t, result.Phases)
	assert.Equal(t, 0, invoker.CallCount(roles.RoleWriter))
}

func TestRunInteractiveModifyThenApprove(t *testing.T) {
	// Test that the approved modified plan is the one executed.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner,
			testutil.Step{Payload: testutil.PlanPayload("todo app", 1)},
			testutil.Step{Payload: testutil.PlanPayload("todo app", 2)},
		).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleReviewer, testutil.Step{Payload: testutil.PassVerdict()})
	operator := &testutil.MockOperator{Decisions: []approval.Decision{
		{Action: approval.ActionModify, Feedback: "split into two phases"},
		{Action: approval.ActionApprove},
	}}
	req := testRequest()
	req.Interactive = true
	c := newTestCoordinator(t, req, invoker, operator)

	result := c.Run(context.Background())

	assert.Equal(t, StatusCompleted, result.Status)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 2, result.Plan.Version)
	assert.Len(t, result.Phases, 2)
}

// =============================================================================
// DEEP PLANNING TESTS
// =============================================================================

func TestRunDeepPlanExecutesSelectedVersion(t *testing.T) {
	// Test that deep planning feeds the reflection loop's selected plan
	// into execution and carries the iteration history in the result.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Payload: testutil.PlanPayload("todo app", 2)}).
		Script(roles.RoleCritic, testutil.Step{Payload: testutil.CritiquePayload(9.0, "converged")}).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleReviewer, testutil.Step{Payload: testutil.PassVerdict()})
	req := testRequest()
	req.DeepPlan = true
	c := newTestCoordinator(t, req, invoker, nil)

	result := c.Run(context.Background())

	assert.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Reflection, 1)
	assert.Equal(t, 9.0, result.Reflection[0].Score)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 9.0, result.Plan.QualityScore)
}

func TestRunDeepPlanPrecedenceOverInteractive(t *testing.T) {
	// Test that with both flags set the gate never opens: no operator
	// round-trips happen even though one is available.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Payload: testutil.PlanPayload("todo app", 1)}).
		Script(roles.RoleCritic, testutil.Step{Payload: testutil.CritiquePayload(8.5, "fine")}).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleReviewer, testutil.Step{Payload: testutil.PassVerdict()})
	operator := &testutil.MockOperator{Decisions: []approval.Decision{{Action: approval.ActionReject}}}
	req := testRequest()
	req.Interactive = true
	req.DeepPlan = true
	c := newTestCoordinator(t, req, invoker, operator)

	result := c.Run(context.Background())

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Empty(t, operator.Presented)
}

// =============================================================================
// TEST-AND-FIX KIND TESTS
// =============================================================================

func TestRunTestAndFixUsesTester(t *testing.T) {
	// Test that the test-and-fix kind verifies with the tester role.
	invoker := testutil.NewMockInvoker().
		Script(roles.RolePlanner, testutil.Step{Payload: testutil.PlanPayload("todo app", 1)}).
		Script(roles.RoleWriter, testutil.Step{Payload: testutil.WritePayload("main.go")}).
		Script(roles.RoleTester, testutil.Step{Payload: testutil.PassVerdict()})
	req := testRequest()
	req.Kind = KindTestAndFix
	c := newTestCoordinator(t, req, invoker, nil)

	result := c.Run(context.Background())

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, invoker.CallCount(roles.RoleTester))
	assert.Equal(t, 0, invoker.CallCount(roles.RoleReviewer))
}
