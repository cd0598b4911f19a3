// Package testutil provides shared mocks for testing the workflow engine
// in isolation, without a model provider or a human operator.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/genforge-labs/genflow/engine/approval"
	"github.com/genforge-labs/genflow/engine/plan"
	"github.com/genforge-labs/genflow/engine/roles"
)

// =============================================================================
// MOCK INVOKER
// =============================================================================

// Step is one scripted invoker outcome: either a payload or an error.
type Step struct {
	Payload map[string]any
	Err     error
}

// MockInvoker implements roles.Invoker with per-role scripted outcomes.
// Each invocation of a role consumes the next Step scripted for it; the
// last step repeats once a script is exhausted. All calls are recorded for
// assertion.
type MockInvoker struct {
	// Scripts maps each role to its ordered outcomes.
	Scripts map[roles.Role][]Step

	// Calls records every request in invocation order.
	Calls []roles.Request

	// InvokeFunc overrides scripted behavior entirely when set.
	InvokeFunc func(ctx context.Context, req roles.Request) (roles.Response, error)

	consumed map[roles.Role]int
	mu       sync.Mutex
}

// NewMockInvoker creates an empty MockInvoker.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		Scripts:  make(map[roles.Role][]Step),
		consumed: make(map[roles.Role]int),
	}
}

// Script appends outcomes for a role.
func (m *MockInvoker) Script(role roles.Role, steps ...Step) *MockInvoker {
	m.Scripts[role] = append(m.Scripts[role], steps...)
	return m
}

// Invoke implements roles.Invoker.
func (m *MockInvoker) Invoke(ctx context.Context, req roles.Request) (roles.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}

	script := m.Scripts[req.Role]
	if len(script) == 0 {
		return roles.Response{}, fmt.Errorf("no script for role '%s'", req.Role)
	}
	idx := m.consumed[req.Role]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	m.consumed[req.Role]++

	step := script[idx]
	if step.Err != nil {
		return roles.Response{}, step.Err
	}
	return roles.Response{
		Role:    req.Role,
		Status:  roles.StringField(step.Payload, "status", roles.StatusSuccess),
		Payload: step.Payload,
	}, nil
}

// CallCount returns the number of invocations of a role.
func (m *MockInvoker) CallCount(role roles.Role) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, call := range m.Calls {
		if call.Role == role {
			n++
		}
	}
	return n
}

// CallsFor returns the recorded requests for a role, in order.
func (m *MockInvoker) CallsFor(role roles.Role) []roles.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []roles.Request
	for _, call := range m.Calls {
		if call.Role == role {
			out = append(out, call)
		}
	}
	return out
}

// =============================================================================
// MOCK OPERATOR
// =============================================================================

// MockOperator implements approval.Operator with scripted decisions.
type MockOperator struct {
	// Decisions are consumed in order; when exhausted, Review rejects.
	Decisions []approval.Decision

	// Err causes every Review to fail.
	Err error

	// Presented records each plan version shown to the operator.
	Presented []int

	// Notifications records modification outcome messages.
	Notifications []string

	mu sync.Mutex
}

// Review implements approval.Operator.
func (m *MockOperator) Review(ctx context.Context, p *plan.Plan) (approval.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Presented = append(m.Presented, p.Version)
	if m.Err != nil {
		return approval.Decision{}, m.Err
	}
	if len(m.Decisions) == 0 {
		return approval.Decision{Action: approval.ActionReject}, nil
	}
	decision := m.Decisions[0]
	m.Decisions = m.Decisions[1:]
	return decision, nil
}

// NotifyModification implements approval.Operator.
func (m *MockOperator) NotifyModification(succeeded bool, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications = append(m.Notifications, message)
}

// =============================================================================
// PAYLOAD BUILDERS
// =============================================================================

// PlanPayload builds a schema-valid planner payload with n sequential
// phases, each depending on its predecessor.
func PlanPayload(projectName string, n int) map[string]any {
	phases := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		ph := map[string]any{
			"phase_id":         fmt.Sprintf("phase_%d", i),
			"name":             fmt.Sprintf("Phase %d", i),
			"description":      fmt.Sprintf("Implement part %d", i),
			"files_to_create":  []any{fmt.Sprintf("file_%d.go", i)},
			"success_criteria": "files compile and satisfy the phase goal",
		}
		if i > 1 {
			ph["dependencies"] = []any{fmt.Sprintf("phase_%d", i-1)}
		}
		phases = append(phases, ph)
	}
	return map[string]any{
		"status":       "success",
		"project_name": projectName,
		"project_type": "cli",
		"phases":       phases,
	}
}

// IndependentPlanPayload builds a planner payload with n phases that have
// no dependencies between them.
func IndependentPlanPayload(projectName string, n int) map[string]any {
	payload := PlanPayload(projectName, n)
	for _, ph := range payload["phases"].([]any) {
		delete(ph.(map[string]any), "dependencies")
	}
	return payload
}

// CritiquePayload builds a schema-valid critic payload.
func CritiquePayload(score float64, feedback string) map[string]any {
	return map[string]any{
		"status":   "success",
		"score":    score,
		"feedback": feedback,
	}
}

// WritePayload builds a schema-valid writer payload.
func WritePayload(files ...string) map[string]any {
	anyFiles := make([]any, len(files))
	for i, f := range files {
		anyFiles[i] = f
	}
	return map[string]any{
		"status":        "success",
		"files_written": anyFiles,
	}
}

// PassVerdict builds a passing reviewer/tester payload.
func PassVerdict() map[string]any {
	return map[string]any{"status": "success", "pass": true}
}

// FailVerdict builds a failing reviewer/tester payload.
func FailVerdict(feedback, errorLog string) map[string]any {
	payload := map[string]any{"status": "success", "pass": false, "feedback": feedback}
	if errorLog != "" {
		payload["error_log"] = errorLog
	}
	return payload
}

// FixPayload builds a schema-valid fixer payload.
func FixPayload(summary string) map[string]any {
	return map[string]any{
		"status":          "success",
		"summary":         summary,
		"files_to_modify": []any{"main.go"},
	}
}
