// Package roles provides the uniform role abstraction for the workflow engine.
//
// Every external capability the engine drives (planning, critique, writing,
// reviewing, testing, fixing) is modeled as one polymorphic Invoker
// parameterized by a Role tag plus per-role request/response payloads. Roles
// are stateless between calls: all context a role needs must be carried in
// the Request.
package roles

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role identifies one of the fixed external capabilities.
type Role string

const (
	// RolePlanner produces and revises project plans.
	RolePlanner Role = "planner"
	// RoleCritic scores a plan and produces structured critique.
	RoleCritic Role = "critic"
	// RoleWriter applies file changes for a phase.
	RoleWriter Role = "writer"
	// RoleReviewer validates phase output against success criteria.
	RoleReviewer Role = "reviewer"
	// RoleTester runs phase output and reports an error log on failure.
	RoleTester Role = "tester"
	// RoleFixer turns a test error log into a structured fix plan.
	RoleFixer Role = "fixer"
)

// AllRoles lists every valid role, in invocation-order convention.
var AllRoles = []Role{RolePlanner, RoleCritic, RoleWriter, RoleReviewer, RoleTester, RoleFixer}

// RoleFromString parses a role string.
func RoleFromString(value string) (Role, error) {
	normalized := Role(strings.ToLower(strings.TrimSpace(value)))
	for _, r := range AllRoles {
		if normalized == r {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid role '%s'. Must be one of: planner, critic, writer, reviewer, tester, fixer", value)
}

// Valid reports whether the role is one of the fixed enumeration.
func (r Role) Valid() bool {
	_, err := RoleFromString(string(r))
	return err == nil
}

// ResponseStatus values reported by roles.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is the value object passed to a role invocation. Requests are
// built fresh per call; the invoker retains nothing between calls.
type Request struct {
	Role       Role   `json:"role"`
	WorkflowID string `json:"workflow_id"`
	PhaseID    string `json:"phase_id,omitempty"`
	Attempt    int    `json:"attempt"`

	// SystemContext carries role framing, UserContext the task itself.
	SystemContext string `json:"system_context,omitempty"`
	UserContext   string `json:"user_context"`

	// Feedback from a prior attempt (review feedback or a serialized fix
	// plan), empty on first attempts.
	Feedback string `json:"feedback,omitempty"`

	// Payload carries structured role-specific input (current plan,
	// critique, error log).
	Payload map[string]any `json:"payload,omitempty"`
}

// Response is the structured result of a role invocation. A Response is only
// produced when the collaborator extracted output conforming to the role
// schema; anything else surfaces as a MalformedError.
type Response struct {
	Role    Role           `json:"role"`
	Status  string         `json:"status"`
	Payload map[string]any `json:"payload"`

	// Raw preserves the collaborator's unparsed output for audit emission.
	Raw string `json:"-"`
}

// Succeeded reports whether the role itself signaled success.
func (r Response) Succeeded() bool {
	return r.Status == StatusSuccess
}

// ErrorText returns the role-reported error string, if any.
func (r Response) ErrorText() string {
	return StringField(r.Payload, "error", "")
}

// Invoker is the single contract through which the engine reaches every
// role. Implementations must classify failures as TransientError (caller may
// retry) or MalformedError (one failed attempt, not an infrastructure fault)
// and must not retain state between calls.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// LLMProvider is the model-provider boundary consumed by ProviderInvoker.
type LLMProvider interface {
	Generate(ctx context.Context, model string, prompt string, options map[string]any) (string, error)
}

// Logger is the engine-wide logging contract.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Bind(keysAndValues ...any) Logger
}

// NopLogger discards everything. Useful as a default and in tests.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (n NopLogger) Bind(...any) Logger { return n }

// DefaultCallTimeout bounds a single role invocation when the caller did not
// set one. Per-call timeouts keep the advisory workflow deadline honest.
const DefaultCallTimeout = 5 * time.Minute
