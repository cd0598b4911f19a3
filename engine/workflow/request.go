// Package workflow provides the workflow coordinator: it sequences planning,
// optional approval, and dependency-ordered phase execution into the two
// top-level workflows (plan-and-create, test-and-fix), owns the per-run
// state, and enforces the overall deadline.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/genforge-labs/genflow/engine/executor"
)

// Kind selects the top-level workflow.
type Kind string

const (
	KindPlanAndCreate Kind = "plan_and_create"
	KindTestAndFix    Kind = "test_and_fix"
)

// KindFromString parses a workflow kind.
func KindFromString(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "plan_and_create":
		return KindPlanAndCreate, nil
	case "test_and_fix":
		return KindTestAndFix, nil
	default:
		return "", fmt.Errorf("invalid workflow kind '%s'. Must be one of: plan_and_create, test_and_fix", value)
	}
}

// ExecutorMode maps the workflow kind onto the executor's verify mode.
func (k Kind) ExecutorMode() executor.Mode {
	if k == KindTestAndFix {
		return executor.ModeTestAndFix
	}
	return executor.ModePlanAndCreate
}

// Request bounds and defaults.
const (
	DefaultMaxPhases   = 10
	DefaultMaxAttempts = 3
	DefaultTimeout     = 60 * time.Minute
)

// Request is the immutable input of one workflow run. Created once at
// workflow start and never mutated.
type Request struct {
	// Prompt is the natural-language project request, free-text or
	// file-sourced by the caller.
	Prompt string `json:"prompt"`

	// OutputDir is the output target handed to the writer collaborator.
	OutputDir string `json:"output_dir,omitempty"`

	Kind        Kind          `json:"kind"`
	MaxPhases   int           `json:"max_phases"`
	MaxAttempts int           `json:"max_attempts"`
	Timeout     time.Duration `json:"timeout"`

	// Interactive gates the plan behind operator approval. Ignored when
	// DeepPlan is also set: deep planning takes precedence and the gate
	// is skipped entirely.
	Interactive bool `json:"interactive"`

	// DeepPlan enables the reflection loop before execution.
	DeepPlan bool `json:"deep_plan"`
}

// Validate checks the request and applies defaults in place.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("request prompt is required")
	}
	if r.Kind == "" {
		r.Kind = KindPlanAndCreate
	}
	if _, err := KindFromString(string(r.Kind)); err != nil {
		return err
	}
	if r.MaxPhases <= 0 {
		r.MaxPhases = DefaultMaxPhases
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}
	return nil
}
