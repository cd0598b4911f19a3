// Package reflect provides the deep-planning reflection loop: bounded
// plan-critique-replan cycles that raise plan quality before any resources
// are committed to execution.
package reflect

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/genforge-labs/genflow/engine/observability"
	"github.com/genforge-labs/genflow/engine/plan"
	"github.com/genforge-labs/genflow/engine/roles"
	"github.com/genforge-labs/genflow/events"
)

var tracer = otel.Tracer("genflow/reflect")

// Defaults for the reflection loop.
const (
	DefaultMaxIterations        = 3
	DefaultConvergenceThreshold = 8.0
)

// Config bounds the reflection loop.
type Config struct {
	// MaxIterations caps critique rounds. Zero uses DefaultMaxIterations.
	MaxIterations int `json:"max_iterations"`

	// ConvergenceThreshold stops the loop once a plan scores at or above
	// it, in [0,10]. Zero uses DefaultConvergenceThreshold.
	ConvergenceThreshold float64 `json:"convergence_threshold"`
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	return c
}

// Record is one iteration of the reflection loop. Records are append-only
// and never mutated after creation.
type Record struct {
	Iteration   int       `json:"iteration"`
	PlanVersion int       `json:"plan_version"`
	Critique    string    `json:"critique"`
	Score       float64   `json:"score"`
	Converged   bool      `json:"converged"`
	CreatedAt   time.Time `json:"created_at"`
}

// Result carries the selected plan and the full iteration history.
type Result struct {
	Plan    *plan.Plan `json:"plan"`
	Records []Record   `json:"records"`

	// Converged is true when the selected plan crossed the threshold
	// rather than the loop exhausting its cap or stopping early.
	Converged bool `json:"converged"`
}

// Loop drives the planner/critic reflection cycle.
type Loop struct {
	invoker roles.Invoker
	logger  roles.Logger
	bus     *events.Bus
	cfg     Config
}

// NewLoop creates a reflection Loop.
func NewLoop(invoker roles.Invoker, logger roles.Logger, bus *events.Bus, cfg Config) (*Loop, error) {
	if invoker == nil {
		return nil, roles.NewFatalConfigError("role invoker")
	}
	if logger == nil {
		logger = roles.NopLogger{}
	}
	return &Loop{
		invoker: invoker,
		logger:  logger.Bind("component", "reflect"),
		bus:     bus,
		cfg:     cfg.withDefaults(),
	}, nil
}

// Run executes the full deep-planning cycle for a raw request prompt.
//
// The loop explores up to MaxIterations critique rounds but always returns
// the best-scoring plan version seen, ties broken by the latest iteration.
// A critic or planner failure mid-loop stops iteration early and falls back
// to the best plan found so far; only a failure to produce the initial plan
// is an error. Context cancellation (the coordinator's deadline) surfaces as
// ctx.Err().
func (l *Loop) Run(ctx context.Context, workflowID, prompt string) (Result, error) {
	cfg := l.cfg

	ctx, span := tracer.Start(ctx, "reflect.run")
	span.SetAttributes(
		attribute.String("genflow.workflow.id", workflowID),
		attribute.Int("genflow.reflect.max_iterations", cfg.MaxIterations),
	)
	defer span.End()

	l.logger.Info("deep_planning_started",
		"workflow_id", workflowID,
		"max_iterations", cfg.MaxIterations,
		"convergence_threshold", cfg.ConvergenceThreshold,
	)

	current, err := l.generateInitialPlan(ctx, workflowID, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("initial plan generation failed: %w", err)
	}
	l.publishPlan(ctx, workflowID, current, "planner")

	records := make([]Record, 0, cfg.MaxIterations)

	var best *plan.Plan
	bestScore := -1.0

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		critique, err := l.critiquePlan(ctx, workflowID, current)
		if err != nil {
			// A failed critique discards this iteration, never the best
			// plan already found.
			l.logger.Warn("critique_failed_stopping_early",
				"workflow_id", workflowID,
				"iteration", iteration,
				"error", err.Error(),
			)
			break
		}

		current.QualityScore = critique.Score
		converged := critique.Score >= cfg.ConvergenceThreshold

		record := Record{
			Iteration:   iteration,
			PlanVersion: current.Version,
			Critique:    critique.Feedback,
			Score:       critique.Score,
			Converged:   converged,
			CreatedAt:   time.Now().UTC(),
		}
		records = append(records, record)
		observability.RecordReflectionIteration()
		l.bus.Publish(ctx, events.ReflectionRecorded{
			WorkflowID:  workflowID,
			Iteration:   iteration,
			PlanVersion: current.Version,
			Score:       critique.Score,
			Converged:   converged,
			Critique:    critique.Feedback,
		})

		// Latest iteration wins ties.
		if critique.Score >= bestScore {
			best = current
			bestScore = critique.Score
		}

		l.logger.Info("reflection_iteration_completed",
			"workflow_id", workflowID,
			"iteration", iteration,
			"plan_version", current.Version,
			"score", critique.Score,
			"converged", converged,
		)

		if converged || iteration == cfg.MaxIterations {
			break
		}

		revised, err := l.revisePlan(ctx, workflowID, prompt, current, critique)
		if err != nil {
			l.logger.Warn("plan_revision_failed_stopping_early",
				"workflow_id", workflowID,
				"iteration", iteration,
				"error", err.Error(),
			)
			break
		}
		current = revised
		l.publishPlan(ctx, workflowID, current, "reflection")
	}

	if best == nil {
		// No critique ever succeeded; the v1 plan is used directly.
		best = current
	}

	converged := len(records) > 0 && records[len(records)-1].Converged &&
		records[len(records)-1].PlanVersion == best.Version
	observability.RecordReflectionResult(best.QualityScore)

	l.logger.Info("deep_planning_completed",
		"workflow_id", workflowID,
		"iterations", len(records),
		"selected_version", best.Version,
		"best_score", bestScore,
		"converged", converged,
	)

	return Result{Plan: best, Records: records, Converged: converged}, nil
}

func (l *Loop) generateInitialPlan(ctx context.Context, workflowID, prompt string) (*plan.Plan, error) {
	resp, err := l.invoker.Invoke(ctx, roles.Request{
		Role:        roles.RolePlanner,
		WorkflowID:  workflowID,
		UserContext: prompt,
	})
	if err != nil {
		return nil, err
	}
	return plan.FromPayload(resp.Payload, nil)
}

func (l *Loop) critiquePlan(ctx context.Context, workflowID string, p *plan.Plan) (roles.Critique, error) {
	resp, err := l.invoker.Invoke(ctx, roles.Request{
		Role:        roles.RoleCritic,
		WorkflowID:  workflowID,
		UserContext: "Critique this project plan and score its quality from 0 to 10.",
		Payload:     map[string]any{"plan": p.Payload()},
	})
	if err != nil {
		return roles.Critique{}, err
	}
	return roles.DecodeCritique(resp)
}

func (l *Loop) revisePlan(ctx context.Context, workflowID, prompt string, current *plan.Plan, critique roles.Critique) (*plan.Plan, error) {
	resp, err := l.invoker.Invoke(ctx, roles.Request{
		Role:        roles.RolePlanner,
		WorkflowID:  workflowID,
		UserContext: prompt,
		Feedback:    critique.Feedback,
		Payload:     map[string]any{"plan": current.Payload()},
	})
	if err != nil {
		return nil, err
	}
	return plan.FromPayload(resp.Payload, current)
}

func (l *Loop) publishPlan(ctx context.Context, workflowID string, p *plan.Plan, source string) {
	l.bus.Publish(ctx, events.PlanVersionCreated{
		WorkflowID: workflowID,
		PlanID:     p.ID,
		Version:    p.Version,
		PhaseCount: len(p.Phases),
		Source:     source,
	})
}
