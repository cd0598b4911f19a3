package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/genforge-labs/genflow/engine/observability"
)

var tracer = otel.Tracer("genflow/roles")

// ProviderInvoker is the reference Invoker: it renders a prompt, calls an
// LLMProvider, extracts the JSON object from the free-form output, and
// validates it against the role schema. Provider failures are transient;
// extraction and validation failures are malformed.
type ProviderInvoker struct {
	Provider LLMProvider
	Logger   Logger

	// ModelByRole selects a model per role. Empty entries fall back to
	// DefaultModel.
	ModelByRole  map[Role]string
	DefaultModel string

	// CallTimeout bounds each provider call. Zero uses DefaultCallTimeout.
	CallTimeout time.Duration
}

// NewProviderInvoker creates a ProviderInvoker.
func NewProviderInvoker(provider LLMProvider, logger Logger) (*ProviderInvoker, error) {
	if provider == nil {
		return nil, NewFatalConfigError("llm provider")
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &ProviderInvoker{
		Provider:    provider,
		Logger:      logger.Bind("component", "invoker"),
		CallTimeout: DefaultCallTimeout,
	}, nil
}

// Invoke implements Invoker.
func (p *ProviderInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	if !req.Role.Valid() {
		return Response{}, NewFatalConfigError(fmt.Sprintf("unknown role '%s'", req.Role))
	}

	ctx, span := tracer.Start(ctx, "role.invoke")
	span.SetAttributes(
		attribute.String("genflow.role", string(req.Role)),
		attribute.String("genflow.workflow.id", req.WorkflowID),
		attribute.Int("genflow.attempt", req.Attempt),
	)
	defer span.End()

	timeout := p.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()
	raw, err := p.Provider.Generate(callCtx, p.modelFor(req.Role), p.renderPrompt(req), nil)
	duration := time.Since(startTime)

	if err != nil {
		observability.RecordRoleInvocation(string(req.Role), "transient", duration)
		span.SetStatus(codes.Error, err.Error())
		p.Logger.Warn("role_invocation_transient_failure",
			"role", string(req.Role),
			"workflow_id", req.WorkflowID,
			"phase_id", req.PhaseID,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
		return Response{}, NewTransientError(req.Role, err)
	}

	payload, err := extractJSONObject(raw)
	if err != nil {
		observability.RecordRoleInvocation(string(req.Role), "malformed", duration)
		span.SetStatus(codes.Error, err.Error())
		p.Logger.Warn("role_response_extraction_failed",
			"role", string(req.Role),
			"workflow_id", req.WorkflowID,
			"output_length", len(raw),
		)
		return Response{}, NewMalformedError(req.Role, "no JSON object in output", err)
	}

	if err := ValidateResponsePayload(req.Role, payload); err != nil {
		observability.RecordRoleInvocation(string(req.Role), "malformed", duration)
		span.SetStatus(codes.Error, err.Error())
		p.Logger.Warn("role_response_schema_invalid",
			"role", string(req.Role),
			"workflow_id", req.WorkflowID,
			"error", err.Error(),
		)
		return Response{}, err
	}

	observability.RecordRoleInvocation(string(req.Role), "success", duration)
	p.Logger.Debug("role_invocation_completed",
		"role", string(req.Role),
		"workflow_id", req.WorkflowID,
		"phase_id", req.PhaseID,
		"duration_ms", duration.Milliseconds(),
	)

	return Response{
		Role:    req.Role,
		Status:  StringField(payload, "status", StatusSuccess),
		Payload: payload,
		Raw:     raw,
	}, nil
}

func (p *ProviderInvoker) modelFor(role Role) string {
	if m, ok := p.ModelByRole[role]; ok && m != "" {
		return m
	}
	return p.DefaultModel
}

func (p *ProviderInvoker) renderPrompt(req Request) string {
	var b strings.Builder
	if req.SystemContext != "" {
		b.WriteString(req.SystemContext)
		b.WriteString("\n\n")
	}
	b.WriteString(req.UserContext)
	if len(req.Payload) > 0 {
		if data, err := json.Marshal(req.Payload); err == nil {
			b.WriteString("\n\nInput:\n")
			b.Write(data)
		}
	}
	if req.Feedback != "" {
		b.WriteString("\n\nFeedback from the previous attempt:\n")
		b.WriteString(req.Feedback)
	}
	return b.String()
}

// extractJSONObject pulls the first top-level JSON object out of free-form
// model output. Models wrap JSON in prose or code fences; everything outside
// the outermost braces is discarded.
func extractJSONObject(raw string) (map[string]any, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no object delimiters in %d bytes of output", len(raw))
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
