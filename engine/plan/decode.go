package plan

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FromPayload builds a Plan from a schema-validated planner response
// payload. When prior is non-nil the result supersedes it (same identity,
// version+1); otherwise a fresh version-1 plan is created. The returned plan
// is fully validated.
func FromPayload(payload map[string]any, prior *Plan) (*Plan, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode planner payload: %w", err)
	}

	var decoded Plan
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode planner payload: %w", err)
	}

	if prior != nil {
		decoded.ID = prior.ID
		decoded.Version = prior.Version + 1
	} else {
		decoded.ID = "plan_" + uuid.New().String()[:8]
		decoded.Version = 1
	}
	decoded.QualityScore = 0
	decoded.CreatedAt = time.Now().UTC()

	if err := decoded.Validate(); err != nil {
		return nil, err
	}
	return &decoded, nil
}

// Payload renders the plan as a generic map for inclusion in role requests.
func (p *Plan) Payload() map[string]any {
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
