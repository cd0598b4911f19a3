package roles

import "fmt"

// Payload field helpers using the comma-ok idiom so malformed collaborator
// output can never panic the engine. JSON unmarshaling yields float64 for
// numbers, so the numeric helpers accept both.

// StringField extracts a string field with a default fallback.
func StringField(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return fallback
}

// BoolField extracts a bool field with a default fallback.
func BoolField(m map[string]any, key string, fallback bool) bool {
	if m == nil {
		return fallback
	}
	if b, ok := m[key].(bool); ok {
		return b
	}
	return fallback
}

// FloatField extracts a float64 field with a default fallback.
func FloatField(m map[string]any, key string, fallback float64) float64 {
	if m == nil {
		return fallback
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// IntField extracts an int field with a default fallback.
func IntField(m map[string]any, key string, fallback int) int {
	return int(FloatField(m, key, float64(fallback)))
}

// StringsField extracts a []string field, tolerating []any elements.
func StringsField(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// MapField extracts a nested map field.
func MapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if nested, ok := m[key].(map[string]any); ok {
		return nested
	}
	return nil
}

// =============================================================================
// TYPED RESPONSE CONTRACTS
// =============================================================================

// Critique is the structured output of the critic role.
type Critique struct {
	Score     float64  `json:"score"`
	Strengths []string `json:"strengths,omitempty"`
	Issues    []string `json:"issues,omitempty"`
	Feedback  string   `json:"feedback"`
}

// DecodeCritique extracts a Critique from a critic response.
func DecodeCritique(resp Response) (Critique, error) {
	score, ok := resp.Payload["score"].(float64)
	if !ok {
		return Critique{}, NewMalformedError(RoleCritic, "missing numeric 'score'", nil)
	}
	if score < 0 || score > 10 {
		return Critique{}, NewMalformedError(RoleCritic, fmt.Sprintf("score %.2f outside [0,10]", score), nil)
	}
	return Critique{
		Score:     score,
		Strengths: StringsField(resp.Payload, "strengths"),
		Issues:    StringsField(resp.Payload, "issues"),
		Feedback:  StringField(resp.Payload, "feedback", ""),
	}, nil
}

// Verdict is the structured output of the reviewer and tester roles.
type Verdict struct {
	Pass     bool   `json:"pass"`
	Feedback string `json:"feedback,omitempty"`

	// ErrorLog is only populated by the tester role.
	ErrorLog string `json:"error_log,omitempty"`
}

// DecodeVerdict extracts a Verdict from a reviewer or tester response.
func DecodeVerdict(resp Response) (Verdict, error) {
	pass, ok := resp.Payload["pass"].(bool)
	if !ok {
		return Verdict{}, NewMalformedError(resp.Role, "missing boolean 'pass'", nil)
	}
	v := Verdict{
		Pass:     pass,
		Feedback: StringField(resp.Payload, "feedback", ""),
		ErrorLog: StringField(resp.Payload, "error_log", ""),
	}
	if !v.Pass && v.Feedback == "" && v.ErrorLog == "" {
		return Verdict{}, NewMalformedError(resp.Role, "fail verdict without feedback", nil)
	}
	return v, nil
}

// FixPlan is the structured output of the fixer role: what the next writer
// attempt should change instead of receiving the raw error log.
type FixPlan struct {
	Summary      string   `json:"summary"`
	FilesModify  []string `json:"files_to_modify,omitempty"`
	FilesCreate  []string `json:"files_to_create,omitempty"`
	Dependencies []string `json:"dependencies_to_add,omitempty"`
}

// DecodeFixPlan extracts a FixPlan from a fixer response.
func DecodeFixPlan(resp Response) (FixPlan, error) {
	summary := StringField(resp.Payload, "summary", "")
	if summary == "" {
		return FixPlan{}, NewMalformedError(RoleFixer, "missing 'summary'", nil)
	}
	return FixPlan{
		Summary:      summary,
		FilesModify:  StringsField(resp.Payload, "files_to_modify"),
		FilesCreate:  StringsField(resp.Payload, "files_to_create"),
		Dependencies: StringsField(resp.Payload, "dependencies_to_add"),
	}, nil
}
