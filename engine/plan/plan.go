// Package plan provides the project plan model: ordered phases with
// declarative dependencies, plan versioning, and validation.
//
// A Plan is produced by the planner role, optionally superseded by later
// versions during reflection or interactive modification, and immutable once
// handed to the executor. Exactly one version is active at a time; version
// numbers increase monotonically.
package plan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is one ordered unit of work with explicit success criteria and
// dependencies on prior phases.
type Phase struct {
	ID              string   `json:"phase_id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	FilesToCreate   []string `json:"files_to_create,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	SuccessCriteria string   `json:"success_criteria,omitempty"`
	Complexity      int      `json:"estimated_complexity,omitempty"`
}

// Plan is an ordered sequence of phases plus project-level metadata.
type Plan struct {
	ID            string   `json:"plan_id"`
	Version       int      `json:"version"`
	ProjectName   string   `json:"project_name"`
	ProjectType   string   `json:"project_type,omitempty"`
	Complexity    string   `json:"complexity,omitempty"`
	FileStructure []string `json:"file_structure,omitempty"`
	Phases        []Phase  `json:"phases"`

	// QualityScore is only meaningful for plans produced under deep
	// planning; zero means never scored.
	QualityScore float64 `json:"quality_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates plan version 1 with a fresh identity.
func New(projectName string, phases []Phase) *Plan {
	return &Plan{
		ID:          "plan_" + uuid.New().String()[:8],
		Version:     1,
		ProjectName: projectName,
		Phases:      phases,
		CreatedAt:   time.Now().UTC(),
	}
}

// NextVersion derives a successor plan carrying the same identity with a
// bumped version. The receiver is left untouched; the caller decides which
// version is active.
func (p *Plan) NextVersion(phases []Phase) *Plan {
	next := *p
	next.Version = p.Version + 1
	next.Phases = phases
	next.QualityScore = 0
	next.CreatedAt = time.Now().UTC()
	return &next
}

// Validate checks the plan invariants: at least one phase, unique phase IDs,
// and every dependency referencing an earlier-declared phase of this plan.
func (p *Plan) Validate() error {
	if len(p.Phases) == 0 {
		return fmt.Errorf("plan '%s' has no phases", p.ID)
	}

	seen := make(map[string]bool, len(p.Phases))
	for _, ph := range p.Phases {
		if ph.ID == "" {
			return fmt.Errorf("plan '%s' contains a phase without an id", p.ID)
		}
		if seen[ph.ID] {
			return fmt.Errorf("duplicate phase id '%s'", ph.ID)
		}
		seen[ph.ID] = true
	}

	for _, ph := range p.Phases {
		for _, dep := range ph.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("phase '%s' depends on unknown phase '%s'", ph.ID, dep)
			}
			if dep == ph.ID {
				return fmt.Errorf("phase '%s' depends on itself", ph.ID)
			}
		}
	}

	if _, err := p.ExecutionOrder(); err != nil {
		return err
	}
	return nil
}

// ExecutionOrder returns phase IDs in dependency order (Kahn's algorithm).
// Ties preserve declaration order so plans without dependencies execute in
// the order the planner wrote them.
func (p *Plan) ExecutionOrder() ([]string, error) {
	inDegree := make(map[string]int, len(p.Phases))
	dependents := make(map[string][]string, len(p.Phases))

	for _, ph := range p.Phases {
		inDegree[ph.ID] = len(ph.Dependencies)
		for _, dep := range ph.Dependencies {
			dependents[dep] = append(dependents[dep], ph.ID)
		}
	}

	order := make([]string, 0, len(p.Phases))
	for len(order) < len(p.Phases) {
		progressed := false
		for _, ph := range p.Phases {
			if inDegree[ph.ID] != 0 {
				continue
			}
			order = append(order, ph.ID)
			inDegree[ph.ID] = -1
			for _, dependent := range dependents[ph.ID] {
				inDegree[dependent]--
			}
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle in plan '%s'", p.ID)
		}
	}
	return order, nil
}

// GetPhase returns the phase with the given ID, or nil.
func (p *Plan) GetPhase(id string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return &p.Phases[i]
		}
	}
	return nil
}

// Dependents returns the IDs of phases that declare a dependency on the
// given phase.
func (p *Plan) Dependents(id string) []string {
	var out []string
	for _, ph := range p.Phases {
		for _, dep := range ph.Dependencies {
			if dep == id {
				out = append(out, ph.ID)
				break
			}
		}
	}
	return out
}
