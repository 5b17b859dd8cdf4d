package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

var ErrEmptyGraph = errors.New("schedule graph has no phases")

// Graph is the phase chain of one project. Phases are sequential: there is
// an edge Pi -> Pj whenever Pi.Position < Pj.Position. Tasks and milestones
// hang off exactly one phase and carry no edges of their own.
type Graph struct {
	projectID string
	phases    []domain.Phase
	index     map[string]int
}

// NewGraph validates phases and orders them by position. It does not modify
// the input slice.
func NewGraph(projectID string, phases []domain.Phase) (*Graph, error) {
	if len(phases) == 0 {
		return nil, ErrEmptyGraph
	}
	if projectID == "" {
		projectID = phases[0].ProjectID
	}
	sorted := make([]domain.Phase, len(phases))
	copy(sorted, phases)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	g := &Graph{projectID: projectID, phases: sorted, index: make(map[string]int, len(sorted))}
	for i, p := range sorted {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: phase at position %d has no id", domain.ErrInvariantViolation, p.Position)
		}
		if p.ProjectID != "" && p.ProjectID != projectID {
			return nil, fmt.Errorf("%w: phase %s belongs to project %s, not %s", domain.ErrInvariantViolation, p.ID, p.ProjectID, projectID)
		}
		if _, dup := g.index[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate phase %s", domain.ErrInvariantViolation, p.ID)
		}
		if i > 0 && sorted[i-1].Position == p.Position {
			return nil, fmt.Errorf("%w: phases %s and %s share position %d", domain.ErrInvariantViolation, sorted[i-1].ID, p.ID, p.Position)
		}
		for _, t := range p.Tasks {
			if t.PhaseID != p.ID {
				return nil, fmt.Errorf("%w: task %s references phase %s but is nested under %s", domain.ErrInvariantViolation, t.ID, t.PhaseID, p.ID)
			}
		}
		for _, m := range p.Milestones {
			if m.PhaseID != p.ID {
				return nil, fmt.Errorf("%w: milestone %s references phase %s but is nested under %s", domain.ErrInvariantViolation, m.ID, m.PhaseID, p.ID)
			}
		}
		g.index[p.ID] = i
	}
	return g, nil
}

func (g *Graph) ProjectID() string { return g.projectID }
func (g *Graph) Len() int          { return len(g.phases) }

// Phases returns the phases in position order.
func (g *Graph) Phases() []domain.Phase { return g.phases }

func (g *Graph) Phase(id string) (domain.Phase, bool) {
	i, ok := g.index[id]
	if !ok {
		return domain.Phase{}, false
	}
	return g.phases[i], true
}

// Successors lists the phases that come after id in the chain.
func (g *Graph) Successors(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	var out []string
	for _, p := range g.phases[i+1:] {
		out = append(out, p.ID)
	}
	return out
}

// Tasks returns every task, grouped by phase in position order.
func (g *Graph) Tasks() []domain.Task {
	var out []domain.Task
	for _, p := range g.phases {
		out = append(out, p.Tasks...)
	}
	return out
}

func (g *Graph) Milestones() []domain.Milestone {
	var out []domain.Milestone
	for _, p := range g.phases {
		out = append(out, p.Milestones...)
	}
	return out
}

// WindowViolation is a task scheduled outside its phase's date window.
type WindowViolation struct {
	Task  domain.Task
	Phase domain.Phase
	// StartsEarly and EndsLate tell which side of the window is crossed.
	StartsEarly bool
	EndsLate    bool
}

// WindowViolations reports tasks whose dates fall outside their phase window.
// Only dates defined on both sides are compared.
func (g *Graph) WindowViolations() []WindowViolation {
	var out []WindowViolation
	for _, p := range g.phases {
		for _, t := range p.Tasks {
			v := WindowViolation{Task: t, Phase: p}
			if t.StartDate != nil && p.StartDate != nil && dayOf(*t.StartDate).Before(dayOf(*p.StartDate)) {
				v.StartsEarly = true
			}
			if t.EndDate != nil && p.EndDate != nil && dayOf(*t.EndDate).After(dayOf(*p.EndDate)) {
				v.EndsLate = true
			}
			if v.StartsEarly || v.EndsLate {
				out = append(out, v)
			}
		}
	}
	return out
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isDone(status string, ws domain.WorkflowStatus) bool {
	return status == "completed" || status == "done" || ws == domain.WorkflowCompleted
}
