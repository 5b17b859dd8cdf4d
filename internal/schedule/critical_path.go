package schedule

import (
	"math"
	"sort"
	"time"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

type PathStep struct {
	PhaseID       string     `json:"phase_id"`
	Name          string     `json:"name"`
	Position      int        `json:"position"`
	PhaseType     string     `json:"phase_type"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	DurationDays  int        `json:"duration_days"`
	Indeterminate bool       `json:"indeterminate,omitempty"`
	Note          string     `json:"note,omitempty"`
	// SlackDays is the gap before the next phase starts; negative when the
	// two windows overlap. Nil for the last phase or missing dates.
	SlackDays *int `json:"slack_days,omitempty"`
}

type CriticalPath struct {
	Steps         []PathStep `json:"steps"`
	TotalDays     int        `json:"total_days"`
	Indeterminate bool       `json:"indeterminate"`
}

// AnalyzeCriticalPath walks the phase chain in position order. Phases are
// strictly sequential, so the critical path is the whole chain.
func AnalyzeCriticalPath(g *Graph) (CriticalPath, error) {
	if g == nil || g.Len() == 0 {
		return CriticalPath{}, ErrEmptyGraph
	}
	phases := g.Phases()
	path := CriticalPath{Steps: make([]PathStep, 0, len(phases))}
	for i, p := range phases {
		step := PathStep{
			PhaseID:   p.ID,
			Name:      p.Name,
			Position:  p.Position,
			PhaseType: p.PhaseType,
			StartDate: p.StartDate,
			EndDate:   p.EndDate,
		}
		switch {
		case p.StartDate == nil || p.EndDate == nil:
			step.Indeterminate = true
			step.Note = "date window undefined; contribution indeterminate"
		case p.EndDate.Before(*p.StartDate):
			step.Indeterminate = true
			step.Note = "end date precedes start date; contribution indeterminate"
		default:
			step.DurationDays = daysBetween(*p.StartDate, *p.EndDate)
		}
		if i+1 < len(phases) && p.EndDate != nil && phases[i+1].StartDate != nil {
			slack := daysBetween(*p.EndDate, *phases[i+1].StartDate)
			step.SlackDays = &slack
		}
		path.TotalDays += step.DurationDays
		path.Indeterminate = path.Indeterminate || step.Indeterminate
		path.Steps = append(path.Steps, step)
	}
	return path, nil
}

func daysBetween(from, to time.Time) int {
	return int(math.Round(dayOf(to).Sub(dayOf(from)).Hours() / 24))
}

// PriorityWeight strictly increases low < normal < high < urgent. Unknown
// priorities weigh as normal.
func PriorityWeight(priority string) float64 {
	switch priority {
	case domain.PriorityLow:
		return 1
	case domain.PriorityHigh:
		return 3
	case domain.PriorityUrgent:
		return 4
	default:
		return 2
	}
}

// TaskCriticalityScore is a comparative ranking value, not a unit.
func TaskCriticalityScore(t domain.Task) float64 {
	return PriorityWeight(t.Priority) * t.EstimatedHours
}

type TaskScore struct {
	TaskID string  `json:"task_id"`
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
}

// RankTasks orders tasks by criticality, highest first, ties by id.
func RankTasks(tasks []domain.Task) []TaskScore {
	out := make([]TaskScore, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskScore{TaskID: t.ID, Name: t.Name, Score: TaskCriticalityScore(t)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}
