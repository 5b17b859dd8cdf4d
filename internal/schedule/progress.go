package schedule

import (
	"math"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

// PhaseCompletion is the share of completed tasks in the phase, or the
// phase's own completion percentage when it has no tasks.
func PhaseCompletion(p domain.Phase) float64 {
	if len(p.Tasks) == 0 {
		return clampPercent(round2(p.CompletionPercentage))
	}
	completed := 0
	for _, t := range p.Tasks {
		if isDone(t.Status, t.WorkflowStatus) {
			completed++
		}
	}
	return round2(100 * float64(completed) / float64(len(p.Tasks)))
}

// OverallProgress is the weighted mean of phase completions. It is 0 for a
// project without phases and always within [0, 100].
func OverallProgress(phases []domain.Phase, policy Policy) float64 {
	var weighted, total float64
	for _, p := range phases {
		w := policy.PhaseWeight(p.PhaseType)
		weighted += w * PhaseCompletion(p)
		total += w
	}
	if total == 0 {
		return 0
	}
	return clampPercent(round2(weighted / total))
}

// PhasesProgress maps phase id to completion percentage.
func PhasesProgress(phases []domain.Phase) map[string]float64 {
	out := make(map[string]float64, len(phases))
	for _, p := range phases {
		out[p.ID] = PhaseCompletion(p)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
