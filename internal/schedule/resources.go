package schedule

import (
	"fmt"
	"math"
	"sort"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

// Recommendation kinds.
const (
	RecommendRebalance = "rebalance"
	RecommendUnderload = "underload"
)

type StakeholderLoad struct {
	StakeholderID string  `json:"stakeholder_id"`
	Name          string  `json:"name,omitempty"`
	WorkloadHours float64 `json:"workload_hours"`
	TaskCount     int     `json:"task_count"`
}

type Recommendation struct {
	Kind                string   `json:"kind" enum:"rebalance,underload"`
	StakeholderID       string   `json:"stakeholder_id"`
	WorkloadHours       float64  `json:"workload_hours"`
	ThresholdHours      float64  `json:"threshold_hours"`
	Message             string   `json:"message"`
	SuggestedTasks      []string `json:"suggested_tasks,omitempty"`
	TargetStakeholderID string   `json:"target_stakeholder_id,omitempty"`
}

type ResourcePlan struct {
	Recommendations []Recommendation  `json:"recommendations"`
	Workloads       []StakeholderLoad `json:"workloads"`
	AverageHours    float64           `json:"average_hours"`
	StdDevHours     float64           `json:"std_dev_hours"`
}

// StakeholderWorkload sums estimated hours over the stakeholder's tasks that
// are not cancelled.
func StakeholderWorkload(stakeholderID string, tasks []domain.Task) float64 {
	var sum float64
	for _, t := range tasks {
		if t.StakeholderID == nil || *t.StakeholderID != stakeholderID || isCancelled(t) {
			continue
		}
		sum += t.EstimatedHours
	}
	return sum
}

func isCancelled(t domain.Task) bool {
	return t.Status == "cancelled" || t.WorkflowStatus == domain.WorkflowCancelled
}

// OptimizeAllocation flags stakeholders above the overload ceiling and the
// project average, and those far below the average. Recommendations is
// never nil.
func OptimizeAllocation(stakeholders []domain.Stakeholder, tasks []domain.Task, policy Policy) (ResourcePlan, error) {
	policy = policy.withDefaults()
	plan := ResourcePlan{Recommendations: []Recommendation{}, Workloads: []StakeholderLoad{}}

	known := make(map[string]bool, len(stakeholders))
	for _, s := range stakeholders {
		known[s.ID] = true
	}
	for _, t := range tasks {
		if t.StakeholderID != nil && !known[*t.StakeholderID] {
			return plan, fmt.Errorf("%w: task %s references unknown stakeholder %s", domain.ErrInvariantViolation, t.ID, *t.StakeholderID)
		}
	}
	if len(stakeholders) == 0 {
		return plan, nil
	}

	var total float64
	for _, s := range stakeholders {
		load := StakeholderLoad{StakeholderID: s.ID, Name: s.Name, WorkloadHours: StakeholderWorkload(s.ID, tasks)}
		for _, t := range tasks {
			if t.StakeholderID != nil && *t.StakeholderID == s.ID && !isCancelled(t) {
				load.TaskCount++
			}
		}
		total += load.WorkloadHours
		plan.Workloads = append(plan.Workloads, load)
	}
	sort.Slice(plan.Workloads, func(i, j int) bool {
		if plan.Workloads[i].WorkloadHours != plan.Workloads[j].WorkloadHours {
			return plan.Workloads[i].WorkloadHours > plan.Workloads[j].WorkloadHours
		}
		return plan.Workloads[i].StakeholderID < plan.Workloads[j].StakeholderID
	})
	avg := total / float64(len(plan.Workloads))
	var sq float64
	for _, l := range plan.Workloads {
		sq += (l.WorkloadHours - avg) * (l.WorkloadHours - avg)
	}
	plan.AverageHours = round2(avg)
	plan.StdDevHours = round2(math.Sqrt(sq / float64(len(plan.Workloads))))

	leastLoaded := plan.Workloads[len(plan.Workloads)-1]
	for _, l := range plan.Workloads {
		if l.WorkloadHours <= policy.OverloadHours || l.WorkloadHours <= avg {
			continue
		}
		rec := Recommendation{
			Kind:           RecommendRebalance,
			StakeholderID:  l.StakeholderID,
			WorkloadHours:  l.WorkloadHours,
			ThresholdHours: policy.OverloadHours,
			SuggestedTasks: reassignable(l.StakeholderID, tasks, policy.MaxReassignments),
		}
		if leastLoaded.StakeholderID != l.StakeholderID {
			rec.TargetStakeholderID = leastLoaded.StakeholderID
			rec.Message = fmt.Sprintf("%s carries %.1fh (ceiling %.1fh, average %.1fh); move work to %s",
				displayName(l), l.WorkloadHours, policy.OverloadHours, avg, displayName(leastLoaded))
		} else {
			rec.Message = fmt.Sprintf("%s carries %.1fh (ceiling %.1fh); add capacity",
				displayName(l), l.WorkloadHours, policy.OverloadHours)
		}
		plan.Recommendations = append(plan.Recommendations, rec)
	}
	if avg > 0 {
		floor := avg * policy.UnderloadRatio
		for i := len(plan.Workloads) - 1; i >= 0; i-- {
			l := plan.Workloads[i]
			if l.WorkloadHours >= floor {
				continue
			}
			plan.Recommendations = append(plan.Recommendations, Recommendation{
				Kind:           RecommendUnderload,
				StakeholderID:  l.StakeholderID,
				WorkloadHours:  l.WorkloadHours,
				ThresholdHours: round2(floor),
				Message: fmt.Sprintf("%s carries %.1fh, under %.0f%% of the %.1fh average",
					displayName(l), l.WorkloadHours, policy.UnderloadRatio*100, avg),
			})
		}
	}
	return plan, nil
}

// reassignable picks the least critical open tasks of a stakeholder, never
// urgent ones.
func reassignable(stakeholderID string, tasks []domain.Task, limit int) []string {
	var candidates []domain.Task
	for _, t := range tasks {
		if t.StakeholderID == nil || *t.StakeholderID != stakeholderID {
			continue
		}
		if isCancelled(t) || isDone(t.Status, t.WorkflowStatus) || t.Priority == domain.PriorityUrgent {
			continue
		}
		candidates = append(candidates, t)
	}
	sort.Slice(candidates, func(i, j int) bool {
		si, sj := TaskCriticalityScore(candidates[i]), TaskCriticalityScore(candidates[j])
		if si != sj {
			return si < sj
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	var ids []string
	for _, t := range candidates {
		ids = append(ids, t.ID)
	}
	return ids
}

func displayName(l StakeholderLoad) string {
	if l.Name != "" {
		return l.Name
	}
	return l.StakeholderID
}
