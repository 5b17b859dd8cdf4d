package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

// Schedule health values.
const (
	HealthOnTrack = "on_track"
	HealthAtRisk  = "at_risk"
	HealthDelayed = "delayed"
)

// Snapshot is everything one analytics pass reads. It is never mutated.
type Snapshot struct {
	Project      domain.Project
	Phases       []domain.Phase
	Stakeholders []domain.Stakeholder
	Permits      []domain.Permit
}

// Source is the read side of the persistence collaborator.
type Source interface {
	GetProject(ctx context.Context, id string) (domain.Project, error)
	// LoadPhases returns the phases with their tasks and milestones nested.
	LoadPhases(ctx context.Context, projectID string) ([]domain.Phase, error)
	LoadStakeholders(ctx context.Context, projectID string) ([]domain.Stakeholder, error)
	LoadPermits(ctx context.Context, projectID string) ([]domain.Permit, error)
}

// Load reads a Snapshot of one project from src.
func Load(ctx context.Context, src Source, projectID string) (Snapshot, error) {
	project, err := src.GetProject(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	phases, err := src.LoadPhases(ctx, projectID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load phases: %w", err)
	}
	stakeholders, err := src.LoadStakeholders(ctx, projectID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load stakeholders: %w", err)
	}
	permits, err := src.LoadPermits(ctx, projectID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load permits: %w", err)
	}
	return Snapshot{Project: project, Phases: phases, Stakeholders: stakeholders, Permits: permits}, nil
}

type KeyMetrics struct {
	TotalPhases         int     `json:"total_phases"`
	CompletedPhases     int     `json:"completed_phases"`
	TotalTasks          int     `json:"total_tasks"`
	CompletedTasks      int     `json:"completed_tasks"`
	OverdueTasks        int     `json:"overdue_tasks"`
	TotalMilestones     int     `json:"total_milestones"`
	CompletedMilestones int     `json:"completed_milestones"`
	OverdueMilestones   int     `json:"overdue_milestones"`
	EstimatedHours      float64 `json:"estimated_hours"`
	Stakeholders        int     `json:"stakeholders"`
	CriticalPathDays    int     `json:"critical_path_days"`
	TimeProgress        float64 `json:"time_progress"`
	SchedulePerformance float64 `json:"schedule_performance_index"`
	ScheduleHealth      string  `json:"schedule_health" enum:"on_track,at_risk,delayed"`
}

type ProgressReport struct {
	ProjectID               string             `json:"project_id"`
	GeneratedAt             time.Time          `json:"generated_at"`
	OverallProgress         float64            `json:"overall_progress"`
	PhasesProgress          map[string]float64 `json:"phases_progress"`
	KeyMetrics              KeyMetrics         `json:"key_metrics"`
	Alerts                  []Alert            `json:"alerts"`
	CriticalPath            CriticalPath       `json:"critical_path"`
	ResourceRecommendations ResourcePlan       `json:"resource_recommendations"`
}

// Analyzer merges the individual analyses into one report. It holds no
// mutable state and is safe for concurrent use.
type Analyzer struct {
	Policy Policy
	Now    func() time.Time
}

func NewAnalyzer(policy Policy) Analyzer {
	return Analyzer{Policy: policy.withDefaults(), Now: time.Now}
}

func (a Analyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Report builds the graph once and runs every analysis over it. A project
// without phases yields a zero-state report rather than an error.
func (a Analyzer) Report(s Snapshot) (ProgressReport, error) {
	policy := a.Policy.withDefaults()
	now := a.now().UTC()
	report := ProgressReport{
		ProjectID:      s.Project.ID,
		GeneratedAt:    now,
		PhasesProgress: map[string]float64{},
		Alerts:         []Alert{},
		CriticalPath:   CriticalPath{Steps: []PathStep{}},
	}

	g, err := NewGraph(s.Project.ID, s.Phases)
	if err != nil && !errors.Is(err, ErrEmptyGraph) {
		return ProgressReport{}, err
	}
	var tasks []domain.Task
	if g != nil {
		tasks = g.Tasks()
		report.OverallProgress = OverallProgress(g.Phases(), policy)
		report.PhasesProgress = PhasesProgress(g.Phases())
		path, err := AnalyzeCriticalPath(g)
		if err != nil {
			return ProgressReport{}, err
		}
		report.CriticalPath = path
		report.Alerts = append(report.Alerts, DetectDelays(g, now, policy.LookaheadDays)...)
		report.Alerts = append(report.Alerts, WindowAlerts(g)...)
	}
	report.Alerts = append(report.Alerts, PermitAlerts(s.Permits, now, policy.PermitExpiryDays)...)

	plan, err := OptimizeAllocation(s.Stakeholders, tasks, policy)
	if err != nil {
		return ProgressReport{}, err
	}
	report.ResourceRecommendations = plan
	report.KeyMetrics = keyMetrics(s, g, report, now)
	return report, nil
}

func keyMetrics(s Snapshot, g *Graph, r ProgressReport, now time.Time) KeyMetrics {
	m := KeyMetrics{Stakeholders: len(s.Stakeholders), CriticalPathDays: r.CriticalPath.TotalDays}
	if g != nil {
		for _, p := range g.Phases() {
			m.TotalPhases++
			if isDone(p.Status, p.WorkflowStatus) {
				m.CompletedPhases++
			}
		}
		for _, t := range g.Tasks() {
			m.TotalTasks++
			if isDone(t.Status, t.WorkflowStatus) {
				m.CompletedTasks++
			}
			if !isCancelled(t) {
				m.EstimatedHours += t.EstimatedHours
			}
		}
		for _, ms := range g.Milestones() {
			m.TotalMilestones++
			if isDone(ms.Status, ms.WorkflowStatus) {
				m.CompletedMilestones++
			}
		}
	}
	for _, a := range r.Alerts {
		if a.Type != AlertDanger {
			continue
		}
		switch a.Category {
		case CategoryTaskDelay:
			m.OverdueTasks++
		case CategoryMilestoneDelay:
			m.OverdueMilestones++
		}
	}
	m.EstimatedHours = round2(m.EstimatedHours)
	m.TimeProgress = timeProgress(s.Project, g, now)
	m.SchedulePerformance, m.ScheduleHealth = schedulePerformance(r.OverallProgress, m.TimeProgress)
	return m
}

// timeProgress is the elapsed share of the planned window, taken from the
// project dates or, failing that, from the first phase start to the last
// phase end.
func timeProgress(p domain.Project, g *Graph, now time.Time) float64 {
	start, end := p.StartDate, p.EndDate
	if g != nil {
		for _, ph := range g.Phases() {
			if p.StartDate == nil && ph.StartDate != nil && (start == nil || ph.StartDate.Before(*start)) {
				start = ph.StartDate
			}
			if p.EndDate == nil && ph.EndDate != nil && (end == nil || ph.EndDate.After(*end)) {
				end = ph.EndDate
			}
		}
	}
	if start == nil || end == nil || !end.After(*start) {
		return 0
	}
	if now.Before(*start) {
		return 0
	}
	if now.After(*end) {
		return 100
	}
	return round2(100 * now.Sub(*start).Hours() / end.Sub(*start).Hours())
}

func schedulePerformance(progress, elapsed float64) (float64, string) {
	if elapsed == 0 {
		return 1, HealthOnTrack
	}
	spi := round2(progress / elapsed)
	switch {
	case spi >= 0.95:
		return spi, HealthOnTrack
	case spi >= 0.85:
		return spi, HealthAtRisk
	default:
		return spi, HealthDelayed
	}
}
