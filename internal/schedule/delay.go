package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

type AlertType string

const (
	AlertInfo    AlertType = "info"
	AlertWarning AlertType = "warning"
	AlertDanger  AlertType = "danger"
)

// Alert categories.
const (
	CategoryPhaseDelay     = "phase_delay"
	CategoryTaskDelay      = "task_delay"
	CategoryMilestoneDelay = "milestone_delay"
	CategoryTaskWindow     = "task_window"
	CategoryPermitExpiry   = "permit_expiry"
)

type Alert struct {
	Type     AlertType  `json:"type" enum:"info,warning,danger"`
	Category string     `json:"category"`
	Subject  domain.Ref `json:"subject_ref"`
	Message  string     `json:"message"`
	DueAt    *time.Time `json:"due_at,omitempty"`
	// Days is how late (danger) or how far ahead (warning) the due date is.
	Days int `json:"days"`
}

// DetectDelays scans phases, then tasks, then milestones. Within each group
// the most overdue subject comes first, ties broken by id.
func DetectDelays(g *Graph, now time.Time, lookaheadDays int) []Alert {
	if g == nil {
		return []Alert{}
	}
	var phases, tasks, milestones []Alert
	for _, p := range g.Phases() {
		if isDone(p.Status, p.WorkflowStatus) {
			continue
		}
		ref := domain.Ref{Kind: domain.KindPhase, ID: p.ID, ProjectID: p.ProjectID}
		if a, ok := classify(ref, CategoryPhaseDelay, "Phase", p.Name, p.EndDate, now, lookaheadDays); ok {
			phases = append(phases, a)
		}
	}
	for _, t := range g.Tasks() {
		if isDone(t.Status, t.WorkflowStatus) {
			continue
		}
		ref := domain.Ref{Kind: domain.KindTask, ID: t.ID, ProjectID: t.ProjectID}
		if a, ok := classify(ref, CategoryTaskDelay, "Task", t.Name, t.EndDate, now, lookaheadDays); ok {
			tasks = append(tasks, a)
		}
	}
	for _, m := range g.Milestones() {
		if isDone(m.Status, m.WorkflowStatus) {
			continue
		}
		label := "Milestone"
		if m.Critical {
			label = "Critical milestone"
		}
		ref := domain.Ref{Kind: domain.KindMilestone, ID: m.ID, ProjectID: m.ProjectID}
		if a, ok := classify(ref, CategoryMilestoneDelay, label, m.Name, m.TargetDate, now, lookaheadDays); ok {
			milestones = append(milestones, a)
		}
	}
	out := make([]Alert, 0, len(phases)+len(tasks)+len(milestones))
	for _, group := range [][]Alert{phases, tasks, milestones} {
		sortByDue(group)
		out = append(out, group...)
	}
	return out
}

// classify compares calendar days: an item due today is never overdue.
func classify(ref domain.Ref, category, label, name string, due *time.Time, now time.Time, lookaheadDays int) (Alert, bool) {
	if due == nil {
		return Alert{}, false
	}
	if name == "" {
		name = ref.ID
	}
	d := *due
	left := daysBetween(now, d)
	switch {
	case left < 0:
		days := -left
		return Alert{
			Type:     AlertDanger,
			Category: category,
			Subject:  ref,
			Message:  fmt.Sprintf("%s %q is %s overdue", label, name, pluralDays(days)),
			DueAt:    &d,
			Days:     days,
		}, true
	case left < lookaheadDays:
		days := left
		msg := fmt.Sprintf("%s %q is due in %s", label, name, pluralDays(days))
		if days == 0 {
			msg = fmt.Sprintf("%s %q is due today", label, name)
		}
		return Alert{
			Type:     AlertWarning,
			Category: category,
			Subject:  ref,
			Message:  msg,
			DueAt:    &d,
			Days:     days,
		}, true
	}
	return Alert{}, false
}

// WindowAlerts turns task window violations into info alerts.
func WindowAlerts(g *Graph) []Alert {
	if g == nil {
		return []Alert{}
	}
	out := []Alert{}
	for _, v := range g.WindowViolations() {
		var side string
		switch {
		case v.StartsEarly && v.EndsLate:
			side = "starts before and ends after"
		case v.StartsEarly:
			side = "starts before"
		default:
			side = "ends after"
		}
		name := v.Task.Name
		if name == "" {
			name = v.Task.ID
		}
		phaseName := v.Phase.Name
		if phaseName == "" {
			phaseName = v.Phase.ID
		}
		out = append(out, Alert{
			Type:     AlertInfo,
			Category: CategoryTaskWindow,
			Subject:  domain.Ref{Kind: domain.KindTask, ID: v.Task.ID, ProjectID: v.Task.ProjectID},
			Message:  fmt.Sprintf("Task %q %s the window of phase %q", name, side, phaseName),
			DueAt:    v.Task.EndDate,
		})
	}
	return out
}

// PermitAlerts flags approved permits that are expired or expire within
// expiryDays.
func PermitAlerts(permits []domain.Permit, now time.Time, expiryDays int) []Alert {
	out := []Alert{}
	for _, p := range permits {
		if p.Status != "approved" || p.ExpiryDate == nil {
			continue
		}
		exp := *p.ExpiryDate
		ref := domain.Ref{Kind: domain.KindPermit, ID: p.ID, ProjectID: p.ProjectID}
		left := daysBetween(now, exp)
		switch {
		case left < 0:
			days := -left
			out = append(out, Alert{
				Type:     AlertDanger,
				Category: CategoryPermitExpiry,
				Subject:  ref,
				Message:  fmt.Sprintf("Permit %s (%s) expired %s ago", p.ID, p.PermitType, pluralDays(days)),
				DueAt:    &exp,
				Days:     days,
			})
		case left < expiryDays:
			days := left
			msg := fmt.Sprintf("Permit %s (%s) expires in %s", p.ID, p.PermitType, pluralDays(days))
			if days == 0 {
				msg = fmt.Sprintf("Permit %s (%s) expires today", p.ID, p.PermitType)
			}
			out = append(out, Alert{
				Type:     AlertWarning,
				Category: CategoryPermitExpiry,
				Subject:  ref,
				Message:  msg,
				DueAt:    &exp,
				Days:     days,
			})
		}
	}
	sortByDue(out)
	return out
}

func sortByDue(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i].DueAt, alerts[j].DueAt
		if (a == nil) != (b == nil) {
			return b == nil
		}
		if a != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return alerts[i].Subject.ID < alerts[j].Subject.ID
	})
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
