package workflow

import (
	"fmt"
	"slices"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

var transitions = map[domain.WorkflowStatus][]domain.WorkflowStatus{
	domain.WorkflowPending:    {domain.WorkflowInProgress, domain.WorkflowCancelled},
	domain.WorkflowInProgress: {domain.WorkflowCompleted, domain.WorkflowCancelled},
	domain.WorkflowCompleted:  {},
	domain.WorkflowCancelled:  {domain.WorkflowPending, domain.WorkflowInProgress},
}

// CanTransition reports whether the table allows current -> target.
func CanTransition(current, target domain.WorkflowStatus) bool {
	return slices.Contains(transitions[current], target)
}

// Allowed returns the statuses reachable from current in one step.
func Allowed(current domain.WorkflowStatus) []domain.WorkflowStatus {
	return slices.Clone(transitions[current])
}

var projection = map[string]domain.WorkflowStatus{
	"draft":                     domain.WorkflowPending,
	"pending":                   domain.WorkflowPending,
	"planning":                  domain.WorkflowPending,
	"in_progress":               domain.WorkflowInProgress,
	"submitted":                 domain.WorkflowInProgress,
	"under_review":              domain.WorkflowInProgress,
	"additional_info_requested": domain.WorkflowInProgress,
	"on_hold":                   domain.WorkflowInProgress,
	"blocked":                   domain.WorkflowInProgress,
	"pre_development":           domain.WorkflowInProgress,
	"development":               domain.WorkflowInProgress,
	"construction":              domain.WorkflowInProgress,
	"delivery":                  domain.WorkflowInProgress,
	"completed":                 domain.WorkflowCompleted,
	"approved":                  domain.WorkflowCompleted,
	"done":                      domain.WorkflowCompleted,
	"cancelled":                 domain.WorkflowCancelled,
	"denied":                    domain.WorkflowCancelled,
	"appeal":                    domain.WorkflowCancelled,
}

// Normalize projects a domain status onto the workflow lifecycle. Callers
// invoke it right after changing an entity's domain status so the two fields
// never diverge.
func Normalize(kind, status string) (domain.WorkflowStatus, error) {
	if allowed, ok := domain.DomainStatuses[kind]; !ok {
		return "", fmt.Errorf("%w: unknown entity kind %q", domain.ErrInvariantViolation, kind)
	} else if !slices.Contains(allowed, status) {
		return "", fmt.Errorf("%w: status %q is not valid for %s", domain.ErrInvariantViolation, status, kind)
	}
	ws, ok := projection[status]
	if !ok {
		return "", fmt.Errorf("%w: status %q has no workflow projection", domain.ErrInvariantViolation, status)
	}
	return ws, nil
}

// Reproject applies Normalize to e and stores the result on it.
func Reproject(e Entity) error {
	ws, err := Normalize(e.Ref().Kind, e.DomainStatus())
	if err != nil {
		return err
	}
	e.SetWorkflowStatus(ws)
	return nil
}
