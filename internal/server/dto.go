package server

import (
	"time"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/schedule"
	"github.com/rmarronnier/docusphere-sub011/internal/workflow"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status,omitempty" enum:"planning,pre_development,development,construction,delivery,completed,cancelled"`
	StartDate   string  `json:"start_date,omitempty" format:"date"`
	EndDate     string  `json:"end_date,omitempty" format:"date"`
}

type TransitionRequest struct {
	To    domain.WorkflowStatus `json:"to" enum:"pending,in_progress,completed,cancelled"`
	Notes string                `json:"notes,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// Responses

type ProjectResponse struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Status         string                `json:"status"`
	WorkflowStatus domain.WorkflowStatus `json:"workflow_status"`
	StartDate      string                `json:"start_date,omitempty" format:"date"`
	EndDate        string                `json:"end_date,omitempty" format:"date"`
	CreatedAt      string                `json:"created_at" format:"date-time"`
}

type EntityResponse struct {
	Kind           string                `json:"kind"`
	ID             string                `json:"id"`
	ProjectID      string                `json:"project_id"`
	Status         string                `json:"status"`
	WorkflowStatus domain.WorkflowStatus `json:"workflow_status"`
	// Allowed lists the workflow statuses reachable in one transition.
	Allowed []domain.WorkflowStatus `json:"allowed"`
}

type TransitionResponse struct {
	ID         string                `json:"id"`
	Entity     domain.Ref            `json:"entity_ref"`
	FromStatus domain.WorkflowStatus `json:"from_status"`
	ToStatus   domain.WorkflowStatus `json:"to_status"`
	Actor      string                `json:"actor"`
	Notes      string                `json:"notes,omitempty"`
	OccurredAt string                `json:"occurred_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type transitionList struct {
	Items []TransitionResponse `json:"items"`
}

type alertList struct {
	ProjectID string           `json:"project_id"`
	Items     []schedule.Alert `json:"items"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Status:         p.Status,
		WorkflowStatus: p.WorkflowStatus,
		StartDate:      formatDate(p.StartDate),
		EndDate:        formatDate(p.EndDate),
		CreatedAt:      p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func entityResponse(e workflow.Entity) EntityResponse {
	ref := e.Ref()
	allowed := workflow.Allowed(e.CurrentWorkflowStatus())
	if allowed == nil {
		allowed = []domain.WorkflowStatus{}
	}
	return EntityResponse{
		Kind:           ref.Kind,
		ID:             ref.ID,
		ProjectID:      ref.ProjectID,
		Status:         e.DomainStatus(),
		WorkflowStatus: e.CurrentWorkflowStatus(),
		Allowed:        allowed,
	}
}

func transitionResponse(t domain.WorkflowTransition) TransitionResponse {
	return TransitionResponse{
		ID:         t.ID,
		Entity:     t.Entity,
		FromStatus: t.FromStatus,
		ToStatus:   t.ToStatus,
		Actor:      t.ActorID,
		Notes:      t.Notes,
		OccurredAt: t.OccurredAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
