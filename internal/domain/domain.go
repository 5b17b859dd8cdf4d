package domain

import (
	"errors"
	"time"
)

// ErrInvariantViolation marks malformed input such as a task pointing at a
// phase it does not belong to, or a status the entity kind does not know.
var ErrInvariantViolation = errors.New("invariant violation")

// WorkflowStatus is the normalized lifecycle shared by every workflow entity.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

// Valid reports whether s is one of the four normalized values.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowPending, WorkflowInProgress, WorkflowCompleted, WorkflowCancelled:
		return true
	}
	return false
}

// Entity kinds.
const (
	KindProject   = "project"
	KindPhase     = "phase"
	KindTask      = "task"
	KindMilestone = "milestone"
	KindPermit    = "permit"
)

// Kinds lists every workflow-bearing entity kind.
var Kinds = []string{KindProject, KindPhase, KindTask, KindMilestone, KindPermit}

// Phase types.
const (
	PhaseStudies      = "studies"
	PhasePermits      = "permits"
	PhaseConstruction = "construction"
	PhaseReception    = "reception"
	PhaseDelivery     = "delivery"
	PhaseOther        = "other"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// DomainStatuses lists the domain-specific statuses accepted per entity kind.
var DomainStatuses = map[string][]string{
	KindProject:   {"planning", "pre_development", "development", "construction", "delivery", "completed", "cancelled"},
	KindPhase:     {"pending", "in_progress", "on_hold", "completed", "cancelled"},
	KindTask:      {"pending", "in_progress", "blocked", "completed", "done", "cancelled"},
	KindMilestone: {"pending", "in_progress", "completed", "cancelled"},
	KindPermit:    {"draft", "submitted", "under_review", "additional_info_requested", "on_hold", "approved", "denied", "appeal"},
}

// Ref identifies a workflow entity and the project that owns it.
type Ref struct {
	Kind      string `json:"kind" enum:"project,phase,task,milestone,permit"`
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
}

func (r Ref) String() string { return r.Kind + ":" + r.ID }

type Project struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status"`
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	StartDate      *time.Time     `json:"start_date,omitempty"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
}

func (p *Project) Ref() Ref                              { return Ref{Kind: KindProject, ID: p.ID, ProjectID: p.ID} }
func (p *Project) CurrentWorkflowStatus() WorkflowStatus { return p.WorkflowStatus }
func (p *Project) SetWorkflowStatus(s WorkflowStatus)    { p.WorkflowStatus = s }
func (p *Project) DomainStatus() string                  { return p.Status }

type Phase struct {
	ID                   string         `json:"id"`
	ProjectID            string         `json:"project_id"`
	Name                 string         `json:"name"`
	Position             int            `json:"position"`
	PhaseType            string         `json:"phase_type" enum:"studies,permits,construction,reception,delivery,other"`
	Status               string         `json:"status"`
	WorkflowStatus       WorkflowStatus `json:"workflow_status"`
	StartDate            *time.Time     `json:"start_date,omitempty"`
	EndDate              *time.Time     `json:"end_date,omitempty"`
	CompletionPercentage float64        `json:"completion_percentage"`
	Tasks                []Task         `json:"tasks,omitempty"`
	Milestones           []Milestone    `json:"milestones,omitempty"`
}

func (p *Phase) Ref() Ref                              { return Ref{Kind: KindPhase, ID: p.ID, ProjectID: p.ProjectID} }
func (p *Phase) CurrentWorkflowStatus() WorkflowStatus { return p.WorkflowStatus }
func (p *Phase) SetWorkflowStatus(s WorkflowStatus)    { p.WorkflowStatus = s }
func (p *Phase) DomainStatus() string                  { return p.Status }

type Task struct {
	ID             string         `json:"id"`
	PhaseID        string         `json:"phase_id"`
	ProjectID      string         `json:"project_id"`
	Name           string         `json:"name"`
	StakeholderID  *string        `json:"stakeholder_id,omitempty"`
	Priority       string         `json:"priority" enum:"low,normal,high,urgent"`
	EstimatedHours float64        `json:"estimated_hours"`
	Status         string         `json:"status"`
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	StartDate      *time.Time     `json:"start_date,omitempty"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
}

func (t *Task) Ref() Ref                              { return Ref{Kind: KindTask, ID: t.ID, ProjectID: t.ProjectID} }
func (t *Task) CurrentWorkflowStatus() WorkflowStatus { return t.WorkflowStatus }
func (t *Task) SetWorkflowStatus(s WorkflowStatus)    { t.WorkflowStatus = s }
func (t *Task) DomainStatus() string                  { return t.Status }

type Milestone struct {
	ID             string         `json:"id"`
	PhaseID        string         `json:"phase_id"`
	ProjectID      string         `json:"project_id"`
	Name           string         `json:"name"`
	TargetDate     *time.Time     `json:"target_date,omitempty"`
	Status         string         `json:"status"`
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	Critical       bool           `json:"critical"`
}

func (m *Milestone) Ref() Ref                              { return Ref{Kind: KindMilestone, ID: m.ID, ProjectID: m.ProjectID} }
func (m *Milestone) CurrentWorkflowStatus() WorkflowStatus { return m.WorkflowStatus }
func (m *Milestone) SetWorkflowStatus(s WorkflowStatus)    { m.WorkflowStatus = s }
func (m *Milestone) DomainStatus() string                  { return m.Status }

type Permit struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	PermitType     string         `json:"permit_type" enum:"urban_planning,construction,demolition,environmental,modification,declaration"`
	Status         string         `json:"status"`
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	ExpiryDate     *time.Time     `json:"expiry_date,omitempty"`
}

func (p *Permit) Ref() Ref                              { return Ref{Kind: KindPermit, ID: p.ID, ProjectID: p.ProjectID} }
func (p *Permit) CurrentWorkflowStatus() WorkflowStatus { return p.WorkflowStatus }
func (p *Permit) SetWorkflowStatus(s WorkflowStatus)    { p.WorkflowStatus = s }
func (p *Permit) DomainStatus() string                  { return p.Status }

// Stakeholder workload is derived from the tasks referencing it.
type Stakeholder struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
}

// WorkflowTransition is an append-only audit record.
type WorkflowTransition struct {
	ID         string         `json:"id"`
	Entity     Ref            `json:"entity_ref"`
	FromStatus WorkflowStatus `json:"from_status"`
	ToStatus   WorkflowStatus `json:"to_status"`
	ActorID    string         `json:"actor"`
	Notes      string         `json:"notes,omitempty"`
	OccurredAt string         `json:"occurred_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
