package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmarronnier/docusphere-sub011/internal/config"
	"github.com/rmarronnier/docusphere-sub011/internal/db"
	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/events"
	"github.com/rmarronnier/docusphere-sub011/internal/observability"
	"github.com/rmarronnier/docusphere-sub011/internal/repo"
	"github.com/rmarronnier/docusphere-sub011/internal/schedule"
	"github.com/rmarronnier/docusphere-sub011/internal/workflow"
)

// ReportCache is the optional read-through cache for progress reports.
type ReportCache interface {
	Get(ctx context.Context, projectID string) (schedule.ProgressReport, bool, error)
	Put(ctx context.Context, report schedule.ProgressReport) error
	Invalidate(ctx context.Context, projectID string) error
}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Machine *workflow.Machine
	Cache   ReportCache
	Metrics *observability.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// New wires the store, state machine and hooks. Cache, Metrics and Logger are
// optional and may be set afterwards.
func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		DB:     conn,
		Repo:   repo.New(conn, dialect),
		Config: cfg,
		Now:    time.Now,
	}
	e.Events = events.Writer{Now: e.now}
	e.Machine = workflow.New(e.Repo, e.hooks())
	e.Machine.Now = e.now
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger(ctx context.Context) *zap.Logger {
	return observability.LoggerFrom(ctx, e.Logger)
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// invalidate drops the cached report after a committed write. Cache errors
// are logged, never returned.
func (e *Engine) invalidate(ctx context.Context, projectID string) {
	if e.Cache == nil || projectID == "" {
		return
	}
	if err := e.Cache.Invalidate(ctx, projectID); err != nil {
		e.logger(ctx).Warn("report cache invalidate failed", zap.String("project_id", projectID), zap.Error(err))
		if e.Metrics != nil {
			e.Metrics.RecordCacheError()
		}
	}
}

// normalizeStatus validates a domain status for kind, falling back to def
// when empty, and returns it with its workflow projection.
func normalizeStatus(kind, status, def string) (string, domain.WorkflowStatus, error) {
	if status == "" {
		status = def
	}
	ws, err := workflow.Normalize(kind, status)
	if err != nil {
		return "", "", err
	}
	return status, ws, nil
}

type ProjectCreateOptions struct {
	ID          string
	Name        string
	Description string
	Status      string
	StartDate   *time.Time
	EndDate     *time.Time
	ActorID     string
}

func (e *Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	status, ws, err := normalizeStatus(domain.KindProject, opts.Status, "planning")
	if err != nil {
		return domain.Project{}, err
	}
	if err := checkWindow(opts.StartDate, opts.EndDate); err != nil {
		return domain.Project{}, err
	}
	p := domain.Project{
		ID:             newID(opts.ID),
		Name:           opts.Name,
		Description:    opts.Description,
		Status:         status,
		WorkflowStatus: ws,
		StartDate:      opts.StartDate,
		EndDate:        opts.EndDate,
		CreatedAt:      e.timestamp(),
	}
	err = e.Repo.InTx(ctx, func(ctx context.Context, tx *repo.Tx) error {
		if err := tx.InsertProject(ctx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return e.Events.Append(ctx, tx, events.Entry{
			Type: events.ProjectCreated, ProjectID: p.ID, EntityKind: domain.KindProject, EntityID: p.ID, ActorID: opts.ActorID,
			Payload: events.EventPayload{"name": p.Name, "status": p.Status},
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

type PhaseCreateOptions struct {
	ID                   string
	ProjectID            string
	Name                 string
	Position             int
	PhaseType            string
	Status               string
	StartDate            *time.Time
	EndDate              *time.Time
	CompletionPercentage float64
	ActorID              string
}

var phaseTypes = map[string]bool{
	domain.PhaseStudies:      true,
	domain.PhasePermits:      true,
	domain.PhaseConstruction: true,
	domain.PhaseReception:    true,
	domain.PhaseDelivery:     true,
	domain.PhaseOther:        true,
}

// CreatePhase appends a phase to the project. A zero position places it
// after the last phase.
func (e *Engine) CreatePhase(ctx context.Context, opts PhaseCreateOptions) (domain.Phase, error) {
	if opts.Name == "" {
		return domain.Phase{}, errors.New("name is required")
	}
	if opts.PhaseType == "" {
		opts.PhaseType = domain.PhaseOther
	}
	if !phaseTypes[opts.PhaseType] {
		return domain.Phase{}, fmt.Errorf("%w: unknown phase type %q", domain.ErrInvariantViolation, opts.PhaseType)
	}
	if opts.CompletionPercentage < 0 || opts.CompletionPercentage > 100 {
		return domain.Phase{}, fmt.Errorf("%w: completion percentage must be within [0,100]", domain.ErrInvariantViolation)
	}
	if opts.Position < 0 {
		return domain.Phase{}, fmt.Errorf("%w: position must be >= 0", domain.ErrInvariantViolation)
	}
	if err := checkWindow(opts.StartDate, opts.EndDate); err != nil {
		return domain.Phase{}, err
	}
	status, ws, err := normalizeStatus(domain.KindPhase, opts.Status, "pending")
	if err != nil {
		return domain.Phase{}, err
	}
	p := domain.Phase{
		ID:                   newID(opts.ID),
		ProjectID:            opts.ProjectID,
		Name:                 opts.Name,
		Position:             opts.Position,
		PhaseType:            opts.PhaseType,
		Status:               status,
		WorkflowStatus:       ws,
		StartDate:            opts.StartDate,
		EndDate:              opts.EndDate,
		CompletionPercentage: opts.CompletionPercentage,
	}
	err = e.Repo.InTx(ctx, func(ctx context.Context, tx *repo.Tx) error {
		if _, err := tx.GetProject(ctx, p.ProjectID); err != nil {
			return fmt.Errorf("project %s: %w", p.ProjectID, err)
		}
		existing, err := tx.ListPhases(ctx, p.ProjectID)
		if err != nil {
			return err
		}
		last := 0
		for _, other := range existing {
			if p.Position != 0 && other.Position == p.Position {
				return fmt.Errorf("%w: position %d already used by phase %s", domain.ErrInvariantViolation, p.Position, other.ID)
			}
			last = max(last, other.Position)
		}
		if p.Position == 0 {
			p.Position = last + 1
		}
		if err := tx.InsertPhase(ctx, p, e.timestamp()); err != nil {
			return fmt.Errorf("insert phase: %w", err)
		}
		return e.Events.Append(ctx, tx, events.Entry{
			Type: events.PhaseCreated, ProjectID: p.ProjectID, EntityKind: domain.KindPhase, EntityID: p.ID, ActorID: opts.ActorID,
			Payload: events.EventPayload{"name": p.Name, "position": p.Position, "phase_type": p.PhaseType},
		})
	})
	if err != nil {
		return domain.Phase{}, err
	}
	e.invalidate(ctx, p.ProjectID)
	return p, nil
}

type TaskCreateOptions struct {
	ID             string
	PhaseID        string
	Name           string
	StakeholderID  string
	Priority       string
	EstimatedHours float64
	Status         string
	StartDate      *time.Time
	EndDate        *time.Time
	ActorID        string
}

var priorities = map[string]bool{
	domain.PriorityLow:    true,
	domain.PriorityNormal: true,
	domain.PriorityHigh:   true,
	domain.PriorityUrgent: true,
}

func (e *Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, errors.New("name is required")
	}
	if opts.PhaseID == "" {
		return domain.Task{}, errors.New("phase is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityNormal
	}
	if !priorities[opts.Priority] {
		return domain.Task{}, fmt.Errorf("%w: unknown priority %q", domain.ErrInvariantViolation, opts.Priority)
	}
	if opts.EstimatedHours < 0 {
		return domain.Task{}, fmt.Errorf("%w: estimated hours must be >= 0", domain.ErrInvariantViolation)
	}
	if err := checkWindow(opts.StartDate, opts.EndDate); err != nil {
		return domain.Task{}, err
	}
	status, ws, err := normalizeStatus(domain.KindTask, opts.Status, "pending")
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:             newID(opts.ID),
		PhaseID:        opts.PhaseID,
		Name:           opts.Name,
		Priority:       opts.Priority,
		EstimatedHours: opts.EstimatedHours,
		Status:         status,
		WorkflowStatus: ws,
		StartDate:      opts.StartDate,
		EndDate:        opts.EndDate,
	}
	if opts.StakeholderID != "" {
		sid := opts.StakeholderID
		t.StakeholderID = &sid
	}
	err = e.Repo.InTx(ctx, func(ctx context.Context, tx *repo.Tx) error {
		phase, err := tx.LoadWorkflowEntity(ctx, domain.Ref{Kind: domain.KindPhase, ID: t.PhaseID})
		if err != nil {
			return fmt.Errorf("phase %s: %w", t.PhaseID, err)
		}
		t.ProjectID = phase.Ref().ProjectID
		if t.StakeholderID != nil {
			s, err := tx.GetStakeholder(ctx, *t.StakeholderID)
			if err != nil {
				return fmt.Errorf("stakeholder %s: %w", *t.StakeholderID, err)
			}
			if s.ProjectID != t.ProjectID {
				return fmt.Errorf("%w: stakeholder %s belongs to project %s", domain.ErrInvariantViolation, s.ID, s.ProjectID)
			}
		}
		if err := tx.InsertTask(ctx, t, e.timestamp()); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return e.Events.Append(ctx, tx, events.Entry{
			Type: events.TaskCreated, ProjectID: t.ProjectID, EntityKind: domain.KindTask, EntityID: t.ID, ActorID: opts.ActorID,
			Payload: events.EventPayload{"name": t.Name, "phase_id": t.PhaseID, "estimated_hours": t.EstimatedHours},
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.invalidate(ctx, t.ProjectID)
	return t, nil
}

type MilestoneCreateOptions struct {
	ID         string
	PhaseID    string
	Name       string
	TargetDate *time.Time
	Critical   bool
	Status     string
	ActorID    string
}

func (e *Engine) CreateMilestone(ctx context.Context, opts MilestoneCreateOptions) (domain.Milestone, error) {
	if opts.Name == "" {
		return domain.Milestone{}, errors.New("name is required")
	}
	if opts.PhaseID == "" {
		return domain.Milestone{}, errors.New("phase is required")
	}
	status, ws, err := normalizeStatus(domain.KindMilestone, opts.Status, "pending")
	if err != nil {
		return domain.Milestone{}, err
	}
	m := domain.Milestone{
		ID:             newID(opts.ID),
		PhaseID:        opts.PhaseID,
		Name:           opts.Name,
		TargetDate:     opts.TargetDate,
		Status:         status,
		WorkflowStatus: ws,
		Critical:       opts.Critical,
	}
	err = e.Repo.InTx(ctx, func(ctx context.Context, tx *repo.Tx) error {
		phase, err := tx.LoadWorkflowEntity(ctx, domain.Ref{Kind: domain.KindPhase, ID: m.PhaseID})
		if err != nil {
			return fmt.Errorf("phase %s: %w", m.PhaseID, err)
		}
		m.ProjectID = phase.Ref().ProjectID
		if err := tx.InsertMilestone(ctx, m, e.timestamp()); err != nil {
			return fmt.Errorf("insert milestone: %w", err)
		}
		return e.Events.Append(ctx, tx, events.Entry{
			Type: events.MilestoneCreated, ProjectID: m.ProjectID, EntityKind: domain.KindMilestone, EntityID: m.ID, ActorID: opts.ActorID,
			Payload: events.EventPayload{"name": m.Name, "critical": m.Critical},
		})
	})
	if err != nil {
		return domain.Milestone{}, err
	}
	e.invalidate(ctx, m.ProjectID)
	return m, nil
}

type StakeholderCreateOptions struct {
	ID        string
	ProjectID string
	Name      string
	Role      string
	ActorID   string
}

func (e *Engine) CreateStakeholder(ctx context.Context, opts StakeholderCreateOptions) (domain.Stakeholder, error) {
	if opts.Name == "" {
		return domain.Stakeholder{}, errors.New("name is required")
	}
	s := domain.Stakeholder{ID: newID(opts.ID), ProjectID: opts.ProjectID, Name: opts.Name, Role: opts.Role}
	err := e.Repo.InTx(ctx, func(ctx context.Context, tx *repo.Tx) error {
		if _, err := tx.GetProject(ctx, s.ProjectID); err != nil {
			return fmt.Errorf("project %s: %w", s.ProjectID, err)
		}
		if err := tx.InsertStakeholder(ctx, s, e.timestamp()); err != nil {
			return fmt.Errorf("insert stakeholder: %w", err)
		}
		return e.Events.Append(ctx, tx, events.Entry{
			Type: events.StakeholderCreated, ProjectID: s.ProjectID, EntityKind: "stakeholder", EntityID: s.ID, ActorID: opts.ActorID,
			Payload: events.EventPayload{"name": s.Name, "role": s.Role},
		})
	})
	if err != nil {
		return domain.Stakeholder{}, err
	}
	e.invalidate(ctx, s.ProjectID)
	return s, nil
}

type PermitCreateOptions struct {
	ID         string
	ProjectID  string
	PermitType string
	Status     string
	ExpiryDate *time.Time
	ActorID    string
}

func (e *Engine) CreatePermit(ctx context.Context, opts PermitCreateOptions) (domain.Permit, error) {
	if opts.PermitType == "" {
		return domain.Permit{}, errors.New("permit type is required")
	}
	status, ws, err := normalizeStatus(domain.KindPermit, opts.Status, "draft")
	if err != nil {
		return domain.Permit{}, err
	}
	p := domain.Permit{
		ID:             newID(opts.ID),
		ProjectID:      opts.ProjectID,
		PermitType:     opts.PermitType,
		Status:         status,
		WorkflowStatus: ws,
		ExpiryDate:     opts.ExpiryDate,
	}
	err = e.Repo.InTx(ctx, func(ctx context.Context, tx *repo.Tx) error {
		if _, err := tx.GetProject(ctx, p.ProjectID); err != nil {
			return fmt.Errorf("project %s: %w", p.ProjectID, err)
		}
		if err := tx.InsertPermit(ctx, p, e.timestamp()); err != nil {
			return fmt.Errorf("insert permit: %w", err)
		}
		return e.Events.Append(ctx, tx, events.Entry{
			Type: events.PermitCreated, ProjectID: p.ProjectID, EntityKind: domain.KindPermit, EntityID: p.ID, ActorID: opts.ActorID,
			Payload: events.EventPayload{"permit_type": p.PermitType, "status": p.Status},
		})
	})
	if err != nil {
		return domain.Permit{}, err
	}
	e.invalidate(ctx, p.ProjectID)
	return p, nil
}

func checkWindow(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("%w: end date %s precedes start date %s", domain.ErrInvariantViolation,
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return nil
}
