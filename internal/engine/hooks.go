package engine

import (
	"context"
	"fmt"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/events"
	"github.com/rmarronnier/docusphere-sub011/internal/repo"
	"github.com/rmarronnier/docusphere-sub011/internal/workflow"
)

// hooks registers the post-transition side effects. They run inside the
// transition's transaction; any error rolls the whole transition back.
func (e *Engine) hooks() workflow.Hooks {
	h := workflow.Hooks{}
	statuses := []domain.WorkflowStatus{
		domain.WorkflowPending, domain.WorkflowInProgress, domain.WorkflowCompleted, domain.WorkflowCancelled,
	}
	for _, kind := range domain.Kinds {
		for _, status := range statuses {
			h.On(kind, status, e.recordTransitionEvent)
		}
	}
	h.On(domain.KindPhase, domain.WorkflowInProgress, e.startProjectOnPhaseStart)
	h.On(domain.KindPhase, domain.WorkflowCompleted, e.completeProjectOnLastPhase)
	h.On(domain.KindProject, domain.WorkflowCancelled, e.recordProjectCancelled)
	return h
}

func asRepoTx(tx workflow.Tx) (*repo.Tx, error) {
	rtx, ok := tx.(*repo.Tx)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction type %T", tx)
	}
	return rtx, nil
}

func (e *Engine) recordTransitionEvent(ctx context.Context, tx workflow.Tx, t domain.WorkflowTransition) error {
	rtx, err := asRepoTx(tx)
	if err != nil {
		return err
	}
	return e.Events.Append(ctx, rtx, events.Entry{
		Type:       events.WorkflowTransition,
		ProjectID:  t.Entity.ProjectID,
		EntityKind: t.Entity.Kind,
		EntityID:   t.Entity.ID,
		ActorID:    t.ActorID,
		Payload: events.EventPayload{
			"transition_id": t.ID,
			"from":          t.FromStatus,
			"to":            t.ToStatus,
			"notes":         t.Notes,
		},
	})
}

// startProjectOnPhaseStart moves a pending project to in_progress when its
// first phase starts.
func (e *Engine) startProjectOnPhaseStart(ctx context.Context, tx workflow.Tx, t domain.WorkflowTransition) error {
	project, err := tx.LoadWorkflowEntity(ctx, domain.Ref{Kind: domain.KindProject, ID: t.Entity.ProjectID})
	if err != nil {
		return fmt.Errorf("load project %s: %w", t.Entity.ProjectID, err)
	}
	if project.CurrentWorkflowStatus() != domain.WorkflowPending {
		return nil
	}
	_, err = e.Machine.TransitionTx(ctx, tx, project, domain.WorkflowInProgress, t.ActorID, "phase "+t.Entity.ID+" started")
	return err
}

// completeProjectOnLastPhase completes an in-progress project once every
// phase that was not cancelled is completed.
func (e *Engine) completeProjectOnLastPhase(ctx context.Context, tx workflow.Tx, t domain.WorkflowTransition) error {
	rtx, err := asRepoTx(tx)
	if err != nil {
		return err
	}
	phases, err := rtx.ListPhases(ctx, t.Entity.ProjectID)
	if err != nil {
		return fmt.Errorf("list phases: %w", err)
	}
	for _, p := range phases {
		if p.WorkflowStatus != domain.WorkflowCompleted && p.WorkflowStatus != domain.WorkflowCancelled {
			return nil
		}
	}
	project, err := tx.LoadWorkflowEntity(ctx, domain.Ref{Kind: domain.KindProject, ID: t.Entity.ProjectID})
	if err != nil {
		return fmt.Errorf("load project %s: %w", t.Entity.ProjectID, err)
	}
	if project.CurrentWorkflowStatus() != domain.WorkflowInProgress {
		return nil
	}
	_, err = e.Machine.TransitionTx(ctx, tx, project, domain.WorkflowCompleted, t.ActorID, "all phases completed")
	return err
}

func (e *Engine) recordProjectCancelled(ctx context.Context, tx workflow.Tx, t domain.WorkflowTransition) error {
	rtx, err := asRepoTx(tx)
	if err != nil {
		return err
	}
	return e.Events.Append(ctx, rtx, events.Entry{
		Type:       events.ProjectCancelled,
		ProjectID:  t.Entity.ID,
		EntityKind: domain.KindProject,
		EntityID:   t.Entity.ID,
		ActorID:    t.ActorID,
		Payload:    events.EventPayload{"from": t.FromStatus, "notes": t.Notes},
	})
}
