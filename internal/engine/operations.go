package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/events"
	"github.com/rmarronnier/docusphere-sub011/internal/observability"
	"github.com/rmarronnier/docusphere-sub011/internal/repo"
	"github.com/rmarronnier/docusphere-sub011/internal/schedule"
	"github.com/rmarronnier/docusphere-sub011/internal/workflow"
)

// Report statuses recorded in metrics.
const (
	reportOK     = "ok"
	reportCached = "cached"
	reportFailed = "error"
)

func transitionResult(err error) string {
	switch {
	case err == nil:
		return observability.ResultOK
	case errors.Is(err, workflow.ErrSideEffectFailed):
		return observability.ResultSideEffect
	case errors.Is(err, workflow.ErrInvalidTransition):
		return observability.ResultInvalid
	default:
		return observability.ResultStoreFailed
	}
}

// Transition moves the referenced entity to target through the state
// machine.
func (e *Engine) Transition(ctx context.Context, ref domain.Ref, target domain.WorkflowStatus, actorID, notes string) (tr domain.WorkflowTransition, err error) {
	ctx, span := observability.StartSpan(ctx, "engine.Transition",
		observability.AttrEntityKind.String(ref.Kind),
		observability.AttrEntityID.String(ref.ID),
		observability.AttrTarget.String(string(target)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()
	log := e.logger(ctx).With(zap.String("entity", ref.String()), zap.String("to", string(target)), zap.String("actor", actorID))

	if !target.Valid() {
		return domain.WorkflowTransition{}, fmt.Errorf("%w: unknown workflow status %q", domain.ErrInvariantViolation, target)
	}
	entity, err := e.Repo.LoadWorkflowEntity(ctx, ref)
	if err != nil {
		return domain.WorkflowTransition{}, err
	}
	projectID := entity.Ref().ProjectID
	span.SetAttributes(observability.AttrProjectID.String(projectID))

	tr, err = e.Machine.Transition(ctx, entity, target, actorID, notes)
	if e.Metrics != nil {
		e.Metrics.RecordTransition(ref.Kind, string(target), transitionResult(err))
	}
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidTransition) || errors.Is(err, workflow.ErrSideEffectFailed) {
			log.Warn("transition rejected", zap.Error(err))
		} else {
			log.Error("transition failed", zap.Error(err))
		}
		return domain.WorkflowTransition{}, err
	}
	log.Info("transition applied", zap.String("from", string(tr.FromStatus)), zap.String("transition_id", tr.ID))
	e.invalidate(ctx, projectID)
	return tr, nil
}

// SetDomainStatus changes the domain status of an entity. When the new
// status projects onto a different workflow status, the change goes through
// the state machine in the same transaction, so an edge the table forbids
// rejects the whole update.
func (e *Engine) SetDomainStatus(ctx context.Context, ref domain.Ref, status, actorID, notes string) (workflow.Entity, error) {
	ws, err := workflow.Normalize(ref.Kind, status)
	if err != nil {
		return nil, err
	}
	var projectID string
	var transitioned bool
	err = e.Repo.InTx(ctx, func(ctx context.Context, tx *repo.Tx) error {
		entity, err := tx.LoadWorkflowEntity(ctx, ref)
		if err != nil {
			return err
		}
		projectID = entity.Ref().ProjectID
		from := entity.DomainStatus()
		if err := tx.UpdateDomainStatus(ctx, ref, status); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.Entry{
			Type: events.StatusChanged, ProjectID: projectID, EntityKind: ref.Kind, EntityID: ref.ID, ActorID: actorID,
			Payload: events.EventPayload{"from": from, "to": status},
		}); err != nil {
			return err
		}
		if entity.CurrentWorkflowStatus() == ws {
			return nil
		}
		transitioned = true
		_, err = e.Machine.TransitionTx(ctx, tx, entity, ws, actorID, notes)
		return err
	})
	if e.Metrics != nil && transitioned {
		e.Metrics.RecordTransition(ref.Kind, string(ws), transitionResult(err))
	}
	if err != nil {
		e.logger(ctx).Warn("status change rejected", zap.String("entity", ref.String()), zap.String("status", status), zap.Error(err))
		return nil, err
	}
	e.invalidate(ctx, projectID)
	return e.Repo.LoadWorkflowEntity(ctx, ref)
}

// History returns the transitions of an entity, oldest first.
func (e *Engine) History(ctx context.Context, ref domain.Ref, limit int) ([]domain.WorkflowTransition, error) {
	if _, err := e.Repo.LoadWorkflowEntity(ctx, ref); err != nil {
		return nil, err
	}
	return e.Repo.ListTransitions(ctx, ref, limit)
}

// Snapshot loads everything one analytics pass needs for a project.
func (e *Engine) Snapshot(ctx context.Context, projectID string) (schedule.Snapshot, error) {
	return schedule.Load(ctx, e.Repo, projectID)
}

func (e *Engine) analyzer() schedule.Analyzer {
	a := schedule.NewAnalyzer(e.Config.Analytics)
	a.Now = e.now
	return a
}

// Report returns the progress report of a project, served from the cache
// when a fresh copy exists.
func (e *Engine) Report(ctx context.Context, projectID string) (report schedule.ProgressReport, err error) {
	ctx, span := observability.StartSpan(ctx, "engine.Report", observability.AttrProjectID.String(projectID))
	defer func() { observability.EndSpanWithError(span, err) }()
	log := e.logger(ctx).With(zap.String("project_id", projectID))
	start := time.Now()

	if e.Cache != nil {
		cached, found, cerr := e.Cache.Get(ctx, projectID)
		switch {
		case cerr != nil:
			log.Warn("report cache read failed", zap.Error(cerr))
			e.recordCache(func(m *observability.Metrics) { m.RecordCacheError() })
		case found:
			log.Debug("report cache hit")
			span.SetAttributes(observability.AttrCacheHit.Bool(true))
			e.recordCache(func(m *observability.Metrics) { m.RecordCacheHit() })
			if e.Metrics != nil {
				e.Metrics.RecordReport(reportCached, time.Since(start), nil)
			}
			return cached, nil
		default:
			log.Debug("report cache miss")
			e.recordCache(func(m *observability.Metrics) { m.RecordCacheMiss() })
		}
	}
	span.SetAttributes(observability.AttrCacheHit.Bool(false))

	snap, err := e.Snapshot(ctx, projectID)
	if err == nil {
		report, err = e.analyzer().Report(snap)
	}
	if err != nil {
		if e.Metrics != nil {
			e.Metrics.RecordReport(reportFailed, time.Since(start), nil)
		}
		return schedule.ProgressReport{}, err
	}
	if e.Metrics != nil {
		types := make([]string, 0, len(report.Alerts))
		for _, a := range report.Alerts {
			types = append(types, string(a.Type))
		}
		e.Metrics.RecordReport(reportOK, time.Since(start), types)
	}
	log.Info("report generated",
		zap.Float64("overall_progress", report.OverallProgress),
		zap.Int("alerts", len(report.Alerts)),
		zap.String("schedule_health", report.KeyMetrics.ScheduleHealth),
	)
	if e.Cache != nil {
		if err := e.Cache.Put(ctx, report); err != nil {
			log.Warn("report cache write failed", zap.Error(err))
			e.recordCache(func(m *observability.Metrics) { m.RecordCacheError() })
		}
	}
	return report, nil
}

func (e *Engine) recordCache(fn func(*observability.Metrics)) {
	if e.Metrics != nil {
		fn(e.Metrics)
	}
}

// Alerts returns the delay, window and permit alerts of a project.
func (e *Engine) Alerts(ctx context.Context, projectID string) ([]schedule.Alert, error) {
	report, err := e.Report(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return report.Alerts, nil
}

// CriticalPath analyzes the phase chain of a project. A project without
// phases yields schedule.ErrEmptyGraph.
func (e *Engine) CriticalPath(ctx context.Context, projectID string) (schedule.CriticalPath, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return schedule.CriticalPath{}, err
	}
	phases, err := e.Repo.LoadPhases(ctx, projectID)
	if err != nil {
		return schedule.CriticalPath{}, fmt.Errorf("load phases: %w", err)
	}
	g, err := schedule.NewGraph(projectID, phases)
	if err != nil {
		return schedule.CriticalPath{}, err
	}
	return schedule.AnalyzeCriticalPath(g)
}

// Workload returns the allocation plan of a project's stakeholders.
func (e *Engine) Workload(ctx context.Context, projectID string) (schedule.ResourcePlan, error) {
	snap, err := e.Snapshot(ctx, projectID)
	if err != nil {
		return schedule.ResourcePlan{}, err
	}
	var tasks []domain.Task
	for _, p := range snap.Phases {
		tasks = append(tasks, p.Tasks...)
	}
	return schedule.OptimizeAllocation(snap.Stakeholders, tasks, e.Config.Analytics)
}
