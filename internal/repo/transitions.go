package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/workflow"
)

// UpdateWorkflowStatus is a compare-and-set on workflow_status.
func (t *Tx) UpdateWorkflowStatus(ctx context.Context, ref domain.Ref, from, to domain.WorkflowStatus) error {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	c := t.conn()
	res, err := c.exec(ctx, fmt.Sprintf(`UPDATE %s SET workflow_status=? WHERE id=? AND workflow_status=?`, table), to, ref.ID, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var exists int
	if err := c.queryRow(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id=?`, table), ref.ID).Scan(&exists); err != nil {
		return notFound(err)
	}
	return workflow.ErrStaleStatus
}

// UpdateDomainStatus writes the domain status column only. The projected
// workflow status moves through the state machine.
func (t *Tx) UpdateDomainStatus(ctx context.Context, ref domain.Ref, status string) error {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	res, err := t.conn().exec(ctx, fmt.Sprintf(`UPDATE %s SET status=? WHERE id=?`, table), status, ref.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *Tx) SaveTransition(ctx context.Context, tr domain.WorkflowTransition) error {
	_, err := t.conn().exec(ctx, `INSERT INTO workflow_transitions(id,project_id,entity_kind,entity_id,from_status,to_status,actor_id,notes,occurred_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		tr.ID, nullable(tr.Entity.ProjectID), tr.Entity.Kind, tr.Entity.ID, tr.FromStatus, tr.ToStatus, tr.ActorID, nullable(tr.Notes), tr.OccurredAt)
	return err
}

func (t *Tx) LoadWorkflowEntity(ctx context.Context, ref domain.Ref) (workflow.Entity, error) {
	return loadWorkflowEntity(ctx, t.conn(), ref)
}

func (r Repo) LoadWorkflowEntity(ctx context.Context, ref domain.Ref) (workflow.Entity, error) {
	return loadWorkflowEntity(ctx, r.conn(), ref)
}

func loadWorkflowEntity(ctx context.Context, c conn, ref domain.Ref) (workflow.Entity, error) {
	switch ref.Kind {
	case domain.KindProject:
		p, err := getProject(ctx, c, ref.ID)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case domain.KindPhase:
		p, err := getPhase(ctx, c, ref.ID)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case domain.KindTask:
		task, err := getTask(ctx, c, ref.ID)
		if err != nil {
			return nil, err
		}
		return &task, nil
	case domain.KindMilestone:
		m, err := getMilestone(ctx, c, ref.ID)
		if err != nil {
			return nil, err
		}
		return &m, nil
	case domain.KindPermit:
		p, err := getPermit(ctx, c, ref.ID)
		if err != nil {
			return nil, err
		}
		return &p, nil
	}
	return nil, fmt.Errorf("%w: unknown entity kind %q", domain.ErrInvariantViolation, ref.Kind)
}

// ListTransitions returns the entity's history, oldest first. limit <= 0
// returns everything.
func (r Repo) ListTransitions(ctx context.Context, ref domain.Ref, limit int) ([]domain.WorkflowTransition, error) {
	query := `SELECT id,COALESCE(project_id,''),entity_kind,entity_id,from_status,to_status,actor_id,notes,occurred_at FROM workflow_transitions WHERE entity_kind=? AND entity_id=? ORDER BY occurred_at, id`
	args := []any{ref.Kind, ref.ID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.conn().query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowTransition
	for rows.Next() {
		var (
			tr    domain.WorkflowTransition
			notes sql.NullString
		)
		if err := rows.Scan(&tr.ID, &tr.Entity.ProjectID, &tr.Entity.Kind, &tr.Entity.ID, &tr.FromStatus, &tr.ToStatus, &tr.ActorID, &notes, &tr.OccurredAt); err != nil {
			return nil, err
		}
		tr.Notes = notes.String
		res = append(res, tr)
	}
	return res, rows.Err()
}
