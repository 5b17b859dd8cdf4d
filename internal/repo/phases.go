package repo

import (
	"context"
	"database/sql"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

const (
	phaseCols     = `id,project_id,name,position,phase_type,status,workflow_status,start_date,end_date,completion_percentage`
	taskCols      = `id,phase_id,project_id,name,stakeholder_id,priority,estimated_hours,status,workflow_status,start_date,end_date`
	milestoneCols = `id,phase_id,project_id,name,target_date,status,workflow_status,critical`
)

func scanPhase(s scanner) (domain.Phase, error) {
	var (
		p          domain.Phase
		start, end sql.NullString
	)
	if err := s.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Position, &p.PhaseType, &p.Status, &p.WorkflowStatus, &start, &end, &p.CompletionPercentage); err != nil {
		return domain.Phase{}, notFound(err)
	}
	var err error
	if p.StartDate, err = parseDate(start); err != nil {
		return domain.Phase{}, err
	}
	if p.EndDate, err = parseDate(end); err != nil {
		return domain.Phase{}, err
	}
	return p, nil
}

func scanTask(s scanner) (domain.Task, error) {
	var (
		t           domain.Task
		stakeholder sql.NullString
		start, end  sql.NullString
	)
	if err := s.Scan(&t.ID, &t.PhaseID, &t.ProjectID, &t.Name, &stakeholder, &t.Priority, &t.EstimatedHours, &t.Status, &t.WorkflowStatus, &start, &end); err != nil {
		return domain.Task{}, notFound(err)
	}
	if stakeholder.Valid {
		t.StakeholderID = &stakeholder.String
	}
	var err error
	if t.StartDate, err = parseDate(start); err != nil {
		return domain.Task{}, err
	}
	if t.EndDate, err = parseDate(end); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func scanMilestone(s scanner) (domain.Milestone, error) {
	var (
		m        domain.Milestone
		target   sql.NullString
		critical int
	)
	if err := s.Scan(&m.ID, &m.PhaseID, &m.ProjectID, &m.Name, &target, &m.Status, &m.WorkflowStatus, &critical); err != nil {
		return domain.Milestone{}, notFound(err)
	}
	m.Critical = critical != 0
	var err error
	if m.TargetDate, err = parseDate(target); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (t *Tx) InsertPhase(ctx context.Context, p domain.Phase, createdAt string) error {
	_, err := t.conn().exec(ctx, `INSERT INTO phases(id,project_id,name,position,phase_type,status,workflow_status,start_date,end_date,completion_percentage,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.Name, p.Position, p.PhaseType, p.Status, p.WorkflowStatus, formatDate(p.StartDate), formatDate(p.EndDate), p.CompletionPercentage, createdAt)
	return err
}

func (t *Tx) InsertTask(ctx context.Context, task domain.Task, createdAt string) error {
	_, err := t.conn().exec(ctx, `INSERT INTO tasks(id,project_id,phase_id,name,stakeholder_id,priority,estimated_hours,status,workflow_status,start_date,end_date,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		task.ID, task.ProjectID, task.PhaseID, task.Name, nullableStringPtr(task.StakeholderID), task.Priority, task.EstimatedHours, task.Status, task.WorkflowStatus, formatDate(task.StartDate), formatDate(task.EndDate), createdAt)
	return err
}

func (t *Tx) InsertMilestone(ctx context.Context, m domain.Milestone, createdAt string) error {
	_, err := t.conn().exec(ctx, `INSERT INTO milestones(id,project_id,phase_id,name,target_date,status,workflow_status,critical,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.PhaseID, m.Name, formatDate(m.TargetDate), m.Status, m.WorkflowStatus, boolInt(m.Critical), createdAt)
	return err
}

func getPhase(ctx context.Context, c conn, id string) (domain.Phase, error) {
	return scanPhase(c.queryRow(ctx, `SELECT `+phaseCols+` FROM phases WHERE id=?`, id))
}

func getTask(ctx context.Context, c conn, id string) (domain.Task, error) {
	return scanTask(c.queryRow(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

func getMilestone(ctx context.Context, c conn, id string) (domain.Milestone, error) {
	return scanMilestone(c.queryRow(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE id=?`, id))
}

func listPhases(ctx context.Context, c conn, projectID string) ([]domain.Phase, error) {
	rows, err := c.query(ctx, `SELECT `+phaseCols+` FROM phases WHERE project_id=? ORDER BY position, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetPhase(ctx context.Context, id string) (domain.Phase, error) {
	return getPhase(ctx, r.conn(), id)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, r.conn(), id)
}

func (r Repo) GetMilestone(ctx context.Context, id string) (domain.Milestone, error) {
	return getMilestone(ctx, r.conn(), id)
}

// ListPhases returns the project's phases in position order, without tasks or
// milestones.
func (r Repo) ListPhases(ctx context.Context, projectID string) ([]domain.Phase, error) {
	return listPhases(ctx, r.conn(), projectID)
}

func (t *Tx) ListPhases(ctx context.Context, projectID string) ([]domain.Phase, error) {
	return listPhases(ctx, t.conn(), projectID)
}

func (r Repo) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := r.conn().query(ctx, `SELECT `+taskCols+` FROM tasks WHERE project_id=? ORDER BY phase_id, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// LoadPhases returns the project's phases with their tasks and milestones
// nested, in position order.
func (r Repo) LoadPhases(ctx context.Context, projectID string) ([]domain.Phase, error) {
	c := r.conn()
	phases, err := listPhases(ctx, c, projectID)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(phases))
	for i, p := range phases {
		index[p.ID] = i
	}

	taskRows, err := c.query(ctx, `SELECT `+taskCols+` FROM tasks WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer taskRows.Close()
	for taskRows.Next() {
		t, err := scanTask(taskRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[t.PhaseID]; ok {
			phases[i].Tasks = append(phases[i].Tasks, t)
		}
	}
	if err := taskRows.Err(); err != nil {
		return nil, err
	}

	msRows, err := c.query(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE project_id=? ORDER BY target_date, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer msRows.Close()
	for msRows.Next() {
		m, err := scanMilestone(msRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[m.PhaseID]; ok {
			phases[i].Milestones = append(phases[i].Milestones, m)
		}
	}
	return phases, msRows.Err()
}
