package repo

import (
	"context"
	"database/sql"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

const projectCols = `id,name,COALESCE(description,''),status,workflow_status,start_date,end_date,created_at`

func scanProject(s scanner) (domain.Project, error) {
	var (
		p          domain.Project
		start, end sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.WorkflowStatus, &start, &end, &p.CreatedAt); err != nil {
		return domain.Project{}, notFound(err)
	}
	var err error
	if p.StartDate, err = parseDate(start); err != nil {
		return domain.Project{}, err
	}
	if p.EndDate, err = parseDate(end); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func insertProject(ctx context.Context, c conn, p domain.Project) error {
	_, err := c.exec(ctx, `INSERT INTO projects(id,name,description,status,workflow_status,start_date,end_date,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.Status, p.WorkflowStatus, formatDate(p.StartDate), formatDate(p.EndDate), p.CreatedAt)
	return err
}

func getProject(ctx context.Context, c conn, id string) (domain.Project, error) {
	return scanProject(c.queryRow(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProject(ctx, r.conn(), id)
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.conn().query(ctx, `SELECT `+projectCols+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (t *Tx) InsertProject(ctx context.Context, p domain.Project) error {
	return insertProject(ctx, t.conn(), p)
}

func (t *Tx) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProject(ctx, t.conn(), id)
}
