package repo

import (
	"context"
	"database/sql"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

const (
	stakeholderCols = `id,project_id,name,COALESCE(role,'')`
	permitCols      = `id,project_id,permit_type,status,workflow_status,expiry_date`
)

func scanStakeholder(s scanner) (domain.Stakeholder, error) {
	var st domain.Stakeholder
	if err := s.Scan(&st.ID, &st.ProjectID, &st.Name, &st.Role); err != nil {
		return domain.Stakeholder{}, notFound(err)
	}
	return st, nil
}

func scanPermit(s scanner) (domain.Permit, error) {
	var (
		p      domain.Permit
		expiry sql.NullString
	)
	if err := s.Scan(&p.ID, &p.ProjectID, &p.PermitType, &p.Status, &p.WorkflowStatus, &expiry); err != nil {
		return domain.Permit{}, notFound(err)
	}
	var err error
	if p.ExpiryDate, err = parseDate(expiry); err != nil {
		return domain.Permit{}, err
	}
	return p, nil
}

func (t *Tx) InsertStakeholder(ctx context.Context, s domain.Stakeholder, createdAt string) error {
	_, err := t.conn().exec(ctx, `INSERT INTO stakeholders(id,project_id,name,role,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, nullable(s.Role), createdAt)
	return err
}

func (t *Tx) InsertPermit(ctx context.Context, p domain.Permit, createdAt string) error {
	_, err := t.conn().exec(ctx, `INSERT INTO permits(id,project_id,permit_type,status,workflow_status,expiry_date,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.PermitType, p.Status, p.WorkflowStatus, formatDate(p.ExpiryDate), createdAt)
	return err
}

func getStakeholder(ctx context.Context, c conn, id string) (domain.Stakeholder, error) {
	return scanStakeholder(c.queryRow(ctx, `SELECT `+stakeholderCols+` FROM stakeholders WHERE id=?`, id))
}

func getPermit(ctx context.Context, c conn, id string) (domain.Permit, error) {
	return scanPermit(c.queryRow(ctx, `SELECT `+permitCols+` FROM permits WHERE id=?`, id))
}

func (r Repo) GetStakeholder(ctx context.Context, id string) (domain.Stakeholder, error) {
	return getStakeholder(ctx, r.conn(), id)
}

func (t *Tx) GetStakeholder(ctx context.Context, id string) (domain.Stakeholder, error) {
	return getStakeholder(ctx, t.conn(), id)
}

func (r Repo) GetPermit(ctx context.Context, id string) (domain.Permit, error) {
	return getPermit(ctx, r.conn(), id)
}

func (r Repo) LoadStakeholders(ctx context.Context, projectID string) ([]domain.Stakeholder, error) {
	rows, err := r.conn().query(ctx, `SELECT `+stakeholderCols+` FROM stakeholders WHERE project_id=? ORDER BY name, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stakeholder
	for rows.Next() {
		s, err := scanStakeholder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) LoadPermits(ctx context.Context, projectID string) ([]domain.Permit, error) {
	rows, err := r.conn().query(ctx, `SELECT `+permitCols+` FROM permits WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Permit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
