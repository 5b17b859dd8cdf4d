package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rmarronnier/docusphere-sub011/internal/db"
	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/workflow"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func New(conn *sql.DB, dialect db.Dialect) Repo {
	return Repo{DB: conn, Dialect: dialect}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn pairs a *sql.DB or *sql.Tx with the dialect its queries are written
// for. Queries use ? placeholders throughout.
type conn struct {
	q querier
	d db.Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.Rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.Rebind(query), args...)
}

func (r Repo) conn() conn { return conn{q: r.DB, d: r.Dialect} }

// Tx is one store transaction. It implements workflow.Tx.
type Tx struct {
	tx      *sql.Tx
	dialect db.Dialect
}

var _ workflow.Tx = (*Tx)(nil)

func (t *Tx) conn() conn { return conn{q: t.tx, d: t.dialect} }

// ExecContext runs a ?-placeholder statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn().exec(ctx, query, args...)
}

// InTx runs fn in a transaction and commits when fn returns nil. Errors from
// fn come back unchanged.
func (r Repo) InTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	sqlTx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()
	if err := fn(ctx, &Tx{tx: sqlTx, dialect: r.Dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WithinTx satisfies workflow.Store.
func (r Repo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx workflow.Tx) error) error {
	return r.InTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

var kindTables = map[string]string{
	domain.KindProject:   "projects",
	domain.KindPhase:     "phases",
	domain.KindTask:      "tasks",
	domain.KindMilestone: "milestones",
	domain.KindPermit:    "permits",
}

func tableFor(kind string) (string, error) {
	table, ok := kindTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown entity kind %q", domain.ErrInvariantViolation, kind)
	}
	return table, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.DateOnly)
}

func parseDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", v.String, err)
	}
	return &t, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
