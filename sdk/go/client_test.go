package docuspheresdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rmarronnier/docusphere-sub011/internal/config"
	"github.com/rmarronnier/docusphere-sub011/internal/db"
	"github.com/rmarronnier/docusphere-sub011/internal/engine"
	"github.com/rmarronnier/docusphere-sub011/internal/migrate"
	"github.com/rmarronnier/docusphere-sub011/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn, dialect))

	handler, err := server.New(server.Config{Engine: engine.New(conn, dialect, config.Default()), BasePath: "/v0"})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c := New(ts.URL)
	c.ActorID = "sdk-tester"
	return c
}

func TestClientProjectWorkflow(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	p, err := c.CreateProject(ctx, CreateProject{ID: "p1", Name: "Harbour lofts", StartDate: "2024-01-01", EndDate: "2024-12-31"})
	require.NoError(t, err)
	require.Equal(t, "planning", p.Status)
	require.Equal(t, "pending", p.WorkflowStatus)

	projects, err := c.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)

	tr, err := c.Transition(ctx, "project", "p1", "in_progress", "kick-off")
	require.NoError(t, err)
	require.Equal(t, "pending", tr.FromStatus)
	require.Equal(t, "in_progress", tr.ToStatus)
	require.Equal(t, "sdk-tester", tr.Actor)

	ent, err := c.SetStatus(ctx, "project", "p1", "completed", "")
	require.NoError(t, err)
	require.Equal(t, "completed", ent.WorkflowStatus)
	require.Empty(t, ent.Allowed)

	_, err = c.Transition(ctx, "project", "p1", "pending", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "invalid_transition", apiErr.Code)

	history, err := c.History(ctx, "project", "p1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	events, err := c.Events(ctx, "p1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
}

func TestClientAnalytics(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.CreateProject(ctx, CreateProject{ID: "p1", Name: "Empty"})
	require.NoError(t, err)

	report, err := c.Report(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "p1", report.ProjectID)
	require.Zero(t, report.OverallProgress)

	_, err = c.CriticalPath(ctx, "p1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Equal(t, "empty_graph", apiErr.Code)

	_, err = c.GetProject(ctx, "missing")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClientWriteRequiresIdentity(t *testing.T) {
	c := newClient(t)
	c.ActorID = ""
	_, err := c.CreateProject(context.Background(), CreateProject{Name: "Anonymous"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
