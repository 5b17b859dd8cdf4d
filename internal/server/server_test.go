package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmarronnier/docusphere-sub011/internal/config"
	"github.com/rmarronnier/docusphere-sub011/internal/db"
	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/engine"
	"github.com/rmarronnier/docusphere-sub011/internal/migrate"
	"github.com/rmarronnier/docusphere-sub011/internal/observability"
	"github.com/rmarronnier/docusphere-sub011/internal/workflow"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, dialect, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	seedProject(t, e)

	cfg.Engine = e
	cfg.BasePath = "/v0"
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func seedProject(t *testing.T, e *engine.Engine) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	if _, err := e.CreateProject(ctx, engine.ProjectCreateOptions{ID: "proj-1", Name: "Riverside", ActorID: "seed"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := e.CreatePhase(ctx, engine.PhaseCreateOptions{ID: "ph-1", ProjectID: "proj-1", Name: "Studies", PhaseType: domain.PhaseStudies, StartDate: &start, EndDate: &end}); err != nil {
		t.Fatalf("create phase: %v", err)
	}
	if _, err := e.CreateTask(ctx, engine.TaskCreateOptions{ID: "t-1", PhaseID: "ph-1", Name: "Survey", EstimatedHours: 8}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := e.CreateProject(ctx, engine.ProjectCreateOptions{ID: "empty", Name: "Empty"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

var actor = map[string]string{"X-Actor-Id": "alice"}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Config{})
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health: %d %s", res.StatusCode, data)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	srv := newTestServer(t, Config{})
	client := srv.Client()
	url := srv.URL + "/v0/entities/task/t-1/transitions"

	res, data := doJSON(t, client, http.MethodPost, url, map[string]any{"to": "in_progress"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without actor, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, url, map[string]any{"to": "in_progress", "notes": "go"}, actor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("transition: %d %s", res.StatusCode, data)
	}
	var tr TransitionResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if tr.FromStatus != domain.WorkflowPending || tr.ToStatus != domain.WorkflowInProgress || tr.Actor != "alice" {
		t.Fatalf("transition = %+v", tr)
	}

	res, data = doJSON(t, client, http.MethodPost, url, map[string]any{"to": "pending"}, actor)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("expected 409 invalid_transition, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, url, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, data)
	}
	var history transitionList
	_ = json.Unmarshal(data, &history)
	if len(history.Items) != 1 || history.Items[0].Notes != "go" {
		t.Fatalf("history = %+v", history)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/entities/task/t-1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get entity: %d %s", res.StatusCode, data)
	}
	var ent EntityResponse
	_ = json.Unmarshal(data, &ent)
	if ent.WorkflowStatus != domain.WorkflowInProgress || len(ent.Allowed) != 2 {
		t.Fatalf("entity = %+v", ent)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/entities/task/missing/transitions", map[string]any{"to": "in_progress"}, actor)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, data)
	}
}

func TestSideEffectFailureReturns422(t *testing.T) {
	srv := newTestServer(t, Config{})
	srv.Engine.Machine.Hooks.On(domain.KindTask, domain.WorkflowCancelled, func(context.Context, workflow.Tx, domain.WorkflowTransition) error {
		return errors.New("notification outbox unavailable")
	})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/entities/task/t-1/transitions", map[string]any{"to": "cancelled"}, actor)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "transition_side_effect_failed" {
		t.Fatalf("expected 422 transition_side_effect_failed, got %d %s", res.StatusCode, data)
	}
	task, err := srv.Engine.Repo.GetTask(context.Background(), "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if task.WorkflowStatus != domain.WorkflowPending {
		t.Fatalf("failed hook left task in %s", task.WorkflowStatus)
	}
}

func TestHookInvalidTransitionStillReportsSideEffect(t *testing.T) {
	srv := newTestServer(t, Config{})
	srv.Engine.Machine.Hooks.On(domain.KindTask, domain.WorkflowCancelled, func(context.Context, workflow.Tx, domain.WorkflowTransition) error {
		return &workflow.InvalidTransitionError{Ref: domain.Ref{Kind: domain.KindPhase, ID: "ph-1"}, From: domain.WorkflowPending, To: domain.WorkflowCompleted}
	})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/entities/task/t-1/transitions", map[string]any{"to": "cancelled"}, actor)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "transition_side_effect_failed" {
		t.Fatalf("expected 422 transition_side_effect_failed, got %d %s", res.StatusCode, data)
	}
}

func TestSetStatus(t *testing.T) {
	srv := newTestServer(t, Config{})
	client := srv.Client()
	url := srv.URL + "/v0/entities/task/t-1/status"

	res, data := doJSON(t, client, http.MethodPut, url, map[string]any{"status": "done"}, actor)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("pending -> done should conflict, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPut, url, map[string]any{"status": "blocked"}, actor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set blocked: %d %s", res.StatusCode, data)
	}
	var ent EntityResponse
	_ = json.Unmarshal(data, &ent)
	if ent.Status != "blocked" || ent.WorkflowStatus != domain.WorkflowInProgress {
		t.Fatalf("entity = %+v", ent)
	}
	res, data = doJSON(t, client, http.MethodPut, url, map[string]any{"status": "approved"}, actor)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "invariant_violation" {
		t.Fatalf("expected 400 invariant_violation, got %d %s", res.StatusCode, data)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/report", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report: %d %s", res.StatusCode, data)
	}
	var report struct {
		ProjectID    string             `json:"project_id"`
		Phases       map[string]float64 `json:"phases_progress"`
		CriticalPath struct {
			TotalDays int `json:"total_days"`
		} `json:"critical_path"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.ProjectID != "proj-1" || report.CriticalPath.TotalDays != 30 {
		t.Fatalf("report = %+v", report)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/alerts", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("alerts: %d %s", res.StatusCode, data)
	}
	var alerts struct {
		Items []struct {
			Type     string `json:"type"`
			Category string `json:"category"`
		} `json:"items"`
	}
	_ = json.Unmarshal(data, &alerts)
	if len(alerts.Items) != 1 || alerts.Items[0].Category != "phase_delay" || alerts.Items[0].Type != "danger" {
		t.Fatalf("alerts = %+v", alerts)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/empty/critical-path", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "empty_graph" {
		t.Fatalf("expected 422 empty_graph, got %d %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/missing/report", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d", res.StatusCode)
	}
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t, Config{})
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/events?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, data)
	}
	var page paginatedEvents
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("page = %+v", page)
	}
	if page.Items[0].Type != "task.created" {
		t.Fatalf("newest event = %s, want task.created", page.Items[0].Type)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/events?limit=2&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2: %d %s", res.StatusCode, data)
	}
	var next paginatedEvents
	_ = json.Unmarshal(data, &next)
	if len(next.Items) != 1 || next.Items[0].Type != "project.created" || next.NextCursor != "" {
		t.Fatalf("page 2 = %+v", next)
	}
}

func TestJWTIdentity(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, Config{Auth: AuthConfig{JWTSecret: secret}})
	client := srv.Client()
	url := srv.URL + "/v0/entities/task/t-1/transitions"

	res, data := doJSON(t, client, http.MethodPost, url, map[string]any{"to": "in_progress"}, actor)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("X-Actor-Id must be ignored when JWT is enabled, got %d %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodPost, url, map[string]any{"to": "in_progress"}, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", res.StatusCode)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "site-manager"}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, url, map[string]any{"to": "in_progress"}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("transition with token: %d %s", res.StatusCode, data)
	}
	var tr TransitionResponse
	_ = json.Unmarshal(data, &tr)
	if tr.Actor != "site-manager" {
		t.Fatalf("actor = %q, want token subject", tr.Actor)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := observability.InitMetrics(prometheus.NewRegistry())
	srv := newTestServer(t, Config{Metrics: m})
	client := srv.Client()
	doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/report", nil, nil)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/entities/task/t-1/transitions", map[string]any{"to": "completed"}, actor)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", res.StatusCode)
	}
	body := string(data)
	for _, want := range []string{"docusphere_http_requests_total", `path_pattern="/v0/projects/{project_id}/report"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
