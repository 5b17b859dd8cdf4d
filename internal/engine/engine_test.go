package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/rmarronnier/docusphere-sub011/internal/cache"
	"github.com/rmarronnier/docusphere-sub011/internal/config"
	"github.com/rmarronnier/docusphere-sub011/internal/db"
	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/engine"
	"github.com/rmarronnier/docusphere-sub011/internal/events"
	"github.com/rmarronnier/docusphere-sub011/internal/migrate"
	"github.com/rmarronnier/docusphere-sub011/internal/observability"
	"github.com/rmarronnier/docusphere-sub011/internal/repo"
	"github.com/rmarronnier/docusphere-sub011/internal/schedule"
	"github.com/rmarronnier/docusphere-sub011/internal/workflow"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, dialect, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{ID: "proj-1", Name: "Riverside", ActorID: "tester"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) phase(t *testing.T, id, phaseType string) domain.Phase {
	t.Helper()
	p, err := env.Engine.CreatePhase(env.Ctx, engine.PhaseCreateOptions{ID: id, ProjectID: "proj-1", Name: id, PhaseType: phaseType, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create phase %s: %v", id, err)
	}
	return p
}

func (env testEnv) task(t *testing.T, id, phaseID string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: id, PhaseID: phaseID, Name: id, EstimatedHours: 8, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create task %s: %v", id, err)
	}
	return task
}

func ref(kind, id string) domain.Ref { return domain.Ref{Kind: kind, ID: id} }

func TestCreateProjectDefaults(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Status != "planning" || p.WorkflowStatus != domain.WorkflowPending {
		t.Fatalf("project status = %s/%s, want planning/pending", p.Status, p.WorkflowStatus)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "x", Status: "bogus"}); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation for unknown status, got %v", err)
	}
}

func TestCreatePhaseAppendsPosition(t *testing.T) {
	env := newTestEnv(t)
	first := env.phase(t, "studies", domain.PhaseStudies)
	second := env.phase(t, "build", domain.PhaseConstruction)
	if first.Position != 1 || second.Position != 2 {
		t.Fatalf("positions = %d,%d, want 1,2", first.Position, second.Position)
	}
	_, err := env.Engine.CreatePhase(env.Ctx, engine.PhaseCreateOptions{ProjectID: "proj-1", Name: "dup", Position: 2})
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected duplicate position to be rejected, got %v", err)
	}
	other, err := env.Engine.CreatePhase(env.Ctx, engine.PhaseCreateOptions{ProjectID: "proj-1", Name: "misc"})
	if err != nil {
		t.Fatalf("create phase: %v", err)
	}
	if other.PhaseType != domain.PhaseOther || other.Position != 3 {
		t.Fatalf("phase = %+v, want type other at position 3", other)
	}
	if _, err := env.Engine.CreatePhase(env.Ctx, engine.PhaseCreateOptions{ProjectID: "missing", Name: "x"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown project, got %v", err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	env.phase(t, "ph-1", domain.PhaseStudies)
	if _, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{ID: "proj-2", Name: "Other"}); err != nil {
		t.Fatal(err)
	}
	foreign, err := env.Engine.CreateStakeholder(env.Ctx, engine.StakeholderCreateOptions{ProjectID: "proj-2", Name: "Acme"})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		opts engine.TaskCreateOptions
	}{
		{"negative hours", engine.TaskCreateOptions{PhaseID: "ph-1", Name: "t", EstimatedHours: -1}},
		{"unknown priority", engine.TaskCreateOptions{PhaseID: "ph-1", Name: "t", Priority: "asap"}},
		{"foreign stakeholder", engine.TaskCreateOptions{PhaseID: "ph-1", Name: "t", StakeholderID: foreign.ID}},
	}
	for _, tc := range cases {
		if _, err := env.Engine.CreateTask(env.Ctx, tc.opts); !errors.Is(err, domain.ErrInvariantViolation) {
			t.Errorf("%s: expected invariant violation, got %v", tc.name, err)
		}
	}

	task := env.task(t, "t-1", "ph-1")
	if task.ProjectID != "proj-1" || task.Priority != domain.PriorityNormal {
		t.Fatalf("task = %+v", task)
	}
}

func TestTransitionFollowsTable(t *testing.T) {
	env := newTestEnv(t)
	env.phase(t, "ph-1", domain.PhaseStudies)
	env.task(t, "t-1", "ph-1")

	_, err := env.Engine.Transition(env.Ctx, ref(domain.KindTask, "t-1"), domain.WorkflowCompleted, "tester", "")
	var invalid *workflow.InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.From != domain.WorkflowPending {
		t.Fatalf("expected invalid pending -> completed, got %v", err)
	}

	tr, err := env.Engine.Transition(env.Ctx, ref(domain.KindTask, "t-1"), domain.WorkflowInProgress, "tester", "starting")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if tr.FromStatus != domain.WorkflowPending || tr.Entity.ProjectID != "proj-1" {
		t.Fatalf("transition = %+v", tr)
	}
	history, err := env.Engine.History(env.Ctx, ref(domain.KindTask, "t-1"), 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Notes != "starting" || history[0].ActorID != "tester" {
		t.Fatalf("history = %+v", history)
	}
	task, err := env.Engine.Repo.GetTask(env.Ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if task.WorkflowStatus != domain.WorkflowInProgress || task.Status != "pending" {
		t.Fatalf("task = %s/%s, want domain status untouched", task.Status, task.WorkflowStatus)
	}

	if _, err := env.Engine.Transition(env.Ctx, ref(domain.KindTask, "nope"), domain.WorkflowInProgress, "tester", ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPhaseTransitionsCascadeToProject(t *testing.T) {
	env := newTestEnv(t)
	env.phase(t, "ph-1", domain.PhaseStudies)
	env.phase(t, "ph-2", domain.PhaseConstruction)

	if _, err := env.Engine.Transition(env.Ctx, ref(domain.KindPhase, "ph-1"), domain.WorkflowInProgress, "tester", ""); err != nil {
		t.Fatal(err)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.WorkflowStatus != domain.WorkflowInProgress {
		t.Fatalf("project workflow = %s, want in_progress", p.WorkflowStatus)
	}

	for _, id := range []string{"ph-1", "ph-2"} {
		if id == "ph-2" {
			if _, err := env.Engine.Transition(env.Ctx, ref(domain.KindPhase, id), domain.WorkflowInProgress, "tester", ""); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := env.Engine.Transition(env.Ctx, ref(domain.KindPhase, id), domain.WorkflowCompleted, "tester", ""); err != nil {
			t.Fatal(err)
		}
		p, _ = env.Engine.Repo.GetProject(env.Ctx, "proj-1")
		want := domain.WorkflowInProgress
		if id == "ph-2" {
			want = domain.WorkflowCompleted
		}
		if p.WorkflowStatus != want {
			t.Fatalf("after completing %s project = %s, want %s", id, p.WorkflowStatus, want)
		}
	}

	history, err := env.Engine.History(env.Ctx, ref(domain.KindProject, "proj-1"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("project history = %+v", history)
	}
	completed := 0
	for _, h := range history {
		if h.ToStatus == domain.WorkflowCompleted && h.Notes == "all phases completed" {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("project history = %+v, want one cascaded completion", history)
	}
}

func TestCancelledProjectLogsEvent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Transition(env.Ctx, ref(domain.KindProject, "proj-1"), domain.WorkflowCancelled, "tester", "funding withdrawn"); err != nil {
		t.Fatal(err)
	}
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProjectID: "proj-1"})
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]int{}
	for _, e := range evs {
		types[e.Type]++
	}
	if types[events.ProjectCancelled] != 1 || types[events.WorkflowTransition] != 1 || types[events.ProjectCreated] != 1 {
		t.Fatalf("event types = %v", types)
	}
}

func TestSetDomainStatus(t *testing.T) {
	env := newTestEnv(t)
	env.phase(t, "ph-1", domain.PhaseStudies)
	env.task(t, "t-1", "ph-1")
	r := ref(domain.KindTask, "t-1")

	if _, err := env.Engine.SetDomainStatus(env.Ctx, r, "done", "tester", ""); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("expected pending -> done to be rejected, got %v", err)
	}
	task, _ := env.Engine.Repo.GetTask(env.Ctx, "t-1")
	if task.Status != "pending" {
		t.Fatalf("rejected change leaked domain status %q", task.Status)
	}

	got, err := env.Engine.SetDomainStatus(env.Ctx, r, "blocked", "tester", "waiting on survey")
	if err != nil {
		t.Fatalf("set blocked: %v", err)
	}
	if got.DomainStatus() != "blocked" || got.CurrentWorkflowStatus() != domain.WorkflowInProgress {
		t.Fatalf("entity = %s/%s", got.DomainStatus(), got.CurrentWorkflowStatus())
	}
	// Same projection: no new transition.
	if _, err := env.Engine.SetDomainStatus(env.Ctx, r, "in_progress", "tester", ""); err != nil {
		t.Fatal(err)
	}
	history, _ := env.Engine.History(env.Ctx, r, 0)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if _, err := env.Engine.SetDomainStatus(env.Ctx, r, "approved", "tester", ""); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected permit status to be rejected for a task, got %v", err)
	}
}

func TestSetDomainStatusRecordsOnlyRealTransitions(t *testing.T) {
	env := newTestEnv(t)
	m := observability.InitMetrics(prometheus.NewRegistry())
	env.Engine.Metrics = m
	env.phase(t, "ph-1", domain.PhaseStudies)
	env.task(t, "t-1", "ph-1")
	r := ref(domain.KindTask, "t-1")
	count := func(to domain.WorkflowStatus, result string) float64 {
		return testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(domain.KindTask, string(to), result))
	}

	if _, err := env.Engine.SetDomainStatus(env.Ctx, r, "done", "tester", ""); err == nil {
		t.Fatal("expected pending -> done to be rejected")
	}
	if got := count(domain.WorkflowCompleted, observability.ResultInvalid); got != 1 {
		t.Fatalf("invalid transitions = %v, want 1", got)
	}
	if got := count(domain.WorkflowCompleted, observability.ResultOK); got != 0 {
		t.Fatalf("rejected change counted as ok: %v", got)
	}

	if _, err := env.Engine.SetDomainStatus(env.Ctx, r, "blocked", "tester", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetDomainStatus(env.Ctx, r, "in_progress", "tester", ""); err != nil {
		t.Fatal(err)
	}
	if got := count(domain.WorkflowInProgress, observability.ResultOK); got != 1 {
		t.Fatalf("ok transitions = %v, want 1 for a single projection change", got)
	}
}

func TestHookFailureCountsAsSideEffect(t *testing.T) {
	env := newTestEnv(t)
	m := observability.InitMetrics(prometheus.NewRegistry())
	env.Engine.Metrics = m
	env.phase(t, "ph-1", domain.PhaseStudies)
	env.task(t, "t-1", "ph-1")
	env.Engine.Machine.Hooks.On(domain.KindTask, domain.WorkflowCancelled, func(context.Context, workflow.Tx, domain.WorkflowTransition) error {
		return &workflow.InvalidTransitionError{Ref: ref(domain.KindPhase, "ph-1"), From: domain.WorkflowPending, To: domain.WorkflowCompleted}
	})

	_, err := env.Engine.Transition(env.Ctx, ref(domain.KindTask, "t-1"), domain.WorkflowCancelled, "tester", "")
	if !errors.Is(err, workflow.ErrSideEffectFailed) {
		t.Fatalf("expected side effect failure, got %v", err)
	}
	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(domain.KindTask, string(domain.WorkflowCancelled), observability.ResultSideEffect)); got != 1 {
		t.Fatalf("side effect failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(domain.KindTask, string(domain.WorkflowCancelled), observability.ResultInvalid)); got != 0 {
		t.Fatalf("hook failure counted as invalid transition: %v", got)
	}
}

func TestReportCacheInvalidatedOnWrite(t *testing.T) {
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	env.Engine.Cache = cache.NewReportCache(client, "test:", time.Minute)

	env.phase(t, "ph-1", domain.PhaseStudies)
	env.task(t, "t-1", "ph-1")

	report, err := env.Engine.Report(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.OverallProgress != 0 || len(report.PhasesProgress) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if !mr.Exists("test:proj-1") {
		t.Fatal("report was not cached")
	}
	if _, err := env.Engine.Transition(env.Ctx, ref(domain.KindTask, "t-1"), domain.WorkflowInProgress, "tester", ""); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("test:proj-1") {
		t.Fatal("transition did not invalidate the cached report")
	}
	if _, err := env.Engine.Transition(env.Ctx, ref(domain.KindTask, "t-1"), domain.WorkflowCompleted, "tester", ""); err != nil {
		t.Fatal(err)
	}
	report, err = env.Engine.Report(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.PhasesProgress["ph-1"] != 100 {
		t.Fatalf("phase progress = %v, want 100", report.PhasesProgress["ph-1"])
	}
}

func TestReportUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Report(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCriticalPathAndAlerts(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CriticalPath(env.Ctx, "proj-1"); !errors.Is(err, schedule.ErrEmptyGraph) {
		t.Fatalf("expected empty graph, got %v", err)
	}
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	if _, err := env.Engine.CreatePhase(env.Ctx, engine.PhaseCreateOptions{
		ID: "ph-1", ProjectID: "proj-1", Name: "Studies", PhaseType: domain.PhaseStudies, StartDate: &start, EndDate: &end,
	}); err != nil {
		t.Fatal(err)
	}
	path, err := env.Engine.CriticalPath(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("critical path: %v", err)
	}
	if path.TotalDays != 30 || len(path.Steps) != 1 {
		t.Fatalf("path = %+v", path)
	}
	alerts, err := env.Engine.Alerts(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Type != schedule.AlertDanger || alerts[0].Days != 15 {
		t.Fatalf("alerts = %+v", alerts)
	}
}
