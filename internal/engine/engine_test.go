package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sheratan/internal/db"
	"sheratan/internal/domain"
	"sheratan/internal/engine"
	"sheratan/internal/migrate"
	"sheratan/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	n := 0
	eng.NewID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestMigrateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	applied, err := migrate.Migrate(env.Ctx, env.Engine.DB)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing applied twice, got %v", applied)
	}
}

func TestMissionTaskJobLifecycle(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Engine.CreateMission(env.Ctx, engine.MissionCreateOptions{Title: "  Index repo  "})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	if m.Title != "Index repo" || m.Status != engine.MissionPlanned {
		t.Fatalf("unexpected mission %+v", m)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{MissionID: m.ID, Name: "scan", Kind: "analysis"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	job, err := env.Engine.CreateJob(env.Ctx, task.ID, map[string]any{"task": map[string]any{"kind": "list_files"}})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != engine.JobPending {
		t.Fatalf("new job status %s", job.Status)
	}

	job, err = env.Engine.DispatchJob(env.Ctx, job.ID)
	if err != nil || job.Status != engine.JobWorking {
		t.Fatalf("dispatch: %+v %v", job, err)
	}
	if _, err := env.Engine.DispatchJob(env.Ctx, job.ID); !errors.As(err, new(*domain.ValidationError)) {
		t.Fatalf("expected validation error on second dispatch, got %v", err)
	}

	job, err = env.Engine.CompleteJob(env.Ctx, job.ID, nil, "disk full")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	synced, err := env.Engine.SyncJob(env.Ctx, job.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	res, _ := synced.Result.(map[string]any)
	if synced.Status != engine.JobFailed || res["error"] != "disk full" {
		t.Fatalf("unexpected synced job %+v", synced)
	}

	if err := env.Engine.DeleteMission(env.Ctx, m.ID); err != nil {
		t.Fatalf("delete mission: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task should cascade, got %v", err)
	}
	if _, err := env.Engine.SyncJob(env.Ctx, job.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("job should cascade, got %v", err)
	}
	if err := env.Engine.DeleteMission(env.Ctx, m.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestCreateRequiresParents(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateMission(env.Ctx, engine.MissionCreateOptions{Title: " "}); !errors.As(err, new(*domain.ValidationError)) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{MissionID: "nope", Name: "x"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected missing mission, got %v", err)
	}
	if _, err := env.Engine.CreateJob(env.Ctx, "nope", nil); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected missing task, got %v", err)
	}
}

func TestTaskJobPayload(t *testing.T) {
	wrapped := engine.TaskJobPayload(map[string]any{"payload": map[string]any{"response_format": "lcp"}})
	if wrapped["response_format"] != "lcp" {
		t.Fatalf("wrapped payload not unwrapped: %v", wrapped)
	}
	top := engine.TaskJobPayload(map[string]any{"job_type": domain.SelfLoopJobType, "goal": "g"})
	if !domain.IsSelfLoopPayload(top) {
		t.Fatalf("top-level payload lost: %v", top)
	}
}

func TestQuickStartComposesMissionTaskJob(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.QuickStart(env.Ctx)
	if err != nil {
		t.Fatalf("quick start: %v", err)
	}
	if res.Mission.ID == "" || res.Task.ID == "" || res.Job == nil {
		t.Fatalf("incomplete result %+v", res)
	}
	job, err := env.Engine.SyncJob(env.Ctx, res.Job.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if job.Status != engine.JobWorking || job.TaskID != res.Task.ID {
		t.Fatalf("unexpected job %+v", job)
	}
	st, err := env.Engine.Status(env.Ctx)
	if err != nil || st.Missions != 1 || st.Status != "ok" {
		t.Fatalf("status %+v %v", st, err)
	}
	m, err := env.Engine.Metrics(env.Ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.QueueLength != 0 || m.CPU != 100 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestSeedTwice(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 2; i++ {
		if err := env.Engine.Seed(env.Ctx); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	workers, err := env.Engine.Repo.ListWorkers(env.Ctx)
	if err != nil || len(workers) != 3 {
		t.Fatalf("workers %d %v", len(workers), err)
	}
	projects, err := env.Engine.Repo.ListProjects(env.Ctx)
	if err != nil || len(projects) != 2 {
		t.Fatalf("projects %+v %v", projects, err)
	}
	if projects[1].ID != "sheratan-core" || projects[1].FileCount != 5 {
		t.Fatalf("unexpected project %+v", projects[1])
	}
	tree, err := env.Engine.Repo.ProjectFiles(env.Ctx, "sheratan-core")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(tree) != 3 || tree[0].Name != "core" || tree[0].Type != "directory" || tree[2].Name != "README.md" {
		t.Fatalf("unexpected tree %+v", tree)
	}
	if len(tree[0].Children) != 3 || tree[0].Children[0].Path != "core/mesh" {
		t.Fatalf("unexpected core children %+v", tree[0].Children)
	}
	ledger, err := env.Engine.Repo.Ledger(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.Balance != 120.5 || len(ledger.Transfers) != 2 || ledger.Transfers[0].ID != "tx-2" {
		t.Fatalf("unexpected ledger %+v", ledger)
	}
	if _, err := env.Engine.Repo.Ledger(env.Ctx, "mallory"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown user not found, got %v", err)
	}
	svcs := env.Engine.Services(env.Ctx, 8001)
	if len(svcs) != 3 || svcs[2].Name != "mesh" || svcs[2].Status != "up" {
		t.Fatalf("unexpected services %+v", svcs)
	}
}
