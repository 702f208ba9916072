package app_test

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"sheratan/internal/actionlog"
	"sheratan/internal/api"
	"sheratan/internal/app"
	"sheratan/internal/config"
	"sheratan/internal/engine"
	"sheratan/internal/ops"
	"sheratan/internal/server"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDashboard(t *testing.T) (*app.Dashboard, *server.Stub, *clock) {
	t.Helper()
	stub, err := server.Start(context.Background(), server.StubOptions{Workspace: t.TempDir(), Seed: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("start stub: %v", err)
	}
	t.Cleanup(func() { stub.Close(context.Background()) })
	clk := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	client := api.NewWithBase(stub.URL)
	client.Now = clk.Now
	d, err := app.NewWithClient(config.Default(), client, quietLogger())
	if err != nil {
		t.Fatalf("new dashboard: %v", err)
	}
	return d, stub, clk
}

func TestCreateMissionThenRefetch(t *testing.T) {
	d, _, _ := newDashboard(t)
	ctx := context.Background()

	before, err := d.Missions(ctx)
	if err != nil || len(before) != 0 {
		t.Fatalf("expected no missions, got %v %v", before, err)
	}
	m, err := d.Ops.CreateMission(ctx, ops.MissionCreateOptions{Title: "Index repo"})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	after, err := d.Missions(ctx)
	if err != nil {
		t.Fatalf("missions: %v", err)
	}
	if len(after) != 1 || after[0].ID != m.ID || after[0].Name != "Index repo" {
		t.Fatalf("created mission not visible after invalidation: %+v", after)
	}
	entries := d.Actions.Entries()
	if len(entries) == 0 || entries[0].Level != actionlog.LevelSuccess {
		t.Fatalf("expected success entry, got %+v", entries)
	}

	if err := d.Ops.DeleteMission(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	after, _ = d.Missions(ctx)
	if len(after) != 0 {
		t.Fatalf("deleted mission still listed: %+v", after)
	}
}

func TestSelfLoopStateAcrossIterations(t *testing.T) {
	d, stub, _ := newDashboard(t)
	ctx := context.Background()

	m, err := d.Ops.CreateMission(ctx, ops.MissionCreateOptions{Title: "Refactor"})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	if _, ok, err := d.LoopState(ctx, m.ID); err != nil || ok {
		t.Fatalf("expected no loop state yet, got ok=%v err=%v", ok, err)
	}
	run, err := d.Ops.StartSelfLoop(ctx, ops.StartSelfLoopOptions{MissionID: m.ID, Goal: "Refactor the storage layer"})
	if err != nil {
		t.Fatalf("start self-loop: %v", err)
	}
	if _, err := stub.Engine.CompleteJob(ctx, run.Job.ID, map[string]any{"ok": true}, ""); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	// The worker finished outside the dashboard, so nothing invalidated the key.
	d.Cache.Invalidate(app.KeyLoopState)
	state, ok, err := d.LoopState(ctx, m.ID)
	if err != nil || !ok || state.Iteration != 1 {
		t.Fatalf("expected iteration 1, got %+v ok=%v err=%v", state, ok, err)
	}

	next, err := d.Ops.ContinueLoop(ctx, ops.ContinueLoopOptions{
		TaskID:         run.Task.ID,
		Goal:           "Refactor the storage layer",
		Previous:       state,
		HistorySummary: "split repo from engine",
	})
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if _, err := stub.Engine.CompleteJob(ctx, next.ID, nil, ""); err != nil {
		t.Fatalf("complete second job: %v", err)
	}
	d.Cache.Invalidate(app.KeyLoopState)
	state, ok, err = d.LoopState(ctx, m.ID)
	if err != nil || !ok || state.Iteration != 2 || state.HistorySummary != "split repo from engine" {
		t.Fatalf("expected iteration 2, got %+v ok=%v err=%v", state, ok, err)
	}
	jobs, err := d.SelfLoopJobs(ctx, m.ID)
	if err != nil || len(jobs) != 2 {
		t.Fatalf("expected two self-loop jobs, got %d %v", len(jobs), err)
	}
	tree, err := d.TaskTree(ctx, m.ID)
	if err != nil || len(tree) != 1 || len(tree[0].Jobs) != 2 {
		t.Fatalf("unexpected task tree %+v %v", tree, err)
	}
}

func TestFocusSkipsJobs(t *testing.T) {
	d, _, clk := newDashboard(t)
	ctx := context.Background()

	if _, err := d.Missions(ctx); err != nil {
		t.Fatalf("missions: %v", err)
	}
	if _, err := d.Jobs(ctx); err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if got := d.Focus(ctx); len(got) != 0 {
		t.Fatalf("fresh keys refetched on focus: %v", got)
	}
	clk.Advance(20 * time.Second)
	got := d.Focus(ctx)
	if !slices.Contains(got, app.KeyMissions) {
		t.Fatalf("stale missions not refetched: %v", got)
	}
	if slices.Contains(got, app.KeyJobs) {
		t.Fatalf("jobs must not refetch on focus: %v", got)
	}
	if slices.Contains(got, app.KeyProjects) {
		t.Fatalf("never-read key refetched: %v", got)
	}
}

func TestJobsNeverRefetchOnFocus(t *testing.T) {
	_, stub, clk := newDashboard(t)
	cfg := config.Default()
	jobs := cfg.Resources[config.ResourceJobs]
	jobs.RefetchOnFocus = true
	cfg.Resources[config.ResourceJobs] = jobs

	client := api.NewWithBase(stub.URL)
	client.Now = clk.Now
	d, err := app.NewWithClient(cfg, client, quietLogger())
	if err != nil {
		t.Fatalf("new dashboard: %v", err)
	}
	ctx := context.Background()
	if _, err := d.Jobs(ctx); err != nil {
		t.Fatalf("jobs: %v", err)
	}
	clk.Advance(time.Minute)
	if got := d.Focus(ctx); slices.Contains(got, app.KeyJobs) {
		t.Fatalf("jobs refetched on focus despite config: %v", got)
	}
}

func TestSeededReads(t *testing.T) {
	d, _, _ := newDashboard(t)
	ctx := context.Background()

	nodes, err := d.Workers(ctx)
	if err != nil || len(nodes) != 3 {
		t.Fatalf("workers %+v %v", nodes, err)
	}
	st, err := d.LiveStatus(ctx)
	if err != nil {
		t.Fatalf("live status: %v", err)
	}
	if st.MeshNodesTotal != 3 || st.MeshNodesOnline != 2 || st.UnreadAlerts != 0 || st.UnreadNotifications != 2 {
		t.Fatalf("unexpected live status %+v", st)
	}
	projects, err := d.Projects(ctx)
	if err != nil || len(projects) != 2 {
		t.Fatalf("projects %+v %v", projects, err)
	}
	h, err := d.Health(ctx)
	if err != nil || h.Overall != "healthy" {
		t.Fatalf("health %+v %v", h, err)
	}
}

func TestAlertsCountFailedJobsNotNotifications(t *testing.T) {
	d, stub, _ := newDashboard(t)
	ctx := context.Background()

	m, err := stub.Engine.CreateMission(ctx, engine.MissionCreateOptions{Title: "Index repo"})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	task, err := stub.Engine.CreateTask(ctx, engine.TaskCreateOptions{MissionID: m.ID, Name: "scan"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	for i, errMsg := range []string{"disk full", "timeout", ""} {
		j, err := stub.Engine.CreateJob(ctx, task.ID, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("create job: %v", err)
		}
		if _, err := stub.Engine.DispatchJob(ctx, j.ID); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if _, err := stub.Engine.CompleteJob(ctx, j.ID, nil, errMsg); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	st, err := d.LiveStatus(ctx)
	if err != nil {
		t.Fatalf("live status: %v", err)
	}
	if st.UnreadAlerts != 2 || st.UnreadNotifications != 2 {
		t.Fatalf("expected 2 failed-job alerts and 2 notifications, got %+v", st)
	}

	d.Notifications.ClearAll()
	d.Cache.Invalidate(app.KeyLiveStatus)
	st, err = d.LiveStatus(ctx)
	if err != nil {
		t.Fatalf("live status: %v", err)
	}
	if st.UnreadAlerts != 2 || st.UnreadNotifications != 0 {
		t.Fatalf("marking notifications read must not hide job failures: %+v", st)
	}
}

func TestUnreachableBackendLogsCause(t *testing.T) {
	stub, err := server.Start(context.Background(), server.StubOptions{Workspace: t.TempDir(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("start stub: %v", err)
	}
	url := stub.URL
	stub.Close(context.Background())

	client := api.NewWithBase(url)
	client.Timeout = time.Second
	d, err := app.NewWithClient(config.Default(), client, quietLogger())
	if err != nil {
		t.Fatalf("new dashboard: %v", err)
	}
	ctx := context.Background()
	missions, err := d.Missions(ctx)
	if err != nil || len(missions) != 0 {
		t.Fatalf("lists degrade to empty, got %v %v", missions, err)
	}
	if _, err := d.Ops.CreateMission(ctx, ops.MissionCreateOptions{Title: "x"}); err == nil {
		t.Fatalf("expected create to fail")
	}
	entries := d.Actions.Entries()
	if len(entries) == 0 || entries[0].Level != actionlog.LevelError || !strings.Contains(entries[0].Message, "not reachable") {
		t.Fatalf("unexpected action log %+v", entries)
	}
}
