package derive_test

import (
	"testing"

	"sheratan/internal/derive"
	"sheratan/internal/domain"
)

func loopJob(id string, iteration int, status domain.JobStatus) domain.Job {
	return domain.Job{
		ID:     id,
		Status: status,
		Payload: map[string]any{
			"job_type":   domain.SelfLoopJobType,
			"loop_state": map[string]any{"iteration": float64(iteration), "history_summary": id},
		},
	}
}

func TestLatestLoopStateIgnoresOrder(t *testing.T) {
	jobs := []domain.Job{
		loopJob("j3", 3, domain.JobDone),
		loopJob("j1", 1, domain.JobDone),
		loopJob("j2", 2, domain.JobDone),
		loopJob("j4", 4, domain.JobWorking),
	}
	ls, ok := derive.LatestLoopState(jobs)
	if !ok {
		t.Fatalf("expected a loop state")
	}
	if ls.Iteration != 3 || ls.HistorySummary != "j3" {
		t.Fatalf("expected iteration 3, got %+v", ls)
	}
	if _, ok := derive.LatestLoopState([]domain.Job{loopJob("x", 1, domain.JobQueued)}); ok {
		t.Fatalf("no done job should yield no state")
	}
}

func TestNextLoopState(t *testing.T) {
	prev := domain.LoopState{Iteration: 3, OpenQuestions: []string{"q"}, Constraints: []string{"c"}}
	next := derive.NextLoopState(prev, "summary")
	if next.Iteration != 4 || next.HistorySummary != "summary" {
		t.Fatalf("unexpected next state %+v", next)
	}
	if len(next.OpenQuestions) != 1 || len(next.Constraints) != 1 {
		t.Fatalf("questions and constraints must carry over: %+v", next)
	}
	if derive.DisplayIteration(12) != derive.MaxDisplayIteration {
		t.Fatalf("display iteration not capped")
	}
}

func TestParseSections(t *testing.T) {
	s, ok := derive.ParseSections("A) x\nC) y")
	if !ok {
		t.Fatalf("expected sections")
	}
	if s.A != "x" || s.B != "" || s.C != "y" || s.D != "" {
		t.Fatalf("unexpected sections %+v", s)
	}
	s, ok = derive.ParseSections("A) Goal\nmore goal\nB) plan\nD) done")
	if !ok || s.A != "Goal\nmore goal" || s.B != "plan" || s.D != "done" {
		t.Fatalf("unexpected multi-line sections %+v", s)
	}
	if _, ok := derive.ParseSections("no labels here, see DATA) only"); ok {
		t.Fatalf("expected no sections")
	}
}

func TestTaskTreeStates(t *testing.T) {
	tasks := []domain.Task{{ID: "t1", MissionID: "m"}, {ID: "t2", MissionID: "m"}, {ID: "t3", MissionID: "m"}, {ID: "t4", MissionID: "other"}}
	jobs := []domain.Job{
		{ID: "a", TaskRef: "t1", Status: domain.JobDone},
		{ID: "b", TaskRef: "t1", Status: domain.JobDone},
		{ID: "c", TaskRef: "t2", Status: domain.JobDone},
		{ID: "d", TaskRef: "t2", Status: domain.JobQueued},
		{ID: "e", TaskRef: "t3", Status: domain.JobError},
		{ID: "f", TaskRef: "ghost", Status: domain.JobQueued},
	}
	nodes := derive.BuildTaskTree("m", tasks, jobs)
	if len(nodes) != 3 {
		t.Fatalf("expected 3 task nodes, got %d", len(nodes))
	}
	want := []string{derive.TaskComplete, derive.TaskPartial, derive.TaskFailed}
	for i, n := range nodes {
		if n.State != want[i] {
			t.Fatalf("task %s: expected %s, got %s", n.Task.ID, want[i], n.State)
		}
	}
	if orphans := derive.OrphanJobs(tasks, jobs); len(orphans) != 1 || orphans[0].ID != "f" {
		t.Fatalf("unexpected orphans %+v", orphans)
	}
}
