package derive_test

import (
	"testing"

	"sheratan/internal/derive"
	"sheratan/internal/domain"
)

func TestProgressBounds(t *testing.T) {
	for total := 0; total <= 7; total++ {
		for done := 0; done <= total; done++ {
			p := derive.Progress(done, total)
			if p < 0 || p > 100 {
				t.Fatalf("progress(%d,%d)=%d out of range", done, total, p)
			}
			if total == 0 && p != 0 {
				t.Fatalf("progress with no jobs must be 0, got %d", p)
			}
		}
	}
	if got := derive.Progress(1, 3); got != 33 {
		t.Fatalf("expected 33, got %d", got)
	}
	if got := derive.Progress(2, 3); got != 67 {
		t.Fatalf("expected 67, got %d", got)
	}
	if got := derive.Progress(3, 3); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestApplyJobStatsJoinsThroughTasks(t *testing.T) {
	missions := []domain.Mission{{ID: "m1"}, {ID: "m2"}}
	tasks := []domain.Task{{ID: "t1", MissionID: "m1"}, {ID: "t2", MissionID: "m2"}}
	jobs := []domain.Job{
		{ID: "j1", TaskRef: "t1", RawStatus: "done"},
		{ID: "j2", TaskRef: "t1", RawStatus: "running"},
		{ID: "j3", TaskRef: "t2", RawStatus: "completed"},
		{ID: "j4", TaskRef: "t9", RawStatus: "done"},
	}
	got := derive.ApplyJobStats(missions, tasks, jobs)
	m1, m2 := got[0], got[1]
	if m1.JobsTotal != 2 || m1.JobsCompleted != 1 || m1.Progress != 50 {
		t.Fatalf("m1 stats wrong: %+v", m1)
	}
	if m2.JobsTotal != 1 || m2.JobsCompleted != 1 || m2.Progress != 100 {
		t.Fatalf("m2 stats wrong: %+v", m2)
	}
	if missions[0].JobsTotal != 0 {
		t.Fatalf("input missions must not be modified")
	}
	for _, m := range got {
		if m.JobsCompleted > m.JobsTotal {
			t.Fatalf("completed exceeds total: %+v", m)
		}
	}
}

func TestMissionJobsUsesTaskIDs(t *testing.T) {
	tasks := []domain.Task{{ID: "t1", MissionID: "m1"}, {ID: "t2", MissionID: "m2"}}
	jobs := []domain.Job{{ID: "j1", TaskRef: "t1"}, {ID: "j2", TaskRef: "m1"}}
	got := derive.MissionJobs("m1", tasks, jobs)
	if len(got) != 1 || got[0].ID != "j1" {
		t.Fatalf("expected only j1, got %+v", got)
	}
	total, done := derive.JobStats("m1", tasks, jobs)
	if total != 1 || done != 0 {
		t.Fatalf("unexpected stats %d/%d", done, total)
	}
}
