package api_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"sheratan/internal/api"
	"sheratan/internal/domain"
)

func TestMapJobStatus(t *testing.T) {
	cases := map[string]domain.JobStatus{
		"done":                domain.JobDone,
		"COMPLETED":           domain.JobDone,
		"failed":              domain.JobError,
		"error_while_working": domain.JobError,
		"working":             domain.JobWorking,
		"in_progress":         domain.JobWorking,
		"pending":             domain.JobQueued,
		"running":             domain.JobQueued,
		"":                    domain.JobQueued,
	}
	for raw, want := range cases {
		got := api.MapJobStatus(raw)
		if got != want {
			t.Fatalf("MapJobStatus(%q) = %s, want %s", raw, got, want)
		}
		if again := api.MapJobStatus(string(got)); again != got {
			t.Fatalf("MapJobStatus not idempotent for %q: %s -> %s", raw, got, again)
		}
	}
}

func TestMissionAndTaskStatus(t *testing.T) {
	if got := api.MapMissionStatus("active"); got != domain.MissionRunning {
		t.Fatalf("active mission: %s", got)
	}
	if got := api.MapMissionStatus("draft"); got != domain.MissionPlanned {
		t.Fatalf("draft mission: %s", got)
	}
	if got := api.MapTaskStatus("failed"); got != domain.TaskFailed {
		t.Fatalf("failed task: %s", got)
	}
	if got := api.MapTaskStatus(""); got != domain.TaskPending {
		t.Fatalf("empty task: %s", got)
	}
}

func TestJobFromRecord(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, ok := api.JobFromRecord(domain.JobRecord{TaskID: "t1"}, now); ok {
		t.Fatalf("record without id should be dropped")
	}

	j, ok := api.JobFromRecord(domain.JobRecord{
		ID:        "j1",
		Status:    "done",
		CreatedAt: "2024-03-01T10:00:00",
		UpdatedAt: "2024-03-01T10:00:42.5",
		Payload:   map[string]any{"task": map[string]any{"kind": "code_review"}},
	}, now)
	if !ok {
		t.Fatalf("expected job")
	}
	if j.TaskRef != api.UnknownRef {
		t.Fatalf("expected unknown task ref, got %q", j.TaskRef)
	}
	if j.Type != "code_review" || j.Agent != "agent" {
		t.Fatalf("unexpected classification %s/%s", j.Agent, j.Type)
	}
	if j.FinishedAt == nil || j.Duration != 42500*time.Millisecond {
		t.Fatalf("unexpected timing finished=%v duration=%s", j.FinishedAt, j.Duration)
	}

	queued, _ := api.JobFromRecord(domain.JobRecord{ID: "j2", Status: "pending", UpdatedAt: "2024-03-01T10:00:00Z"}, now)
	if queued.FinishedAt != nil || queued.Duration != 0 {
		t.Fatalf("queued job should not be finished: %+v", queued)
	}
	if !queued.StartedAt.Equal(now) {
		t.Fatalf("missing created_at should fall back to now, got %s", queued.StartedAt)
	}
}

func TestJobFromRecordSelfLoop(t *testing.T) {
	j, _ := api.JobFromRecord(domain.JobRecord{
		ID:      "j1",
		TaskID:  "t1",
		Payload: map[string]any{"loop_state": map[string]any{"iteration": 3}},
	}, time.Now())
	if j.Agent != "selfloop" || j.Type != "selfloop" {
		t.Fatalf("expected selfloop job, got %s/%s", j.Agent, j.Type)
	}
	ls, ok := j.LoopState()
	if !ok || ls.Iteration != 3 {
		t.Fatalf("unexpected loop state %+v", ls)
	}
}

func TestMissionPriorityFromMetadata(t *testing.T) {
	m, _ := api.MissionFromRecord(domain.MissionRecord{
		ID:       "m1",
		Name:     "legacy name",
		Metadata: map[string]any{"priority": "HIGH"},
	}, time.Now())
	if m.Priority != "high" || m.Name != "legacy name" {
		t.Fatalf("unexpected mission %+v", m)
	}
	m, _ = api.MissionFromRecord(domain.MissionRecord{ID: "m2", Metadata: map[string]any{"priority": "urgent"}}, time.Now())
	if m.Priority != "normal" {
		t.Fatalf("unknown priority should fall back to normal, got %s", m.Priority)
	}
}

func TestNodeFromWorker(t *testing.T) {
	n, ok := api.NodeFromWorker(domain.WorkerRecord{
		WorkerID:     "w1",
		Status:       "ONLINE",
		Endpoint:     "http://10.0.0.7:9000",
		LastSeen:     1700000000.5,
		Capabilities: []domain.Capability{{Kind: "llm", Cost: 1.5}},
	})
	if !ok {
		t.Fatalf("expected node")
	}
	if n.Status != "online" || n.IP != "10.0.0.7" || n.Port != 9000 {
		t.Fatalf("unexpected node %+v", n)
	}
	if n.Score != api.DefaultNodeScore || n.Latency != 0 {
		t.Fatalf("unexpected score/latency %d/%s", n.Score, n.Latency)
	}
	if len(n.Endpoints) != 1 || n.Endpoints[0] != "llm (1.5)" {
		t.Fatalf("unexpected endpoints %v", n.Endpoints)
	}
	if n.LastSeen.Unix() != 1700000000 {
		t.Fatalf("unexpected last seen %s", n.LastSeen)
	}

	local, _ := api.NodeFromWorker(domain.WorkerRecord{WorkerID: "w2", Status: "gone"})
	if local.Status != "offline" || local.IP != "local" || local.Port != 0 {
		t.Fatalf("unexpected local node %+v", local)
	}
}

func TestExplain(t *testing.T) {
	unavailable := &api.UnavailableError{Backend: "core", BaseURL: "http://localhost:8001/api", Err: errors.New("connection refused")}
	if msg := api.Explain(unavailable); !strings.Contains(msg, "expected port (8001)") {
		t.Fatalf("unexpected message %q", msg)
	}
	step := &domain.StepError{Op: "start self-loop", Step: "dispatch job", Err: &api.APIError{StatusCode: 502, Detail: "relay down"}}
	msg := api.Explain(step)
	if !strings.Contains(msg, "dispatch job") || !strings.Contains(msg, "relay down") || !strings.Contains(msg, "502") {
		t.Fatalf("unexpected message %q", msg)
	}
	if msg := api.Explain(&api.APIError{StatusCode: 404}); msg != "not found on backend: Not Found" {
		t.Fatalf("unexpected message %q", msg)
	}
}
