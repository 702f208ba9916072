package ops

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"sheratan/internal/actionlog"
	"sheratan/internal/api"
	"sheratan/internal/domain"
)

type fakeBackend struct {
	calls    []string
	failOn   map[string]error
	bodies   map[string]any
	nextTask string
	nextJob  string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failOn: map[string]error{}, bodies: map[string]any{}, nextTask: "task-1234567890", nextJob: "job-1234567890"}
}

func (f *fakeBackend) call(name string, body any) error {
	f.calls = append(f.calls, name)
	if body != nil {
		f.bodies[name] = body
	}
	return f.failOn[name]
}

func (f *fakeBackend) CreateMission(ctx context.Context, in api.MissionInput) (domain.Mission, error) {
	if err := f.call("create_mission", in); err != nil {
		return domain.Mission{}, err
	}
	return domain.Mission{ID: "m-new", Name: in.Title}, nil
}

func (f *fakeBackend) DeleteMission(ctx context.Context, id string) error {
	return f.call("delete_mission", nil)
}

func (f *fakeBackend) CreateTask(ctx context.Context, in api.TaskInput) (domain.Task, error) {
	if err := f.call("create_task", in); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: f.nextTask, MissionID: in.MissionID, Name: in.Name}, nil
}

func (f *fakeBackend) CreateMissionTask(ctx context.Context, in api.TaskInput) (domain.Task, error) {
	if err := f.call("create_mission_task", in); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: f.nextTask, MissionID: in.MissionID, Name: in.Name}, nil
}

func (f *fakeBackend) CreateJob(ctx context.Context, taskID string, payload map[string]any) (domain.Job, error) {
	if err := f.call("create_job", payload); err != nil {
		return domain.Job{}, err
	}
	return domain.Job{ID: f.nextJob, TaskRef: taskID}, nil
}

func (f *fakeBackend) CreateTaskJob(ctx context.Context, taskID string, body any) (domain.Job, error) {
	if err := f.call("create_task_job", body); err != nil {
		return domain.Job{}, err
	}
	return domain.Job{ID: f.nextJob, TaskRef: taskID}, nil
}

func (f *fakeBackend) DispatchJob(ctx context.Context, id string) error {
	return f.call("dispatch_job", nil)
}

func (f *fakeBackend) SyncJob(ctx context.Context, id string) (domain.Job, error) {
	if err := f.call("sync_job", nil); err != nil {
		return domain.Job{}, err
	}
	return domain.Job{ID: id, Status: domain.JobWorking}, nil
}

func (f *fakeBackend) DeleteJob(ctx context.Context, id string) error {
	return f.call("delete_job", nil)
}

func (f *fakeBackend) QuickStart(ctx context.Context) (domain.QuickStartResult, error) {
	if err := f.call("quick_start", nil); err != nil {
		return domain.QuickStartResult{}, err
	}
	var res domain.QuickStartResult
	res.Mission.ID, res.Mission.Title = "m-quick", "Code analysis"
	return res, nil
}

type recordingCache struct {
	prefixes [][]string
}

func (r *recordingCache) Invalidate(prefixes ...string) []string {
	r.prefixes = append(r.prefixes, prefixes)
	return prefixes
}

func (r *recordingCache) invalidated() []string {
	var out []string
	for _, p := range r.prefixes {
		out = append(out, p...)
	}
	return out
}

func newTestService() (Service, *fakeBackend, *recordingCache, *actionlog.Log) {
	b := newFakeBackend()
	c := &recordingCache{}
	l := actionlog.New()
	return New(b, c, l), b, c, l
}

func TestInvalidationPerOperation(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		run  func(s Service) error
		want []string
	}{
		{"create mission", func(s Service) error {
			_, err := s.CreateMission(ctx, MissionCreateOptions{Title: "Index"})
			return err
		}, []string{KeyMissions}},
		{"delete mission", func(s Service) error { return s.DeleteMission(ctx, "m1") }, []string{KeyMissions, KeyTasks, KeyJobs}},
		{"create task", func(s Service) error {
			_, err := s.CreateTask(ctx, TaskCreateOptions{MissionID: "m1", Name: "Scan"})
			return err
		}, []string{KeyTasks}},
		{"create job", func(s Service) error {
			_, err := s.CreateJob(ctx, "t1", nil)
			return err
		}, []string{KeyJobs, KeyTasks}},
		{"dispatch job", func(s Service) error { return s.DispatchJob(ctx, "j1") }, []string{KeyJobs}},
		{"sync job", func(s Service) error {
			_, err := s.SyncJob(ctx, "j1")
			return err
		}, []string{KeyJobs}},
		{"delete job", func(s Service) error { return s.DeleteJob(ctx, "j1") }, []string{KeyJobs}},
		{"start self-loop", func(s Service) error {
			_, err := s.StartSelfLoop(ctx, StartSelfLoopOptions{MissionID: "m1", Goal: "Improve docs"})
			return err
		}, []string{KeyJobs, KeyTasks, KeyMissions}},
		{"continue loop", func(s Service) error {
			_, err := s.ContinueLoop(ctx, ContinueLoopOptions{TaskID: "t1", Goal: "Improve docs", Previous: domain.InitialLoopState()})
			return err
		}, []string{KeyJobs, KeySelfLoopJobs, KeyLoopState}},
		{"quick start", func(s Service) error {
			_, err := s.QuickStart(ctx)
			return err
		}, []string{KeyMissions, KeyTasks, KeyJobs}},
	}
	for _, tc := range cases {
		s, _, cache, log := newTestService()
		if err := tc.run(s); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := cache.invalidated(); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: invalidated %v, want %v", tc.name, got, tc.want)
		}
		if entries := log.Entries(); len(entries) == 0 || entries[0].Level != actionlog.LevelSuccess {
			t.Fatalf("%s: expected success entry, got %+v", tc.name, entries)
		}
	}
}

func TestValidationRejectsBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	s, b, cache, log := newTestService()
	if _, err := s.CreateMission(ctx, MissionCreateOptions{Title: "   "}); err == nil {
		t.Fatalf("expected validation error")
	} else if _, ok := domain.AsValidation(err); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	_, err := s.AddJob(ctx, AddJobOptions{MissionID: "m1", Kind: "list_files", ParamsJSON: "{not json"})
	if _, ok := domain.AsValidation(err); !ok {
		t.Fatalf("expected params validation error, got %v", err)
	}
	if _, err := s.StartSelfLoop(ctx, StartSelfLoopOptions{MissionID: "m1"}); err == nil {
		t.Fatalf("expected goal validation error")
	}
	if len(b.calls) != 0 {
		t.Fatalf("backend called despite invalid input: %v", b.calls)
	}
	if len(cache.prefixes) != 0 {
		t.Fatalf("cache invalidated on invalid input")
	}
	if log.Len() != 3 || log.Entries()[0].Level != actionlog.LevelError {
		t.Fatalf("expected 3 error entries, got %+v", log.Entries())
	}
}

func TestStartSelfLoopStopsAtFailedStep(t *testing.T) {
	s, b, cache, log := newTestService()
	b.failOn["create_task_job"] = &api.APIError{StatusCode: 500, Detail: "queue full"}

	run, err := s.StartSelfLoop(context.Background(), StartSelfLoopOptions{MissionID: "m1", Goal: "Refactor the storage layer for clarity"})
	var step *domain.StepError
	if !errors.As(err, &step) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if step.Step != "create job" || step.TaskID != b.nextTask {
		t.Fatalf("unexpected step error %+v", step)
	}
	if !reflect.DeepEqual(b.calls, []string{"create_mission_task", "create_task_job"}) {
		t.Fatalf("dispatch must not run after failure, calls=%v", b.calls)
	}
	if run.Task.ID != b.nextTask {
		t.Fatalf("created task should be reported, got %+v", run.Task)
	}
	if len(cache.prefixes) != 0 {
		t.Fatalf("failed operation invalidated %v", cache.prefixes)
	}
	last := log.Entries()[0]
	if last.Level != actionlog.LevelError || !strings.Contains(last.Message, "create job") || !strings.Contains(last.Message, "queue full") {
		t.Fatalf("unexpected action log entry %+v", last)
	}

	in := b.bodies["create_mission_task"].(api.TaskInput)
	if in.Name != "Self-Loop: Refactor the storage layer for..." || in.Kind != "selfloop" || in.Description != SelfLoopTaskDescription {
		t.Fatalf("unexpected task input %+v", in)
	}
}

func TestStartSelfLoopDispatchFailureKeepsJob(t *testing.T) {
	s, b, cache, _ := newTestService()
	b.failOn["dispatch_job"] = &api.UnavailableError{Backend: "core", BaseURL: "http://localhost:8001/api", Err: errors.New("refused")}
	run, err := s.StartSelfLoop(context.Background(), StartSelfLoopOptions{MissionID: "m1", Goal: "Ship"})
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable cause, got %v", err)
	}
	if run.Job.ID != b.nextJob {
		t.Fatalf("created job should be reported, got %+v", run.Job)
	}
	if len(cache.prefixes) != 0 {
		t.Fatalf("failed operation invalidated %v", cache.prefixes)
	}
	payload := b.bodies["create_task_job"].(api.SelfLoopPayload)
	if payload.LoopState.Iteration != 1 || payload.JobType != domain.SelfLoopJobType {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestContinueLoopIncrementsIteration(t *testing.T) {
	s, b, _, _ := newTestService()
	prev := domain.LoopState{Iteration: 3, OpenQuestions: []string{"which db?"}, Constraints: []string{"no new deps"}}
	if _, err := s.ContinueLoop(context.Background(), ContinueLoopOptions{TaskID: "t1", Goal: "Ship", Previous: prev, HistorySummary: "did A"}); err != nil {
		t.Fatalf("continue: %v", err)
	}
	payload := b.bodies["create_task_job"].(api.SelfLoopPayload)
	ls := payload.LoopState
	if ls.Iteration != 4 || ls.HistorySummary != "did A" || ls.OpenQuestions[0] != "which db?" || ls.Constraints[0] != "no new deps" {
		t.Fatalf("unexpected next state %+v", ls)
	}
	if !reflect.DeepEqual(b.calls, []string{"create_task_job", "dispatch_job"}) {
		t.Fatalf("unexpected calls %v", b.calls)
	}
}

func TestAddJobCreatesTaskWhenMissing(t *testing.T) {
	s, b, cache, _ := newTestService()
	res, err := s.AddJob(context.Background(), AddJobOptions{
		MissionID:   "m1",
		MissionName: "Index",
		Kind:        "read_file",
		ParamsJSON:  ParamsTemplate("read_file"),
		Dispatch:    true,
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if !res.TaskCreated || !res.Dispatched || res.Job.TaskRef != b.nextTask {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(b.calls, []string{"create_mission_task", "create_task_job", "dispatch_job"}) {
		t.Fatalf("unexpected calls %v", b.calls)
	}
	body := b.bodies["create_task_job"].(map[string]any)
	payload := body["payload"].(map[string]any)
	task := payload["task"].(map[string]any)
	params := task["params"].(map[string]any)
	if payload["response_format"] != "lcp" || task["kind"] != "read_file" || params["rel_path"] != "main.py" {
		t.Fatalf("unexpected body %v", body)
	}
	if in := b.bodies["create_mission_task"].(api.TaskInput); in.Name != "Task for Index" {
		t.Fatalf("unexpected auto task name %q", in.Name)
	}
	if !reflect.DeepEqual(cache.invalidated(), []string{KeyJobs, KeyTasks}) {
		t.Fatalf("unexpected invalidation %v", cache.invalidated())
	}
}

func TestAddJobWithExistingTaskSkipsDispatch(t *testing.T) {
	s, b, _, _ := newTestService()
	res, err := s.AddJob(context.Background(), AddJobOptions{TaskID: "t9", Kind: "llm_call"})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if res.TaskCreated || res.Dispatched {
		t.Fatalf("unexpected result %+v", res)
	}
	if !reflect.DeepEqual(b.calls, []string{"create_task_job"}) {
		t.Fatalf("unexpected calls %v", b.calls)
	}
}
