// Package ops implements the dashboard's write operations. Every operation
// validates its input before the first request, runs its steps in order,
// records the outcome in the action log and, on success only, invalidates
// the cache keys the write can affect.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"sheratan/internal/actionlog"
	"sheratan/internal/api"
	"sheratan/internal/domain"
)

// Resource keys invalidated by the operations.
const (
	KeyMissions     = "missions"
	KeyTasks        = "tasks"
	KeyJobs         = "jobs"
	KeySelfLoopJobs = "selfloop-jobs"
	KeyLoopState    = "loop-state"
)

// Backend is the subset of the API client the operations write through.
type Backend interface {
	CreateMission(ctx context.Context, in api.MissionInput) (domain.Mission, error)
	DeleteMission(ctx context.Context, id string) error
	CreateTask(ctx context.Context, in api.TaskInput) (domain.Task, error)
	CreateMissionTask(ctx context.Context, in api.TaskInput) (domain.Task, error)
	CreateJob(ctx context.Context, taskID string, payload map[string]any) (domain.Job, error)
	CreateTaskJob(ctx context.Context, taskID string, body any) (domain.Job, error)
	DispatchJob(ctx context.Context, id string) error
	SyncJob(ctx context.Context, id string) (domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
	QuickStart(ctx context.Context) (domain.QuickStartResult, error)
}

// Invalidator marks cache keys stale.
type Invalidator interface {
	Invalidate(prefixes ...string) []string
}

type Service struct {
	Backend Backend
	Cache   Invalidator
	Log     *actionlog.Log
	Logger  *slog.Logger
}

func New(b Backend, cache Invalidator, log *actionlog.Log) Service {
	return Service{Backend: b, Cache: cache, Log: log}
}

func (s Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Service) invalidate(keys ...string) {
	if s.Cache == nil {
		return
	}
	got := s.Cache.Invalidate(keys...)
	s.logger().Debug("invalidated cache keys", "prefixes", keys, "keys", got)
}

func (s Service) info(msg string) {
	if s.Log != nil {
		s.Log.Info(msg)
	}
}

func (s Service) success(msg string) {
	if s.Log != nil {
		s.Log.Success(msg)
	}
}

// fail records err in the action log and returns it unchanged.
func (s Service) fail(err error) error {
	if s.Log != nil {
		s.Log.Error(api.Explain(err))
	}
	return err
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.Invalid(field, "is required")
	}
	return nil
}

// MissionCreateOptions are parameters for creating a mission.
type MissionCreateOptions struct {
	Title       string
	Description string
	Tags        []string
}

func (s Service) CreateMission(ctx context.Context, opts MissionCreateOptions) (domain.Mission, error) {
	if err := required("title", opts.Title); err != nil {
		return domain.Mission{}, s.fail(err)
	}
	m, err := s.Backend.CreateMission(ctx, api.MissionInput{
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		Tags:        opts.Tags,
	})
	if err != nil {
		return domain.Mission{}, s.fail(&domain.StepError{Op: "create mission", Step: "create mission", Err: err})
	}
	s.invalidate(KeyMissions)
	s.success(fmt.Sprintf("Mission created: %s (%s)", m.Name, short(m.ID)))
	return m, nil
}

// DeleteMission removes a mission. Its tasks and jobs disappear with it on
// the backend, so all three collections are invalidated.
func (s Service) DeleteMission(ctx context.Context, id string) error {
	if err := required("mission id", id); err != nil {
		return s.fail(err)
	}
	if err := s.Backend.DeleteMission(ctx, id); err != nil {
		return s.fail(&domain.StepError{Op: "delete mission", Step: "delete mission", Err: err})
	}
	s.invalidate(KeyMissions, KeyTasks, KeyJobs)
	s.success("Mission deleted: " + short(id))
	return nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	MissionID   string
	Name        string
	Description string
	Kind        string
	Params      map[string]any
}

// CreateTask creates a task under a mission.
func (s Service) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := required("mission id", opts.MissionID); err != nil {
		return domain.Task{}, s.fail(err)
	}
	if err := required("name", opts.Name); err != nil {
		return domain.Task{}, s.fail(err)
	}
	if opts.Kind == "" {
		opts.Kind = "analysis"
	}
	t, err := s.Backend.CreateMissionTask(ctx, api.TaskInput{
		MissionID:   opts.MissionID,
		Name:        opts.Name,
		Description: opts.Description,
		Kind:        opts.Kind,
		Params:      opts.Params,
	})
	if err != nil {
		return domain.Task{}, s.fail(&domain.StepError{Op: "create task", Step: "create task", Err: err})
	}
	s.invalidate(KeyTasks)
	s.success(fmt.Sprintf("Task created: %s (%s)", t.Name, short(t.ID)))
	return t, nil
}

// CreateJob creates a job with a raw payload through POST /jobs.
func (s Service) CreateJob(ctx context.Context, taskID string, payload map[string]any) (domain.Job, error) {
	if err := required("task id", taskID); err != nil {
		return domain.Job{}, s.fail(err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	j, err := s.Backend.CreateJob(ctx, taskID, payload)
	if err != nil {
		return domain.Job{}, s.fail(&domain.StepError{Op: "create job", Step: "create job", TaskID: taskID, Err: err})
	}
	s.invalidate(KeyJobs, KeyTasks)
	s.success("Job created: " + short(j.ID))
	return j, nil
}

// JobKinds are the job kinds offered by AddJob, with their parameter
// templates.
var JobKinds = []struct {
	Kind     string
	Label    string
	Template string
}{
	{Kind: "list_files", Label: "List Files", Template: `{"root": "/workspace/project", "patterns": ["**/*.py"]}`},
	{Kind: "read_file", Label: "Read File", Template: `{"root": "/workspace/project", "rel_path": "main.py"}`},
	{Kind: "agent_plan", Label: "Agent Plan", Template: `{"user_prompt": "Analyze this project", "project_root": "/workspace/project"}`},
	{Kind: "llm_call", Label: "LLM Call", Template: `{"prompt": "Describe what this code does"}`},
}

// ParamsTemplate returns the parameter template of kind, or "{}".
func ParamsTemplate(kind string) string {
	for _, k := range JobKinds {
		if k.Kind == kind {
			return k.Template
		}
	}
	return "{}"
}

// AddJobOptions are parameters for adding a job to a mission.
type AddJobOptions struct {
	MissionID   string
	MissionName string
	// TaskID selects the task; when empty a task is created first.
	TaskID string
	// Name names the auto-created task.
	Name string
	Kind string
	// ParamsJSON is the job parameters as entered by the operator.
	ParamsJSON string
	Dispatch   bool
}

// AddJobResult lists what AddJob created.
type AddJobResult struct {
	Task        *domain.Task
	Job         domain.Job
	Dispatched  bool
	TaskCreated bool
}

// AddJob creates a job of a given kind under a mission task: optionally
// create the task, create the job, optionally dispatch it. Steps stop at the
// first failure; earlier steps are not rolled back.
func (s Service) AddJob(ctx context.Context, opts AddJobOptions) (AddJobResult, error) {
	const op = "add job"
	if opts.TaskID == "" {
		if err := required("mission id", opts.MissionID); err != nil {
			return AddJobResult{}, s.fail(err)
		}
	}
	if err := required("kind", opts.Kind); err != nil {
		return AddJobResult{}, s.fail(err)
	}
	params := map[string]any{}
	if strings.TrimSpace(opts.ParamsJSON) != "" {
		if err := json.Unmarshal([]byte(opts.ParamsJSON), &params); err != nil {
			return AddJobResult{}, s.fail(domain.Invalid("params", "not a JSON object: "+err.Error()))
		}
	}

	var res AddJobResult
	taskID := opts.TaskID
	if taskID == "" {
		s.info("No task yet; creating one")
		name := opts.Name
		if name == "" {
			mission := opts.MissionName
			if mission == "" {
				mission = "Mission"
			}
			name = "Task for " + mission
		}
		t, err := s.Backend.CreateMissionTask(ctx, api.TaskInput{
			MissionID:   opts.MissionID,
			Name:        name,
			Description: "Auto-created task for job",
			Kind:        "analysis",
			Params:      map[string]any{},
		})
		if err != nil {
			return res, s.fail(&domain.StepError{Op: op, Step: "create task", Err: err})
		}
		s.success("Task created: " + short(t.ID))
		res.Task, res.TaskCreated = &t, true
		taskID = t.ID
	}

	body := map[string]any{
		"payload": map[string]any{
			"response_format": "lcp",
			"task": map[string]any{
				"kind":   opts.Kind,
				"params": params,
			},
		},
	}
	s.info(fmt.Sprintf("Creating job (%s)", opts.Kind))
	j, err := s.Backend.CreateTaskJob(ctx, taskID, body)
	if err != nil {
		return res, s.fail(&domain.StepError{Op: op, Step: "create job", TaskID: taskID, Err: err})
	}
	res.Job = j
	s.success("Job created: " + short(j.ID))

	if opts.Dispatch {
		if err := s.Backend.DispatchJob(ctx, j.ID); err != nil {
			return res, s.fail(&domain.StepError{Op: op, Step: "dispatch job", TaskID: taskID, JobID: j.ID, Err: err})
		}
		res.Dispatched = true
		s.success("Job dispatched: " + short(j.ID))
	}
	s.invalidate(KeyJobs, KeyTasks)
	return res, nil
}

func (s Service) DispatchJob(ctx context.Context, id string) error {
	if err := required("job id", id); err != nil {
		return s.fail(err)
	}
	if err := s.Backend.DispatchJob(ctx, id); err != nil {
		return s.fail(&domain.StepError{Op: "dispatch job", Step: "dispatch job", JobID: id, Err: err})
	}
	s.invalidate(KeyJobs)
	s.success("Job dispatched: " + short(id))
	return nil
}

// SyncJob asks the backend to pull the job's latest state from its worker.
func (s Service) SyncJob(ctx context.Context, id string) (domain.Job, error) {
	if err := required("job id", id); err != nil {
		return domain.Job{}, s.fail(err)
	}
	j, err := s.Backend.SyncJob(ctx, id)
	if err != nil {
		return domain.Job{}, s.fail(&domain.StepError{Op: "sync job", Step: "sync job", JobID: id, Err: err})
	}
	s.invalidate(KeyJobs)
	s.success(fmt.Sprintf("Job synced: %s [%s]", short(id), j.Status))
	return j, nil
}

func (s Service) DeleteJob(ctx context.Context, id string) error {
	if err := required("job id", id); err != nil {
		return s.fail(err)
	}
	if err := s.Backend.DeleteJob(ctx, id); err != nil {
		return s.fail(&domain.StepError{Op: "delete job", Step: "delete job", JobID: id, Err: err})
	}
	s.invalidate(KeyJobs)
	s.success("Job deleted: " + short(id))
	return nil
}

// QuickStart runs the backend's standard code analysis shortcut.
func (s Service) QuickStart(ctx context.Context) (domain.QuickStartResult, error) {
	s.info("Starting standard code analysis")
	res, err := s.Backend.QuickStart(ctx)
	if err != nil {
		return domain.QuickStartResult{}, s.fail(&domain.StepError{Op: "quick start", Step: "quick start", Err: err})
	}
	s.invalidate(KeyMissions, KeyTasks, KeyJobs)
	msg := fmt.Sprintf("Mission created: %s (%s)", res.Mission.Title, short(res.Mission.ID))
	if res.Job != nil {
		msg += ", job " + short(res.Job.ID) + " dispatched"
	}
	s.success(msg)
	return res, nil
}
