// Package engine implements the development stub of the orchestration
// backend on top of the sqlite repo. It stores what it is given and never
// executes jobs; dispatch only moves a job to working.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sheratan/internal/domain"
	"sheratan/internal/repo"
)

// Raw statuses written by the stub.
const (
	MissionPlanned = "planned"
	TaskPending    = "pending"
	JobPending     = "pending"
	JobWorking     = "working"
	JobCompleted   = "completed"
	JobFailed      = "failed"
)

type Engine struct {
	DB    *sql.DB
	Repo  repo.Repo
	Now   func() time.Time
	NewID func() string
	// Model is reported by GET /status.
	Model   string
	Started time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Now:     time.Now,
		NewID:   uuid.NewString,
		Model:   "gpt-4o",
		Started: time.Now(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e Engine) id() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// MissionCreateOptions are parameters for creating a mission.
type MissionCreateOptions struct {
	Title       string
	Description string
	Tags        []string
	Metadata    map[string]any
}

func (e Engine) CreateMission(ctx context.Context, opts MissionCreateOptions) (domain.MissionRecord, error) {
	return e.createMission(ctx, e.Repo, opts)
}

func (e Engine) createMission(ctx context.Context, r repo.Repo, opts MissionCreateOptions) (domain.MissionRecord, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.MissionRecord{}, domain.Invalid("title", "is required")
	}
	now := e.stamp()
	m := domain.MissionRecord{
		ID:          e.id(),
		Title:       title,
		Description: opts.Description,
		Status:      MissionPlanned,
		Tags:        opts.Tags,
		Metadata:    opts.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	if err := r.InsertMission(ctx, m); err != nil {
		return domain.MissionRecord{}, fmt.Errorf("insert mission: %w", err)
	}
	return m, nil
}

// DeleteMission removes a mission together with its tasks and jobs.
func (e Engine) DeleteMission(ctx context.Context, id string) error {
	return e.Repo.DeleteMission(ctx, id)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	MissionID   string
	Name        string
	Description string
	Kind        string
	Params      map[string]any
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.TaskRecord, error) {
	return e.createTask(ctx, e.Repo, opts)
}

func (e Engine) createTask(ctx context.Context, r repo.Repo, opts TaskCreateOptions) (domain.TaskRecord, error) {
	if opts.MissionID == "" {
		return domain.TaskRecord{}, domain.Invalid("mission_id", "is required")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.TaskRecord{}, domain.Invalid("name", "is required")
	}
	if _, err := r.GetMission(ctx, opts.MissionID); err != nil {
		return domain.TaskRecord{}, fmt.Errorf("mission %s: %w", opts.MissionID, err)
	}
	now := e.stamp()
	t := domain.TaskRecord{
		ID:          e.id(),
		MissionID:   opts.MissionID,
		Name:        name,
		Description: opts.Description,
		Kind:        opts.Kind,
		Status:      TaskPending,
		Params:      opts.Params,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Params == nil {
		t.Params = map[string]any{}
	}
	if err := r.InsertTask(ctx, t); err != nil {
		return domain.TaskRecord{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// CreateJob stores a pending job under taskID with payload.
func (e Engine) CreateJob(ctx context.Context, taskID string, payload map[string]any) (domain.JobRecord, error) {
	return e.createJob(ctx, e.Repo, taskID, payload)
}

func (e Engine) createJob(ctx context.Context, r repo.Repo, taskID string, payload map[string]any) (domain.JobRecord, error) {
	if taskID == "" {
		return domain.JobRecord{}, domain.Invalid("task_id", "is required")
	}
	if _, err := r.GetTask(ctx, taskID); err != nil {
		return domain.JobRecord{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	now := e.stamp()
	j := domain.JobRecord{
		ID:        e.id(),
		TaskID:    taskID,
		Status:    JobPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.InsertJob(ctx, j); err != nil {
		return domain.JobRecord{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// TaskJobPayload extracts the job payload from a POST /tasks/{id}/jobs body.
// Generic jobs wrap it in {"payload": {...}}; self-loop jobs post it at the
// top level.
func TaskJobPayload(body map[string]any) map[string]any {
	if p, ok := body["payload"].(map[string]any); ok && len(body) == 1 {
		return p
	}
	return body
}

func ensureJobTransition(from, to string) error {
	allowed := map[string][]string{
		JobPending: {JobWorking},
		JobWorking: {JobCompleted, JobFailed},
	}
	for _, s := range allowed[from] {
		if s == to {
			return nil
		}
	}
	return domain.Invalid("status", fmt.Sprintf("job cannot move from %s to %s", from, to))
}

// DispatchJob hands a pending job to the mesh. The stub only records the
// status change.
func (e Engine) DispatchJob(ctx context.Context, id string) (domain.JobRecord, error) {
	return e.dispatchJob(ctx, e.Repo, id)
}

func (e Engine) dispatchJob(ctx context.Context, r repo.Repo, id string) (domain.JobRecord, error) {
	j, err := r.GetJob(ctx, id)
	if err != nil {
		return domain.JobRecord{}, err
	}
	if err := ensureJobTransition(j.Status, JobWorking); err != nil {
		return domain.JobRecord{}, err
	}
	j.Status = JobWorking
	j.UpdatedAt = e.stamp()
	if err := r.UpdateJobStatus(ctx, id, j.Status, j.UpdatedAt); err != nil {
		return domain.JobRecord{}, err
	}
	return j, nil
}

// CompleteJob records the outcome a worker reported for a working job.
// A non-empty errMsg fails the job with {"ok": false, "error": errMsg}.
func (e Engine) CompleteJob(ctx context.Context, id string, result map[string]any, errMsg string) (domain.JobRecord, error) {
	j, err := e.Repo.GetJob(ctx, id)
	if err != nil {
		return domain.JobRecord{}, err
	}
	status := JobCompleted
	if errMsg != "" {
		status = JobFailed
		result = map[string]any{"ok": false, "error": errMsg}
	} else if result == nil {
		result = map[string]any{"ok": true}
	}
	if err := ensureJobTransition(j.Status, status); err != nil {
		return domain.JobRecord{}, err
	}
	j.Status, j.Result, j.UpdatedAt = status, result, e.stamp()
	if err := e.Repo.SetJobResult(ctx, id, status, result, j.UpdatedAt); err != nil {
		return domain.JobRecord{}, err
	}
	return j, nil
}

// SyncJob returns the stored job. The stub has no workers to ask.
func (e Engine) SyncJob(ctx context.Context, id string) (domain.JobRecord, error) {
	return e.Repo.GetJob(ctx, id)
}

func (e Engine) DeleteJob(ctx context.Context, id string) error {
	return e.Repo.DeleteJob(ctx, id)
}

// QuickStart creates the standard code analysis mission with one task and a
// dispatched list_files job, in one transaction.
func (e Engine) QuickStart(ctx context.Context) (domain.QuickStartResult, error) {
	var res domain.QuickStartResult
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	r := e.Repo.Tx(tx)

	m, err := e.createMission(ctx, r, MissionCreateOptions{
		Title:       "Standard Code Analysis",
		Description: "Analyze the repository structure and summarize findings",
		Tags:        []string{"analysis", "quickstart"},
	})
	if err != nil {
		return res, err
	}
	t, err := e.createTask(ctx, r, TaskCreateOptions{
		MissionID:   m.ID,
		Name:        "List repository files",
		Description: "Walk the workspace and list source files",
		Kind:        "analysis",
		Params:      map[string]any{"root": "."},
	})
	if err != nil {
		return res, err
	}
	j, err := e.createJob(ctx, r, t.ID, map[string]any{
		"response_format": "lcp",
		"task":            map[string]any{"kind": "list_files", "params": map[string]any{"root": ".", "patterns": []string{"*.go"}}},
	})
	if err != nil {
		return res, err
	}
	if _, err := e.dispatchJob(ctx, r, j.ID); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Mission.ID, res.Mission.Title = m.ID, m.Title
	res.Task.ID, res.Task.Name = t.ID, t.Name
	res.Job = &struct {
		ID string `json:"id"`
	}{ID: j.ID}
	return res, nil
}

// Status is the body of GET /status.
func (e Engine) Status(ctx context.Context) (domain.CoreStatus, error) {
	n, err := e.Repo.CountMissions(ctx)
	if err != nil {
		return domain.CoreStatus{}, err
	}
	return domain.CoreStatus{Status: "ok", Missions: n, Model: e.Model}, nil
}

// Metrics derives load figures from the job table and worker list.
func (e Engine) Metrics(ctx context.Context) (domain.SystemMetrics, error) {
	jobs, err := e.Repo.ListJobs(ctx)
	if err != nil {
		return domain.SystemMetrics{}, err
	}
	workers, err := e.Repo.ListWorkers(ctx)
	if err != nil {
		return domain.SystemMetrics{}, err
	}
	var queued, working, failed int
	for _, j := range jobs {
		switch j.Status {
		case JobPending:
			queued++
		case JobWorking:
			working++
		case JobFailed:
			failed++
		}
	}
	online := 0
	for _, w := range workers {
		if w.Status == "online" {
			online++
		}
	}
	m := domain.SystemMetrics{QueueLength: queued}
	if online > 0 {
		m.CPU = min(100, float64(working)*100/float64(online))
	} else if working > 0 {
		m.CPU = 100
	}
	m.Memory = min(100, float64(len(jobs))/10)
	if len(jobs) > 0 {
		m.ErrorRate = float64(failed) * 100 / float64(len(jobs))
	}
	return m, nil
}

// Services reports the stub's own components. port is the listening port of
// the API.
func (e Engine) Services(ctx context.Context, port int) []domain.Service {
	now := e.now()
	uptime := now.Sub(e.Started).Round(time.Second).String()
	check := now.UTC().Format(time.RFC3339)
	db := domain.Service{Name: "database", Port: port, Status: "up", Uptime: uptime, LastCheck: check}
	if err := e.DB.PingContext(ctx); err != nil {
		db.Status = "down"
	}
	mesh := domain.Service{Name: "mesh", Port: port, Status: "degraded", Uptime: uptime, LastCheck: check}
	if workers, err := e.Repo.ListWorkers(ctx); err != nil {
		mesh.Status = "down"
	} else {
		for _, w := range workers {
			if w.Status == "online" {
				mesh.Status = "up"
				break
			}
		}
	}
	return []domain.Service{
		{Name: "core-api", Port: port, Status: "up", Uptime: uptime, LastCheck: check},
		db,
		mesh,
	}
}
