package api

import (
	"context"
	"net/http"

	"sheratan/internal/domain"
)

// ListJobs returns all jobs; empty when the backend cannot be read.
func (c *Client) ListJobs(ctx context.Context) []domain.Job {
	recs, err := getList[domain.JobRecord](ctx, c, OpListJobs, "/jobs")
	if err != nil {
		c.absorb(OpListJobs, err)
		return []domain.Job{}
	}
	return c.jobs(recs)
}

func (c *Client) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var rec domain.JobRecord
	if err := c.do(ctx, OpGetJob, http.MethodGet, pathf("/jobs/%s", id), nil, &rec); err != nil {
		return domain.Job{}, err
	}
	return c.job(rec, id)
}

// CreateJob creates a job through POST /jobs.
func (c *Client) CreateJob(ctx context.Context, taskID string, payload map[string]any) (domain.Job, error) {
	body := map[string]any{"task_id": taskID, "payload": payload}
	var rec domain.JobRecord
	if err := c.do(ctx, OpCreateJob, http.MethodPost, "/jobs", body, &rec); err != nil {
		return domain.Job{}, err
	}
	return c.job(rec, "")
}

// CreateTaskJob posts body to /tasks/{id}/jobs. The body is sent as given:
// self-loop jobs post the payload fields at the top level, generic jobs wrap
// them in {"payload": ...}.
func (c *Client) CreateTaskJob(ctx context.Context, taskID string, body any) (domain.Job, error) {
	var rec domain.JobRecord
	if err := c.do(ctx, OpTaskJob, http.MethodPost, pathf("/tasks/%s/jobs", taskID), body, &rec); err != nil {
		return domain.Job{}, err
	}
	if rec.TaskID == "" {
		rec.TaskID = taskID
	}
	return c.job(rec, "")
}

func (c *Client) DispatchJob(ctx context.Context, id string) error {
	return c.do(ctx, OpDispatchJob, http.MethodPost, pathf("/jobs/%s/dispatch", id), nil, nil)
}

// SyncJob asks the backend to refresh a job from its worker.
func (c *Client) SyncJob(ctx context.Context, id string) (domain.Job, error) {
	var rec domain.JobRecord
	if err := c.do(ctx, OpSyncJob, http.MethodPost, pathf("/jobs/%s/sync", id), nil, &rec); err != nil {
		return domain.Job{}, err
	}
	return c.job(rec, id)
}

func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, OpDeleteJob, http.MethodDelete, pathf("/jobs/%s", id), nil, nil)
}

func (c *Client) job(rec domain.JobRecord, id string) (domain.Job, error) {
	j, ok := JobFromRecord(rec, c.now())
	if !ok {
		return domain.Job{}, domain.Malformed("job", id, "missing id")
	}
	return j, nil
}
