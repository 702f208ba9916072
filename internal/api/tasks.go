package api

import (
	"context"
	"net/http"

	"sheratan/internal/domain"
)

// TaskInput is the body of a task create.
type TaskInput struct {
	MissionID   string
	Name        string
	Description string
	Kind        string
	Params      map[string]any
}

// ListTasks returns all tasks; empty when the backend cannot be read.
func (c *Client) ListTasks(ctx context.Context) []domain.Task {
	recs, err := getList[domain.TaskRecord](ctx, c, OpListTasks, "/tasks")
	if err != nil {
		c.absorb(OpListTasks, err)
		return []domain.Task{}
	}
	return c.tasks(recs)
}

// TasksForMission returns the tasks of one mission.
func (c *Client) TasksForMission(ctx context.Context, missionID string) []domain.Task {
	all := c.ListTasks(ctx)
	out := []domain.Task{}
	for _, t := range all {
		if t.MissionID == missionID {
			out = append(out, t)
		}
	}
	return out
}

func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var rec domain.TaskRecord
	if err := c.do(ctx, OpGetTask, http.MethodGet, pathf("/tasks/%s", id), nil, &rec); err != nil {
		return domain.Task{}, err
	}
	t, ok := TaskFromRecord(rec, c.now())
	if !ok {
		return domain.Task{}, domain.Malformed("task", id, "missing id")
	}
	return t, nil
}

// CreateTask creates a task through POST /tasks.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (domain.Task, error) {
	body := map[string]any{
		"mission_id": in.MissionID,
		"name":       in.Name,
	}
	if in.Kind != "" {
		body["kind"] = in.Kind
	}
	if in.Description != "" {
		body["description"] = in.Description
	}
	var rec domain.TaskRecord
	if err := c.do(ctx, OpCreateTask, http.MethodPost, "/tasks", body, &rec); err != nil {
		return domain.Task{}, err
	}
	return c.createdTask(rec, in.MissionID)
}

// CreateMissionTask creates a task under a mission through
// POST /missions/{id}/tasks.
func (c *Client) CreateMissionTask(ctx context.Context, in TaskInput) (domain.Task, error) {
	params := in.Params
	if params == nil {
		params = map[string]any{}
	}
	body := map[string]any{
		"name":        in.Name,
		"description": in.Description,
		"kind":        in.Kind,
		"params":      params,
	}
	var rec domain.TaskRecord
	if err := c.do(ctx, OpMissionTask, http.MethodPost, pathf("/missions/%s/tasks", in.MissionID), body, &rec); err != nil {
		return domain.Task{}, err
	}
	return c.createdTask(rec, in.MissionID)
}

func (c *Client) createdTask(rec domain.TaskRecord, missionID string) (domain.Task, error) {
	if rec.MissionID == "" {
		rec.MissionID = missionID
	}
	t, ok := TaskFromRecord(rec, c.now())
	if !ok {
		return domain.Task{}, domain.Malformed("task", "", "created task has no id")
	}
	return t, nil
}
