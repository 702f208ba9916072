package api

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"sheratan/internal/derive"
	"sheratan/internal/domain"
)

// MissionInput is the body of a mission create.
type MissionInput struct {
	Title       string
	Description string
	Tags        []string
}

// ListMissions returns all missions with job statistics joined in. Missions,
// tasks and jobs are read concurrently; when tasks or jobs cannot be read the
// missions are returned with zero statistics. The list is empty when the
// missions themselves cannot be read.
func (c *Client) ListMissions(ctx context.Context) []domain.Mission {
	var (
		g                           errgroup.Group
		missions                    []domain.MissionRecord
		tasks                       []domain.TaskRecord
		jobs                        []domain.JobRecord
		missionErr, taskErr, jobErr error
	)
	g.Go(func() error {
		missions, missionErr = getList[domain.MissionRecord](ctx, c, OpListMissions, "/missions")
		return nil
	})
	g.Go(func() error {
		tasks, taskErr = getList[domain.TaskRecord](ctx, c, OpListTasks, "/tasks")
		return nil
	})
	g.Go(func() error {
		jobs, jobErr = getList[domain.JobRecord](ctx, c, OpListJobs, "/jobs")
		return nil
	})
	_ = g.Wait()
	if missionErr != nil {
		c.absorb(OpListMissions, missionErr)
		return []domain.Mission{}
	}
	views := c.missions(missions)
	if taskErr != nil || jobErr != nil {
		c.logger().Warn("mission stats unavailable; listing missions without stats", "tasks_err", taskErr, "jobs_err", jobErr)
		return views
	}
	return derive.ApplyJobStats(views, c.tasks(tasks), c.jobs(jobs))
}

// GetMission fetches one mission without statistics.
func (c *Client) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	var rec domain.MissionRecord
	if err := c.do(ctx, OpGetMission, http.MethodGet, pathf("/missions/%s", id), nil, &rec); err != nil {
		return domain.Mission{}, err
	}
	m, ok := MissionFromRecord(rec, c.now())
	if !ok {
		return domain.Mission{}, domain.Malformed("mission", id, "missing id")
	}
	return m, nil
}

// CreateMission creates a mission.
func (c *Client) CreateMission(ctx context.Context, in MissionInput) (domain.Mission, error) {
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	body := map[string]any{
		"title":       in.Title,
		"description": in.Description,
		"tags":        tags,
		"metadata":    map[string]any{},
	}
	var rec domain.MissionRecord
	if err := c.do(ctx, OpCreateMission, http.MethodPost, "/missions", body, &rec); err != nil {
		return domain.Mission{}, err
	}
	m, ok := MissionFromRecord(rec, c.now())
	if !ok {
		return domain.Mission{}, domain.Malformed("mission", "", "created mission has no id")
	}
	return m, nil
}

// DeleteMission deletes a mission.
func (c *Client) DeleteMission(ctx context.Context, id string) error {
	return c.do(ctx, OpDeleteMission, http.MethodDelete, pathf("/missions/%s", id), nil, nil)
}
