package derive

import "sheratan/internal/domain"

// Rollup states of a task, computed from its jobs.
const (
	TaskFailed   = "failed"
	TaskComplete = "complete"
	TaskPartial  = "partial"
	TaskIdle     = "pending"
)

type TaskNode struct {
	Task  domain.Task  `json:"task"`
	Jobs  []domain.Job `json:"jobs"`
	State string       `json:"state"`
}

// BuildTaskTree groups the mission's jobs under their tasks.
func BuildTaskTree(missionID string, tasks []domain.Task, jobs []domain.Job) []TaskNode {
	byTask := make(map[string][]domain.Job)
	for _, j := range jobs {
		byTask[j.TaskRef] = append(byTask[j.TaskRef], j)
	}
	nodes := []TaskNode{}
	for _, t := range MissionTasks(missionID, tasks) {
		js := byTask[t.ID]
		if js == nil {
			js = []domain.Job{}
		}
		nodes = append(nodes, TaskNode{Task: t, Jobs: js, State: TaskState(js)})
	}
	return nodes
}

// TaskState rolls job statuses up into one task state.
func TaskState(jobs []domain.Job) string {
	var done, failed int
	for _, j := range jobs {
		switch j.Status {
		case domain.JobDone:
			done++
		case domain.JobError:
			failed++
		}
	}
	switch {
	case failed > 0:
		return TaskFailed
	case len(jobs) > 0 && done == len(jobs):
		return TaskComplete
	case done > 0:
		return TaskPartial
	}
	return TaskIdle
}

// OrphanJobs returns jobs whose task is not in tasks.
func OrphanJobs(tasks []domain.Task, jobs []domain.Job) []domain.Job {
	known := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		known[t.ID] = struct{}{}
	}
	out := []domain.Job{}
	for _, j := range jobs {
		if _, ok := known[j.TaskRef]; !ok {
			out = append(out, j)
		}
	}
	return out
}
