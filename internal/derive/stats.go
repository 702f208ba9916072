// Package derive holds the pure functions that join backend resources into
// the dashboard's view models. Nothing here performs I/O or keeps state.
package derive

import (
	"math"
	"strings"

	"sheratan/internal/domain"
)

// Progress is round(completed/total*100), or 0 when total is 0.
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	if completed < 0 {
		completed = 0
	}
	if completed > total {
		completed = total
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// completedRaw matches the backend statuses counted as finished work.
func completedRaw(raw string) bool {
	switch strings.ToLower(raw) {
	case "done", "completed":
		return true
	}
	return false
}

// MissionTaskIDs returns the ids of the tasks belonging to a mission.
func MissionTaskIDs(missionID string, tasks []domain.Task) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, t := range tasks {
		if t.MissionID == missionID {
			ids[t.ID] = struct{}{}
		}
	}
	return ids
}

// MissionTasks returns the tasks of one mission in input order.
func MissionTasks(missionID string, tasks []domain.Task) []domain.Task {
	out := []domain.Task{}
	for _, t := range tasks {
		if t.MissionID == missionID {
			out = append(out, t)
		}
	}
	return out
}

// MissionJobs returns the jobs whose task belongs to the mission.
func MissionJobs(missionID string, tasks []domain.Task, jobs []domain.Job) []domain.Job {
	ids := MissionTaskIDs(missionID, tasks)
	out := []domain.Job{}
	for _, j := range jobs {
		if _, ok := ids[j.TaskRef]; ok {
			out = append(out, j)
		}
	}
	return out
}

// JobStats counts total and completed jobs of one mission.
func JobStats(missionID string, tasks []domain.Task, jobs []domain.Job) (total, completed int) {
	for _, j := range MissionJobs(missionID, tasks, jobs) {
		total++
		if completedRaw(j.RawStatus) {
			completed++
		}
	}
	return total, completed
}

// ApplyJobStats returns a copy of missions with JobsTotal, JobsCompleted and
// Progress computed from the given tasks and jobs. Jobs pointing at unknown
// tasks are ignored.
func ApplyJobStats(missions []domain.Mission, tasks []domain.Task, jobs []domain.Job) []domain.Mission {
	taskMission := make(map[string]string, len(tasks))
	for _, t := range tasks {
		taskMission[t.ID] = t.MissionID
	}
	totals := make(map[string]int)
	done := make(map[string]int)
	for _, j := range jobs {
		mid, ok := taskMission[j.TaskRef]
		if !ok {
			continue
		}
		totals[mid]++
		if completedRaw(j.RawStatus) {
			done[mid]++
		}
	}
	out := make([]domain.Mission, len(missions))
	for i, m := range missions {
		m.JobsTotal = totals[m.ID]
		m.JobsCompleted = done[m.ID]
		m.Progress = Progress(m.JobsCompleted, m.JobsTotal)
		out[i] = m
	}
	return out
}
