package derive

import (
	"strings"

	"sheratan/internal/domain"
)

// DefaultModel is shown when the backend does not report its active model.
const DefaultModel = "Llama 3.1 8B (Mesh)"

// OfflineStatus is the live status reported when its inputs cannot be read.
func OfflineStatus() domain.LiveSystemStatus {
	return domain.LiveSystemStatus{
		SelfLoopState: domain.LoopStopped,
		ActiveModel:   "unknown",
	}
}

// LiveStatus summarizes the core status, the job list and the mesh workers.
// The self-loop state is recomputed from scratch on every call.
func LiveStatus(core domain.CoreStatus, jobs []domain.Job, nodes []domain.MeshNode) domain.LiveSystemStatus {
	var running, active, failed int
	for _, j := range jobs {
		raw := strings.ToLower(j.RawStatus)
		switch raw {
		case "running", "working":
			running++
		}
		if raw == "failed" {
			failed++
		}
		if raw != "done" && raw != "failed" {
			active++
		}
	}
	state := domain.LoopStopped
	switch {
	case running > 0:
		state = domain.LoopRunning
	case active > 0:
		state = domain.LoopDegraded
	}
	online := 0
	for _, n := range nodes {
		if n.Status == "online" {
			online++
		}
	}
	model := core.Model
	if model == "" {
		model = DefaultModel
	}
	return domain.LiveSystemStatus{
		SelfLoopState:   state,
		ActiveModel:     model,
		MeshNodesOnline: online,
		MeshNodesTotal:  len(nodes),
		JobsInQueue:     active,
		UnreadAlerts:    failed,
	}
}
