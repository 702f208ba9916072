package server

import (
	"sheratan/internal/domain"
)

// Request payloads. Unknown fields are accepted and ignored.

type CreateMissionRequest struct {
	_           struct{}       `json:"-" additionalProperties:"true"`
	Title       string         `json:"title" minLength:"1"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type CreateTaskRequest struct {
	_           struct{}       `json:"-" additionalProperties:"true"`
	MissionID   string         `json:"mission_id" minLength:"1"`
	Name        string         `json:"name" minLength:"1"`
	Description string         `json:"description,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

type CreateMissionTaskRequest struct {
	_           struct{}       `json:"-" additionalProperties:"true"`
	Name        string         `json:"name" minLength:"1"`
	Description string         `json:"description,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

type CreateJobRequest struct {
	_       struct{}       `json:"-" additionalProperties:"true"`
	TaskID  string         `json:"task_id" minLength:"1"`
	Payload map[string]any `json:"payload,omitempty"`
}

// JobResultRequest is posted by a worker when it finishes a job.
type JobResultRequest struct {
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Responses

type missionOutput struct {
	Body domain.MissionRecord
}

type missionsOutput struct {
	Body []domain.MissionRecord
}

type taskOutput struct {
	Body domain.TaskRecord
}

type tasksOutput struct {
	Body []domain.TaskRecord
}

type jobOutput struct {
	Body domain.JobRecord
}

type jobsOutput struct {
	Body []domain.JobRecord
}

type workersOutput struct {
	Body []domain.WorkerRecord
}

type ledgerOutput struct {
	Body domain.LedgerInfo
}

type projectsOutput struct {
	Body []domain.Project
}

type filesOutput struct {
	Body []domain.FileNode
}

type statusOutput struct {
	Body domain.CoreStatus
}

type metricsOutput struct {
	Body domain.SystemMetrics
}

type servicesOutput struct {
	Body []domain.Service
}

type quickStartOutput struct {
	Body domain.QuickStartResult
}

type idPath struct {
	ID string `path:"id"`
}
