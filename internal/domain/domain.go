package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobWorking JobStatus = "working"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

const (
	MissionPlanned   = "planned"
	MissionRunning   = "running"
	MissionCompleted = "completed"
	MissionFailed    = "failed"
)

const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// SelfLoopJobType marks a job payload as an iteration of the self-loop agent.
const SelfLoopJobType = "sheratan_selfloop"

type Mission struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Status        string         `json:"status" enum:"planned,running,completed,failed"`
	Priority      string         `json:"priority" enum:"low,normal,high"`
	Progress      int            `json:"progress"`
	JobsTotal     int            `json:"jobs_total"`
	JobsCompleted int            `json:"jobs_completed"`
	Tags          []string       `json:"tags,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdate    time.Time      `json:"last_update"`
}

type Task struct {
	ID        string    `json:"id"`
	MissionID string    `json:"mission_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind,omitempty"`
	Status    string    `json:"status" enum:"pending,running,completed,failed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job is the display form of a backend job. TaskRef holds the id of the
// owning Task; missions reach their jobs only through their tasks.
type Job struct {
	ID         string         `json:"id"`
	TaskRef    string         `json:"task_ref"`
	Agent      string         `json:"agent"`
	Type       string         `json:"type"`
	Status     JobStatus      `json:"status"`
	RawStatus  string         `json:"raw_status,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration  `json:"duration,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Result     any            `json:"result,omitempty"`
}

// LoopState returns the self-loop state carried in the job payload.
func (j Job) LoopState() (LoopState, bool) {
	return LoopStateFromPayload(j.Payload)
}

// LoopState is the iteration memory of the self-loop agent.
type LoopState struct {
	Iteration      int      `json:"iteration"`
	HistorySummary string   `json:"history_summary"`
	OpenQuestions  []string `json:"open_questions"`
	Constraints    []string `json:"constraints"`
}

// InitialLoopState is the state of a freshly started loop.
func InitialLoopState() LoopState {
	return LoopState{Iteration: 1, OpenQuestions: []string{}, Constraints: []string{}}
}

// LoopStateFromPayload decodes payload.loop_state. ok is false when the key is
// absent or does not hold an object.
func LoopStateFromPayload(payload map[string]any) (LoopState, bool) {
	raw, ok := payload["loop_state"]
	if !ok || raw == nil {
		return LoopState{}, false
	}
	if ls, isState := raw.(LoopState); isState {
		return ls, true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return LoopState{}, false
	}
	var ls LoopState
	if err := json.Unmarshal(data, &ls); err != nil {
		return LoopState{}, false
	}
	return ls, true
}

// SelfLoopSections are the labelled parts of a self-loop result text.
type SelfLoopSections struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
	D string `json:"d"`
}

type MeshNode struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Role      string        `json:"role"`
	Status    string        `json:"status" enum:"online,offline,degraded"`
	IP        string        `json:"ip"`
	Port      int           `json:"port"`
	Latency   time.Duration `json:"latency"`
	Score     int           `json:"score"`
	LastSeen  time.Time     `json:"last_seen"`
	Endpoints []string      `json:"endpoints"`
}

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type" enum:"error,warning,info,success"`
	Category  string    `json:"category" enum:"worker,mesh,trader,selfloop,api,mission"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

const (
	SourceSelfLoop = "selfloop"
	SourceMesh     = "mesh"
	SourceTrader   = "trader"
	SourceRelay    = "relay"
	SourceCore     = "core"
)

// LogEntry is a log line synthesized from job state on each poll.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// ActionLogEntry records one user-initiated operation.
type ActionLogEntry struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level" enum:"info,success,error,warning"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	LoopRunning  = "running"
	LoopDegraded = "degraded"
	LoopStopped  = "stopped"
)

// LiveSystemStatus is the header summary derived from status, jobs and workers.
type LiveSystemStatus struct {
	SelfLoopState   string `json:"selfloop_state"`
	ActiveModel     string `json:"active_model"`
	MeshNodesOnline int    `json:"mesh_nodes_online"`
	MeshNodesTotal  int    `json:"mesh_nodes_total"`
	JobsInQueue     int    `json:"jobs_in_queue"`
	UnreadAlerts    int    `json:"unread_alerts"`
	// UnreadNotifications counts the client-local notifications not yet read.
	UnreadNotifications int `json:"unread_notifications"`
}

const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

type EndpointHealth struct {
	Endpoint     string        `json:"endpoint"`
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
	Error        string        `json:"error,omitempty"`
}

type SystemHealth struct {
	Overall   string           `json:"overall"`
	Endpoints []EndpointHealth `json:"endpoints"`
	Timestamp time.Time        `json:"timestamp"`
}

// IsSelfLoopPayload reports whether a job payload belongs to the self-loop agent.
func IsSelfLoopPayload(payload map[string]any) bool {
	if jt, _ := payload["job_type"].(string); jt == SelfLoopJobType {
		return true
	}
	ls, ok := payload["loop_state"]
	return ok && ls != nil
}
