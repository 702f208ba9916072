package api

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sheratan/internal/domain"
)

type statusRule[S any] struct {
	needles []string
	status  S
}

// jobStatusRules is evaluated top to bottom; the first rule with a matching
// substring wins, so "error_while_working" maps to error.
var jobStatusRules = []statusRule[domain.JobStatus]{
	{needles: []string{"done", "complete"}, status: domain.JobDone},
	{needles: []string{"fail", "error"}, status: domain.JobError},
	{needles: []string{"work", "progress"}, status: domain.JobWorking},
}

var missionStatusRules = []statusRule[string]{
	{needles: []string{"done", "complete"}, status: domain.MissionCompleted},
	{needles: []string{"fail", "error"}, status: domain.MissionFailed},
	{needles: []string{"run", "progress", "active", "work"}, status: domain.MissionRunning},
}

var taskStatusRules = []statusRule[string]{
	{needles: []string{"done", "complete"}, status: domain.TaskCompleted},
	{needles: []string{"fail", "error"}, status: domain.TaskFailed},
	{needles: []string{"run", "progress", "work"}, status: domain.TaskRunning},
}

func mapStatus[S any](rules []statusRule[S], raw string, fallback S) S {
	lower := strings.ToLower(raw)
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.status
			}
		}
	}
	return fallback
}

// MapJobStatus maps a free-form backend status to the display status.
func MapJobStatus(raw string) domain.JobStatus {
	return mapStatus(jobStatusRules, raw, domain.JobQueued)
}

func MapMissionStatus(raw string) string {
	return mapStatus(missionStatusRules, raw, domain.MissionPlanned)
}

func MapTaskStatus(raw string) string {
	return mapStatus(taskStatusRules, raw, domain.TaskPending)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts RFC 3339 and the naive ISO forms Python backends emit
// (read as UTC). Missing or unparsable values yield fallback.
func parseTime(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// MissionFromRecord builds a Mission view. ok is false for records without id.
func MissionFromRecord(r domain.MissionRecord, now time.Time) (domain.Mission, bool) {
	if r.ID == "" {
		return domain.Mission{}, false
	}
	name := r.Title
	if name == "" {
		name = r.Name
	}
	if name == "" {
		name = "Mission " + shortID(r.ID)
	}
	created := parseTime(r.CreatedAt, now)
	priority := "normal"
	if p, ok := r.Metadata["priority"].(string); ok {
		switch strings.ToLower(p) {
		case "low", "normal", "high":
			priority = strings.ToLower(p)
		}
	}
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return domain.Mission{
		ID:          r.ID,
		Name:        name,
		Description: r.Description,
		Status:      MapMissionStatus(r.Status),
		Priority:    priority,
		Tags:        tags,
		Metadata:    r.Metadata,
		CreatedAt:   created,
		LastUpdate:  parseTime(r.UpdatedAt, created),
	}, true
}

func TaskFromRecord(r domain.TaskRecord, now time.Time) (domain.Task, bool) {
	if r.ID == "" {
		return domain.Task{}, false
	}
	name := r.Name
	if name == "" {
		name = "Unnamed Task"
	}
	created := parseTime(r.CreatedAt, now)
	return domain.Task{
		ID:        r.ID,
		MissionID: r.MissionID,
		Name:      name,
		Kind:      r.Kind,
		Status:    MapTaskStatus(r.Status),
		CreatedAt: created,
		UpdatedAt: parseTime(r.UpdatedAt, created),
	}, true
}

// UnknownRef stands in for a missing task reference.
const UnknownRef = "unknown"

func JobFromRecord(r domain.JobRecord, now time.Time) (domain.Job, bool) {
	if r.ID == "" {
		return domain.Job{}, false
	}
	taskRef := r.TaskID
	if taskRef == "" {
		taskRef = UnknownRef
	}
	payload := r.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	agent, jobType := "agent", "analysis"
	if domain.IsSelfLoopPayload(payload) {
		agent, jobType = "selfloop", "selfloop"
	} else if task, ok := payload["task"].(map[string]any); ok {
		if kind, ok := task["kind"].(string); ok && kind != "" {
			jobType = kind
		}
	}
	status := MapJobStatus(r.Status)
	started := parseTime(r.CreatedAt, now)
	updated := parseTime(r.UpdatedAt, started)
	job := domain.Job{
		ID:        r.ID,
		TaskRef:   taskRef,
		Agent:     agent,
		Type:      jobType,
		Status:    status,
		RawStatus: r.Status,
		StartedAt: started,
		UpdatedAt: updated,
		Payload:   payload,
		Result:    r.Result,
	}
	if (status == domain.JobDone || status == domain.JobError) && r.UpdatedAt != "" {
		finished := updated
		job.FinishedAt = &finished
		if d := finished.Sub(started); d > 0 {
			job.Duration = d
		}
	}
	return job, true
}

// DefaultNodeScore is reported until workers publish their own score.
const DefaultNodeScore = 95

func NodeFromWorker(w domain.WorkerRecord) (domain.MeshNode, bool) {
	if w.WorkerID == "" {
		return domain.MeshNode{}, false
	}
	status := "offline"
	switch strings.ToLower(w.Status) {
	case "online":
		status = "online"
	case "degraded":
		status = "degraded"
	}
	ip, port := splitEndpoint(w.Endpoint)
	endpoints := make([]string, 0, len(w.Capabilities))
	for _, c := range w.Capabilities {
		endpoints = append(endpoints, fmt.Sprintf("%s (%s)", c.Kind, strconv.FormatFloat(c.Cost, 'f', -1, 64)))
	}
	var lastSeen time.Time
	if w.LastSeen > 0 {
		sec := int64(w.LastSeen)
		nsec := int64((w.LastSeen - float64(sec)) * float64(time.Second))
		lastSeen = time.Unix(sec, nsec).UTC()
	}
	return domain.MeshNode{
		ID:        w.WorkerID,
		Name:      w.WorkerID,
		Role:      "worker",
		Status:    status,
		IP:        ip,
		Port:      port,
		Score:     DefaultNodeScore,
		LastSeen:  lastSeen,
		Endpoints: endpoints,
	}, true
}

func splitEndpoint(endpoint string) (string, int) {
	if endpoint == "" {
		return "local", 0
	}
	hostport := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		hostport = u.Host
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func transformAll[R, V any](c *Client, kind string, records []R, fn func(R) (V, bool)) []V {
	out := make([]V, 0, len(records))
	dropped := 0
	for _, r := range records {
		v, ok := fn(r)
		if !ok {
			dropped++
			continue
		}
		out = append(out, v)
	}
	if dropped > 0 {
		c.logger().Debug("dropped records without id", "kind", kind, "count", dropped)
	}
	return out
}

func (c *Client) missions(records []domain.MissionRecord) []domain.Mission {
	now := c.now()
	return transformAll(c, "mission", records, func(r domain.MissionRecord) (domain.Mission, bool) {
		return MissionFromRecord(r, now)
	})
}

func (c *Client) tasks(records []domain.TaskRecord) []domain.Task {
	now := c.now()
	return transformAll(c, "task", records, func(r domain.TaskRecord) (domain.Task, bool) {
		return TaskFromRecord(r, now)
	})
}

func (c *Client) jobs(records []domain.JobRecord) []domain.Job {
	now := c.now()
	return transformAll(c, "job", records, func(r domain.JobRecord) (domain.Job, bool) {
		return JobFromRecord(r, now)
	})
}

func (c *Client) nodes(records []domain.WorkerRecord) []domain.MeshNode {
	return transformAll(c, "worker", records, NodeFromWorker)
}
