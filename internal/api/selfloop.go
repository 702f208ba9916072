package api

import (
	"context"
	"net/http"

	"sheratan/internal/derive"
	"sheratan/internal/domain"
)

// LLMOptions select the model used by a self-loop iteration.
type LLMOptions struct {
	Mode        string  `json:"mode"`
	ModelHint   string  `json:"model_hint,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type InputContext struct {
	CoreData    string `json:"core_data,omitempty"`
	CurrentTask string `json:"current_task,omitempty"`
}

// SelfLoopPayload is posted to /tasks/{id}/jobs to run one loop iteration.
type SelfLoopPayload struct {
	JobType      string           `json:"job_type"`
	Goal         string           `json:"goal"`
	LoopState    domain.LoopState `json:"loop_state"`
	LLM          LLMOptions       `json:"llm"`
	InputContext InputContext     `json:"input_context"`
}

// SelfLoopOptions override the defaults of NewSelfLoopPayload.
type SelfLoopOptions struct {
	ModelHint   string
	Temperature *float64
}

// NewSelfLoopPayload builds the payload for goal at state.
func NewSelfLoopPayload(goal string, state domain.LoopState, opts SelfLoopOptions) SelfLoopPayload {
	hint := opts.ModelHint
	if hint == "" {
		hint = "gpt-4o"
	}
	temp := 0.3
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	if state.OpenQuestions == nil {
		state.OpenQuestions = []string{}
	}
	if state.Constraints == nil {
		state.Constraints = []string{}
	}
	return SelfLoopPayload{
		JobType:   domain.SelfLoopJobType,
		Goal:      goal,
		LoopState: state,
		LLM: LLMOptions{
			Mode:        "relay",
			ModelHint:   hint,
			Temperature: temp,
			MaxTokens:   1200,
		},
		InputContext: InputContext{
			CoreData:    "Relevant project context",
			CurrentTask: goal,
		},
	}
}

// CreateSelfLoopJob creates one self-loop iteration job under taskID.
func (c *Client) CreateSelfLoopJob(ctx context.Context, taskID string, p SelfLoopPayload) (domain.Job, error) {
	return c.CreateTaskJob(ctx, taskID, p)
}

// QuickStart runs the backend's standard code analysis shortcut, which
// creates a mission, a task and usually a dispatched job in one call.
func (c *Client) QuickStart(ctx context.Context) (domain.QuickStartResult, error) {
	var res domain.QuickStartResult
	if err := c.do(ctx, OpQuickStart, http.MethodPost, "/missions/standard-code-analysis", nil, &res); err != nil {
		return domain.QuickStartResult{}, err
	}
	if res.Mission.ID == "" {
		return domain.QuickStartResult{}, domain.Malformed("quick start result", "", "missing mission id")
	}
	return res, nil
}

// SelfLoopJobs returns the mission's jobs that carry a loop state.
func (c *Client) SelfLoopJobs(ctx context.Context, missionID string) []domain.Job {
	tasks := c.ListTasks(ctx)
	jobs := c.ListJobs(ctx)
	return derive.SelfLoopJobs(missionID, tasks, jobs)
}

// LatestLoopState returns the most advanced finished loop state of a mission.
func (c *Client) LatestLoopState(ctx context.Context, missionID string) (domain.LoopState, bool) {
	return derive.LatestLoopState(c.SelfLoopJobs(ctx, missionID))
}
