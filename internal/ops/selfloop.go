package ops

import (
	"context"
	"fmt"
	"strings"

	"sheratan/internal/api"
	"sheratan/internal/derive"
	"sheratan/internal/domain"
)

// SelfLoopTaskDescription describes tasks created by StartSelfLoop.
const SelfLoopTaskDescription = "Autonomous self-loop task for iterative goal achievement"

// SelfLoopTaskName names the task of a self-loop started for goal.
func SelfLoopTaskName(goal string) string {
	r := []rune(goal)
	if len(r) > 30 {
		r = r[:30]
	}
	return "Self-Loop: " + string(r) + "..."
}

// StartSelfLoopOptions are parameters for starting a self-loop.
type StartSelfLoopOptions struct {
	MissionID string
	Goal      string
	LLM       api.SelfLoopOptions
}

// SelfLoopRun lists what a self-loop step created.
type SelfLoopRun struct {
	Task domain.Task
	Job  domain.Job
}

// StartSelfLoop creates a self-loop task, its first iteration job, and
// dispatches the job, in that order. On failure the already created task or
// job is left on the backend and its id is reported in the StepError.
func (s Service) StartSelfLoop(ctx context.Context, opts StartSelfLoopOptions) (SelfLoopRun, error) {
	const op = "start self-loop"
	if err := required("mission id", opts.MissionID); err != nil {
		return SelfLoopRun{}, s.fail(err)
	}
	goal := strings.TrimSpace(opts.Goal)
	if err := required("goal", goal); err != nil {
		return SelfLoopRun{}, s.fail(err)
	}
	if t := opts.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		return SelfLoopRun{}, s.fail(domain.Invalid("temperature", "must be between 0 and 2"))
	}

	var run SelfLoopRun
	s.info("Starting self-loop: " + goal)
	t, err := s.Backend.CreateMissionTask(ctx, api.TaskInput{
		MissionID:   opts.MissionID,
		Name:        SelfLoopTaskName(goal),
		Description: SelfLoopTaskDescription,
		Kind:        "selfloop",
		Params:      map[string]any{},
	})
	if err != nil {
		return run, s.fail(&domain.StepError{Op: op, Step: "create task", Err: err})
	}
	run.Task = t

	payload := api.NewSelfLoopPayload(goal, domain.InitialLoopState(), opts.LLM)
	j, err := s.Backend.CreateTaskJob(ctx, t.ID, payload)
	if err != nil {
		return run, s.fail(&domain.StepError{Op: op, Step: "create job", TaskID: t.ID, Err: err})
	}
	run.Job = j

	if err := s.Backend.DispatchJob(ctx, j.ID); err != nil {
		return run, s.fail(&domain.StepError{Op: op, Step: "dispatch job", TaskID: t.ID, JobID: j.ID, Err: err})
	}
	s.invalidate(KeyJobs, KeyTasks, KeyMissions)
	s.success(fmt.Sprintf("Self-loop started: task %s, job %s", short(t.ID), short(j.ID)))
	return run, nil
}

// ContinueLoopOptions are parameters for the next self-loop iteration.
type ContinueLoopOptions struct {
	TaskID         string
	Goal           string
	Previous       domain.LoopState
	HistorySummary string
	LLM            api.SelfLoopOptions
}

// ContinueLoop creates the next iteration job under the loop's task and
// dispatches it. The previous job is never reopened.
func (s Service) ContinueLoop(ctx context.Context, opts ContinueLoopOptions) (domain.Job, error) {
	const op = "continue self-loop"
	if err := required("task id", opts.TaskID); err != nil {
		return domain.Job{}, s.fail(err)
	}
	goal := strings.TrimSpace(opts.Goal)
	if err := required("goal", goal); err != nil {
		return domain.Job{}, s.fail(err)
	}

	next := derive.NextLoopState(opts.Previous, opts.HistorySummary)
	s.info(fmt.Sprintf("Continuing self-loop: iteration %d", next.Iteration))
	payload := api.NewSelfLoopPayload(goal, next, opts.LLM)
	j, err := s.Backend.CreateTaskJob(ctx, opts.TaskID, payload)
	if err != nil {
		return domain.Job{}, s.fail(&domain.StepError{Op: op, Step: "create job", TaskID: opts.TaskID, Err: err})
	}
	if err := s.Backend.DispatchJob(ctx, j.ID); err != nil {
		return j, s.fail(&domain.StepError{Op: op, Step: "dispatch job", TaskID: opts.TaskID, JobID: j.ID, Err: err})
	}
	s.invalidate(KeyJobs, KeySelfLoopJobs, KeyLoopState)
	s.success(fmt.Sprintf("Iteration %d dispatched: job %s", next.Iteration, short(j.ID)))
	return j, nil
}
