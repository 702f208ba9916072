package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sheratan/internal/api"
	"sheratan/internal/app"
	"sheratan/internal/derive"
	"sheratan/internal/domain"
	"sheratan/internal/ops"
)

func missionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mission", Short: "Manage missions"}
	cmd.AddCommand(missionListCmd())
	cmd.AddCommand(missionShowCmd())
	cmd.AddCommand(missionCreateCmd())
	cmd.AddCommand(missionDeleteCmd())
	cmd.AddCommand(missionJobsCmd())
	cmd.AddCommand(missionTreeCmd())
	return cmd
}

func missionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List missions with job progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				missions, err := d.Missions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(missions)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Priority", "Progress", "Created"})
				for _, m := range missions {
					progress := fmt.Sprintf("%d%% (%d/%d)", m.Progress, m.JobsCompleted, m.JobsTotal)
					tw.AppendRow(table.Row{shortID(m.ID), m.Name, m.Status, m.Priority, progress, humanize.Time(m.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func missionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				m, err := d.Mission(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				printFields(
					table.Row{"ID", m.ID},
					table.Row{"Name", m.Name},
					table.Row{"Description", m.Description},
					table.Row{"Status", m.Status},
					table.Row{"Priority", m.Priority},
					table.Row{"Progress", fmt.Sprintf("%d%% (%d/%d jobs)", m.Progress, m.JobsCompleted, m.JobsTotal)},
					table.Row{"Tags", strings.Join(m.Tags, ", ")},
					table.Row{"Created", humanize.Time(m.CreatedAt)},
					table.Row{"Updated", humanize.Time(m.LastUpdate)},
				)
				return nil
			})
		},
	}
}

func missionCreateCmd() *cobra.Command {
	var opts ops.MissionCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				m, err := d.Ops.CreateMission(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Println(m.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "mission title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "mission description")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	return cmd
}

func missionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <mission-id>",
		Short: "Delete a mission with its tasks and jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				return d.Ops.DeleteMission(ctx, args[0])
			})
		},
	}
}

func missionJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <mission-id>",
		Short: "List the jobs of a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				jobs, err := d.MissionJobs(ctx, args[0])
				if err != nil {
					return err
				}
				return printJobs(jobs)
			})
		},
	}
}

func missionTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <mission-id>",
		Short: "Show a mission's tasks with their jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				nodes, err := d.TaskTree(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nodes)
				}
				for i, n := range nodes {
					printTaskTree(n, i == len(nodes)-1)
				}
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskCreateCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var missionID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				var (
					tasks []domain.Task
					err   error
				)
				if missionID != "" {
					tasks, err = d.MissionTasks(ctx, missionID)
				} else {
					tasks, err = d.Tasks(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Mission", "Name", "Kind", "Status", "Created"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{shortID(t.ID), shortID(t.MissionID), t.Name, t.Kind, t.Status, humanize.Time(t.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&missionID, "mission", "", "mission filter")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts ops.TaskCreateOptions
	var params string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task under a mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			if params != "" {
				if err := json.Unmarshal([]byte(params), &opts.Params); err != nil {
					return fmt.Errorf("--params: %w", err)
				}
			}
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				t, err := d.Ops.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Println(t.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.MissionID, "mission", "", "mission id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "task kind")
	cmd.Flags().StringVar(&params, "params", "", "task params as a JSON object")
	return cmd
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "job", Short: "Manage jobs"}
	cmd.AddCommand(jobListCmd())
	cmd.AddCommand(jobShowCmd())
	cmd.AddCommand(jobKindsCmd())
	cmd.AddCommand(jobAddCmd())
	cmd.AddCommand(jobDispatchCmd())
	cmd.AddCommand(jobSyncCmd())
	cmd.AddCommand(jobDeleteCmd())
	return cmd
}

func jobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				jobs, err := d.Jobs(ctx)
				if err != nil {
					return err
				}
				return printJobs(jobs)
			})
		},
	}
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its payload and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				j, err := d.Job(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(j)
				}
				payload, _ := json.MarshalIndent(j.Payload, "", "  ")
				rows := []table.Row{
					{"ID", j.ID},
					{"Task", j.TaskRef},
					{"Type", j.Type},
					{"Status", fmt.Sprintf("%s (%s)", j.Status, j.RawStatus)},
					{"Agent", j.Agent},
					{"Started", humanize.Time(j.StartedAt)},
					{"Duration", formatDuration(j.Duration)},
					{"Payload", string(payload)},
				}
				if j.Result != nil {
					rows = append(rows, table.Row{"Result", derive.ResultText(j.Result)})
				}
				printFields(rows...)
				return nil
			})
		},
	}
}

func jobKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List job kinds and their parameter templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(ops.JobKinds)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Kind", "Label", "Params template"})
			for _, k := range ops.JobKinds {
				tw.AppendRow(table.Row{k.Kind, k.Label, k.Template})
			}
			tw.Render()
			return nil
		},
	}
}

func jobAddCmd() *cobra.Command {
	var opts ops.AddJobOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a job to a mission, creating a task when --task is not given",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("params") {
				opts.ParamsJSON = ops.ParamsTemplate(opts.Kind)
			}
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				if opts.TaskID == "" && opts.MissionName == "" && opts.MissionID != "" {
					if m, err := d.Mission(ctx, opts.MissionID); err == nil {
						opts.MissionName = m.Name
					}
				}
				res, err := d.Ops.AddJob(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(res.Job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.MissionID, "mission", "", "mission id")
	cmd.Flags().StringVar(&opts.TaskID, "task", "", "existing task id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name of the created task")
	cmd.Flags().StringVar(&opts.Kind, "kind", "list_files", "job kind (see 'shr job kinds')")
	cmd.Flags().StringVar(&opts.ParamsJSON, "params", "", "job params as a JSON object (default: the kind's template)")
	cmd.Flags().BoolVar(&opts.Dispatch, "dispatch", false, "dispatch the job after creating it")
	return cmd
}

func jobDispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <job-id>",
		Short: "Send a job to the mesh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				return d.Ops.DispatchJob(ctx, args[0])
			})
		},
	}
}

func jobSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <job-id>",
		Short: "Pull a job's latest state from its worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				j, err := d.Ops.SyncJob(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(j)
				}
				return nil
			})
		},
	}
}

func jobDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				return d.Ops.DeleteJob(ctx, args[0])
			})
		},
	}
}

func selfLoopCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "selfloop", Short: "Drive the self-loop agent"}
	cmd.AddCommand(selfLoopStartCmd())
	cmd.AddCommand(selfLoopContinueCmd())
	cmd.AddCommand(selfLoopStateCmd())
	cmd.AddCommand(selfLoopJobsCmd())
	cmd.AddCommand(selfLoopParseCmd())
	return cmd
}

func llmFlags(cmd *cobra.Command, opts *api.SelfLoopOptions, temperature *float64) {
	cmd.Flags().StringVar(&opts.ModelHint, "model", "", "model hint (default gpt-4o)")
	cmd.Flags().Float64Var(temperature, "temperature", 0.3, "sampling temperature, 0 to 2")
}

func llmOptions(cmd *cobra.Command, opts api.SelfLoopOptions, temperature float64) api.SelfLoopOptions {
	if cmd.Flags().Changed("temperature") {
		opts.Temperature = &temperature
	}
	return opts
}

func selfLoopStartCmd() *cobra.Command {
	var opts ops.StartSelfLoopOptions
	var temperature float64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a self-loop on a mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.LLM = llmOptions(cmd, opts.LLM, temperature)
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				run, err := d.Ops.StartSelfLoop(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				fmt.Printf("task %s\njob  %s\n", run.Task.ID, run.Job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.MissionID, "mission", "", "mission id")
	cmd.Flags().StringVar(&opts.Goal, "goal", "", "goal of the loop")
	llmFlags(cmd, &opts.LLM, &temperature)
	return cmd
}

func selfLoopContinueCmd() *cobra.Command {
	var missionID string
	var opts ops.ContinueLoopOptions
	var temperature float64
	cmd := &cobra.Command{
		Use:   "continue",
		Short: "Create and dispatch the next iteration of a mission's self-loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.LLM = llmOptions(cmd, opts.LLM, temperature)
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				jobs, err := d.SelfLoopJobs(ctx, missionID)
				if err != nil {
					return err
				}
				latest, ok := derive.LatestLoopJob(jobs)
				if !ok {
					return fmt.Errorf("mission %s has no self-loop iteration to continue", missionID)
				}
				if opts.TaskID == "" {
					opts.TaskID = latest.TaskRef
				}
				if opts.Goal == "" {
					opts.Goal, _ = latest.Payload["goal"].(string)
				}
				opts.Previous, _ = latest.LoopState()
				j, err := d.Ops.ContinueLoop(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(j)
				}
				fmt.Println(j.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&missionID, "mission", "", "mission id")
	cmd.Flags().StringVar(&opts.TaskID, "task", "", "self-loop task id (default: task of the latest iteration)")
	cmd.Flags().StringVar(&opts.Goal, "goal", "", "goal (default: goal of the latest iteration)")
	cmd.Flags().StringVar(&opts.HistorySummary, "summary", "", "history summary carried into the next iteration")
	llmFlags(cmd, &opts.LLM, &temperature)
	_ = cmd.MarkFlagRequired("mission")
	return cmd
}

func selfLoopStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <mission-id>",
		Short: "Show the latest loop state of a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				state, ok, err := d.LoopState(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"found": ok, "state": state})
				}
				if !ok {
					fmt.Println("no self-loop state yet")
					return nil
				}
				printFields(
					table.Row{"Iteration", fmt.Sprintf("%d/%d", derive.DisplayIteration(state.Iteration), derive.MaxDisplayIteration)},
					table.Row{"History", state.HistorySummary},
					table.Row{"Open questions", strings.Join(state.OpenQuestions, "\n")},
					table.Row{"Constraints", strings.Join(state.Constraints, "\n")},
				)
				return nil
			})
		},
	}
}

func selfLoopJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <mission-id>",
		Short: "List the self-loop iterations of a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				jobs, err := d.SelfLoopJobs(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Job", "Iteration", "Status", "Started", "Summary"})
				for _, j := range jobs {
					state, _ := j.LoopState()
					tw.AppendRow(table.Row{shortID(j.ID), state.Iteration, j.Status, humanize.Time(j.StartedAt), state.HistorySummary})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func selfLoopParseCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Split a self-loop result text into its A) to D) sections",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(file)
			if err != nil {
				return err
			}
			sections, ok := derive.ParseSections(text)
			if !ok {
				return fmt.Errorf("no labelled sections found")
			}
			if viper.GetBool("json") {
				return printJSON(sections)
			}
			printFields(
				table.Row{"A) Standortanalyse", sections.A},
				table.Row{"B) Nächster Schritt", sections.B},
				table.Row{"C) Umsetzung", sections.C},
				table.Row{"D) Nächster Loop", sections.D},
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file to read (default stdin)")
	return cmd
}

func quickStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "Run the standard code analysis shortcut",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				res, err := d.Ops.QuickStart(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func printJobs(jobs []domain.Job) error {
	if viper.GetBool("json") {
		return printJSON(jobs)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Task", "Type", "Status", "Agent", "Started", "Duration"})
	for _, j := range jobs {
		tw.AppendRow(table.Row{shortID(j.ID), shortID(j.TaskRef), j.Type, j.Status, j.Agent, humanize.Time(j.StartedAt), formatDuration(j.Duration)})
	}
	tw.Render()
	return nil
}

func printTaskTree(n derive.TaskNode, last bool) {
	connector := "├── "
	prefix := "│   "
	if last {
		connector = "└── "
		prefix = "    "
	}
	fmt.Printf("%s%s [%s]\n", connector, n.Task.Name, n.State)
	for i, j := range n.Jobs {
		c := "├── "
		if i == len(n.Jobs)-1 {
			c = "└── "
		}
		fmt.Printf("%s%s%s %s [%s]\n", prefix, c, shortID(j.ID), j.Type, j.Status)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.Round(time.Second).String()
}
