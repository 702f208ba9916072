package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sheratan/internal/app"
	"sheratan/internal/config"
	"sheratan/internal/db"
	"sheratan/internal/domain"
	"sheratan/internal/server"
	"sheratan/internal/tui"
)

func meshCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mesh", Short: "Inspect the worker mesh"}
	cmd.AddCommand(&cobra.Command{
		Use:   "workers",
		Short: "List mesh workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				nodes, err := d.Workers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nodes)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Status", "Address", "Score", "Last seen"})
				for _, n := range nodes {
					addr := ""
					if n.IP != "" {
						addr = fmt.Sprintf("%s:%d", n.IP, n.Port)
					}
					tw.AppendRow(table.Row{n.ID, n.Name, n.Role, n.Status, addr, n.Score, humanize.Time(n.LastSeen)})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "ledger [user-id]",
		Short: "Show a ledger balance (default: the configured ledger user)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var user string
			if len(args) == 1 {
				user = args[0]
			}
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				info, err := d.Client.Ledger(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(info)
				}
				fmt.Printf("%s: %s\n", info.UserID, humanize.FormatFloat("#,###.##", info.Balance))
				if len(info.Transfers) == 0 {
					return nil
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "From", "To", "Amount", "Memo", "At"})
				for _, t := range info.Transfers {
					tw.AppendRow(table.Row{t.ID, t.FromUser, t.ToUser, humanize.FormatFloat("#,###.##", t.Amount), t.Memo, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Browse projects"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				projects, err := d.Projects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Path", "Status", "Files", "Last access"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Path, p.Status, humanize.Comma(int64(p.FileCount)), p.LastAccess})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "files <project-id>",
		Short: "Show the file tree of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				tree := d.Client.ProjectFiles(ctx, args[0])
				if viper.GetBool("json") {
					return printJSON(tree)
				}
				printFileTree(tree, "")
				return nil
			})
		},
	})
	return cmd
}

func printFileTree(nodes []domain.FileNode, prefix string) {
	for i, n := range nodes {
		connector, next := "├── ", prefix+"│   "
		if i == len(nodes)-1 {
			connector, next = "└── ", prefix+"    "
		}
		name := n.Name
		if n.Type == "directory" {
			name += "/"
		}
		fmt.Printf("%s%s%s\n", prefix, connector, name)
		printFileTree(n.Children, next)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the live system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				live, err := d.LiveStatus(ctx)
				if err != nil {
					return err
				}
				core, coreErr := d.CoreStatus(ctx)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"live": live, "core": core})
				}
				coreLine := fmt.Sprintf("%s, %d missions", core.Status, core.Missions)
				if coreErr != nil {
					coreLine = "unavailable: " + coreErr.Error()
				}
				printFields(
					table.Row{"Core", coreLine},
					table.Row{"Self-loop", live.SelfLoopState},
					table.Row{"Model", live.ActiveModel},
					table.Row{"Mesh", fmt.Sprintf("%d/%d online", live.MeshNodesOnline, live.MeshNodesTotal)},
					table.Row{"Queue", live.JobsInQueue},
					table.Row{"Alerts", live.UnreadAlerts},
					table.Row{"Notifications", live.UnreadNotifications},
				)
				return nil
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe backend endpoints and list service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				h, err := d.Health(ctx)
				if err != nil {
					return err
				}
				services := d.Client.Services(ctx)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"probe": h, "services": services})
				}
				fmt.Println("overall:", h.Overall)
				tw := newTable()
				tw.AppendHeader(table.Row{"Endpoint", "Status", "Response", "Error"})
				for _, e := range h.Endpoints {
					tw.AppendRow(table.Row{e.Endpoint, e.Status, formatLatency(e.ResponseTime), e.Error})
				}
				tw.Render()
				if len(services) > 0 {
					st := newTable()
					st.AppendHeader(table.Row{"Service", "Port", "Status", "Uptime", "Last check"})
					for _, s := range services {
						st.AppendRow(table.Row{s.Name, s.Port, s.Status, s.Uptime, s.LastCheck})
					}
					st.Render()
				}
				return nil
			})
		},
	}
}

func formatLatency(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.Round(time.Millisecond).String()
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show backend load metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				m := d.Client.SystemMetrics(ctx)
				if viper.GetBool("json") {
					return printJSON(m)
				}
				printFields(
					table.Row{"CPU", fmt.Sprintf("%.0f%%", m.CPU)},
					table.Row{"Memory", fmt.Sprintf("%.0f%%", m.Memory)},
					table.Row{"Queue", m.QueueLength},
					table.Row{"Error rate", fmt.Sprintf("%.1f%%", m.ErrorRate)},
				)
				return nil
			})
		},
	}
}

func logsCmd() *cobra.Command {
	var level, source string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show log lines derived from recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(cmd.Context(), func(ctx context.Context, d *app.Dashboard) error {
				entries, err := d.LiveLogs(ctx)
				if err != nil {
					return err
				}
				filtered := []domain.LogEntry{}
				for _, e := range entries {
					if (level == "" || e.Level == level) && (source == "" || e.Source == source) {
						filtered = append(filtered, e)
					}
				}
				if viper.GetBool("json") {
					return printJSON(filtered)
				}
				for _, e := range filtered {
					fmt.Printf("%-14s %-5s %-8s %s\n", humanize.Time(e.Timestamp), strings.ToUpper(e.Level), e.Source, e.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "level filter (debug, info, warn, error)")
	cmd.Flags().StringVar(&source, "source", "", "source filter (selfloop, mesh, trader, relay, core)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage sheratan.yml"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})
	return cmd
}

func envCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "env", Short: "Manage the workspace .env file"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a variable in .env",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(viper.GetString("workspace"), ".env")
			return setEnvValue(path, args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List variables in .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := readEnv(filepath.Join(viper.GetString("workspace"), ".env"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(env)
			}
			keys := make([]string, 0, len(env))
			for k := range env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s=%s\n", k, env[k])
			}
			return nil
		},
	})
	return cmd
}

func readEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	return env, err
}

func setEnvValue(path, key, value string) error {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "= \t\n") {
		return fmt.Errorf("invalid key %q", key)
	}
	env, err := readEnv(path)
	if err != nil {
		return err
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func stubCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stub", Short: "Run the local development backend"}
	var addr string
	var seed bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the stub API backed by sqlite in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Stub.Addr
			}
			workspace := viper.GetString("workspace")
			if !cmd.Flags().Changed("workspace") && cfg.Stub.Workspace != "" {
				workspace = cfg.Stub.Workspace
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger(os.Stderr)
			stub, err := server.Start(ctx, server.StubOptions{Workspace: workspace, Addr: addr, Seed: seed, Logger: logger})
			if err != nil {
				return err
			}
			fmt.Printf("Serving Sheratan stub on %s (OpenAPI at %s/openapi.json, docs at %s/docs)\n", stub.URL, stub.URL, stub.URL)

			waitErr := make(chan error, 1)
			go func() { waitErr <- stub.Wait() }()
			select {
			case <-ctx.Done():
			case err := <-waitErr:
				if err != nil {
					return err
				}
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return stub.Close(sctx)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8001)")
	serve.Flags().BoolVar(&seed, "seed", true, "seed workers, projects and ledger data")
	cmd.AddCommand(serve)
	return cmd
}

func dashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Open the live dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := db.EnsureWorkspace(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			f, err := os.OpenFile(filepath.Join(dir, "dash.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			return withDashboardLogger(cmd.Context(), newLogger(f), func(ctx context.Context, d *app.Dashboard) error {
				return tui.Run(ctx, d)
			})
		},
	}
}
