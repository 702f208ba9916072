package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sheratan/internal/actionlog"
	"sheratan/internal/app"
	"sheratan/internal/config"
	"sheratan/internal/domain"
	"sheratan/internal/telemetry"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "shr",
	Short: "Sheratan orchestration client",
	Long: `shr talks to the Sheratan core and PoC backends.
- Missions group tasks; tasks group jobs; jobs are what workers run.
- The self-loop agent works on a goal in iterations, each one a job under the same task.
- The mesh is the pool of worker nodes; the ledger keeps their token balances.
- 'shr dash' opens the live dashboard; 'shr stub serve' runs a local backend to play against.
Backend URLs come from sheratan.yml in the workspace, SHERATAN_CORE_URL / SHERATAN_POC_URL, or .env.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHERATAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/sheratan.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("core-url", "", "core backend URL")
	flags.String("poc-url", "", "PoC backend URL")
	flags.String("ledger-user", "", "mesh ledger user")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "json", "core-url", "poc-url", "ledger-user", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(selfLoopCmd())
	rootCmd.AddCommand(quickStartCmd())
	rootCmd.AddCommand(meshCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(envCmd())
	rootCmd.AddCommand(stubCmd())
	rootCmd.AddCommand(dashCmd())
}

// --- helpers ---

// loadConfig reads the workspace config, then applies flag and environment
// overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	for _, name := range []string{config.BackendCore, config.BackendPoC} {
		if u := viper.GetString(name + "-url"); u != "" {
			cfg.Backends[name] = config.Backend{URL: u}
		}
	}
	if u := viper.GetString("ledger-user"); u != "" {
		cfg.LedgerUser = u
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func withDashboard(ctx context.Context, fn func(context.Context, *app.Dashboard) error) error {
	return withDashboardLogger(ctx, newLogger(os.Stderr), fn)
}

func withDashboardLogger(ctx context.Context, logger *slog.Logger, fn func(context.Context, *app.Dashboard) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()
	d, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	err = fn(ctx, d)
	if !viper.GetBool("json") {
		printActions(os.Stderr, d.Actions.Entries())
	}
	return err
}

// printActions writes the action log oldest first.
func printActions(w io.Writer, entries []domain.ActionLogEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		mark := "·"
		switch e.Level {
		case actionlog.LevelSuccess:
			mark = "✓"
		case actionlog.LevelError:
			mark = "✗"
		case actionlog.LevelWarning:
			mark = "!"
		}
		fmt.Fprintf(w, "%s %s %s\n", e.Timestamp.Format("15:04:05"), mark, e.Message)
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

// printFields renders label/value pairs as a two-column table.
func printFields(rows ...table.Row) {
	tw := newTable()
	for _, r := range rows {
		tw.AppendRow(r)
	}
	tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}
