// Package tui renders the dashboard in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"sheratan/internal/actionlog"
	"sheratan/internal/app"
	"sheratan/internal/cache"
	"sheratan/internal/domain"
	"sheratan/internal/ops"
)

const (
	maxLogLines    = 8
	maxActionLines = 6
)

type snapshotMsg struct {
	missions []domain.Mission
	status   domain.LiveSystemStatus
	logs     []domain.LogEntry
	loaded   bool
}

type cacheChangedMsg string

type actionsChangedMsg struct{}

type opDoneMsg struct {
	err error
}

type focusDoneMsg []string

type tickMsg time.Time

type model struct {
	ctx  context.Context
	dash *app.Dashboard

	changes <-chan string
	actionC <-chan struct{}

	width  int
	height int

	missions []domain.Mission
	status   domain.LiveSystemStatus
	logs     []domain.LogEntry
	actions  []domain.ActionLogEntry
	loaded   bool
	cursor   int
	busy     bool

	prompting bool
	goal      textinput.Model
	bar       progress.Model

	statusLine string
	now        func() time.Time
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cursorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	barStyle     = lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("236"))
)

func newModel(ctx context.Context, d *app.Dashboard) model {
	goal := textinput.New()
	goal.Prompt = "Goal: "
	goal.Placeholder = "what should the self-loop achieve?"
	goal.CharLimit = 500
	goal.Width = 60

	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 20

	return model{
		ctx:        ctx,
		dash:       d,
		changes:    d.Cache.Subscribe(),
		actionC:    d.Actions.Changed(),
		actions:    d.Actions.Entries(),
		goal:       goal,
		bar:        bar,
		statusLine: "r refresh · s start self-loop · c clear actions · n mark read · q quit",
		now:        time.Now,
	}
}

// Run starts the poller and the terminal UI and blocks until the user quits
// or ctx is done.
func Run(ctx context.Context, d *app.Dashboard) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pollErr := make(chan error, 1)
	go func() { pollErr <- d.Run(ctx) }()

	program := tea.NewProgram(newModel(ctx, d),
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)
	_, err := program.Run()
	cancel()
	if perr := <-pollErr; err == nil && perr != nil && !errors.Is(perr, context.Canceled) {
		err = perr
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		loadCmd(m.ctx, m.dash),
		waitCacheCmd(m.changes),
		waitActionsCmd(m.actionC),
		tickCmd(),
	)
}

func loadCmd(ctx context.Context, d *app.Dashboard) tea.Cmd {
	return func() tea.Msg {
		missions, _ := d.Missions(ctx)
		status, _ := d.LiveStatus(ctx)
		logs, _ := d.LiveLogs(ctx)
		return snapshotMsg{missions: missions, status: status, logs: logs, loaded: true}
	}
}

// peek builds a snapshot from cached values only.
func peek(d *app.Dashboard) snapshotMsg {
	missions, _ := cache.Cached[[]domain.Mission](d.Cache, app.KeyMissions)
	status, ok := cache.Cached[domain.LiveSystemStatus](d.Cache, app.KeyLiveStatus)
	logs, _ := cache.Cached[[]domain.LogEntry](d.Cache, app.KeyLiveLogs)
	return snapshotMsg{missions: missions, status: status, logs: logs, loaded: ok}
}

func waitCacheCmd(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		key, ok := <-ch
		if !ok {
			return nil
		}
		return cacheChangedMsg(key)
	}
}

func waitActionsCmd(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return actionsChangedMsg{}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.goal.Width = max(20, typed.Width-12)
		return m, nil
	case snapshotMsg:
		m.apply(typed)
		return m, nil
	case cacheChangedMsg:
		if typed == app.KeyMissions || typed == app.KeyLiveStatus || typed == app.KeyLiveLogs {
			m.apply(peek(m.dash))
		}
		return m, waitCacheCmd(m.changes)
	case actionsChangedMsg:
		m.actions = m.dash.Actions.Entries()
		return m, waitActionsCmd(m.actionC)
	case opDoneMsg:
		m.busy = false
		if typed.err != nil {
			m.statusLine = errStyle.Render("failed: " + typed.err.Error())
		}
		return m, nil
	case focusDoneMsg:
		if len(typed) > 0 {
			m.statusLine = mutedStyle.Render("refreshed " + strings.Join(typed, ", "))
		}
		return m, nil
	case tea.FocusMsg:
		return m, focusCmd(m.ctx, m.dash)
	case tickMsg:
		return m, tickCmd()
	case tea.KeyMsg:
		if typed.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.prompting {
			return m.updatePrompt(typed)
		}
		return m.updateKeys(typed)
	}
	return m, nil
}

func (m *model) apply(s snapshotMsg) {
	if s.missions != nil {
		m.missions = s.missions
	}
	if s.loaded {
		m.status = s.status
		m.loaded = true
	}
	if s.logs != nil {
		m.logs = s.logs
	}
	if m.cursor >= len(m.missions) {
		m.cursor = max(0, len(m.missions)-1)
	}
}

func (m model) selected() (domain.Mission, bool) {
	if m.cursor < 0 || m.cursor >= len(m.missions) {
		return domain.Mission{}, false
	}
	return m.missions[m.cursor], true
}

func (m model) updateKeys(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "q":
		return m, tea.Quit
	case "j", "down":
		if m.cursor < len(m.missions)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "r":
		m.statusLine = mutedStyle.Render("refreshing...")
		return m, refreshCmd(m.ctx, m.dash)
	case "c":
		m.dash.Actions.Clear()
		m.actions = nil
	case "n":
		m.dash.Notifications.ClearAll()
		m.dash.Cache.Invalidate(app.KeyLiveStatus)
		m.statusLine = mutedStyle.Render("notifications marked read")
	case "s":
		if m.busy {
			m.statusLine = warnStyle.Render("an operation is still running")
			return m, nil
		}
		if _, ok := m.selected(); !ok {
			m.statusLine = warnStyle.Render("select a mission first")
			return m, nil
		}
		m.prompting = true
		m.goal.SetValue("")
		return m, m.goal.Focus()
	}
	return m, nil
}

func (m model) updatePrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "esc":
		m.prompting = false
		m.goal.Blur()
		return m, nil
	case "enter":
		mission, ok := m.selected()
		goal := strings.TrimSpace(m.goal.Value())
		if !ok || goal == "" {
			m.statusLine = warnStyle.Render("goal is required")
			return m, nil
		}
		m.prompting = false
		m.goal.Blur()
		m.busy = true
		m.statusLine = mutedStyle.Render("starting self-loop for " + mission.Name)
		return m, startLoopCmd(m.ctx, m.dash, mission.ID, goal)
	}
	var cmd tea.Cmd
	m.goal, cmd = m.goal.Update(key)
	return m, cmd
}

func refreshCmd(ctx context.Context, d *app.Dashboard) tea.Cmd {
	return func() tea.Msg {
		d.Refresh(ctx)
		return peek(d)
	}
}

func focusCmd(ctx context.Context, d *app.Dashboard) tea.Cmd {
	return func() tea.Msg {
		return focusDoneMsg(d.Focus(ctx))
	}
}

func startLoopCmd(ctx context.Context, d *app.Dashboard, missionID, goal string) tea.Cmd {
	return func() tea.Msg {
		_, err := d.Ops.StartSelfLoop(ctx, ops.StartSelfLoopOptions{MissionID: missionID, Goal: goal})
		return opDoneMsg{err: err}
	}
}

func (m model) View() string {
	sections := []string{
		titleStyle.Render("Sheratan"),
		m.viewStatusBar(),
		"",
		sectionStyle.Render("Missions"),
		m.viewMissions(),
		"",
		sectionStyle.Render("Live logs"),
		m.viewLogs(),
		"",
		sectionStyle.Render("Actions"),
		m.viewActions(),
		"",
	}
	if m.prompting {
		sections = append(sections, m.goal.View(), mutedStyle.Render("enter start · esc cancel"))
	} else {
		sections = append(sections, m.statusLine)
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m model) viewStatusBar() string {
	if !m.loaded {
		return barStyle.Render("connecting...")
	}
	s := m.status
	state := s.SelfLoopState
	switch state {
	case domain.LoopRunning:
		state = okStyle.Render(state)
	case domain.LoopDegraded:
		state = warnStyle.Render(state)
	default:
		state = errStyle.Render(state)
	}
	alerts := fmt.Sprintf("alerts %d", s.UnreadAlerts)
	if s.UnreadAlerts > 0 {
		alerts = warnStyle.Render(alerts)
	}
	return barStyle.Render(strings.Join([]string{
		"self-loop " + state,
		"model " + s.ActiveModel,
		fmt.Sprintf("mesh %d/%d", s.MeshNodesOnline, s.MeshNodesTotal),
		fmt.Sprintf("queue %d", s.JobsInQueue),
		alerts,
		fmt.Sprintf("inbox %d", s.UnreadNotifications),
	}, "  │  "))
}

func (m model) viewMissions() string {
	if len(m.missions) == 0 {
		return mutedStyle.Render("  no missions")
	}
	var b strings.Builder
	for i, ms := range m.missions {
		prefix := "  "
		name := ms.Name
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
			name = cursorStyle.Render(name)
		}
		fmt.Fprintf(&b, "%s%-32s %-10s %s %3d%%  %d/%d jobs\n",
			prefix, name, ms.Status, m.bar.ViewAs(float64(ms.Progress)/100), ms.Progress, ms.JobsCompleted, ms.JobsTotal)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) viewLogs() string {
	if len(m.logs) == 0 {
		return mutedStyle.Render("  no log entries")
	}
	now := m.now()
	lines := make([]string, 0, maxLogLines)
	for i, l := range m.logs {
		if i == maxLogLines {
			break
		}
		level := l.Level
		switch level {
		case domain.LevelError:
			level = errStyle.Render(level)
		case domain.LevelWarn:
			level = warnStyle.Render(level)
		}
		lines = append(lines, fmt.Sprintf("  %-14s %-6s %-6s %s",
			mutedStyle.Render(humanize.RelTime(l.Timestamp, now, "ago", "from now")), level, l.Source, l.Message))
	}
	return strings.Join(lines, "\n")
}

func (m model) viewActions() string {
	if len(m.actions) == 0 {
		return mutedStyle.Render("  nothing yet")
	}
	lines := make([]string, 0, maxActionLines)
	for i, a := range m.actions {
		if i == maxActionLines {
			break
		}
		msg := a.Message
		switch a.Level {
		case actionlog.LevelError:
			msg = errStyle.Render(msg)
		case actionlog.LevelSuccess:
			msg = okStyle.Render(msg)
		case actionlog.LevelWarning:
			msg = warnStyle.Render(msg)
		}
		lines = append(lines, fmt.Sprintf("  %s %s", mutedStyle.Render(a.Timestamp.Format("15:04:05")), msg))
	}
	return strings.Join(lines, "\n")
}
