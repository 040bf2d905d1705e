// Package tui provides the interactive operator console for flightops.
package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const (
	modeList    = "list"
	modeDetail  = "detail"
	modeWorkers = "workers"
)

// refreshInterval paces the background refresh of the current view.
const refreshInterval = 2 * time.Second

var filters = []string{"", "queued", "in-progress", "done", "error", "unprocessed"}
var filterNames = []string{"ALL", "QUEUED", "IN PROGRESS", "DONE", "ERROR", "HELD"}

// App is the main TUI application model.
type App struct {
	client       *Client
	plans        []PlanItem
	selectedIdx  int
	workers      []WorkerItem
	workerIdx    int
	input        textinput.Model
	viewport     viewport.Model
	width        int
	height       int
	mode         string
	currentPlan  *PlanDetail
	history      []AuditItem
	stats        *SchedulerStats
	message      string
	filter       string
	filterIdx    int
	loading      bool
	daemonOnline bool
	suggestions  *Suggestions
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: add <file> | retry [id] | drain <worker> | enable <worker> | / for commands"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	vp := viewport.New(80, 20)

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		viewport:    vp,
		mode:        modeList,
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchPlans(),
		a.fetchWorkers(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		typing := a.input.Value() != ""

		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.suggestions.IsVisible() || typing {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, nil
			}
			if a.mode != modeList {
				a.mode = modeList
				a.currentPlan = nil
				a.history = nil
				return a, a.fetchPlans()
			}

		case "up", "k":
			if msg.String() == "k" && typing {
				break
			}
			switch {
			case a.suggestions.IsVisible():
				a.suggestions.Prev()
			case a.mode == modeList && a.selectedIdx > 0:
				a.selectedIdx--
			case a.mode == modeWorkers && a.workerIdx > 0:
				a.workerIdx--
			}
			if msg.String() == "k" {
				return a, nil
			}

		case "down", "j":
			if msg.String() == "j" && typing {
				break
			}
			switch {
			case a.suggestions.IsVisible():
				a.suggestions.Next()
			case a.mode == modeList && a.selectedIdx < len(a.plans)-1:
				a.selectedIdx++
			case a.mode == modeWorkers && a.workerIdx < len(a.workers)-1:
				a.workerIdx++
			}
			if msg.String() == "j" {
				return a, nil
			}

		case "tab":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			if a.mode == modeList {
				a.filterIdx = (a.filterIdx + 1) % len(filters)
				a.filter = filters[a.filterIdx]
				a.selectedIdx = 0
				return a, a.fetchPlans()
			}

		case "enter":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, a.executeCommand(cmd)
			}
			if a.mode == modeList && len(a.plans) > 0 {
				a.mode = modeDetail
				return a, a.fetchPlanDetail(a.plans[a.selectedIdx].ID)
			}
			return a, nil

		case "ctrl+r":
			return a, a.refresh()

		case "ctrl+t":
			// Retry the plan under the cursor
			if id := a.selectedPlanID(); id > 0 {
				return a, a.retryPlan(id)
			}
			return a, nil

		case "ctrl+w":
			a.mode = modeWorkers
			return a, tea.Batch(a.fetchWorkers(), a.fetchStats())

		case "ctrl+d", "ctrl+e":
			if a.mode == modeWorkers && len(a.workers) > 0 {
				availability := "busy"
				if msg.String() == "ctrl+e" {
					availability = "available"
				}
				return a, a.setWorker(a.workers[a.workerIdx].ID, availability)
			}
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - 10

	case plansLoadedMsg:
		a.loading = false
		a.daemonOnline = true
		a.plans = msg.plans
		a.suggestions.SetPlans(a.plans)
		if a.selectedIdx >= len(a.plans) {
			a.selectedIdx = max(0, len(a.plans)-1)
		}

	case planDetailLoadedMsg:
		a.currentPlan = msg.plan
		a.history = msg.history

	case workersFetchedMsg:
		a.workers = msg.workers
		a.suggestions.SetWorkers(a.workers)
		if a.workerIdx >= len(a.workers) {
			a.workerIdx = max(0, len(a.workers)-1)
		}

	case statsFetchedMsg:
		a.stats = msg.stats

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case modeMsg:
		a.mode = msg.mode
		return a, a.refresh()

	case tickMsg:
		return a, tea.Batch(a.refresh(), a.checkDaemon(), a.tickCmd())

	case commandResultMsg:
		a.message = msg.message
		return a, a.refresh()

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	// Update input
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion() {
	if selected := a.suggestions.Selected(); selected != nil {
		a.input.SetValue(selected.Text + " ")
		a.input.CursorEnd()
		a.suggestions.Update("")
	}
}

// selectedPlanID is the plan under the cursor, or the open plan in detail view.
func (a *App) selectedPlanID() int64 {
	switch a.mode {
	case modeDetail:
		if a.currentPlan != nil {
			return a.currentPlan.ID
		}
	case modeList:
		if len(a.plans) > 0 {
			return a.plans[a.selectedIdx].ID
		}
	}
	return 0
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("FLIGHTOPS Console")
	header += "  " + daemonStatus
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(a.poolSummary())
	if a.stats != nil && a.stats.Running {
		header += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render(
			fmt.Sprintf("[%d dispatching, %d done, %d failed]", a.stats.ActiveDispatches, a.stats.Completed, a.stats.Failed))
	}

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	// Main content area
	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case modeList:
		filterLabel := fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(filterLabel) + "\n")
		b.WriteString(a.renderPlanList(contentHeight - 1))
	case modeDetail:
		b.WriteString(renderPlanDetail(a.currentPlan, a.history, contentHeight))
	case modeWorkers:
		b.WriteString(a.renderWorkersPanel(contentHeight))
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	// Input box
	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeList:
		status = fmt.Sprintf(" Plans: %d | ↑↓:nav | Enter:open | Tab:filter | ^T:retry | ^W:workers | ^R:refresh | ^C:quit", len(a.plans))
	case modeWorkers:
		status = fmt.Sprintf(" Workers: %d | ↑↓:nav | ^D:drain | ^E:enable | Esc:back", len(a.workers))
	default:
		status = " Esc:back | ^T:retry | ^R:refresh | ^C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) poolSummary() string {
	free := 0
	for _, w := range a.workers {
		if w.Availability == "available" {
			free++
		}
	}
	return fmt.Sprintf("[%d/%d workers free]", free, len(a.workers))
}

func (a *App) renderPlanList(height int) string {
	if a.loading && len(a.plans) == 0 {
		return "\n  Loading plans...\n"
	}
	if len(a.plans) == 0 {
		return "\n  No plans found. Type: add <file> to enqueue one.\n"
	}

	var lines []string
	for i, plan := range a.plans {
		worker := ""
		if plan.WorkerID > 0 {
			worker = fmt.Sprintf("  → worker %d", plan.WorkerID)
		}
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(
				fmt.Sprintf("▶ #%-5d %s  %s%s", plan.ID, formatStatusPlain(plan.Status), plan.Name, worker)))
		} else {
			lines = append(lines, itemStyle.Render(
				fmt.Sprintf("  #%-5d %s  %s%s", plan.ID, formatStatus(plan.Status), plan.Name, worker)))
		}
	}

	// Limit visible lines
	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}

func (a *App) renderWorkersPanel(height int) string {
	var b strings.Builder

	b.WriteString("\n  Worker Pool\n")
	b.WriteString("  " + strings.Repeat("─", 60) + "\n")

	if len(a.workers) == 0 {
		b.WriteString("  " + lipgloss.NewStyle().Foreground(mutedColor).Render("No workers registered") + "\n")
		b.WriteString("  Type: worker add <name> <address>\n")
		return b.String()
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
	b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		headerStyle.Render(fmt.Sprintf("%-5s", "ID")),
		headerStyle.Render(fmt.Sprintf("%-16s", "NAME")),
		headerStyle.Render(fmt.Sprintf("%-28s", "ADDRESS")),
		headerStyle.Render(fmt.Sprintf("%-10s", "STATE")),
	))

	for i, w := range a.workers {
		if i >= height-4 {
			b.WriteString(helpStyle.Render(fmt.Sprintf("  ... and %d more", len(a.workers)-i)) + "\n")
			break
		}
		state := lipgloss.NewStyle().Foreground(successColor).Render(fmt.Sprintf("%-10s", w.Availability))
		if w.Availability != "available" {
			state = lipgloss.NewStyle().Foreground(warningColor).Render(fmt.Sprintf("%-10s", w.Availability))
		}
		line := fmt.Sprintf("%-5d  %-16s  %-28s  ", w.ID, truncate(w.Name, 16), truncate(w.Address, 28))
		if i == a.workerIdx {
			b.WriteString(selectedStyle.Render("▶ "+line) + state + "\n")
		} else {
			b.WriteString("  " + line + state + "\n")
		}
	}

	if a.stats != nil {
		b.WriteString(fmt.Sprintf("\n  Reservations: %d  Completed: %d  Failed: %d  Requeued: %d  Next tick: %s\n",
			a.stats.Reservations, a.stats.Completed, a.stats.Failed, a.stats.Requeued, a.stats.NextInterval))
	}

	return b.String()
}

func formatStatus(status string) string {
	switch status {
	case "unprocessed":
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ HELD")
	case "queued":
		return lipgloss.NewStyle().Foreground(warningColor).Render("◐ QUEUED")
	case "in-progress":
		return lipgloss.NewStyle().Foreground(secondaryColor).Render("◑ FLYING")
	case "done":
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE")
	case "error":
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ ERROR")
	default:
		return status
	}
}

func formatStatusPlain(status string) string {
	switch status {
	case "unprocessed":
		return "○"
	case "queued":
		return "◐"
	case "in-progress":
		return "◑"
	case "done":
		return "●"
	case "error":
		return "✗"
	default:
		return "?"
	}
}

// --- Commands ---

func (a *App) refresh() tea.Cmd {
	switch a.mode {
	case modeDetail:
		if a.currentPlan != nil {
			return tea.Batch(a.fetchPlanDetail(a.currentPlan.ID), a.fetchStats())
		}
	case modeWorkers:
		return tea.Batch(a.fetchWorkers(), a.fetchStats())
	}
	return tea.Batch(a.fetchPlans(), a.fetchWorkers(), a.fetchStats())
}

func (a *App) fetchPlans() tea.Cmd {
	a.loading = true
	filter := a.filter
	return func() tea.Msg {
		plans, err := a.client.ListPlans(filter)
		if err != nil {
			return errMsg{err}
		}
		return plansLoadedMsg{plans}
	}
}

func (a *App) fetchPlanDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		plan, err := a.client.GetPlan(id)
		if err != nil {
			return errMsg{err}
		}
		history, _ := a.client.GetPlanAudit(id, 10)
		return planDetailLoadedMsg{plan, history}
	}
}

func (a *App) fetchWorkers() tea.Cmd {
	return func() tea.Msg {
		workers, err := a.client.ListWorkers()
		if err != nil {
			return errMsg{err}
		}
		return workersFetchedMsg{workers}
	}
}

func (a *App) fetchStats() tea.Cmd {
	return func() tea.Msg {
		stats, err := a.client.GetStats()
		if err != nil {
			return errMsg{err}
		}
		return statsFetchedMsg{stats}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) retryPlan(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.client.RetryPlan(id); err != nil {
			return commandResultMsg{"Error: " + err.Error()}
		}
		return commandResultMsg{fmt.Sprintf("✓ Plan #%d requeued", id)}
	}
}

func (a *App) setWorker(id int64, availability string) tea.Cmd {
	return func() tea.Msg {
		if err := a.client.SetWorkerAvailability(id, availability); err != nil {
			return commandResultMsg{"Error: " + err.Error()}
		}
		return commandResultMsg{fmt.Sprintf("✓ Worker %d is %s", id, availability)}
	}
}

// parseRef accepts "12" or "@12".
func parseRef(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "@"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(strings.TrimLeft(input, "/!"))
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]
	selected := a.selectedPlanID()

	switch cmd {
	case "add":
		if len(args) < 1 {
			return result("Usage: add <file> [name]")
		}
		return func() tea.Msg {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			name := filepath.Base(args[0])
			if len(args) > 1 {
				name = strings.Join(args[1:], " ")
			}
			id, err := a.client.CreatePlan(name, string(data))
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Queued plan #%d", id)}
		}

	case "retry":
		id := selected
		if len(args) > 0 {
			var err error
			if id, err = parseRef(args[0]); err != nil {
				return result("Error: " + err.Error())
			}
		}
		if id == 0 {
			return result("No plan selected")
		}
		return a.retryPlan(id)

	case "retry-failed":
		return func() tea.Msg {
			failed, err := a.client.ListPlans("error")
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			for _, p := range failed {
				if err := a.client.RetryPlan(p.ID); err != nil {
					return commandResultMsg{fmt.Sprintf("Error: plan #%d: %v", p.ID, err)}
				}
			}
			return commandResultMsg{fmt.Sprintf("✓ Requeued %d failed plans", len(failed))}
		}

	case "refresh":
		return a.refresh()

	case "drain", "enable":
		if len(args) < 1 {
			return result(fmt.Sprintf("Usage: %s <worker-id>", cmd))
		}
		id, err := parseRef(args[0])
		if err != nil {
			return result("Error: " + err.Error())
		}
		availability := "busy"
		if cmd == "enable" {
			availability = "available"
		}
		return a.setWorker(id, availability)

	case "worker":
		if len(args) >= 3 && args[0] == "add" {
			name, address := args[1], args[2]
			return func() tea.Msg {
				if err := a.client.AddWorker(name, address); err != nil {
					return commandResultMsg{"Error: " + err.Error()}
				}
				return commandResultMsg{fmt.Sprintf("✓ Added worker %s", name)}
			}
		}
		if len(args) >= 2 && args[0] == "rm" {
			id, err := parseRef(args[1])
			if err != nil {
				return result("Error: " + err.Error())
			}
			return func() tea.Msg {
				if err := a.client.RemoveWorker(id); err != nil {
					return commandResultMsg{"Error: " + err.Error()}
				}
				return commandResultMsg{fmt.Sprintf("✓ Removed worker %d", id)}
			}
		}
		return result("Usage: worker add <name> <address> | worker rm <id>")

	case "workers":
		return func() tea.Msg { return modeMsg{modeWorkers} }

	case "plans":
		return func() tea.Msg { return modeMsg{modeList} }

	case "q", "quit", "exit":
		return tea.Quit

	default:
		return result(fmt.Sprintf("Unknown: %s (try: add, retry, drain, enable, worker)", cmd))
	}
}

func result(message string) tea.Cmd {
	return func() tea.Msg { return commandResultMsg{message} }
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type plansLoadedMsg struct {
	plans []PlanItem
}

type planDetailLoadedMsg struct {
	plan    *PlanDetail
	history []AuditItem
}

type workersFetchedMsg struct {
	workers []WorkerItem
}

type statsFetchedMsg struct {
	stats *SchedulerStats
}

type daemonStatusMsg struct {
	online bool
}

type modeMsg struct {
	mode string
}

type tickMsg time.Time
