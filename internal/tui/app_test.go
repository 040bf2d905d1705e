package tui

import (
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+t":
		return tea.KeyMsg{Type: tea.KeyCtrlT}
	case "ctrl+w":
		return tea.KeyMsg{Type: tea.KeyCtrlW}
	case "ctrl+d":
		return tea.KeyMsg{Type: tea.KeyCtrlD}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// loadedApp returns an app that has already received the plan list.
func loadedApp(t *testing.T) (*App, *fakeAPI) {
	t.Helper()
	f, srv := newFakeAPI(t)
	a := New(srv.URL)
	a.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	a.Update(a.fetchPlans()())
	a.Update(a.fetchWorkers()())
	require.Len(t, a.plans, 2)
	return a, f
}

func TestApp_Navigation(t *testing.T) {
	a, _ := loadedApp(t)

	a.Update(key("down"))
	assert.Equal(t, 1, a.selectedIdx)
	a.Update(key("down"))
	assert.Equal(t, 1, a.selectedIdx, "cursor stops at the last plan")
	a.Update(key("k"))
	assert.Equal(t, 0, a.selectedIdx)
	assert.Empty(t, a.input.Value(), "navigation keys are not typed")

	_, cmd := a.Update(key("enter"))
	assert.Equal(t, modeDetail, a.mode)
	require.NotNil(t, cmd)

	a.Update(cmd())
	require.NotNil(t, a.currentPlan)
	assert.Equal(t, "survey.plan", a.currentPlan.Name)
	assert.Len(t, a.history, 1)
	assert.Contains(t, a.View(), "#1 survey.plan")

	a.Update(key("esc"))
	assert.Equal(t, modeList, a.mode)
	assert.Nil(t, a.currentPlan)
}

func TestApp_FilterCycle(t *testing.T) {
	a, _ := loadedApp(t)

	a.Update(key("tab"))
	assert.Equal(t, "queued", a.filter)
	assert.Contains(t, a.View(), "Filter: [QUEUED]")

	for range len(filters) - 1 {
		a.Update(key("tab"))
	}
	assert.Equal(t, "", a.filter)
}

func TestApp_RetryKey(t *testing.T) {
	a, f := loadedApp(t)

	a.Update(key("down"))
	_, cmd := a.Update(key("ctrl+t"))
	require.NotNil(t, cmd)

	msg := cmd()
	assert.Equal(t, commandResultMsg{"✓ Plan #2 requeued"}, msg)
	assert.Equal(t, []string{"queue 2"}, f.recorded())
}

func TestApp_WorkersView(t *testing.T) {
	a, f := loadedApp(t)

	a.Update(key("ctrl+w"))
	assert.Equal(t, modeWorkers, a.mode)
	assert.Contains(t, a.View(), "sim-2")
	assert.Contains(t, a.View(), "[1/2 workers free]")

	a.Update(key("down"))
	_, cmd := a.Update(key("ctrl+d"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{`status 4 {"availability":"busy"}`}, f.recorded())
}

func TestApp_Commands(t *testing.T) {
	a, f := loadedApp(t)

	file := filepath.Join(t.TempDir(), "mission.plan")
	require.NoError(t, os.WriteFile(file, []byte("WP 1"), 0o600))

	tests := []struct {
		input string
		want  string
		call  string
	}{
		{input: "add " + file, want: "✓ Queued plan #42", call: "create mission.plan WP 1"},
		{input: "add " + file + " night survey", want: "✓ Queued plan #42", call: "create night survey WP 1"},
		{input: "add", want: "Usage: add <file> [name]"},
		{input: "retry @7", want: "✓ Plan #7 requeued", call: "queue 7"},
		{input: "retry x", want: `Error: invalid id "x"`},
		{input: "!retry-failed", want: "✓ Requeued 1 failed plans", call: "queue 7"},
		{input: "enable 3", want: "✓ Worker 3 is available", call: `status 3 {"availability":"available"}`},
		{input: "worker rm 4", want: "✓ Removed worker 4", call: "delete 4"},
		{input: "worker", want: "Usage: worker add <name> <address> | worker rm <id>"},
		{input: "launch", want: "Unknown: launch (try: add, retry, drain, enable, worker)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			before := len(f.recorded())
			cmd := a.executeCommand(tt.input)
			require.NotNil(t, cmd)
			assert.Equal(t, commandResultMsg{tt.want}, cmd())

			calls := f.recorded()[before:]
			if tt.call == "" {
				assert.Empty(t, calls)
			} else {
				assert.Equal(t, []string{tt.call}, calls)
			}
		})
	}
}

func TestApp_ModeCommand(t *testing.T) {
	a, _ := loadedApp(t)

	msg := a.executeCommand("/workers")()
	assert.Equal(t, modeMsg{modeWorkers}, msg)
	a.Update(msg)
	assert.Equal(t, modeWorkers, a.mode)
}

func TestApp_ErrorMessage(t *testing.T) {
	a, _ := loadedApp(t)

	a.Update(a.fetchPlanDetail(99)())
	assert.Equal(t, "Error: API error (404): not found", a.message)
}
