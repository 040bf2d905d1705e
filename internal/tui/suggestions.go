package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Suggestion kinds.
const (
	kindCommand = "command"
	kindAction  = "action"
	kindWorker  = "worker"
	kindPlan    = "plan"
)

const maxSuggestions = 5

// SuggestionItem is one completion offered by the command bar.
type SuggestionItem struct {
	Text        string
	Description string
	Type        string
}

// trigger is a leading character of the command bar and what it completes.
type trigger struct {
	header string
	items  func(s *Suggestions) []SuggestionItem
}

var triggers = map[byte]trigger{
	'/': {header: "Commands", items: func(*Suggestions) []SuggestionItem { return commandSuggestions }},
	'!': {header: "Quick Actions", items: func(*Suggestions) []SuggestionItem { return actionSuggestions }},
	'@': {header: "References", items: (*Suggestions).references},
}

var commandSuggestions = []SuggestionItem{
	{Text: "add", Description: "Enqueue a plan file", Type: kindCommand},
	{Text: "retry", Description: "Requeue the selected plan", Type: kindCommand},
	{Text: "drain", Description: "Mark a worker busy", Type: kindCommand},
	{Text: "enable", Description: "Mark a worker available", Type: kindCommand},
	{Text: "worker add", Description: "Register a worker", Type: kindCommand},
	{Text: "worker rm", Description: "Remove a worker", Type: kindCommand},
	{Text: "workers", Description: "View the worker pool", Type: kindCommand},
	{Text: "plans", Description: "View the plan queue", Type: kindCommand},
	{Text: "quit", Description: "Leave the console", Type: kindCommand},
}

var actionSuggestions = []SuggestionItem{
	{Text: "retry-failed", Description: "Requeue every plan in error", Type: kindAction},
	{Text: "refresh", Description: "Reload plans, workers and stats", Type: kindAction},
}

var (
	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	popupHeaderStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	popupSelectedStyle = lipgloss.NewStyle().Background(primaryColor).Foreground(fgColor).Bold(true)
	popupItemStyle     = lipgloss.NewStyle().Foreground(fgColor)
	popupDescStyle     = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
)

// Suggestions completes the command bar input. Workers and plans are kept
// between keystrokes so "@" references can be offered as soon as they load.
type Suggestions struct {
	trigger  byte
	query    string
	workers  []SuggestionItem
	plans    []SuggestionItem
	filtered []SuggestionItem
	selected int
}

// NewSuggestions creates an empty completer.
func NewSuggestions() *Suggestions {
	return &Suggestions{}
}

// Update recomputes the completions for the current input.
func (s *Suggestions) Update(input string) {
	s.trigger, s.query, s.selected = 0, "", 0
	if input != "" {
		if _, ok := triggers[input[0]]; ok {
			s.trigger = input[0]
			s.query = strings.ToLower(input[1:])
		}
	}
	s.refilter()
}

// SetWorkers replaces the worker references.
func (s *Suggestions) SetWorkers(workers []WorkerItem) {
	s.workers = s.workers[:0]
	for _, w := range workers {
		s.workers = append(s.workers, SuggestionItem{
			Text:        strconv.FormatInt(w.ID, 10),
			Description: "worker " + w.Name,
			Type:        kindWorker,
		})
	}
	s.refilter()
}

// SetPlans replaces the plan references, newest first.
func (s *Suggestions) SetPlans(plans []PlanItem) {
	sorted := append([]PlanItem(nil), plans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })

	s.plans = s.plans[:0]
	for _, p := range sorted {
		s.plans = append(s.plans, SuggestionItem{
			Text:        strconv.FormatInt(p.ID, 10),
			Description: "plan " + p.Name,
			Type:        kindPlan,
		})
	}
	s.refilter()
}

func (s *Suggestions) references() []SuggestionItem {
	refs := make([]SuggestionItem, 0, len(s.workers)+len(s.plans))
	refs = append(refs, s.workers...)
	return append(refs, s.plans...)
}

func (s *Suggestions) refilter() {
	s.filtered = nil
	if t, ok := triggers[s.trigger]; ok {
		for _, item := range t.items(s) {
			if s.matches(item) {
				s.filtered = append(s.filtered, item)
			}
		}
	}
	if s.selected >= len(s.filtered) {
		s.selected = 0
	}
}

// matches compares commands by text; references also match by name.
func (s *Suggestions) matches(item SuggestionItem) bool {
	if s.query == "" || strings.Contains(strings.ToLower(item.Text), s.query) {
		return true
	}
	ref := item.Type == kindWorker || item.Type == kindPlan
	return ref && strings.Contains(strings.ToLower(item.Description), s.query)
}

// Next moves the highlight down, wrapping.
func (s *Suggestions) Next() {
	if n := len(s.filtered); n > 0 {
		s.selected = (s.selected + 1) % n
	}
}

// Prev moves the highlight up, wrapping.
func (s *Suggestions) Prev() {
	if n := len(s.filtered); n > 0 {
		s.selected = (s.selected - 1 + n) % n
	}
}

// Selected returns the highlighted completion, or nil.
func (s *Suggestions) Selected() *SuggestionItem {
	if s.selected >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selected]
}

// IsVisible reports whether there is anything to show.
func (s *Suggestions) IsVisible() bool {
	return len(s.filtered) > 0
}

// Render draws the popup above the command bar.
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	lines := []string{popupHeaderStyle.Render(triggers[s.trigger].header)}

	// Keep the highlight inside the visible window.
	start := 0
	if s.selected >= maxSuggestions {
		start = s.selected - maxSuggestions + 1
	}
	end := min(start+maxSuggestions, len(s.filtered))

	for i := start; i < end; i++ {
		item := s.filtered[i]
		if i == s.selected {
			lines = append(lines, popupSelectedStyle.Render("▶ "+item.Text+" "+item.Description))
			continue
		}
		lines = append(lines, popupItemStyle.Render("  "+item.Text)+" "+popupDescStyle.Render(item.Description))
	}
	if rest := len(s.filtered) - end; rest > 0 {
		lines = append(lines, popupDescStyle.Render(fmt.Sprintf("  ... and %d more", rest)))
	}

	return popupStyle.Width(width - 4).Render(strings.Join(lines, "\n"))
}
