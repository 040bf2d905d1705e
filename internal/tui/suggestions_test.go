package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestions_Commands(t *testing.T) {
	s := NewSuggestions()

	s.Update("/re")
	require.True(t, s.IsVisible())
	assert.Equal(t, "retry", s.Selected().Text)

	s.Update("/worker")
	require.True(t, s.IsVisible())
	s.Next()
	assert.Equal(t, "worker rm", s.Selected().Text)
	s.Prev()
	s.Prev()
	assert.Equal(t, "workers", s.Selected().Text, "prev wraps around")

	s.Update("add")
	assert.False(t, s.IsVisible(), "plain input shows no suggestions")
}

func TestSuggestions_References(t *testing.T) {
	s := NewSuggestions()

	s.Update("@sim")
	assert.False(t, s.IsVisible(), "no references until populated")

	s.SetWorkers([]WorkerItem{{ID: 3, Name: "sim-1"}, {ID: 4, Name: "sim-2"}})
	s.SetPlans([]PlanItem{{ID: 12, Name: "survey.plan"}})
	require.True(t, s.IsVisible())
	assert.Len(t, s.filtered, 2)

	s.Update("@12")
	s.SetWorkers(nil)
	s.SetPlans([]PlanItem{{ID: 12, Name: "survey.plan"}})
	require.True(t, s.IsVisible())
	assert.Equal(t, "plan", s.Selected().Type)
}

func TestSuggestions_Actions(t *testing.T) {
	s := NewSuggestions()

	s.Update("!")
	require.True(t, s.IsVisible())
	assert.Contains(t, s.Render(80), "Quick Actions")
	assert.Equal(t, "retry-failed", s.Selected().Text)
}

func TestSuggestions_ReferencesLoadedBeforeTyping(t *testing.T) {
	s := NewSuggestions()
	s.SetWorkers([]WorkerItem{{ID: 1, Name: "sim-1"}})
	s.SetPlans([]PlanItem{{ID: 7, Name: "old.plan"}, {ID: 9, Name: "new.plan"}})
	assert.False(t, s.IsVisible(), "nothing shown without a trigger")

	s.Update("@")
	require.True(t, s.IsVisible())
	require.Len(t, s.filtered, 3)
	assert.Equal(t, "worker", s.filtered[0].Type)
	assert.Equal(t, "9", s.filtered[1].Text, "newest plan first")

	// A refresh keeps the highlight.
	s.Next()
	s.SetPlans([]PlanItem{{ID: 7, Name: "old.plan"}, {ID: 9, Name: "new.plan"}})
	assert.Equal(t, "9", s.Selected().Text)
}

func TestSuggestions_RenderScrollsToSelection(t *testing.T) {
	s := NewSuggestions()
	s.Update("/")
	for i := 0; i < 6; i++ {
		s.Next()
	}

	out := s.Render(80)
	assert.Contains(t, out, "Commands")
	assert.Contains(t, out, "workers")
	assert.NotContains(t, out, "Enqueue a plan file", "first entry scrolled out")
	assert.Contains(t, out, "and 2 more")
}
