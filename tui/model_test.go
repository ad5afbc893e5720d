package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/applaudehq/applaude-orchestrator/internal/domain"
	"github.com/applaudehq/applaude-orchestrator/internal/runstore"
)

type fakeSource struct {
	runs []*domain.Run
	err  error
}

func (f *fakeSource) ListRuns(opts runstore.ListOptions) ([]*domain.Run, error) {
	return f.runs, f.err
}

func testRuns() []*domain.Run {
	now := time.Now().UTC()
	done := now.Add(-time.Hour)
	return []*domain.Run{
		{ID: "run-aaaa1111", ProjectID: "p1", Category: domain.CategoryFullStack, Status: domain.RunTesting, StartedAt: now.Add(-2 * time.Minute)},
		{ID: "run-bbbb2222", ProjectID: "p1", Category: domain.CategoryFrontendOnly, Status: domain.RunComplete, StartedAt: now.Add(-2 * time.Hour), CompletedAt: &done, PRURL: "https://github.com/acme/shop/pull/7"},
	}
}

func refreshed(m Model, runs []*domain.Run) Model {
	updated, _ := m.Update(RunsMsg{Runs: runs})
	return updated.(Model)
}

func sized(m Model) Model {
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func TestView_ListsRuns(t *testing.T) {
	m := sized(refreshed(NewModel(&fakeSource{}), testRuns()))

	out := m.View()
	if !strings.Contains(out, "run-aaaa1111") || !strings.Contains(out, "run-bbbb2222") {
		t.Errorf("view missing runs:\n%s", out)
	}
	if !strings.Contains(out, "TESTING") || !strings.Contains(out, "COMPLETE") {
		t.Errorf("view missing statuses:\n%s", out)
	}
	if !strings.Contains(out, "In flight: 1") || !strings.Contains(out, "Finished: 1") {
		t.Errorf("header counts wrong:\n%s", out)
	}
}

func TestView_SelectedRunDetail(t *testing.T) {
	m := sized(refreshed(NewModel(&fakeSource{}), testRuns()))

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m = updated.(Model)

	out := m.View()
	if !strings.Contains(out, "pull/7") {
		t.Errorf("detail should show the PR URL:\n%s", out)
	}
}

func TestUpdate_SelectionClamped(t *testing.T) {
	m := refreshed(NewModel(&fakeSource{}), testRuns())

	for i := 0; i < 10; i++ {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
		m = updated.(Model)
	}
	if m.selectedRow != 1 {
		t.Errorf("selectedRow = %d, want 1", m.selectedRow)
	}

	for i := 0; i < 10; i++ {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
		m = updated.(Model)
	}
	if m.selectedRow != 0 {
		t.Errorf("selectedRow = %d, want 0", m.selectedRow)
	}
}

func TestUpdate_QuitKeys(t *testing.T) {
	m := NewModel(&fakeSource{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if msg := cmd(); msg != (tea.QuitMsg{}) {
		t.Errorf("msg = %#v, want QuitMsg", msg)
	}
}

func TestUpdate_RefreshError(t *testing.T) {
	m := refreshed(NewModel(&fakeSource{}), testRuns())

	updated, _ := m.Update(RunsMsg{Err: errFake})
	m = updated.(Model)
	if m.err == nil {
		t.Fatal("error should be kept")
	}
	if len(m.runs) != 2 {
		t.Error("a failed refresh must not drop the last good data")
	}

	out := sized(m).View()
	if !strings.Contains(out, "error:") {
		t.Errorf("view should surface the error:\n%s", out)
	}
}

var errFake = &fakeError{}

type fakeError struct{}

func (*fakeError) Error() string { return "store unavailable" }
