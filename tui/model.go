package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/applaudehq/applaude-orchestrator/internal/domain"
	"github.com/applaudehq/applaude-orchestrator/internal/runstore"
)

// RunsSource loads the runs shown in the dashboard
type RunsSource interface {
	ListRuns(opts runstore.ListOptions) ([]*domain.Run, error)
}

// Model is the TUI application model
type Model struct {
	source RunsSource

	// Data
	runs []*domain.Run
	err  error

	// UI state
	width       int
	height      int
	selectedRow int

	// Refresh
	lastRefresh time.Time
}

// NewModel creates a new TUI model
func NewModel(source RunsSource) Model {
	return Model{source: source}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		refreshCmd(m.source),
		tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// RunsMsg carries a refreshed run list
type RunsMsg struct {
	Runs []*domain.Run
	Err  error
}

func refreshCmd(source RunsSource) tea.Cmd {
	return func() tea.Msg {
		runs, err := source.ListRuns(runstore.ListOptions{})
		return RunsMsg{Runs: runs, Err: err}
	}
}
