// Package tui renders live search progress and the job queue dashboard.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/osctools/gpuscout/internal/domain"
	"github.com/osctools/gpuscout/internal/queue"
)

// TrialRow is one rendered probe trial.
type TrialRow struct {
	Phase    domain.ProbePhase
	Spec     domain.ProbeSpec
	ProbeID  string
	Outcome  domain.ProbeOutcome
	Resolved bool
}

// Model is the TUI application model
type Model struct {
	// Search progress
	bounds    domain.SearchBounds
	rows      []TrialRow
	phase     domain.ProbePhase
	result    *domain.SearchResult
	searchErr string
	events    <-chan domain.Event

	// Queue dashboard
	jobs        []queue.Job
	fetchJobs   func() ([]queue.Job, error)
	cancelJob   func(id string) error
	queueErr    string
	selectedRow int

	// UI state
	width     int
	height    int
	activeTab int

	lastRefresh time.Time
	lastFetch   time.Time
}

// jobRefreshInterval is the auto-refresh cadence of the queue tab.
const jobRefreshInterval = 5 * time.Second

// ModelConfig holds initial data and collaborators for the TUI model
type ModelConfig struct {
	Bounds    domain.SearchBounds
	Events    <-chan domain.Event
	FetchJobs func() ([]queue.Job, error)
	CancelJob func(id string) error
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	return Model{
		bounds:    cfg.Bounds,
		events:    cfg.Events,
		fetchJobs: cfg.FetchJobs,
		cancelJob: cfg.CancelJob,
		phase:     domain.PhaseGPU,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd()}
	if m.events != nil {
		cmds = append(cmds, waitForEvent(m.events))
	}
	if m.fetchJobs != nil {
		cmds = append(cmds, refreshJobs(m.fetchJobs))
	}
	return tea.Batch(cmds...)
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// EventMsg carries one search progress event.
type EventMsg domain.Event

// EventsClosedMsg means the search stopped emitting.
type EventsClosedMsg struct{}

func waitForEvent(events <-chan domain.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return EventsClosedMsg{}
		}
		return EventMsg(ev)
	}
}

// ResultMsg delivers the final search result.
type ResultMsg struct {
	Result *domain.SearchResult
	Err    error
}

// JobsMsg delivers a queue refresh.
type JobsMsg struct {
	Jobs []queue.Job
	Err  error
}

func refreshJobs(fetch func() ([]queue.Job, error)) tea.Cmd {
	return func() tea.Msg {
		jobs, err := fetch()
		return JobsMsg{Jobs: jobs, Err: err}
	}
}

// CancelDoneMsg reports the outcome of a cancel action.
type CancelDoneMsg struct {
	JobID string
	Err   error
}

func cancelJobCmd(cancel func(id string) error, id string) tea.Cmd {
	return func() tea.Msg {
		return CancelDoneMsg{JobID: id, Err: cancel(id)}
	}
}
