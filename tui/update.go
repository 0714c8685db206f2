package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/osctools/gpuscout/internal/domain"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activeTab = (m.activeTab + 1) % 2
			m.selectedRow = 0
		case "j", "down":
			if m.activeTab == 1 && m.selectedRow < len(m.jobs)-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "r":
			if m.fetchJobs != nil {
				m.lastFetch = time.Now()
				return m, refreshJobs(m.fetchJobs)
			}
		case "c":
			if m.activeTab == 1 && m.cancelJob != nil && m.selectedRow < len(m.jobs) {
				return m, cancelJobCmd(m.cancelJob, m.jobs[m.selectedRow].ID)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		now := time.Time(msg)
		m.lastRefresh = now
		if m.fetchJobs != nil && now.Sub(m.lastFetch) >= jobRefreshInterval {
			m.lastFetch = now
			return m, tea.Batch(tickCmd(), refreshJobs(m.fetchJobs))
		}
		return m, tickCmd()

	case EventMsg:
		m.applyEvent(domain.Event(msg))
		return m, waitForEvent(m.events)

	case EventsClosedMsg:
		return m, nil

	case ResultMsg:
		if msg.Err != nil {
			m.searchErr = msg.Err.Error()
		}
		m.result = msg.Result
		return m, nil

	case JobsMsg:
		if msg.Err != nil {
			m.queueErr = msg.Err.Error()
		} else {
			m.queueErr = ""
			m.jobs = msg.Jobs
			if m.selectedRow >= len(m.jobs) && len(m.jobs) > 0 {
				m.selectedRow = len(m.jobs) - 1
			}
		}
		return m, nil

	case CancelDoneMsg:
		if msg.Err != nil {
			m.queueErr = msg.Err.Error()
			return m, nil
		}
		if m.fetchJobs != nil {
			return m, refreshJobs(m.fetchJobs)
		}
		return m, nil
	}

	return m, nil
}

// applyEvent folds one search event into the trial rows.
func (m *Model) applyEvent(ev domain.Event) {
	m.phase = ev.Phase
	switch ev.Kind {
	case domain.EventSubmitted:
		m.rows = append(m.rows, TrialRow{
			Phase:   ev.Phase,
			Spec:    ev.Spec,
			ProbeID: ev.ProbeID,
		})
	case domain.EventResolved:
		for i := len(m.rows) - 1; i >= 0; i-- {
			if !m.rows[i].Resolved && m.rows[i].Phase == ev.Phase {
				m.rows[i].Outcome = ev.Outcome
				m.rows[i].Resolved = true
				return
			}
		}
		// Rejected submissions resolve without a submitted row.
		m.rows = append(m.rows, TrialRow{
			Phase:    ev.Phase,
			Spec:     ev.Spec,
			Outcome:  ev.Outcome,
			Resolved: true,
		})
	}
}

// Rows exposes the accumulated trial rows.
func (m Model) Rows() []TrialRow { return m.rows }
