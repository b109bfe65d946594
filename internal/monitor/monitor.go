// Package monitor provides a live terminal dashboard for a running
// execution plan using Bubble Tea.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joss/taskmesh/internal/events"
	"github.com/joss/taskmesh/internal/task"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)

const logLines = 12

// AgentsFn reports the current worker pool for the agents panel.
type AgentsFn func() []*task.Agent

// Message types
type eventMsg events.Event
type streamClosedMsg struct{}
type planDoneMsg struct{ err error }

// Model is the dashboard model for one plan run.
type Model struct {
	planID string
	total  int

	stream <-chan events.Event
	done   <-chan error
	agents AgentsFn

	spinner  spinner.Model
	snapshot events.Snapshot
	log      []string

	completed int
	failed    int
	batches   int

	running  bool
	err      error
	quitting bool
	width    int
}

// New creates a dashboard for the given plan's event stream. The done
// channel reports the final plan outcome.
func New(planID string, total int, stream <-chan events.Event, done <-chan error, agents AgentsFn) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		planID:  planID,
		total:   total,
		stream:  stream,
		done:    done,
		agents:  agents,
		spinner: s,
		running: true,
	}
}

// Init starts the spinner and the event pumps.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForEvent(m.stream),
		waitForDone(m.done),
	)
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(e)
	}
}

func waitForDone(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		return planDoneMsg{err: <-ch}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case eventMsg:
		m.apply(events.Event(msg))
		return m, waitForEvent(m.stream)

	case streamClosedMsg:
		return m, nil

	case planDoneMsg:
		m.running = false
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(e events.Event) {
	switch e.Type {
	case events.BatchStarted:
		m.batches++
		m.appendLog(fmt.Sprintf("batch %s started", e.BatchID))
	case events.BatchCompleted:
		m.appendLog(fmt.Sprintf("batch %s completed", e.BatchID))
	case events.TaskCompleted:
		m.completed++
		m.appendLog(fmt.Sprintf("task %s completed on %s", shortID(e.TaskID), shortID(e.AgentID)))
	case events.TaskFailed:
		m.failed++
		m.appendLog(errorStyle.Render(fmt.Sprintf("task %s failed: %s", shortID(e.TaskID), e.Error)))
	case events.MetricsUpdated:
		if e.Metrics != nil {
			m.snapshot = *e.Metrics
		}
	case events.Alert:
		m.appendLog(errorStyle.Render("alert: " + e.Error))
	}
}

func (m *Model) appendLog(line string) {
	ts := time.Now().Format("15:04:05")
	m.log = append(m.log, infoStyle.Render(ts)+" "+line)
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	header := titleStyle.Render("taskmesh") + infoStyle.Render("  plan "+m.planID)
	if m.running {
		header += "  " + m.spinner.View() + infoStyle.Render("running")
	} else if m.err != nil {
		header += "  " + errorStyle.Render("finished: "+m.err.Error())
	} else {
		header += "  " + okStyle.Render("finished")
	}
	b.WriteString(header + "\n\n")

	progress := fmt.Sprintf("tasks %d/%d done  %d failed  batches started %d",
		m.completed, m.total, m.failed, m.batches)
	stats := fmt.Sprintf("queue %d  util %.0f%%  err %.1f%%  latency %s",
		m.snapshot.QueueDepth,
		m.snapshot.Utilization*100,
		m.snapshot.ErrorRate*100,
		m.snapshot.MeanLatency.Round(time.Millisecond))
	b.WriteString(boxStyle.Render(progress+"\n"+stats) + "\n")

	if m.agents != nil {
		b.WriteString(boxStyle.Render(m.agentLines()) + "\n")
	}

	if len(m.log) > 0 {
		b.WriteString(boxStyle.Render(strings.Join(m.log, "\n")) + "\n")
	}

	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}

func (m Model) agentLines() string {
	agents := m.agents()
	lines := make([]string, 0, len(agents))
	for _, a := range agents {
		state := infoStyle.Render("idle")
		if a.Active() > 0 {
			state = okStyle.Render(fmt.Sprintf("%d active", a.Active()))
		}
		lines = append(lines, fmt.Sprintf("%-10s %-8s %s", shortID(a.ID), a.Tier, state))
	}
	if len(lines) == 0 {
		return infoStyle.Render("no agents")
	}
	return strings.Join(lines, "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
