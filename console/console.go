// Package console is the interactive operator view of a running rig.
//
// It renders the live pressures, the test status and the reliability counters and reacts to
// single-key commands:
//
//	s      show reliability statistics
//	l      show the last 20 journal entries
//	e      stop the reliability run and write the report
//	c      stop the reliability run without a report
//	h, ?   help
//	q      quit
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/reliability"
	"github.com/arloliu/footrig/sensor"
)

// LogLines is the number of journal entries shown by the l key.
const LogLines = 20

const refreshEvery = 500 * time.Millisecond

// Rig is the controller surface used by the console. rig.Controller satisfies it.
type Rig interface {
	Journal() *eventlog.Journal
	HealthReport() string
	ReadAllReadings() ([sensor.Channels]sensor.Reading, error)
	TestStatus() engine.Status
	TestRunning() bool
	Reliability() *reliability.Orchestrator
	StopReliability(ctx context.Context, opts reliability.StopOptions) (reliability.Stats, error)
}

type view int

const (
	viewStatus view = iota
	viewStats
	viewLogs
	viewHelp
)

type tickMsg time.Time

type stoppedMsg struct {
	report bool
	stats  reliability.Stats
	err    error
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Model is the bubbletea model of the console.
type Model struct {
	rig      Rig
	view     view
	readings [sensor.Channels]sensor.Reading
	readErr  error
	message  string
	stopping bool
	now      func() time.Time
}

// NewModel creates the console model for r.
func NewModel(r Rig) Model {
	return Model{rig: r, now: time.Now}
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh, tick())
}

func (m Model) refresh() tea.Msg {
	return tickMsg(m.now())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.readings, m.readErr = m.rig.ReadAllReadings()
		return m, tick()
	case stoppedMsg:
		m.stopping = false
		m.view = viewStatus
		switch {
		case errors.Is(msg.err, reliability.ErrNotRunning):
			m.message = "no reliability run in progress"
		case msg.err != nil:
			m.message = "stop failed: " + msg.err.Error()
		case msg.report:
			m.message = fmt.Sprintf("reliability run stopped after %d cycles, report written", msg.stats.TotalCycles)
		default:
			m.message = fmt.Sprintf("reliability run stopped after %d cycles", msg.stats.TotalCycles)
		}
		return m, nil
	case tea.KeyMsg:
		return m.key(msg.String())
	}

	return m, nil
}

func (m Model) key(k string) (tea.Model, tea.Cmd) {
	switch k {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s":
		m.view = viewStats
	case "l":
		m.view = viewLogs
	case "h", "?":
		m.view = viewHelp
	case "esc":
		m.view = viewStatus
	case "e", "c":
		if m.stopping {
			return m, nil
		}
		m.stopping = true
		m.message = "stopping reliability run..."
		return m, m.stop(k == "e")
	}

	return m, nil
}

func (m Model) stop(report bool) tea.Cmd {
	return func() tea.Msg {
		st, err := m.rig.StopReliability(context.Background(), reliability.StopOptions{Report: report})
		return stoppedMsg{report: report, stats: st, err: err}
	}
}

func (m Model) View() string {
	var body string
	switch m.view {
	case viewStats:
		body = reliability.Summary(m.rig.Reliability().Stats(), m.now())
	case viewLogs:
		body = m.renderLogs()
	case viewHelp:
		body = helpText
	default:
		body = m.renderStatus()
	}

	parts := []string{titleStyle.Render("footrig"), boxStyle.Render(strings.TrimRight(body, "\n"))}
	if m.message != "" {
		parts = append(parts, m.message)
	}
	parts = append(parts, dimStyle.Render("s stats · l logs · e stop+report · c stop · h help · q quit"))

	return strings.Join(parts, "\n") + "\n"
}

func (m Model) renderStatus() string {
	var sb strings.Builder

	if m.readErr != nil {
		sb.WriteString(errStyle.Render("pressures unavailable: "+m.readErr.Error()) + "\n")
	} else {
		for _, r := range m.readings {
			style := okStyle
			if r.Status != sensor.Normal {
				style = warnStyle
			}
			fmt.Fprintf(&sb, "AI%d %7.2f bar  %5.2f mA  %s\n", r.Channel, r.Pressure, r.Current, style.Render(r.Status.String()))
		}
	}

	test := m.rig.TestStatus().String()
	if !m.rig.TestRunning() {
		test = "idle (last: " + test + ")"
	}
	fmt.Fprintf(&sb, "test: %s\n", test)

	st := m.rig.Reliability().Stats()
	fmt.Fprintf(&sb, "reliability: %s, %d cycles, %.2f%% overall\n",
		m.rig.Reliability().State(), st.TotalCycles, st.OverallRate())

	return sb.String()
}

func (m Model) renderLogs() string {
	entries := m.rig.Journal().Recent(LogLines)
	if len(entries) == 0 {
		return "no log entries"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Last %d log entries ===\n", len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		line := entries[i].String()
		switch {
		case entries[i].Level >= eventlog.Error:
			line = errStyle.Render(line)
		case entries[i].Level == eventlog.Warning:
			line = warnStyle.Render(line)
		}
		sb.WriteString(line + "\n")
	}

	return sb.String()
}

const helpText = `=== Hotkeys ===
s      show reliability statistics
l      show the last 20 log entries
e      stop the reliability run and write the report
c      stop the reliability run without a report
h, ?   show this help
esc    back to the live view
q      quit`

// Run runs the console on in and out until the user quits or ctx is done.
func Run(ctx context.Context, r Rig, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(NewModel(r), tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}

	return nil
}
