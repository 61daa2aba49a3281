package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/mender/fsx"
	"github.com/justapithecus/mender/log"
	"github.com/justapithecus/mender/monitor"
	"github.com/justapithecus/mender/types"
)

// refreshInterval is how often the dashboard re-reads state from disk.
const refreshInterval = 2 * time.Second

// maxEventRows bounds the timeline section.
const maxEventRows = 8

type tickMsg time.Time

// keyMap defines key bindings.
type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

// WatchModel is the Bubble Tea model for the run dashboard. It polls the
// run state file on a timer; the orchestrator process is the only writer.
type WatchModel struct {
	runsDir string
	runID   string // empty means follow the most recent run

	run     *types.BatchRun
	summary monitor.Summary
	loadErr error

	width    int
	height   int
	quitting bool
}

// NewWatchModel creates a dashboard over runsDir. An empty runID follows
// the latest run in the index.
func NewWatchModel(runsDir, runID string) WatchModel {
	m := WatchModel{runsDir: runsDir, runID: runID}
	m.reload()
	return m
}

// reload re-reads the index and state files from disk.
func (m *WatchModel) reload() {
	runID := m.runID
	if runID == "" {
		latest, err := latestRunID(m.runsDir)
		if err != nil {
			m.loadErr = err
			return
		}
		runID = latest
	}

	var run types.BatchRun
	if err := fsx.ReadJSON(filepath.Join(m.runsDir, runID, "state.json"), &run); err != nil {
		m.loadErr = fmt.Errorf("read run %s: %w", runID, err)
		return
	}

	m.loadErr = nil
	m.run = &run
	m.summary = monitor.NewTracker(&run, m.runsDir, "", "", log.Nop()).Summary()
}

// latestRunID returns the most recently started run in the index.
func latestRunID(runsDir string) (string, error) {
	var index []types.RunIndexEntry
	if err := fsx.ReadJSON(filepath.Join(runsDir, "index.json"), &index); err != nil {
		return "", fmt.Errorf("read run index: %w", err)
	}
	if len(index) == 0 {
		return "", fmt.Errorf("no runs recorded in %s", runsDir)
	}

	latest := index[0]
	for _, e := range index[1:] {
		if e.StartedAt.After(latest.StartedAt) {
			latest = e
		}
	}
	return latest.RunID, nil
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.reload()
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			m.reload()
			return m, nil
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}
	if m.loadErr != nil {
		return BoxStyle.Render(ErrorStyle.Render(m.loadErr.Error())) + "\n" +
			HelpStyle.Render("r refresh • q quit")
	}
	if m.run == nil {
		return BoxStyle.Render("Waiting for run state...")
	}

	sections := []string{
		m.renderHeader(),
		m.renderStatRow(),
		m.renderWaves(),
		m.renderEvents(),
		HelpStyle.Render("r refresh • q quit"),
	}
	return strings.Join(sections, "\n")
}

func (m WatchModel) renderHeader() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Remediation Run"))
	b.WriteString("\n")

	rows := [][]string{
		{"Run ID", m.run.RunID},
		{"Status", string(m.run.Status)},
		{"Source", string(m.run.DataSource)},
		{"Started", m.run.StartedAt.Format("2006-01-02 15:04:05")},
		{"Wave", fmt.Sprintf("%d/%d", m.summary.CurrentWave, m.summary.TotalWaves)},
	}
	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := row[1]
		if row[0] == "Status" {
			value = StatusStyle(value).Render(value)
		} else {
			value = ValueStyle.Render(value)
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}
	return b.String()
}

func (m WatchModel) renderStatRow() string {
	stat := func(label string, value string) string {
		return StatBoxStyle.Render(
			StatValueStyle.Render(value) + "\n" + StatLabelStyle.Render(label))
	}

	boxes := []string{
		stat("Findings", fmt.Sprintf("%d", m.run.TotalFindings)),
		stat("Completed", fmt.Sprintf("%d", m.run.Completed)),
		stat("Succeeded", fmt.Sprintf("%d", m.run.Successful)),
		stat("Failed", fmt.Sprintf("%d", m.run.Failed)),
		stat("PRs", fmt.Sprintf("%d", m.run.PRsCreated)),
		stat("Active", fmt.Sprintf("%d", m.summary.ActiveSessions)),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func (m WatchModel) renderWaves() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Waves"))
	b.WriteString("\n")

	for _, wave := range m.run.Waves {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render(fmt.Sprintf("Wave %d:", wave.WaveNumber)),
			StatusStyle(string(wave.Status)).Render(string(wave.Status))))

		for _, sess := range wave.Sessions {
			line := fmt.Sprintf("  %-14s %-22s %s",
				sess.Finding.FindingID,
				truncate(sess.Finding.ServiceName, 22),
				StatusStyle(string(sess.Status)).Render(string(sess.Status)))
			if stage := sess.Stage(); stage != "" && sess.Status.IsActive() {
				pct := 0
				if sess.StructuredOutput != nil {
					pct = sess.StructuredOutput.ProgressPct
				}
				line += ValueStyle.Render(fmt.Sprintf("  %s %d%%", stage, pct))
			}
			if sess.PRURL != "" {
				line += "  " + SuccessStyle.Render(sess.PRURL)
			}
			b.WriteString(line + "\n")
		}
	}
	return BoxStyle.Render(b.String())
}

func (m WatchModel) renderEvents() string {
	events := m.run.Events
	if len(events) == 0 {
		return ""
	}
	if len(events) > maxEventRows {
		events = events[len(events)-maxEventRows:]
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Timeline"))
	b.WriteString("\n")
	for _, e := range events {
		b.WriteString(fmt.Sprintf("%s  %-18s %s\n",
			e.Timestamp.Format("15:04:05"),
			e.EventType,
			truncate(e.Message, 64)))
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// RunWatch starts the dashboard over runsDir. An empty runID follows the
// most recent run.
func RunWatch(runsDir, runID string) error {
	model := NewWatchModel(runsDir, runID)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
