// Package tui is the live task table behind `dashboard --watch`.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/anoner9000/ClawDawg/internal/dashboard"
	"github.com/anoner9000/ClawDawg/internal/event"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

// Frame is one refresh worth of dashboard data.
type Frame struct {
	BusPath string
	Now     time.Time
	Filter  string
	Rows    []dashboard.Row
	Skipped int
}

// Loader re-reads the bus and reduces it. It is called on every refresh.
type Loader func() (Frame, error)

// Options configures Run.
type Options struct {
	Load Loader
	// Changes, when set, triggers a refresh on every bus file change.
	Changes <-chan teambus.ChangeEvent
	// Interval is the fallback refresh period. Zero means one second.
	Interval time.Duration
	// ProgramOptions are passed through to bubbletea; tests use them to
	// run without a terminal.
	ProgramOptions []tea.ProgramOption
}

var columns = []table.Column{
	{Title: "TASK ID", Width: 26},
	{Title: "STATE", Width: 16},
	{Title: "APPROVAL", Width: 14},
	{Title: "LAST EVENT", Width: 55},
}

type model struct {
	load     Loader
	changes  <-chan teambus.ChangeEvent
	interval time.Duration

	frame Frame
	err   error
	table table.Model
}

type tickMsg time.Time

// busChangedMsg is sent when the watcher reports an append.
type busChangedMsg struct{}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForChange(ch <-chan teambus.ChangeEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return busChangedMsg{}
	}
}

func newModel(opts Options) model {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := model{load: opts.Load, changes: opts.Changes, interval: interval, table: t}
	return m.refresh()
}

func (m model) refresh() model {
	frame, err := m.load()
	if err != nil {
		m.err = err
		return m
	}
	m.err = nil
	m.frame = frame
	m.table.SetRows(tableRows(frame.Rows))
	return m
}

func tableRows(rows []dashboard.Row) []table.Row {
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		out[i] = table.Row{r.TaskID, string(r.State.Verdict), r.Approval, r.LastEvent()}
	}
	return out
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(m.interval), waitForChange(m.changes))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m.refresh(), nil
		}
	case tea.WindowSizeMsg:
		// Header, footer and the table's own header line.
		m.table.SetHeight(max(3, msg.Height-6))
		m.table.SetWidth(msg.Width)
		return m, nil
	case tickMsg:
		return m.refresh(), tickCmd(m.interval)
	case busChangedMsg:
		return m.refresh(), waitForChange(m.changes)
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "OpenClaw Task Dashboard  |  bus=%s  |  now=%s", m.frame.BusPath, event.FormatTS(m.frame.Now))
	if m.frame.Filter != "" {
		fmt.Fprintf(&b, "  |  filter=%s", m.frame.Filter)
	}
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Tasks: %d  Skipped lines: %d\n", len(m.frame.Rows), m.frame.Skipped)
	if m.err != nil {
		fmt.Fprintf(&b, "Last Error: %s\n", humanError(m.err))
	}
	b.WriteString("Press q to quit, r to refresh.\n")
	return b.String()
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	if opts.Load == nil {
		return fmt.Errorf("tui: no loader")
	}
	defer bestEffortResetTTY()

	progOpts := append([]tea.ProgramOption{tea.WithContext(ctx)}, opts.ProgramOptions...)
	p := tea.NewProgram(newModel(opts), progOpts...)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
