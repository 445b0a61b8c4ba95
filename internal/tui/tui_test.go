package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/anoner9000/ClawDawg/internal/dashboard"
	"github.com/anoner9000/ClawDawg/internal/taskstate"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

var now = time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

type fakeLoader struct {
	calls int
	err   error
	rows  []dashboard.Row
}

func (f *fakeLoader) load() (Frame, error) {
	f.calls++
	if f.err != nil {
		return Frame{}, f.err
	}
	return Frame{BusPath: "/tmp/bus.jsonl", Now: now, Rows: f.rows, Skipped: 2}, nil
}

func row(id string, v taskstate.Verdict, approval string) dashboard.Row {
	return dashboard.Row{TaskID: id, State: taskstate.State{TaskID: id, Verdict: v}, Approval: approval}
}

func TestView_ShowsRowsAndCounts(t *testing.T) {
	f := &fakeLoader{rows: []dashboard.Row{
		row("T-1", taskstate.VerdictApproved, "valid (5m)"),
		row("T-2", taskstate.VerdictBlocked, "none"),
	}}
	m := newModel(Options{Load: f.load})
	view := m.View()

	for _, want := range []string{
		"OpenClaw Task Dashboard  |  bus=/tmp/bus.jsonl  |  now=2026-02-07T12:00:00Z",
		"TASK ID",
		"T-1",
		"APPROVED",
		"valid (5m)",
		"T-2",
		"Tasks: 2  Skipped lines: 2",
		"Press q to quit",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q, got:\n%s", want, view)
		}
	}
	if strings.Contains(view, "Last Error") {
		t.Fatalf("unexpected error line:\n%s", view)
	}
}

func TestUpdate_KeysAndRefresh(t *testing.T) {
	f := &fakeLoader{}
	m := newModel(Options{Load: f.load, Interval: 10 * time.Millisecond})
	if f.calls != 1 {
		t.Fatalf("expected initial load, got %d calls", f.calls)
	}
	if m.Init() == nil {
		t.Fatal("expected Init to return a cmd")
	}

	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("expected quit command on %q", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected QuitMsg on %q", key.String())
		}
	}

	f.rows = []dashboard.Row{row("T-9", taskstate.VerdictPending, "none")}
	updated, cmd := m.Update(tickMsg(now))
	if cmd == nil {
		t.Fatal("expected tick cmd after tick message")
	}
	if f.calls != 2 {
		t.Fatalf("expected tick to reload, got %d calls", f.calls)
	}
	if !strings.Contains(updated.View(), "T-9") {
		t.Fatal("expected refreshed rows in view")
	}

	updated, _ = updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if f.calls != 3 {
		t.Fatalf("expected r to reload, got %d calls", f.calls)
	}
	if updated.View() == "" {
		t.Fatal("expected non-empty view")
	}
}

func TestUpdate_BusChangeRefreshes(t *testing.T) {
	f := &fakeLoader{}
	changes := make(chan teambus.ChangeEvent, 1)
	m := newModel(Options{Load: f.load, Changes: changes})

	changes <- teambus.ChangeEvent{Path: "/tmp/bus.jsonl"}
	msg := waitForChange(changes)()
	if _, ok := msg.(busChangedMsg); !ok {
		t.Fatalf("expected busChangedMsg, got %T", msg)
	}
	_, cmd := m.Update(msg)
	if f.calls != 2 {
		t.Fatalf("expected change to reload, got %d calls", f.calls)
	}
	if cmd == nil {
		t.Fatal("expected the model to keep waiting for changes")
	}

	close(changes)
	if msg := waitForChange(changes)(); msg != nil {
		t.Fatalf("closed watcher must yield no message, got %T", msg)
	}
	if waitForChange(nil) != nil {
		t.Fatal("no watcher means no wait command")
	}
}

func TestUpdate_LoadErrorKeepsLastFrame(t *testing.T) {
	f := &fakeLoader{rows: []dashboard.Row{row("T-1", taskstate.VerdictPending, "none")}}
	m := newModel(Options{Load: f.load})

	f.err = fmt.Errorf("read bus: %w: /tmp/bus.jsonl", teambus.ErrBusNotFound)
	updated, _ := m.Update(tickMsg(now))
	view := updated.View()
	if !strings.Contains(view, "Last Error: Bus not found, waiting for the first append") {
		t.Fatalf("expected error line, got:\n%s", view)
	}
	if !strings.Contains(view, "T-1") {
		t.Fatal("expected previous rows to stay visible")
	}
}

func TestHumanError(t *testing.T) {
	if got := humanError(errors.New("read bus /x: open: permission denied")); got != "Permission denied" {
		t.Fatalf("unexpected message %q", got)
	}
	if humanError(nil) != "" {
		t.Fatal("nil error must render empty")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	if err := Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected error without a loader")
	}

	f := &fakeLoader{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, Options{
		Load:           f.load,
		ProgramOptions: []tea.ProgramOption{tea.WithInput(nil), tea.WithOutput(io.Discard)},
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, tea.ErrProgramKilled) {
		t.Fatalf("expected clean exit or cancellation, got: %v", err)
	}
}
