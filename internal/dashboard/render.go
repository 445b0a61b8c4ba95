package dashboard

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"

	"github.com/anoner9000/ClawDawg/internal/event"
	"github.com/anoner9000/ClawDawg/internal/taskstate"
)

// Column widths of the task table. The LAST EVENT column takes the rest of
// the render width, never less than minLastWidth.
const (
	colTask      = 26
	colState     = 16
	colApproval  = 14
	colGap       = "   "
	minLastWidth = 20

	// DefaultWidth is the render width when none is given.
	DefaultWidth = 120
)

// ColorEnabled decides whether ANSI styling is used. want is the --color
// flag and only applies on a terminal; force wins over everything except
// NO_COLOR.
func ColorEnabled(out io.Writer, want, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	if !want {
		return false
	}
	f, ok := out.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// Styles holds the lipgloss styles bound to one output.
type Styles struct {
	label    lipgloss.Style
	dim      lipgloss.Style
	verdicts map[taskstate.Verdict]lipgloss.Style
	approval map[taskstate.ApprovalStatus]lipgloss.Style
}

// NewStyles builds styles for w. With color off every style renders text
// unchanged.
func NewStyles(w io.Writer, color bool) Styles {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	fg := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }
	return Styles{
		label: r.NewStyle().Bold(true).Foreground(lipgloss.Color("5")),
		dim:   fg("240"),
		verdicts: map[taskstate.Verdict]lipgloss.Style{
			taskstate.VerdictBlocked:         fg("196").Bold(true),
			taskstate.VerdictBlockedRisk:     fg("1"),
			taskstate.VerdictApproved:        fg("2"),
			taskstate.VerdictApprovalExpired: fg("3"),
			taskstate.VerdictPending:         fg("6"),
			taskstate.VerdictUnknown:         fg("240"),
		},
		approval: map[taskstate.ApprovalStatus]lipgloss.Style{
			taskstate.ApprovalValid:   fg("2"),
			taskstate.ApprovalExpired: fg("3"),
			taskstate.ApprovalInvalid: fg("1"),
			taskstate.ApprovalNone:    fg("240"),
		},
	}
}

func (s Styles) verdict(v taskstate.Verdict, text string) string {
	if st, ok := s.verdicts[v]; ok {
		return st.Render(text)
	}
	return text
}

func (s Styles) approvalText(a taskstate.ApprovalStatus, text string) string {
	if st, ok := s.approval[a]; ok {
		return st.Render(text)
	}
	return text
}

// View is the common header data of a rendered page.
type View struct {
	BusPath string
	Now     time.Time
	Filter  string
	Width   int
}

func (v View) width() int {
	if v.Width <= 0 {
		return DefaultWidth
	}
	return v.Width
}

// WriteTable renders the dashboard page: header, table, legend and tips.
func WriteTable(w io.Writer, v View, rows []Row, s Styles) {
	fmt.Fprintf(w, "OpenClaw Task Dashboard  |  bus=%s  |  now=%s", v.BusPath, event.FormatTS(v.Now))
	if v.Filter != "" {
		fmt.Fprintf(w, "  |  filter=%s", v.Filter)
	}
	fmt.Fprint(w, "\n\n")
	fmt.Fprint(w, TableBody(rows, v.width(), s))

	fmt.Fprint(w, "\nLegend:\n")
	fmt.Fprint(w, "  BLOCKED = last block state is BLOCKED\n")
	fmt.Fprint(w, "  BLOCKED (risk) = high/critical RISK after last UNBLOCKED\n")
	fmt.Fprint(w, "Tips:\n")
	fmt.Fprint(w, "  - Use --watch for a live view that refreshes on bus changes\n")
	fmt.Fprint(w, "  - Use --show TASK_ID for a detailed per-task view\n")
	fmt.Fprint(w, "  - Use --all to show all tasks (no limit)\n")
}

// TableBody renders the column header, separator and one line per row.
func TableBody(rows []Row, width int, s Styles) string {
	colLast := max(minLastWidth, width-(colTask+colState+colApproval+3*len(colGap)))

	header := strings.Join([]string{
		pad("TASK ID", colTask),
		pad("STATE", colState),
		pad("APPROVAL", colApproval),
		pad("LAST EVENT", colLast),
	}, colGap)

	var b strings.Builder
	b.WriteString(header + "\n")
	b.WriteString(s.dim.Render(strings.Repeat("-", min(width, runewidth.StringWidth(header)))) + "\n")
	for _, r := range rows {
		b.WriteString(strings.Join([]string{
			pad(r.TaskID, colTask),
			s.verdict(r.State.Verdict, pad(string(r.State.Verdict), colState)),
			s.approvalText(r.State.ApprovalStatus, pad(r.Approval, colApproval)),
			truncate(r.LastEvent(), colLast),
		}, colGap))
		b.WriteString("\n")
	}
	return b.String()
}

// WriteDetail renders the per-task view. An unknown task gets a single
// UNKNOWN line under the header.
func WriteDetail(w io.Writer, v View, st taskstate.State, s Styles) {
	fmt.Fprintf(w, "OpenClaw Task Detail  |  bus=%s  |  now=%s\n\n", v.BusPath, event.FormatTS(v.Now))
	if !st.Known() {
		fmt.Fprintf(w, "STATE: UNKNOWN (no events found for task_id=%s)\n", st.TaskID)
		return
	}
	k := func(label string) string { return s.label.Render(label) }

	fmt.Fprintf(w, "%s: %s\n", k("TASK"), st.TaskID)
	fmt.Fprintf(w, "%s: %s\n", k("STATE"), s.verdict(st.Verdict, string(st.Verdict)))
	fmt.Fprintf(w, "%s: %s\n", k("BLOCK STATE"), blockStateLabel(st.BlockState))
	fmt.Fprintf(w, "%s: %s\n", k("APPROVAL"), s.approvalText(st.ApprovalStatus, ApprovalLabel(st, v.Now)))
	if st.Approval != nil && st.Approval.ExpiresAt != "" {
		fmt.Fprintf(w, "%s: %s\n", k("APPROVAL EXPIRES"), st.Approval.ExpiresAt)
	}
	if st.BlockingRisk != nil {
		fmt.Fprintf(w, "%s: severity=%s\n", k("BLOCKING RISK"), st.BlockingRisk.Severity)
		fmt.Fprintf(w, "  summary: %s\n", st.BlockingRisk.Summary)
	}
	le := st.LastEvent
	fmt.Fprintf(w, "%s:\n", k("LAST EVENT"))
	fmt.Fprintf(w, "  ts: %s\n", le.TS)
	fmt.Fprintf(w, "  agent: %s\n", le.Agent)
	fmt.Fprintf(w, "  type: %s\n", le.Type)
	fmt.Fprintf(w, "  summary: %s\n", le.Summary)
	fmt.Fprintf(w, "%s: %s\n", k("COUNTS"), FormatCounts(st.Counts))
}

// FormatCounts renders type counts as "T=n, ..." sorted by type.
func FormatCounts(counts map[string]int) string {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = fmt.Sprintf("%s=%d", t, counts[t])
	}
	return strings.Join(parts, ", ")
}

func blockStateLabel(b taskstate.BlockState) string {
	if b == taskstate.BlockNone {
		return "never blocked"
	}
	return string(b)
}

// truncate shortens s to at most w display cells, marking the cut with an
// ellipsis.
func truncate(s string, w int) string {
	if runewidth.StringWidth(s) <= w {
		return s
	}
	return runewidth.Truncate(s, w, "…")
}

func pad(s string, w int) string {
	return runewidth.FillRight(truncate(s, w), w)
}

// cut keeps the first n runes of s.
func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
