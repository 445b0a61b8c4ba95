// Package dashboard renders reducer output for humans: the task table, the
// per-task detail view and the task-state inspector report. It owns no
// state logic; every verdict comes from taskstate.Reduce.
package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anoner9000/ClawDawg/internal/event"
	"github.com/anoner9000/ClawDawg/internal/taskstate"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

// Sort keys accepted by SortRows.
const (
	SortLastTS = "last_ts"
	SortTaskID = "task_id"
	SortState  = "state"
)

// DefaultLimit is the number of rows shown without --all.
const DefaultLimit = 30

var stateOrder = map[taskstate.Verdict]int{
	taskstate.VerdictBlocked:         0,
	taskstate.VerdictBlockedRisk:     1,
	taskstate.VerdictApproved:        2,
	taskstate.VerdictApprovalExpired: 3,
	taskstate.VerdictPending:         4,
	taskstate.VerdictUnknown:         5,
}

// Row is one line of the task table.
type Row struct {
	TaskID   string
	State    taskstate.State
	Approval string
	LastTS   string
	// lastAt is LastTS parsed, or the epoch when unparseable.
	lastAt time.Time
}

// LastEvent formats the LAST EVENT cell.
func (r Row) LastEvent() string {
	le := r.State.LastEvent
	if le == nil {
		return ""
	}
	return fmt.Sprintf("%s(%s) %s — %s", le.Type, le.Agent, le.TS, cut(le.Summary, 80))
}

// BuildRows reduces every task in the log whose id contains filter. Rows
// come back in first-appearance order.
func BuildRows(log *teambus.Log, filter string, now time.Time, deny event.SeveritySet) []Row {
	var rows []Row
	for _, g := range log.GroupByTask() {
		if filter != "" && !strings.Contains(g.TaskID, filter) {
			continue
		}
		st := taskstate.Reduce(g.TaskID, g.Events, now, deny)
		rows = append(rows, newRow(st, now))
	}
	return rows
}

func newRow(st taskstate.State, now time.Time) Row {
	r := Row{
		TaskID:   st.TaskID,
		State:    st,
		Approval: ApprovalLabel(st, now),
		lastAt:   time.Unix(0, 0).UTC(),
	}
	if st.LastEvent != nil {
		r.LastTS = st.LastEvent.TS
		if t, err := event.ParseTS(st.LastEvent.TS); err == nil {
			r.lastAt = t
		}
	}
	return r
}

// ApprovalLabel is the APPROVAL column text: "valid (Nm)" with whole minutes
// remaining, or the bare status.
func ApprovalLabel(st taskstate.State, now time.Time) string {
	if st.ApprovalStatus == taskstate.ApprovalValid {
		remaining := int(st.ApprovalExpiry.Sub(now) / time.Minute)
		return fmt.Sprintf("valid (%dm)", max(0, remaining))
	}
	return string(st.ApprovalStatus)
}

// SortRows orders rows in place. last_ts is newest first; state follows the
// verdict severity order with older activity first inside a state.
func SortRows(rows []Row, key string) error {
	switch key {
	case SortLastTS, "":
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].lastAt.After(rows[j].lastAt) })
	case SortTaskID:
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].TaskID < rows[j].TaskID })
	case SortState:
		sort.SliceStable(rows, func(i, j int) bool {
			oi, oj := stateOrder[rows[i].State.Verdict], stateOrder[rows[j].State.Verdict]
			if oi != oj {
				return oi < oj
			}
			return rows[i].lastAt.Before(rows[j].lastAt)
		})
	default:
		return fmt.Errorf("unknown sort key %q (want last_ts, task_id or state)", key)
	}
	return nil
}

// Limit truncates rows to n; n <= 0 keeps nothing.
func Limit(rows []Row, n int) []Row {
	if n < 0 {
		n = 0
	}
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}
