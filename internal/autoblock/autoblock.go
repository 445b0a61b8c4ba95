// Package autoblock implements the sweep that appends a synthetic BLOCKED
// record for every task with an unresolved high-severity RISK.
package autoblock

import (
	"fmt"
	"time"

	"github.com/anoner9000/ClawDawg/internal/event"
	"github.com/anoner9000/ClawDawg/internal/taskstate"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

const (
	blockedSummary = "Task automatically blocked due to high-severity RISK"
	blockedPolicy  = "Auto-block on severity threshold (post-UNBLOCKED aware)"
	blockedNext    = "Awaiting Deiphobe decision"
	resumeRequires = "Deiphobe UNBLOCKED + APPROVAL to resume"
)

// Details is the payload of a synthetic BLOCKED record.
type Details struct {
	Policy              string   `json:"policy"`
	BlockSeverity       []string `json:"block_severity"`
	TriggeredBySeverity string   `json:"triggered_by_severity"`
	Requires            string   `json:"requires"`
}

// Trigger names a task the sweep decided to block.
type Trigger struct {
	TaskID   string
	Severity string
	// RiskLine is the bus line of the RISK that triggered the block.
	RiskLine int
}

// Result summarizes one sweep.
type Result struct {
	Tasks    int
	Skipped  int
	Triggers []Trigger
	Written  int
}

// ReadError means the bus could not be read. Nothing was written.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("cannot read bus: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError means the append failed after a successful read. Written of
// Planned records made it to the bus.
type WriteError struct {
	Written int
	Planned int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cannot append BLOCKED (%d of %d written): %v", e.Written, e.Planned, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Plan decides which tasks need a BLOCKED record. A task already BLOCKED is
// skipped; otherwise the first RISK after its last UNBLOCKED whose severity
// is in block triggers it. Groups are visited in the order given.
func Plan(groups []teambus.TaskGroup, block event.SeveritySet, now time.Time) []Trigger {
	var out []Trigger
	for _, g := range groups {
		st := taskstate.Reduce(g.TaskID, g.Events, now, block)
		if st.BlockState == taskstate.BlockBlocked || st.BlockingRisk == nil {
			continue
		}
		out = append(out, Trigger{
			TaskID:   g.TaskID,
			Severity: st.BlockingRisk.Kind().(event.Risk).Severity,
			RiskLine: st.BlockingRisk.Line,
		})
	}
	return out
}

// BlockedEvent builds the synthetic record appended for a trigger.
func BlockedEvent(t Trigger, block event.SeveritySet, now time.Time) event.Event {
	ev := event.New(now, t.TaskID, event.WatcherAgent, event.TypeBlocked, blockedSummary)
	ev.Next = blockedNext
	return ev.WithDetails(Details{
		Policy:              blockedPolicy,
		BlockSeverity:       block.Sorted(),
		TriggeredBySeverity: t.Severity,
		Requires:            resumeRequires,
	})
}

// Sweep reads the whole bus, plans, and appends every synthetic BLOCKED in
// one batch after the read completes. It does not re-read the bus before
// appending, so an UNBLOCKED written by another process mid-sweep is only
// seen by the next sweep.
func Sweep(busPath string, block event.SeveritySet, app teambus.Appender, now time.Time) (Result, error) {
	if len(block) == 0 {
		return Result{}, event.ErrEmptySeveritySet
	}

	log, err := teambus.Load(busPath)
	if err != nil {
		return Result{}, &ReadError{Path: busPath, Err: err}
	}

	groups := log.GroupByTask()
	res := Result{
		Tasks:    len(groups),
		Skipped:  log.SkippedCount(),
		Triggers: Plan(groups, block, now),
	}
	if len(res.Triggers) == 0 {
		return res, nil
	}

	batch := make([]event.Event, 0, len(res.Triggers))
	for _, t := range res.Triggers {
		batch = append(batch, BlockedEvent(t, block, now))
	}
	n, err := app.Append(batch...)
	res.Written = n
	if err != nil {
		return res, &WriteError{Written: n, Planned: len(batch), Err: err}
	}
	return res, nil
}
