package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/anoner9000/ClawDawg/internal/dashboard"
	"github.com/anoner9000/ClawDawg/internal/taskstate"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

// runTaskStateCommand exits 0 when the task has events, 1 when it has none
// and 2 when the command could not run at all.
func runTaskStateCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("task-state", stderr)
	taskID := fs.String("task-id", "", "task to inspect (required)")
	busPath := fs.String("bus", "", "team bus JSONL file (default from config)")
	denyRaw := fs.String("deny-risk-severity", "high,critical", "comma-separated RISK severities that block")
	jsonOut := fs.Bool("json", false, "print the reduced state as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *taskID == "" || fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: clawdawg task-state --task-id T [--bus P] [--deny-risk-severity LIST] [--json]")
		return 2
	}

	_, e, err := setup(ctx, "task-state", stderr, false)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}
	defer e.Close()

	deny, err := severitiesFromFlag(fs, "deny-risk-severity", *denyRaw, e.cfg.DenySet())
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: invalid --deny-risk-severity: %v\n", err)
		return 2
	}

	path := busOrDefault(*busPath, e.cfg)
	log, err := teambus.LoadTask(path, *taskID)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}
	e.logSkipped(log.Skipped)

	st := taskstate.Reduce(*taskID, log.Events, time.Now().UTC(), deny)
	if *jsonOut {
		if err := dashboard.WriteInspectJSON(stdout, st); err != nil {
			fmt.Fprintf(stderr, "ERROR: encode state: %v\n", err)
			return 2
		}
	} else {
		dashboard.WriteInspect(stdout, st)
	}
	if !st.Known() {
		return 1
	}
	return 0
}
