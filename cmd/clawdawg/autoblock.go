package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/anoner9000/ClawDawg/internal/autoblock"
	"github.com/anoner9000/ClawDawg/internal/event"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

func runAutoBlockCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("autoblock", stderr)
	busPath := fs.String("bus", "", "team bus JSONL file (default from config)")
	blockRaw := fs.String("block-severity", "high,critical", "comma-separated RISK severities that block")
	dryRun := fs.Bool("dry-run", false, "print the tasks that would be blocked without appending")
	if err := fs.Parse(args); err != nil {
		return sweepBadConfig
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: clawdawg autoblock [--bus P] [--block-severity LIST] [--dry-run]")
		return sweepBadConfig
	}

	ctx, e, err := setup(ctx, "autoblock", stderr, false)
	if err != nil {
		fmt.Fprintf(stderr, "AUTO-BLOCK ERROR: %v\n", err)
		return sweepBadConfig
	}
	defer e.Close()

	block, err := severitiesFromFlag(fs, "block-severity", *blockRaw, e.cfg.BlockSet())
	if errors.Is(err, event.ErrEmptySeveritySet) {
		fmt.Fprintln(stderr, "AUTO-BLOCK ERROR: empty --block-severity")
		return sweepBadConfig
	}
	if err != nil {
		fmt.Fprintf(stderr, "AUTO-BLOCK ERROR: invalid --block-severity: %v\n", err)
		return sweepBadConfig
	}
	path := busOrDefault(*busPath, e.cfg)

	if *dryRun {
		return planOnly(e, path, block, stdout, stderr)
	}

	res, err := newSweeper(e, path, block).run(ctx, "cli")
	for _, t := range res.Triggers[:res.Written] {
		fmt.Fprintf(stdout, "AUTO-BLOCK: %s blocked (RISK severity=%s at line %d)\n", t.TaskID, t.Severity, t.RiskLine)
	}
	if err != nil {
		fmt.Fprintf(stderr, "AUTO-BLOCK ERROR: %v\n", err)
		return sweepExitCode(err)
	}
	fmt.Fprintf(stdout, "AUTO-BLOCK: scanned %d tasks, blocked %d\n", res.Tasks, res.Written)
	return sweepOK
}

func planOnly(e *env, path string, block event.SeveritySet, stdout, stderr io.Writer) int {
	log, err := teambus.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "AUTO-BLOCK ERROR: %v\n", &autoblock.ReadError{Path: path, Err: err})
		return sweepReadError
	}
	e.logSkipped(log.Skipped)
	groups := log.GroupByTask()
	triggers := autoblock.Plan(groups, block, time.Now().UTC())
	for _, t := range triggers {
		fmt.Fprintf(stdout, "AUTO-BLOCK (dry run): %s would be blocked (RISK severity=%s at line %d)\n", t.TaskID, t.Severity, t.RiskLine)
	}
	fmt.Fprintf(stdout, "AUTO-BLOCK (dry run): scanned %d tasks, would block %d\n", len(groups), len(triggers))
	return sweepOK
}
