package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/anoner9000/ClawDawg/internal/dashboard"
	"github.com/anoner9000/ClawDawg/internal/event"
	"github.com/anoner9000/ClawDawg/internal/taskstate"
	"github.com/anoner9000/ClawDawg/internal/teambus"
	"github.com/anoner9000/ClawDawg/internal/tui"
)

type dashboardOptions struct {
	busPath  string
	filter   string
	sortKey  string
	limit    int
	all      bool
	show     string
	width    int
	deny     event.SeveritySet
	color    bool
	watch    bool
	interval time.Duration
}

func runDashboardCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("dashboard", stderr)
	busPath := fs.String("bus", "", "team bus JSONL file (default from config)")
	filter := fs.String("filter", "", "substring filter for task_id")
	sortKey := fs.String("sort", dashboard.SortLastTS, "sort by last_ts, task_id or state")
	limit := fs.Int("limit", dashboard.DefaultLimit, "show the top N tasks")
	all := fs.Bool("all", false, "show all tasks (ignores --limit)")
	show := fs.String("show", "", "detailed view for one task_id")
	width := fs.Int("width", dashboard.DefaultWidth, "render width in characters")
	denyRaw := fs.String("deny-risk-severity", "high,critical", "comma-separated RISK severities that block")
	color := fs.Bool("color", false, "colour output when stdout is a terminal")
	forceColor := fs.Bool("force-color", false, "colour output even when stdout is not a terminal")
	noColor := fs.Bool("no-color", false, "never colour output")
	watch := fs.Bool("watch", false, "live view that refreshes on bus changes")
	interval := fs.Duration("interval", 2*time.Second, "refresh period of the live view")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: clawdawg dashboard [flags]")
		return 2
	}
	if err := dashboard.SortRows(nil, *sortKey); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}

	ctx, e, err := setup(ctx, "dashboard", stderr, false)
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
	opts := dashboardOptions{
		busPath:  busOrDefault(*busPath, e.cfg),
		filter:   *filter,
		sortKey:  *sortKey,
		limit:    *limit,
		all:      *all,
		show:     *show,
		width:    *width,
		deny:     deny,
		color:    !*noColor && dashboard.ColorEnabled(stdout, *color, *forceColor),
		watch:    *watch,
		interval: *interval,
	}
	if _, err := os.Stat(opts.busPath); err != nil {
		fmt.Fprintf(stderr, "ERROR: bus not found: %s\n", opts.busPath)
		return 2
	}

	if opts.watch {
		return runLiveDashboard(ctx, e, opts, stderr)
	}

	log, err := teambus.Load(opts.busPath)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}
	e.logSkipped(log.Skipped)

	now := time.Now().UTC()
	view := dashboard.View{BusPath: opts.busPath, Now: now, Filter: opts.filter, Width: opts.width}
	styles := dashboard.NewStyles(stdout, opts.color)
	if opts.show != "" {
		dashboard.WriteDetail(stdout, view, detailState(log, opts, now), styles)
		return 0
	}
	dashboard.WriteTable(stdout, view, tableRows(log, opts, now), styles)
	return 0
}

func tableRows(log *teambus.Log, opts dashboardOptions, now time.Time) []dashboard.Row {
	rows := dashboard.BuildRows(log, opts.filter, now, opts.deny)
	// The key was validated before loading.
	_ = dashboard.SortRows(rows, opts.sortKey)
	if !opts.all {
		rows = dashboard.Limit(rows, opts.limit)
	}
	return rows
}

// detailState reduces the --show task. A task hidden by --filter is
// reported as unknown.
func detailState(log *teambus.Log, opts dashboardOptions, now time.Time) taskstate.State {
	var events []event.Event
	if opts.filter == "" || strings.Contains(opts.show, opts.filter) {
		for _, g := range log.GroupByTask() {
			if g.TaskID == opts.show {
				events = g.Events
				break
			}
		}
	}
	return taskstate.Reduce(opts.show, events, now, opts.deny)
}

func runLiveDashboard(ctx context.Context, e *env, opts dashboardOptions, stderr io.Writer) int {
	load := func() (tui.Frame, error) {
		log, err := teambus.Load(opts.busPath)
		if err != nil {
			return tui.Frame{}, err
		}
		now := time.Now().UTC()
		return tui.Frame{
			BusPath: opts.busPath,
			Now:     now,
			Filter:  opts.filter,
			Rows:    tableRows(log, opts, now),
			Skipped: log.SkippedCount(),
		}, nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var changes <-chan teambus.ChangeEvent
	w := teambus.NewWatcher(opts.busPath, time.Duration(e.cfg.WatchDebounceMS)*time.Millisecond, e.logger)
	if err := w.Start(watchCtx); err != nil {
		e.logger.Warn("bus watcher unavailable, refreshing on interval only", "error", err)
	} else {
		changes = w.Events()
	}

	err := tui.Run(ctx, tui.Options{Load: load, Changes: changes, Interval: opts.interval})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "ERROR: live view: %v\n", err)
		return 1
	}
	return 0
}
