package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/anoner9000/ClawDawg/internal/bus"
	"github.com/anoner9000/ClawDawg/internal/cron"
	"github.com/anoner9000/ClawDawg/internal/event"
	"github.com/anoner9000/ClawDawg/internal/shared"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

// runWatchCommand sweeps once at startup, then on every schedule slot and
// every debounced bus change, until ctx is cancelled. Sweeps run one at a
// time on the dispatch loop.
func runWatchCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("watch", stderr)
	busPath := fs.String("bus", "", "team bus JSONL file (default from config)")
	blockRaw := fs.String("block-severity", "high,critical", "comma-separated RISK severities that block")
	schedule := fs.String("schedule", "", "cron expression for periodic sweeps (default from config)")
	if err := fs.Parse(args); err != nil {
		return sweepBadConfig
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: clawdawg watch [--bus P] [--block-severity LIST] [--schedule CRON]")
		return sweepBadConfig
	}

	ctx, e, err := setup(ctx, "watch", stderr, true)
	if err != nil {
		fmt.Fprintf(stderr, "WATCH ERROR: %v\n", err)
		return sweepBadConfig
	}
	defer e.Close()

	block, err := severitiesFromFlag(fs, "block-severity", *blockRaw, e.cfg.BlockSet())
	if errors.Is(err, event.ErrEmptySeveritySet) {
		fmt.Fprintln(stderr, "WATCH ERROR: empty --block-severity")
		return sweepBadConfig
	}
	if err != nil {
		fmt.Fprintf(stderr, "WATCH ERROR: invalid --block-severity: %v\n", err)
		return sweepBadConfig
	}
	path := busOrDefault(*busPath, e.cfg)
	expr := e.cfg.SweepSchedule
	if *schedule != "" {
		expr = *schedule
	}

	events := bus.New()
	defer events.Close()
	requests := events.Subscribe(bus.TopicSweepRequested)
	blocked := events.Subscribe(bus.TopicTaskBlocked)

	request := func(source string) {
		events.Publish(bus.TopicSweepRequested, bus.SweepRequest{Source: source, RunID: shared.NewRunID()})
	}

	sched, err := cron.NewScheduler(cron.Config{
		Expr:   expr,
		Logger: e.logger,
		Fire: func(context.Context, time.Time) {
			request(bus.SourceSchedule)
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "WATCH ERROR: %v\n", err)
		return sweepBadConfig
	}
	sched.Start(ctx)
	defer sched.Stop()

	w := teambus.NewWatcher(path, time.Duration(e.cfg.WatchDebounceMS)*time.Millisecond, e.logger)
	var changes <-chan teambus.ChangeEvent
	if err := w.Start(ctx); err != nil {
		e.logger.Warn("bus watcher unavailable, sweeping on schedule only", "bus", path, "error", err)
	} else {
		changes = w.Events()
	}

	sw := newSweeper(e, path, block)
	sw.events = events
	e.logger.Info("watch started", "bus", path, "schedule", expr, "block_severity", block.String())
	request(bus.SourceStartup)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("watch stopping", "reason", ctx.Err())
			return sweepOK
		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			e.logger.Debug("bus change observed", "op", change.Op.String())
			request(bus.SourceFileChange)
		case msg, ok := <-blocked.Ch():
			if !ok {
				return sweepOK
			}
			if tb, ok := msg.Payload.(bus.TaskBlocked); ok {
				fmt.Fprintf(stdout, "AUTO-BLOCK: %s blocked (RISK severity=%s)\n", tb.TaskID, tb.Severity)
			}
		case msg, ok := <-requests.Ch():
			if !ok {
				return sweepOK
			}
			req, _ := msg.Payload.(bus.SweepRequest)
			sweepCtx := ctx
			if req.RunID != "" {
				sweepCtx = shared.WithRunID(ctx, req.RunID)
			}
			// Failures are logged and audited by the sweeper; watch keeps going.
			_, _ = sw.run(sweepCtx, req.Source)
		}
	}
}
