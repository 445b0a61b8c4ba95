package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/anoner9000/ClawDawg/internal/audit"
	"github.com/anoner9000/ClawDawg/internal/autoblock"
	"github.com/anoner9000/ClawDawg/internal/bus"
	"github.com/anoner9000/ClawDawg/internal/event"
	otelPkg "github.com/anoner9000/ClawDawg/internal/otel"
	"github.com/anoner9000/ClawDawg/internal/shared"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

// Sweep exit codes.
const (
	sweepOK         = 0
	sweepReadError  = 1
	sweepBadConfig  = 2
	sweepWriteError = 3
)

// sweeper runs one auto-block sweep with logging, audit and telemetry.
// events is optional; watch mode sets it to fan out results.
type sweeper struct {
	env     *env
	busPath string
	block   event.SeveritySet
	app     teambus.Appender
	events  *bus.Bus
	now     func() time.Time
}

func newSweeper(e *env, busPath string, block event.SeveritySet) *sweeper {
	return &sweeper{
		env:     e,
		busPath: busPath,
		block:   block,
		app:     teambus.NewFileAppender(busPath),
		now:     time.Now,
	}
}

func (s *sweeper) run(ctx context.Context, source string) (autoblock.Result, error) {
	runID := shared.RunID(ctx)
	ctx, span := otelPkg.StartSpan(ctx, s.env.tracer, "autoblock.sweep",
		otelPkg.AttrBusPath.String(s.busPath),
		otelPkg.AttrRunID.String(runID),
	)
	defer span.End()

	start := s.now()
	res, err := autoblock.Sweep(s.busPath, s.block, s.app, start.UTC())
	elapsed := time.Since(start)
	span.SetAttributes(otelPkg.AttrTriggers.Int(len(res.Triggers)))

	var blocked []string
	for _, t := range res.Triggers[:res.Written] {
		blocked = append(blocked, t.TaskID)
		audit.Record(shared.WithTaskID(ctx, t.TaskID), audit.Entry{
			Decision:   "block",
			Capability: audit.CapabilityAutoBlock,
			Reason:     "risk severity=" + t.Severity,
			Detail:     fmt.Sprintf("risk at bus line %d", t.RiskLine),
		})
		s.env.logger.Info("task auto-blocked", "task_id", t.TaskID, "severity", t.Severity, "risk_line", t.RiskLine, "source", source)
		if s.events != nil {
			s.events.Publish(bus.TopicTaskBlocked, bus.TaskBlocked{RunID: runID, TaskID: t.TaskID, Severity: t.Severity})
		}
	}
	if res.Skipped > 0 {
		s.env.logger.Warn("skipped malformed bus lines", "count", res.Skipped, "bus", s.busPath)
	}

	outcome := "ok"
	if err != nil {
		outcome = sweepOutcome(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.env.logger.Error("auto-block sweep failed", "error", err, "written", res.Written, "source", source)
		if s.events != nil {
			s.events.Publish(bus.TopicSweepFailed, bus.SweepFailed{RunID: runID, Written: res.Written, Err: err})
		}
	} else {
		s.env.logger.Info("auto-block sweep completed", "tasks", res.Tasks, "blocked", len(blocked), "skipped", res.Skipped, "source", source, "elapsed_ms", elapsed.Milliseconds())
		if s.events != nil {
			s.events.Publish(bus.TopicSweepCompleted, bus.SweepCompleted{RunID: runID, Tasks: res.Tasks, Skipped: res.Skipped, Blocked: blocked})
		}
	}
	s.env.metrics.RecordSweep(ctx, res.Written, elapsed, res.Skipped, outcome)
	return res, err
}

func sweepOutcome(err error) string {
	var re *autoblock.ReadError
	var we *autoblock.WriteError
	switch {
	case errors.As(err, &re):
		return "read_error"
	case errors.As(err, &we):
		return "write_error"
	default:
		return "config_error"
	}
}

// sweepExitCode maps a sweep error to the command's exit code.
func sweepExitCode(err error) int {
	var re *autoblock.ReadError
	var we *autoblock.WriteError
	switch {
	case err == nil:
		return sweepOK
	case errors.As(err, &re):
		return sweepReadError
	case errors.As(err, &we):
		return sweepWriteError
	default:
		return sweepBadConfig
	}
}
