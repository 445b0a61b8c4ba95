package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/anoner9000/ClawDawg/internal/audit"
	"github.com/anoner9000/ClawDawg/internal/event"
	"github.com/anoner9000/ClawDawg/internal/gate"
	otelPkg "github.com/anoner9000/ClawDawg/internal/otel"
	"github.com/anoner9000/ClawDawg/internal/shared"
)

// runGateCommand prints exactly one line to stdout and exits with the
// decision code. Every failure, including bad flags, exits 14.
func runGateCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("gate", stderr)
	taskID := fs.String("task-id", "", "task to check (required)")
	busPath := fs.String("bus", "", "team bus JSONL file (default from config)")
	denyRaw := fs.String("deny-risk-severity", "high,critical", "comma-separated RISK severities that deny")
	if err := fs.Parse(args); err != nil {
		return gate.CodeError
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stdout, "GATE ERROR: usage: clawdawg gate --task-id T [--bus P] [--deny-risk-severity LIST]")
		return gate.CodeError
	}

	ctx, e, err := setup(ctx, "gate", stderr, false)
	if err != nil {
		fmt.Fprintf(stdout, "GATE ERROR: %v\n", err)
		return gate.CodeError
	}
	defer e.Close()
	ctx = shared.WithTaskID(ctx, *taskID)

	deny, err := severitiesFromFlag(fs, "deny-risk-severity", *denyRaw, e.cfg.DenySet())
	switch {
	case errors.Is(err, event.ErrEmptySeveritySet):
		// Evaluate reports the empty set itself.
		deny = event.SeveritySet{}
	case err != nil:
		msg := fmt.Sprintf("GATE ERROR: invalid --deny-risk-severity: %v", err)
		audit.Record(ctx, audit.Entry{Decision: "deny", Capability: audit.CapabilityGate, Reason: string(gate.ReasonBadParameters), Detail: msg})
		fmt.Fprintln(stdout, msg)
		return gate.CodeError
	}

	path := busOrDefault(*busPath, e.cfg)
	ctx, span := otelPkg.StartSpan(ctx, e.tracer, "gate.evaluate",
		otelPkg.AttrTaskID.String(*taskID),
		otelPkg.AttrBusPath.String(path),
		otelPkg.AttrRunID.String(shared.RunID(ctx)),
	)
	start := time.Now()
	d := gate.Evaluate(path, *taskID, deny, start.UTC())
	elapsed := time.Since(start)

	span.SetAttributes(
		otelPkg.AttrGateCode.Int(d.Code),
		otelPkg.AttrGateReason.String(string(d.Reason)),
		otelPkg.AttrVerdict.String(string(d.State.Verdict)),
	)
	if d.Code == gate.CodeError {
		span.SetStatus(codes.Error, d.Message)
	}
	span.End()

	e.metrics.RecordGate(ctx, d.Code, string(d.Reason), elapsed, d.Skipped)
	decision := "deny"
	if d.Allow {
		decision = "allow"
	}
	audit.Record(ctx, audit.Entry{
		Decision:   decision,
		Capability: audit.CapabilityGate,
		Reason:     string(d.Reason),
		Detail:     d.Message,
	})

	if d.Skipped > 0 {
		e.logger.Warn("skipped malformed bus lines", "count", d.Skipped, "bus", path)
	}
	logAttrs := []any{"task_id", *taskID, "code", d.Code, "reason", d.Reason, "verdict", d.State.Verdict, "elapsed_ms", elapsed.Milliseconds()}
	switch {
	case d.Allow:
		e.logger.Info("gate allow", logAttrs...)
	case d.Code == gate.CodeError:
		e.logger.Error("gate error", append(logAttrs, "message", d.Message)...)
	default:
		e.logger.Warn("gate deny", append(logAttrs, "message", d.Message)...)
	}

	fmt.Fprintln(stdout, d.Message)
	return d.Code
}
