package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anoner9000/ClawDawg/internal/audit"
	"github.com/anoner9000/ClawDawg/internal/event"
	otelPkg "github.com/anoner9000/ClawDawg/internal/otel"
	"github.com/anoner9000/ClawDawg/internal/shared"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

// Emit exit codes.
const (
	emitOK         = 0
	emitWriteError = 1
	emitUsageError = 2
)

// Default next-step text per emitted type.
const (
	nextApproval  = "Executor may proceed before approval expiry"
	nextUnblocked = "New approval required before execution"
	nextRisk      = "Resolve or accept the risk before execution"
	nextBlocked   = "Resolve the blocker, then request UNBLOCKED"
)

func emitUsage(w io.Writer) {
	fmt.Fprint(w, `usage:
  clawdawg emit approval --task-id T --summary S --expires-minutes N [--detail k=v ...] [--bus P]
  clawdawg emit unblocked --task-id T --summary S [--detail k=v ...] [--bus P]
  clawdawg emit risk --task-id T --agent A --severity LEVEL --summary S [--detail k=v ...] [--bus P]
  clawdawg emit blocked --task-id T --agent A --summary S [--detail k=v ...] [--bus P]
`)
}

type emitRequest struct {
	kind           string
	taskID         string
	agent          string
	summary        string
	severity       string
	expiresMinutes int
	details        detailFlag
	busPath        string
}

// runEmitCommand appends one record to the bus. approval and unblocked are
// always signed by the authority agent.
func runEmitCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		emitUsage(stderr)
		return emitUsageError
	}
	req := emitRequest{kind: strings.ToLower(args[0]), details: detailFlag{}}
	switch req.kind {
	case "approval", "unblocked", "risk", "blocked":
	default:
		fmt.Fprintf(stderr, "ERROR: unknown emit type %q\n", args[0])
		emitUsage(stderr)
		return emitUsageError
	}

	fs := newFlagSet("emit "+req.kind, stderr)
	fs.StringVar(&req.taskID, "task-id", "", "task the record belongs to (required)")
	fs.StringVar(&req.summary, "summary", "", "one-line summary (required)")
	fs.StringVar(&req.busPath, "bus", "", "team bus JSONL file (default from config)")
	fs.Var(req.details, "detail", "extra detail as key=value (repeatable)")
	switch req.kind {
	case "approval":
		fs.IntVar(&req.expiresMinutes, "expires-minutes", 0, "minutes until the approval expires (required, > 0)")
	case "risk":
		fs.StringVar(&req.agent, "agent", "", "emitting agent (required)")
		fs.StringVar(&req.severity, "severity", "", "low, medium, high or critical (required)")
	case "blocked":
		fs.StringVar(&req.agent, "agent", "", "emitting agent (required)")
	}
	if err := fs.Parse(args[1:]); err != nil {
		return emitUsageError
	}
	if fs.NArg() != 0 {
		emitUsage(stderr)
		return emitUsageError
	}
	if err := req.check(); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return emitUsageError
	}

	ctx, e, err := setup(ctx, "emit", stderr, false)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return emitUsageError
	}
	defer e.Close()
	ctx = shared.WithTaskID(ctx, req.taskID)

	path := busOrDefault(req.busPath, e.cfg)
	now := time.Now().UTC()
	ev := req.build(now)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(stderr, "ERROR: create bus directory: %v\n", err)
		return emitWriteError
	}
	app := &teambus.FileAppender{Path: path, Create: true}
	if _, err := app.Append(ev); err != nil {
		e.logger.Error("emit failed", "task_id", req.taskID, "type", ev.Type, "bus", path, "error", err)
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return emitWriteError
	}

	_, span := otelPkg.StartSpan(ctx, e.tracer, "bus.emit",
		otelPkg.AttrTaskID.String(req.taskID),
		otelPkg.AttrEventType.String(ev.Type),
		otelPkg.AttrBusPath.String(path),
	)
	span.End()
	e.metrics.RecordAppend(ctx, ev.Type, 1)
	audit.Record(ctx, audit.Entry{
		Decision:   "append",
		Capability: audit.CapabilityEmit,
		Reason:     strings.ToLower(ev.Type),
		Detail:     auditDetail(ev.Summary, req.details),
	})
	e.logger.Info("event emitted", "task_id", req.taskID, "type", ev.Type, "agent", ev.Agent, "bus", path)

	switch req.kind {
	case "approval":
		fmt.Fprintf(stdout, "APPROVAL written (expires in %d minutes)\n", req.expiresMinutes)
	default:
		fmt.Fprintf(stdout, "%s written\n", ev.Type)
	}
	return emitOK
}

func (r emitRequest) check() error {
	if strings.TrimSpace(r.taskID) == "" {
		return fmt.Errorf("--task-id is required")
	}
	if strings.TrimSpace(r.summary) == "" {
		return fmt.Errorf("--summary is required")
	}
	switch r.kind {
	case "approval":
		if r.expiresMinutes <= 0 {
			return fmt.Errorf("--expires-minutes must be > 0")
		}
	case "risk":
		if strings.TrimSpace(r.agent) == "" {
			return fmt.Errorf("--agent is required")
		}
		if !event.KnownSeverity(r.severity) {
			return fmt.Errorf("invalid --severity %q, expected low, medium, high or critical", r.severity)
		}
	case "blocked":
		if strings.TrimSpace(r.agent) == "" {
			return fmt.Errorf("--agent is required")
		}
	}
	return nil
}

func (r emitRequest) build(now time.Time) event.Event {
	var ev event.Event
	switch r.kind {
	case "approval":
		ev = event.New(now, r.taskID, event.AuthorityAgent, event.TypeApproval, r.summary)
		ev.ExpiresAt = event.FormatTS(now.Add(time.Duration(r.expiresMinutes) * time.Minute))
		ev.Next = nextApproval
	case "unblocked":
		ev = event.New(now, r.taskID, event.AuthorityAgent, event.TypeUnblocked, r.summary)
		ev.Next = nextUnblocked
	case "risk":
		ev = event.New(now, r.taskID, r.agent, event.TypeRisk, r.summary)
		ev.Severity = r.severity
		ev.Next = nextRisk
	default:
		ev = event.New(now, r.taskID, r.agent, event.TypeBlocked, r.summary)
		ev.Next = nextBlocked
	}
	return ev.WithDetails(map[string]string(r.details))
}

// auditDetail is the summary followed by the details as sorted key=value
// pairs, with sensitive values masked.
func auditDetail(summary string, details detailFlag) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{summary}
	for _, k := range keys {
		parts = append(parts, k+"="+shared.RedactValue(k, details[k]))
	}
	return strings.Join(parts, " ")
}
