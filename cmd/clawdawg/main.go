package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: clawdawg <command> [flags]

DECISIONS:
  gate --task-id T [--bus P] [--deny-risk-severity high,critical]
                              Allow or deny execution of a task
                              Exit: 0 allow, 10 deny, 11 bad/expired approval,
                                    12 blocking risk, 13 blocked, 14 error
  autoblock [--bus P] [--block-severity high,critical]
                              Append BLOCKED for tasks with an unresolved risk
                              Exit: 0 ok, 1 read error, 2 bad severities, 3 write error

INSPECTION:
  task-state --task-id T [--bus P] [--json]
                              Print the reduced state of one task (exit 1 if unknown)
  dashboard [--sort last_ts|task_id|state] [--filter S] [--show T] [--watch]
                              Task table, detail view or live view
  validate [--clean-out P] [--max-errors N] [--quiet] BUS
                              Check every line against the team_bus.v1.1 schema
  doctor [-json]              Run diagnostic checks

WRITING:
  emit approval --task-id T --summary S --expires-minutes N [--detail k=v]
  emit unblocked --task-id T --summary S [--detail k=v]
  emit risk --task-id T --agent A --severity LEVEL --summary S
  emit blocked --task-id T --agent A --summary S
  watch [--schedule CRON]     Run the auto-block sweep on a schedule and on bus changes

ENVIRONMENT VARIABLES:
  CLAWDAWG_HOME               Data directory (default: ~/.openclaw)
  CLAWDAWG_BUS                Bus path (default: $CLAWDAWG_HOME/runtime/logs/team_bus.jsonl)
  CLAWDAWG_LOG_LEVEL          debug, info, warn or error
  NO_COLOR                    Disable colour output
`)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	rest := args[1:]
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	case "version", "--version":
		fmt.Fprintln(stdout, Version)
		return 0
	case "gate":
		return runGateCommand(ctx, rest, stdout, stderr)
	case "autoblock", "sweep":
		return runAutoBlockCommand(ctx, rest, stdout, stderr)
	case "task-state", "state":
		return runTaskStateCommand(ctx, rest, stdout, stderr)
	case "dashboard":
		return runDashboardCommand(ctx, rest, stdout, stderr)
	case "validate":
		return runValidateCommand(ctx, rest, stdout, stderr)
	case "emit":
		return runEmitCommand(ctx, rest, stdout, stderr)
	case "watch":
		return runWatchCommand(ctx, rest, stdout, stderr)
	case "doctor":
		return runDoctorCommand(ctx, rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}
}
