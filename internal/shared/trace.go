package shared

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}
type taskIDKey struct{}
type commandKey struct{}

// NewRunID returns an id for one CLI invocation or one watch-mode sweep.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID attaches a run_id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID extracts run_id from context. Returns "-" if absent.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// WithTaskID attaches a task_id to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskID extracts task_id from context. Returns "" if absent.
func TaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCommand records which subcommand is running.
func WithCommand(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, commandKey{}, name)
}

// Command returns the subcommand name, or "" outside a command.
func Command(ctx context.Context) string {
	if v, ok := ctx.Value(commandKey{}).(string); ok {
		return v
	}
	return ""
}
