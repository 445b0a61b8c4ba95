package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RunID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	id := NewRunID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("run id is not a uuid: %q", id)
	}
	ctx = WithRunID(ctx, id)
	if got := RunID(ctx); got != id {
		t.Fatalf("expected %q, got %q", id, got)
	}
	if NewRunID() == id {
		t.Fatal("run ids must be unique")
	}
}

func TestTaskIDAndCommand_DefaultEmpty(t *testing.T) {
	ctx := context.Background()
	if TaskID(ctx) != "" || Command(ctx) != "" {
		t.Fatal("expected empty defaults")
	}
	ctx = WithCommand(WithTaskID(ctx, "T1"), "gate")
	if TaskID(ctx) != "T1" || Command(ctx) != "gate" {
		t.Fatalf("unexpected values %q %q", TaskID(ctx), Command(ctx))
	}
}
