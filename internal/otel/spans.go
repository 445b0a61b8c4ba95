package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/anoner9000/ClawDawg/internal/shared"
)

// Attribute keys for bus tooling spans and metrics.
var (
	AttrTaskID     = attribute.Key("clawdawg.task.id")
	AttrRunID      = attribute.Key("clawdawg.run.id")
	AttrBusPath    = attribute.Key("clawdawg.bus.path")
	AttrVerdict    = attribute.Key("clawdawg.task.verdict")
	AttrGateCode   = attribute.Key("clawdawg.gate.code")
	AttrGateReason = attribute.Key("clawdawg.gate.reason")
	AttrEventType  = attribute.Key("clawdawg.event.type")
	AttrTriggers   = attribute.Key("clawdawg.sweep.triggers")
	AttrCommand    = attribute.Key("clawdawg.command")
)

// StartSpan starts an internal span with common attributes. The running
// subcommand, if any, is added from ctx.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if cmd := shared.Command(ctx); cmd != "" {
		attrs = append(attrs, AttrCommand.String(cmd))
	}
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
