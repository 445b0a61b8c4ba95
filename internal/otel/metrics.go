package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the bus tooling instruments.
type Metrics struct {
	GateDecisions metric.Int64Counter
	GateDuration  metric.Float64Histogram
	SweepBlocked  metric.Int64Counter
	SweepDuration metric.Float64Histogram
	SkippedLines  metric.Int64Counter
	Appended      metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.GateDecisions, err = meter.Int64Counter("clawdawg.gate.decisions",
		metric.WithDescription("Gate decisions by exit code"),
	)
	if err != nil {
		return nil, err
	}

	m.GateDuration, err = meter.Float64Histogram("clawdawg.gate.duration",
		metric.WithDescription("Time to load, reduce and decide"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepBlocked, err = meter.Int64Counter("clawdawg.sweep.blocked",
		metric.WithDescription("Synthetic BLOCKED records appended"),
	)
	if err != nil {
		return nil, err
	}

	m.SweepDuration, err = meter.Float64Histogram("clawdawg.sweep.duration",
		metric.WithDescription("Auto-block sweep duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SkippedLines, err = meter.Int64Counter("clawdawg.bus.skipped_lines",
		metric.WithDescription("Malformed bus lines skipped while reading"),
	)
	if err != nil {
		return nil, err
	}

	m.Appended, err = meter.Int64Counter("clawdawg.bus.appended",
		metric.WithDescription("Records appended to the bus by emit commands"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordGate counts one gate decision.
func (m *Metrics) RecordGate(ctx context.Context, code int, reason string, elapsed time.Duration, skipped int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrGateCode.Int(code), AttrGateReason.String(reason))
	m.GateDecisions.Add(ctx, 1, attrs)
	m.GateDuration.Record(ctx, elapsed.Seconds(), attrs)
	if skipped > 0 {
		m.SkippedLines.Add(ctx, int64(skipped))
	}
}

// RecordSweep counts one completed or failed sweep.
func (m *Metrics) RecordSweep(ctx context.Context, written int, elapsed time.Duration, skipped int, outcome string) {
	if m == nil {
		return
	}
	o := attribute.String("outcome", outcome)
	m.SweepBlocked.Add(ctx, int64(written), metric.WithAttributes(o))
	m.SweepDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(o))
	if skipped > 0 {
		m.SkippedLines.Add(ctx, int64(skipped))
	}
}

// RecordAppend counts records written by emit.
func (m *Metrics) RecordAppend(ctx context.Context, eventType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Appended.Add(ctx, int64(n), metric.WithAttributes(AttrEventType.String(eventType)))
}
