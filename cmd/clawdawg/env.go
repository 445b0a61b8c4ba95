package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/anoner9000/ClawDawg/internal/audit"
	"github.com/anoner9000/ClawDawg/internal/config"
	"github.com/anoner9000/ClawDawg/internal/event"
	otelPkg "github.com/anoner9000/ClawDawg/internal/otel"
	"github.com/anoner9000/ClawDawg/internal/shared"
	"github.com/anoner9000/ClawDawg/internal/teambus"
	"github.com/anoner9000/ClawDawg/internal/telemetry"
)

// env is the ambient state shared by every command: config, logger, audit
// sinks and telemetry.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otelPkg.Metrics
	closers []func()
}

// setup loads config and opens the ambient sinks. Only a config error is
// returned; sink failures degrade to warnings. mirrorLogs copies log lines
// to stderr, which long-running commands want and one-shot commands don't.
func setup(ctx context.Context, command string, stderr io.Writer, mirrorLogs bool) (context.Context, *env, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, nil, fmt.Errorf("config: %w", err)
	}
	e := &env{cfg: cfg}

	ctx = shared.WithRunID(ctx, shared.NewRunID())
	ctx = shared.WithCommand(ctx, command)

	var mirror io.Writer
	if mirrorLogs {
		mirror = stderr
	}
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, command, mirror)
	if err != nil {
		logger = telemetry.NewStderrLogger(stderr, "warn", command)
		logger.Warn("log file unavailable, logging to stderr", "error", err)
	} else {
		e.closers = append(e.closers, func() { _ = closer.Close() })
	}
	e.logger = logger.With("run_id", shared.RunID(ctx))

	if err := audit.Init(cfg.HomeDir); err != nil {
		e.logger.Warn("audit log unavailable", "error", err)
	}
	e.closers = append(e.closers, func() { _ = audit.Close() })
	if cfg.AuditDB != "" {
		db, err := audit.OpenDB(cfg.AuditDB)
		if err != nil {
			e.logger.Warn("audit db unavailable", "path", cfg.AuditDB, "error", err)
		} else {
			audit.SetDB(db)
		}
	}

	provider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Enabled,
		Exporter:    cfg.OTel.Exporter,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		SampleRate:  cfg.OTel.SampleRate,
		Writer:      stderr,
	})
	if err != nil {
		e.logger.Warn("otel init failed, telemetry disabled", "error", err)
		provider, _ = otelPkg.Init(ctx, otelPkg.Config{})
	}
	e.closers = append(e.closers, func() { _ = provider.Shutdown(context.Background()) })
	e.tracer = provider.Tracer
	if m, err := otelPkg.NewMetrics(provider.Meter); err != nil {
		e.logger.Warn("otel metrics unavailable", "error", err)
	} else {
		e.metrics = m
	}

	e.logger.Debug("command started", "bus", cfg.BusPath, "config", cfg.Fingerprint())
	return ctx, e, nil
}

// Close releases sinks in reverse order of setup.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// logSkipped reports malformed bus lines at WARN with their line numbers.
func (e *env) logSkipped(skipped []teambus.SkippedLine) {
	if len(skipped) == 0 {
		return
	}
	lines := make([]int, len(skipped))
	for i, s := range skipped {
		lines[i] = s.Line
	}
	e.logger.Warn("skipped malformed bus lines", "count", len(lines), "lines", lines, "first_reason", skipped[0].Reason)
}

// severitiesFromFlag returns configured unless the flag was given on the
// command line, in which case the given list must parse on its own.
func severitiesFromFlag(fs *flag.FlagSet, name, raw string, configured event.SeveritySet) (event.SeveritySet, error) {
	if !flagPassed(fs, name) {
		return configured, nil
	}
	return event.ParseSeverities(raw)
}

func flagPassed(fs *flag.FlagSet, name string) bool {
	passed := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

// detailFlag collects repeated key=value pairs.
type detailFlag map[string]string

func (d detailFlag) String() string {
	parts := make([]string, 0, len(d))
	for k, v := range d {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (d detailFlag) Set(raw string) error {
	k, v, ok := strings.Cut(raw, "=")
	if !ok {
		return fmt.Errorf("invalid --detail %q, expected key=value", raw)
	}
	d[k] = v
	return nil
}

// newFlagSet builds a ContinueOnError flag set writing to stderr.
func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("clawdawg "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// busOrDefault resolves an explicit --bus value, expanding a leading ~/.
func busOrDefault(flagValue string, cfg config.Config) string {
	if strings.TrimSpace(flagValue) == "" {
		return cfg.BusPath
	}
	return config.ExpandHome(flagValue)
}
