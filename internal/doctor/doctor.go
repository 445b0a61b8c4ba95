package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/anoner9000/ClawDawg/internal/audit"
	"github.com/anoner9000/ClawDawg/internal/config"
	"github.com/anoner9000/ClawDawg/internal/cron"
	"github.com/anoner9000/ClawDawg/internal/schema"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

// Check statuses.
const (
	StatusPass = "PASS"
	StatusWarn = "WARN"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

// maxSkippedDetail caps the line numbers listed for a dirty bus.
const maxSkippedDetail = 10

// Run executes all diagnostic checks. cfgErr is the error config.Load
// returned, if any; cfg may then be nil.
func Run(ctx context.Context, cfg *config.Config, cfgErr error, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	d.Results = append(d.Results, checkConfig(cfg, cfgErr))
	checks := []func(context.Context, *config.Config) CheckResult{
		checkBus,
		checkSchedule,
		checkAuditLog,
		checkAuditDB,
		checkSchema,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(cfg *config.Config, cfgErr error) CheckResult {
	if cfgErr != nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration invalid", Detail: cfgErr.Error()}
	}
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	detail := fmt.Sprintf("deny=%s block=%s", cfg.DenySet(), cfg.BlockSet())
	if !cfg.Loaded {
		return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("No config.yaml in %s, using defaults", cfg.HomeDir), Detail: detail}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.HomeDir)), Detail: detail}
}

func checkBus(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Bus", Status: StatusSkip, Message: "Config missing"}
	}
	log, err := teambus.Load(cfg.BusPath)
	if errors.Is(err, teambus.ErrBusNotFound) {
		return CheckResult{Name: "Bus", Status: StatusWarn, Message: fmt.Sprintf("Bus not found at %s", cfg.BusPath), Detail: "created by the first emit"}
	}
	if err != nil {
		return CheckResult{Name: "Bus", Status: StatusFail, Message: fmt.Sprintf("Bus unreadable: %v", err)}
	}

	msg := fmt.Sprintf("%d events, %d tasks, %d skipped lines", len(log.Events), len(log.GroupByTask()), log.SkippedCount())
	switch {
	case log.Suspect():
		return CheckResult{Name: "Bus", Status: StatusWarn, Message: "No line decoded: " + msg, Detail: skippedDetail(log)}
	case log.SkippedCount() > 0:
		return CheckResult{Name: "Bus", Status: StatusWarn, Message: msg, Detail: skippedDetail(log)}
	}
	return CheckResult{Name: "Bus", Status: StatusPass, Message: msg, Detail: cfg.BusPath}
}

func skippedDetail(log *teambus.Log) string {
	var lines []string
	for i, s := range log.Skipped {
		if i == maxSkippedDetail {
			lines = append(lines, "...")
			break
		}
		lines = append(lines, fmt.Sprintf("%d", s.Line))
	}
	return "malformed lines: " + strings.Join(lines, ",")
}

func checkSchedule(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Sweep Schedule", Status: StatusSkip, Message: "Config missing"}
	}
	next, err := cron.NextRunTime(cfg.SweepSchedule, time.Now())
	if err != nil {
		return CheckResult{Name: "Sweep Schedule", Status: StatusFail, Message: fmt.Sprintf("Invalid schedule %q", cfg.SweepSchedule), Detail: err.Error()}
	}
	return CheckResult{Name: "Sweep Schedule", Status: StatusPass, Message: fmt.Sprintf("%q, next run %s", cfg.SweepSchedule, next.UTC().Format(time.RFC3339))}
}

func checkAuditLog(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Audit Log", Status: StatusSkip, Message: "Config missing"}
	}
	logDir := filepath.Join(cfg.HomeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return CheckResult{Name: "Audit Log", Status: StatusFail, Message: fmt.Sprintf("Log dir unwritable: %v", err)}
	}
	testFile := filepath.Join(logDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Audit Log", Status: StatusFail, Message: fmt.Sprintf("Log dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Audit Log", Status: StatusPass, Message: "Log directory writable", Detail: logDir}
}

func checkAuditDB(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.AuditDB == "" {
		return CheckResult{Name: "Audit DB", Status: StatusSkip, Message: "audit_db not configured"}
	}
	db, err := audit.OpenDB(cfg.AuditDB)
	if err != nil {
		return CheckResult{Name: "Audit DB", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&n); err != nil {
		return CheckResult{Name: "Audit DB", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{Name: "Audit DB", Status: StatusPass, Message: fmt.Sprintf("%d audit rows", n), Detail: cfg.AuditDB}
}

func checkSchema(_ context.Context, _ *config.Config) CheckResult {
	if _, err := schema.New(); err != nil {
		return CheckResult{Name: "Schema", Status: StatusFail, Message: "Embedded schema does not compile", Detail: err.Error()}
	}
	return CheckResult{Name: "Schema", Status: StatusPass, Message: "team_bus.v1.1 schema compiled"}
}
