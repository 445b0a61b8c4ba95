package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anoner9000/ClawDawg/internal/doctor"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// runCLI runs one command against an isolated home directory.
func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func newHome(t *testing.T) (home, busPath string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("CLAWDAWG_HOME", home)
	t.Setenv("CLAWDAWG_BUS", "")
	t.Setenv("NO_COLOR", "1")
	return home, filepath.Join(home, "runtime", "logs", "team_bus.jsonl")
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data := strings.Join(lines, "\n")
	if len(lines) > 0 {
		data += "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRun_UsageAndVersion(t *testing.T) {
	newHome(t)
	if r := runCLI(t); r.code != 2 || !strings.Contains(r.stderr, "Usage: clawdawg") {
		t.Fatalf("no args: code=%d stderr=%q", r.code, r.stderr)
	}
	if r := runCLI(t, "bogus"); r.code != 2 || !strings.Contains(r.stderr, `unknown command "bogus"`) {
		t.Fatalf("unknown: code=%d stderr=%q", r.code, r.stderr)
	}
	if r := runCLI(t, "version"); r.code != 0 || strings.TrimSpace(r.stdout) != Version {
		t.Fatalf("version: code=%d stdout=%q", r.code, r.stdout)
	}
}

func TestGate_Lifecycle(t *testing.T) {
	_, bus := newHome(t)

	r := runCLI(t, "emit", "approval", "--task-id", "TASK-1", "--summary", "ship it", "--expires-minutes", "30", "--bus", bus)
	if r.code != 0 || r.stdout != "APPROVAL written (expires in 30 minutes)\n" {
		t.Fatalf("emit approval: code=%d stdout=%q stderr=%q", r.code, r.stdout, r.stderr)
	}
	if r := runCLI(t, "gate", "--task-id", "TASK-1", "--bus", bus); r.code != 0 || !strings.HasPrefix(r.stdout, "GATE OK:") {
		t.Fatalf("gate after approval: code=%d stdout=%q", r.code, r.stdout)
	}

	r = runCLI(t, "emit", "risk", "--task-id", "TASK-1", "--agent", "custodian", "--severity", "high", "--summary", "prod creds in diff", "--bus", bus)
	if r.code != 0 || r.stdout != "RISK written\n" {
		t.Fatalf("emit risk: code=%d stdout=%q stderr=%q", r.code, r.stdout, r.stderr)
	}
	if r := runCLI(t, "gate", "--task-id", "TASK-1", "--bus", bus); r.code != 12 || r.stdout != "GATE DENY: RISK severity=high present\n" {
		t.Fatalf("gate after risk: code=%d stdout=%q", r.code, r.stdout)
	}

	r = runCLI(t, "autoblock", "--bus", bus)
	if r.code != 0 {
		t.Fatalf("autoblock: code=%d stderr=%q", r.code, r.stderr)
	}
	if !strings.Contains(r.stdout, "AUTO-BLOCK: TASK-1 blocked (RISK severity=high at line 2)") ||
		!strings.Contains(r.stdout, "AUTO-BLOCK: scanned 1 tasks, blocked 1") {
		t.Fatalf("autoblock stdout = %q", r.stdout)
	}
	if r := runCLI(t, "gate", "--task-id", "TASK-1", "--bus", bus); r.code != 13 || r.stdout != "GATE DENY: BLOCKED present (not cleared)\n" {
		t.Fatalf("gate after block: code=%d stdout=%q", r.code, r.stdout)
	}

	// A second sweep finds nothing new.
	if r := runCLI(t, "autoblock", "--bus", bus); r.code != 0 || !strings.Contains(r.stdout, "blocked 0") {
		t.Fatalf("second autoblock: code=%d stdout=%q", r.code, r.stdout)
	}

	r = runCLI(t, "emit", "unblocked", "--task-id", "TASK-1", "--summary", "creds rotated", "--bus", bus)
	if r.code != 0 || r.stdout != "UNBLOCKED written\n" {
		t.Fatalf("emit unblocked: code=%d stdout=%q stderr=%q", r.code, r.stdout, r.stderr)
	}
	if r := runCLI(t, "gate", "--task-id", "TASK-1", "--bus", bus); r.code != 0 {
		t.Fatalf("gate after unblock: code=%d stdout=%q", r.code, r.stdout)
	}

	// Everything emitted or appended must pass the schema.
	r = runCLI(t, "validate", bus)
	if r.code != 0 || !strings.Contains(r.stdout, "events=4 valid=4 invalid=0") {
		t.Fatalf("validate: code=%d stdout=%q stderr=%q", r.code, r.stdout, r.stderr)
	}
}

func TestGate_ErrorsExit14OnStdout(t *testing.T) {
	_, bus := newHome(t)

	r := runCLI(t, "gate", "--task-id", "T1", "--bus", bus)
	if r.code != 14 || r.stdout != "GATE ERROR: bus not found: "+bus+"\n" {
		t.Fatalf("missing bus: code=%d stdout=%q", r.code, r.stdout)
	}

	writeLines(t, bus, `{"ts":"2026-01-01T00:00:00Z","task_id":"T2","agent":"a","type":"NOTE"}`)
	if r := runCLI(t, "gate", "--task-id", "T1", "--bus", bus); r.code != 10 || r.stdout != "GATE DENY: no events for task\n" {
		t.Fatalf("no events: code=%d stdout=%q", r.code, r.stdout)
	}
	if r := runCLI(t, "gate", "--task-id", "T1", "--bus", bus, "--deny-risk-severity", ""); r.code != 14 || r.stdout != "GATE ERROR: empty deny set\n" {
		t.Fatalf("empty deny: code=%d stdout=%q", r.code, r.stdout)
	}
	if r := runCLI(t, "gate", "--task-id", "T1", "--bus", bus, "--deny-risk-severity", "HIGH"); r.code != 14 || !strings.HasPrefix(r.stdout, "GATE ERROR: invalid --deny-risk-severity") {
		t.Fatalf("bad deny: code=%d stdout=%q", r.code, r.stdout)
	}
	if r := runCLI(t, "gate", "--bus", bus); r.code != 14 || r.stdout != "GATE ERROR: empty task id\n" {
		t.Fatalf("no task id: code=%d stdout=%q", r.code, r.stdout)
	}
	if r := runCLI(t, "gate", "--nope"); r.code != 14 {
		t.Fatalf("bad flag: code=%d", r.code)
	}
}

func TestGate_UnauthorizedUnblock(t *testing.T) {
	_, bus := newHome(t)
	writeLines(t, bus,
		`{"ts":"2026-01-01T00:00:00Z","task_id":"T1","agent":"watcher","type":"BLOCKED"}`,
		`{"ts":"2026-01-01T00:01:00Z","task_id":"T1","agent":"mallory","type":"UNBLOCKED"}`,
	)
	r := runCLI(t, "gate", "--task-id", "T1", "--bus", bus)
	if r.code != 13 || r.stdout != "GATE DENY: UNBLOCKED not from deiphobe (agent=mallory)\n" {
		t.Fatalf("code=%d stdout=%q", r.code, r.stdout)
	}
}

func TestTaskState_UnknownTask(t *testing.T) {
	_, bus := newHome(t)
	writeLines(t, bus)

	r := runCLI(t, "task-state", "--task-id", "ghost", "--bus", bus)
	if r.code != 1 || r.stdout != "STATE: UNKNOWN (no events for task)\n" {
		t.Fatalf("code=%d stdout=%q stderr=%q", r.code, r.stdout, r.stderr)
	}
}

func TestTaskState_KnownTaskAndJSON(t *testing.T) {
	_, bus := newHome(t)
	writeLines(t, bus,
		`{"ts":"2026-01-01T00:00:00Z","task_id":"T1","agent":"custodian","type":"RISK","severity":"critical","summary":"rm -rf"}`,
		`not json`,
	)

	r := runCLI(t, "task-state", "--task-id", "T1", "--bus", bus)
	if r.code != 0 {
		t.Fatalf("code=%d stderr=%q", r.code, r.stderr)
	}
	for _, want := range []string{"TASK: T1", "STATE: BLOCKED (risk)", "BLOCK STATE: never blocked", "BLOCKING RISK: severity=critical"} {
		if !strings.Contains(r.stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, r.stdout)
		}
	}

	r = runCLI(t, "task-state", "--task-id", "T1", "--bus", bus, "--json")
	if r.code != 0 {
		t.Fatalf("json code=%d stderr=%q", r.code, r.stderr)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(r.stdout), &got); err != nil {
		t.Fatalf("json output: %v\n%s", err, r.stdout)
	}

	if r := runCLI(t, "task-state", "--bus", bus); r.code != 2 {
		t.Fatalf("missing task id: code=%d", r.code)
	}
	if r := runCLI(t, "task-state", "--task-id", "T1", "--bus", filepath.Join(t.TempDir(), "none.jsonl")); r.code != 2 {
		t.Fatalf("missing bus: code=%d", r.code)
	}
}

func TestAutoBlock_ExitCodes(t *testing.T) {
	_, bus := newHome(t)

	if r := runCLI(t, "autoblock", "--bus", bus); r.code != 1 || !strings.HasPrefix(r.stderr, "AUTO-BLOCK ERROR:") {
		t.Fatalf("missing bus: code=%d stderr=%q", r.code, r.stderr)
	}

	writeLines(t, bus, `{"ts":"2026-01-01T00:00:00Z","task_id":"T1","agent":"custodian","type":"RISK","severity":"medium"}`)
	if r := runCLI(t, "autoblock", "--bus", bus, "--block-severity", ""); r.code != 2 || r.stderr != "AUTO-BLOCK ERROR: empty --block-severity\n" {
		t.Fatalf("empty severity: code=%d stderr=%q", r.code, r.stderr)
	}
	if r := runCLI(t, "autoblock", "--bus", bus, "--block-severity", "severe"); r.code != 2 {
		t.Fatalf("unknown severity: code=%d", r.code)
	}

	r := runCLI(t, "autoblock", "--bus", bus, "--block-severity", "medium", "--dry-run")
	if r.code != 0 || !strings.Contains(r.stdout, "T1 would be blocked") {
		t.Fatalf("dry run: code=%d stdout=%q", r.code, r.stdout)
	}
	data, err := os.ReadFile(bus)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Fatalf("dry run wrote to the bus:\n%s", data)
	}

	// Medium is below the default threshold.
	if r := runCLI(t, "autoblock", "--bus", bus); r.code != 0 || !strings.Contains(r.stdout, "blocked 0") {
		t.Fatalf("default severities: code=%d stdout=%q", r.code, r.stdout)
	}
}

func TestEmit_UsageErrors(t *testing.T) {
	_, bus := newHome(t)
	cases := [][]string{
		{"emit"},
		{"emit", "note"},
		{"emit", "approval", "--task-id", "T1", "--summary", "s", "--bus", bus},
		{"emit", "approval", "--task-id", "T1", "--summary", "s", "--expires-minutes", "0", "--bus", bus},
		{"emit", "unblocked", "--task-id", "T1", "--summary", "s", "--detail", "novalue", "--bus", bus},
		{"emit", "unblocked", "--summary", "s", "--bus", bus},
		{"emit", "risk", "--task-id", "T1", "--agent", "a", "--severity", "severe", "--summary", "s", "--bus", bus},
		{"emit", "blocked", "--task-id", "T1", "--summary", "s", "--bus", bus},
	}
	for _, args := range cases {
		if r := runCLI(t, args...); r.code != 2 {
			t.Errorf("%v: code=%d, want 2 (stderr=%q)", args, r.code, r.stderr)
		}
	}
	if _, err := os.Stat(bus); !os.IsNotExist(err) {
		t.Fatalf("usage errors must not create the bus: %v", err)
	}
}

func TestEmit_DetailsAndSigner(t *testing.T) {
	_, bus := newHome(t)
	r := runCLI(t, "emit", "unblocked", "--task-id", "T1", "--summary", "ok", "--detail", "ticket=OPS-1", "--bus", bus)
	if r.code != 0 {
		t.Fatalf("code=%d stderr=%q", r.code, r.stderr)
	}
	data, err := os.ReadFile(bus)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("record: %v\n%s", err, data)
	}
	if rec["agent"] != "deiphobe" || rec["type"] != "UNBLOCKED" || rec["schema_version"] != "team_bus.v1.1" {
		t.Fatalf("record = %v", rec)
	}
	if rec["next"] != "New approval required before execution" {
		t.Fatalf("next = %v", rec["next"])
	}
	details, _ := rec["details"].(map[string]any)
	if details["ticket"] != "OPS-1" {
		t.Fatalf("details = %v", rec["details"])
	}
}

func TestValidate_ExitCodes(t *testing.T) {
	_, bus := newHome(t)
	dir := t.TempDir()

	if r := runCLI(t, "validate", filepath.Join(dir, "missing.jsonl")); r.code != 2 {
		t.Fatalf("missing file: code=%d", r.code)
	}
	if r := runCLI(t, "validate"); r.code != 2 {
		t.Fatalf("no arg: code=%d", r.code)
	}

	if r := runCLI(t, "emit", "blocked", "--task-id", "TASK-1", "--agent", "custodian", "--summary", "waiting on review", "--bus", bus); r.code != 0 {
		t.Fatalf("emit: code=%d stderr=%q", r.code, r.stderr)
	}
	f, err := os.OpenFile(bus, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{broken\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	clean := filepath.Join(dir, "clean.jsonl")
	r := runCLI(t, "validate", "--clean-out", clean, bus)
	if r.code != 1 {
		t.Fatalf("invalid line: code=%d stdout=%q", r.code, r.stdout)
	}
	if !strings.Contains(r.stdout, "events=2 valid=1 invalid=1 clean_out="+clean) {
		t.Fatalf("summary = %q", r.stdout)
	}
	if !strings.HasPrefix(r.stderr, "Line 2: ") {
		t.Fatalf("stderr = %q", r.stderr)
	}
	cleaned, err := os.ReadFile(clean)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(cleaned), "\n") != 1 || !strings.Contains(string(cleaned), `"BLOCKED"`) {
		t.Fatalf("clean output:\n%s", cleaned)
	}

	if r := runCLI(t, "validate", "--quiet", bus); r.code != 1 || r.stderr != "" {
		t.Fatalf("quiet: code=%d stderr=%q", r.code, r.stderr)
	}

	badSchema := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(badSchema, []byte(`{"type": 42}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := runCLI(t, "validate", "--schema", badSchema, bus); r.code != 3 {
		t.Fatalf("bad schema: code=%d stderr=%q", r.code, r.stderr)
	}
}

func TestDashboard(t *testing.T) {
	_, bus := newHome(t)

	r := runCLI(t, "dashboard", "--bus", bus)
	if r.code != 2 || r.stderr != "ERROR: bus not found: "+bus+"\n" {
		t.Fatalf("missing bus: code=%d stderr=%q", r.code, r.stderr)
	}

	writeLines(t, bus,
		`{"ts":"2026-01-01T00:00:00Z","task_id":"T-1","agent":"watcher","type":"BLOCKED","summary":"stuck"}`,
		`{"ts":"2026-01-01T00:01:00Z","task_id":"T-2","agent":"custodian","type":"NOTE","summary":"hello"}`,
	)
	r = runCLI(t, "dashboard", "--bus", bus, "--no-color", "--sort", "state")
	if r.code != 0 {
		t.Fatalf("table: code=%d stderr=%q", r.code, r.stderr)
	}
	if !strings.Contains(r.stdout, "OpenClaw Task Dashboard") || strings.Index(r.stdout, "T-1") > strings.Index(r.stdout, "T-2") {
		t.Fatalf("table output:\n%s", r.stdout)
	}
	if strings.Contains(r.stdout, "\x1b[") {
		t.Fatalf("--no-color output has escapes:\n%s", r.stdout)
	}

	r = runCLI(t, "dashboard", "--bus", bus, "--show", "T-1")
	if r.code != 0 || !strings.Contains(r.stdout, "OpenClaw Task Detail") || !strings.Contains(r.stdout, "COUNTS: BLOCKED=1") {
		t.Fatalf("detail: code=%d stdout:\n%s", r.code, r.stdout)
	}

	if r := runCLI(t, "dashboard", "--bus", bus, "--sort", "size"); r.code != 2 {
		t.Fatalf("bad sort: code=%d", r.code)
	}
}

func TestDoctor_JSON(t *testing.T) {
	_, bus := newHome(t)
	writeLines(t, bus, `{"ts":"2026-01-01T00:00:00Z","task_id":"T1","agent":"a","type":"NOTE"}`)

	r := runCLI(t, "doctor", "-json")
	if r.code != 0 {
		t.Fatalf("code=%d stdout=%s", r.code, r.stdout)
	}
	var diag doctor.Diagnosis
	if err := json.Unmarshal([]byte(r.stdout), &diag); err != nil {
		t.Fatalf("decode: %v\n%s", err, r.stdout)
	}
	if len(diag.Results) == 0 || diag.System.Version != Version {
		t.Fatalf("diagnosis = %+v", diag)
	}
	for _, res := range diag.Results {
		if res.Status == doctor.StatusFail {
			t.Fatalf("unexpected failure: %+v", res)
		}
	}
}

func TestDoctor_BadConfigFails(t *testing.T) {
	home, _ := newHome(t)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("deny_risk_severity: [SEVERE]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := runCLI(t, "doctor")
	if r.code != 1 || !strings.Contains(r.stdout, "ClawDawg Doctor Report") {
		t.Fatalf("code=%d stdout=%s", r.code, r.stdout)
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	_, bus := newHome(t)
	writeLines(t, bus, `{"ts":"2026-01-01T00:00:00Z","task_id":"T1","agent":"custodian","type":"RISK","severity":"critical"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	if code := runWatchCommand(ctx, []string{"--bus", bus}, &stdout, &stderr); code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}

	if code := runWatchCommand(context.Background(), []string{"--bus", bus, "--schedule", "not a cron"}, &stdout, &stderr); code != 2 {
		t.Fatalf("bad schedule: code=%d", code)
	}
}

func TestAuditDetail_MasksSensitiveKeys(t *testing.T) {
	got := auditDetail("rotated", detailFlag{"ticket": "OPS-1", "api_token": "abc"})
	if got != "rotated api_token=[REDACTED] ticket=OPS-1" {
		t.Fatalf("auditDetail = %q", got)
	}
}
