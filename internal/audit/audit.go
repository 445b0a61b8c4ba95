// Package audit keeps an append-only trail of gate decisions and sweep
// appends in <home>/logs/audit.jsonl, optionally mirrored to SQLite.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/anoner9000/ClawDawg/internal/shared"
)

// Capabilities recorded by the CLI.
const (
	CapabilityGate      = "gate.evaluate"
	CapabilityAutoBlock = "autoblock.append"
	CapabilityEmit      = "bus.emit"
)

// Entry is one audit record. Timestamp and RunID are filled in by Record.
type Entry struct {
	Timestamp  string `json:"timestamp"`
	Decision   string `json:"decision"`
	Capability string `json:"capability"`
	Reason     string `json:"reason"`
	TaskID     string `json:"task_id,omitempty"`
	RunID      string `json:"run_id"`
	Detail     string `json:"detail,omitempty"`
}

var (
	mu        sync.Mutex
	file      *os.File
	db        *sql.DB
	denyCount atomic.Int64
	now       = func() time.Time { return time.Now().UTC() }
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// OpenDB opens (creating if needed) the SQLite mirror and its audit_log
// table.
func OpenDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit db dir: %w", err)
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	d, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		audit_id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		task_id TEXT,
		action TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT,
		detail TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("create audit_log: %w", err)
	}
	return d, nil
}

// SetDB configures the database for audit_log writes. Passing nil disables
// the mirror.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	if file != nil {
		err = file.Close()
		file = nil
	}
	if db != nil {
		if dbErr := db.Close(); err == nil {
			err = dbErr
		}
		db = nil
	}
	return err
}

// DenyCount returns the number of deny decisions recorded by this process.
func DenyCount() int64 {
	return denyCount.Load()
}

// Record appends e. Failures are swallowed: auditing never changes a
// decision or an exit code.
func Record(ctx context.Context, e Entry) {
	if e.Decision == "deny" {
		denyCount.Add(1)
	}
	e.Timestamp = now().Format(time.RFC3339Nano)
	e.RunID = shared.RunID(ctx)
	if e.TaskID == "" {
		e.TaskID = shared.TaskID(ctx)
	}
	e.Reason = shared.Redact(e.Reason)
	e.Detail = shared.Redact(e.Detail)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		if b, err := json.Marshal(e); err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}
	if db != nil {
		_, _ = db.ExecContext(ctx, `
			INSERT INTO audit_log (run_id, task_id, action, decision, reason, detail)
			VALUES (?, ?, ?, ?, ?, ?);
		`, e.RunID, e.TaskID, e.Capability, e.Decision, e.Reason, e.Detail)
	}
}
