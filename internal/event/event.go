// Package event models one team-bus record and the closed set of record
// kinds the task state machine understands.
package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// SchemaVersion is stamped on every record this tool appends.
const SchemaVersion = "team_bus.v1.1"

// Agents with special standing on the bus.
const (
	// AuthorityAgent is the only principal whose UNBLOCKED and APPROVAL
	// records carry authority.
	AuthorityAgent = "deiphobe"
	// WatcherAgent signs synthetic BLOCKED records appended by the sweep.
	WatcherAgent = "watcher"
)

// Record types that drive the state machine.
const (
	TypeBlocked   = "BLOCKED"
	TypeUnblocked = "UNBLOCKED"
	TypeRisk      = "RISK"
	TypeApproval  = "APPROVAL"
)

// Event is one JSON line of the bus. Fields mirror the wire schema; Line is
// the 1-based line number in the file the event was read from.
type Event struct {
	SchemaVersion string          `json:"schema_version,omitempty"`
	TS            string          `json:"ts"`
	TaskID        string          `json:"task_id,omitempty"`
	Agent         string          `json:"agent"`
	Type          string          `json:"type"`
	Severity      string          `json:"severity,omitempty"`
	ExpiresAt     string          `json:"expires_at,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	Next          string          `json:"next,omitempty"`

	Line int `json:"-"`
}

// Kind is the sealed union of record kinds. Every reducer switch handles
// all five implementations.
type Kind interface {
	kind()
}

// Blocked marks the task as blocked.
type Blocked struct{}

// Unblocked clears a block. Agent is kept so authority can be checked by the
// caller; the kind itself carries no verdict about it.
type Unblocked struct {
	Agent string
}

// Risk is a risk call-out with its severity as written (trimmed).
type Risk struct {
	Severity string
}

// Approval is an approval record. ExpiresAt is the raw field value.
type Approval struct {
	Agent     string
	ExpiresAt string
}

// Other is any record type with no effect on task state.
type Other struct {
	Type string
}

func (Blocked) kind()   {}
func (Unblocked) kind() {}
func (Risk) kind()      {}
func (Approval) kind()  {}
func (Other) kind()     {}

// Kind classifies the event. Type matching is exact.
func (e Event) Kind() Kind {
	switch e.Type {
	case TypeBlocked:
		return Blocked{}
	case TypeUnblocked:
		return Unblocked{Agent: e.Agent}
	case TypeRisk:
		return Risk{Severity: strings.TrimSpace(e.Severity)}
	case TypeApproval:
		return Approval{Agent: e.Agent, ExpiresAt: strings.TrimSpace(e.ExpiresAt)}
	default:
		return Other{Type: e.Type}
	}
}

// wireEvent is the decoding shape of a record. State-bearing fields are
// strict; free-text fields accept any JSON value.
type wireEvent struct {
	SchemaVersion json.RawMessage `json:"schema_version"`
	TS            json.RawMessage `json:"ts"`
	TaskID        string          `json:"task_id"`
	Agent         string          `json:"agent"`
	Type          string          `json:"type"`
	Severity      string          `json:"severity"`
	ExpiresAt     string          `json:"expires_at"`
	Summary       json.RawMessage `json:"summary"`
	Details       json.RawMessage `json:"details"`
	Next          json.RawMessage `json:"next"`
}

// UnmarshalJSON decodes a record. Only a wrong-typed task_id, agent, type,
// severity or expires_at fails; summary, next, ts and schema_version of any
// JSON type are kept as text.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.SchemaVersion = looseText(w.SchemaVersion)
	e.TS = looseText(w.TS)
	e.TaskID = w.TaskID
	e.Agent = w.Agent
	e.Type = w.Type
	e.Severity = w.Severity
	e.ExpiresAt = w.ExpiresAt
	e.Summary = looseText(w.Summary)
	e.Details = nil
	if len(w.Details) > 0 && !bytes.Equal(w.Details, []byte("null")) {
		e.Details = w.Details
	}
	e.Next = looseText(w.Next)
	return nil
}

// looseText returns a JSON string's value, "" for null or absent, and the
// compact JSON text of any other value.
func looseText(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Parse decodes a single bus line. A line that is valid JSON but has no type
// is rejected the same way as a syntax error.
func Parse(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(ev.Type) == "" {
		return Event{}, errMissingType
	}
	return ev, nil
}

// Marshal encodes the event as one newline-terminated JSON line.
func Marshal(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

type parseError string

func (e parseError) Error() string { return string(e) }

const errMissingType = parseError("event has no type")

// New builds an event stamped with the current schema version and ts.
func New(now time.Time, taskID, agent, typ, summary string) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		TS:            FormatTS(now),
		TaskID:        taskID,
		Agent:         agent,
		Type:          typ,
		Summary:       summary,
	}
}

// WithDetails attaches a JSON-encoded details object. Encoding failures
// leave Details empty.
func (e Event) WithDetails(details any) Event {
	if details == nil {
		return e
	}
	if b, err := json.Marshal(details); err == nil {
		e.Details = b
	}
	return e
}
