// Package gate turns a task's reduced state into an allow/deny decision with
// a stable process exit code for CI wrappers.
package gate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anoner9000/ClawDawg/internal/event"
	"github.com/anoner9000/ClawDawg/internal/taskstate"
	"github.com/anoner9000/ClawDawg/internal/teambus"
)

// Exit codes. CI integrations depend on the exact values.
const (
	CodeAllow   = 0
	CodeDeny    = 10
	CodeInvalid = 11
	CodeRisk    = 12
	CodeBlocked = 13
	CodeError   = 14
)

// Reason is a short machine-readable cause, used for audit and metrics.
type Reason string

const (
	ReasonApproved            Reason = "approved"
	ReasonNoEvents            Reason = "no_events"
	ReasonUnauthorizedUnblock Reason = "unauthorized_unblock"
	ReasonBlocked             Reason = "blocked"
	ReasonBlockingRisk        Reason = "blocking_risk"
	ReasonNoApproval          Reason = "no_approval"
	ReasonMissingExpiry       Reason = "missing_expiry"
	ReasonBadExpiry           Reason = "invalid_expiry"
	ReasonExpired             Reason = "approval_expired"
	ReasonBusUnreadable       Reason = "bus_unreadable"
	ReasonBadParameters       Reason = "bad_parameters"
)

// Decision is the gate's result. It is a value, never an error: every
// failure mode resolves to a deny with a code.
type Decision struct {
	Allow   bool
	Code    int
	Reason  Reason
	Message string
	State   taskstate.State
	// Skipped is the number of malformed bus lines seen while loading.
	Skipped int
}

func allow(st taskstate.State) Decision {
	return Decision{
		Allow:   true,
		Code:    CodeAllow,
		Reason:  ReasonApproved,
		Message: "GATE OK: unblocked, no blocking risks, approval valid",
		State:   st,
	}
}

func deny(st taskstate.State, code int, reason Reason, format string, args ...any) Decision {
	return Decision{
		Code:    code,
		Reason:  reason,
		Message: "GATE DENY: " + fmt.Sprintf(format, args...),
		State:   st,
	}
}

func failure(reason Reason, format string, args ...any) Decision {
	return Decision{
		Code:    CodeError,
		Reason:  reason,
		Message: "GATE ERROR: " + fmt.Sprintf(format, args...),
	}
}

// Decide applies the gate rules to a reduced state. The checks run in a
// fixed order and the first failing one decides.
func Decide(st taskstate.State) Decision {
	if !st.Known() {
		return deny(st, CodeDeny, ReasonNoEvents, "no events for task")
	}

	// The reducer records whoever wrote the latest UNBLOCKED; only the
	// authority agent may lift a block. Fail closed on anything else.
	if st.LastUnblocked != nil && st.LastUnblocked.Agent != event.AuthorityAgent {
		return deny(st, CodeBlocked, ReasonUnauthorizedUnblock,
			"UNBLOCKED not from %s (agent=%s)", event.AuthorityAgent, displayAgent(st.LastUnblocked.Agent))
	}

	if st.BlockState == taskstate.BlockBlocked {
		return deny(st, CodeBlocked, ReasonBlocked, "BLOCKED present (not cleared)")
	}

	if st.BlockingRisk != nil {
		return deny(st, CodeRisk, ReasonBlockingRisk, "RISK severity=%s present", st.BlockingRisk.Severity)
	}

	switch st.ApprovalStatus {
	case taskstate.ApprovalNone:
		if st.ForeignApprovals > 0 {
			return deny(st, CodeDeny, ReasonNoApproval,
				"no %s APPROVAL (ignored %d from other agents)", event.AuthorityAgent, st.ForeignApprovals)
		}
		return deny(st, CodeDeny, ReasonNoApproval, "no %s APPROVAL", event.AuthorityAgent)
	case taskstate.ApprovalInvalid:
		if st.Approval == nil || strings.TrimSpace(st.Approval.ExpiresAt) == "" {
			return deny(st, CodeInvalid, ReasonMissingExpiry, "invalid approval: APPROVAL missing expires_at")
		}
		return deny(st, CodeInvalid, ReasonBadExpiry, "invalid expires_at format %q", st.Approval.ExpiresAt)
	case taskstate.ApprovalExpired:
		return deny(st, CodeInvalid, ReasonExpired, "approval expired at %s", st.Approval.ExpiresAt)
	}

	return allow(st)
}

// Evaluate loads the task's events from the bus, reduces them at now and
// decides. It has no side effects.
func Evaluate(busPath, taskID string, denySet event.SeveritySet, now time.Time) Decision {
	if taskID == "" {
		return failure(ReasonBadParameters, "empty task id")
	}
	if len(denySet) == 0 {
		return failure(ReasonBadParameters, "empty deny set")
	}
	log, err := teambus.LoadTask(busPath, taskID)
	if err != nil {
		if errors.Is(err, teambus.ErrBusNotFound) {
			return failure(ReasonBusUnreadable, "bus not found: %s", busPath)
		}
		return failure(ReasonBusUnreadable, "cannot read bus: %v", err)
	}
	d := Decide(taskstate.Reduce(taskID, log.Events, now, denySet))
	d.Skipped = log.SkippedCount()
	return d
}

func displayAgent(agent string) string {
	if agent == "" {
		return "<none>"
	}
	return agent
}
