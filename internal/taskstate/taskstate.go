// Package taskstate replays a task's bus events into its current gate-relevant
// state. Reduce is a pure function of its arguments: file order is the only
// ordering it trusts, and the clock is always passed in.
package taskstate

import (
	"time"

	"github.com/anoner9000/ClawDawg/internal/event"
)

// BlockState is the most recent of BLOCKED/UNBLOCKED seen for a task.
type BlockState string

const (
	BlockNone      BlockState = ""
	BlockBlocked   BlockState = "BLOCKED"
	BlockUnblocked BlockState = "UNBLOCKED"
)

// ApprovalStatus classifies the authoritative approval.
type ApprovalStatus string

const (
	ApprovalNone    ApprovalStatus = "none"
	ApprovalValid   ApprovalStatus = "valid"
	ApprovalExpired ApprovalStatus = "expired"
	ApprovalInvalid ApprovalStatus = "invalid"
)

// Verdict is the composite classification of a task.
type Verdict string

const (
	VerdictBlocked         Verdict = "BLOCKED"
	VerdictBlockedRisk     Verdict = "BLOCKED (risk)"
	VerdictApproved        Verdict = "APPROVED"
	VerdictApprovalExpired Verdict = "APPROVAL EXPIRED"
	VerdictPending         Verdict = "PENDING"
	// VerdictUnknown is reported for a task with no events at all.
	VerdictUnknown Verdict = "UNKNOWN"
)

// State is derived fresh on every read and never persisted.
type State struct {
	TaskID     string     `json:"task_id"`
	EventCount int        `json:"event_count"`
	BlockState BlockState `json:"block_state,omitempty"`

	// LastUnblocked is the UNBLOCKED record that opened the current risk
	// window, whoever wrote it. Authority is judged by the gate.
	LastUnblocked      *event.Event `json:"last_unblocked,omitempty"`
	LastUnblockedIndex int          `json:"last_unblocked_index"`

	BlockingRisk *event.Event `json:"blocking_risk,omitempty"`

	Approval       *event.Event   `json:"approval,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	ApprovalExpiry time.Time      `json:"approval_expiry,omitempty"`
	// ForeignApprovals counts APPROVAL records from agents without authority.
	ForeignApprovals int `json:"foreign_approvals,omitempty"`

	Verdict   Verdict        `json:"verdict"`
	LastEvent *event.Event   `json:"last_event,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
}

// Known reports whether the task appeared on the bus at all.
func (s State) Known() bool {
	return s.Verdict != VerdictUnknown
}

// Reduce replays events (already filtered to one task, in file order) in a
// single pass. deny selects which RISK severities block; it is never
// defaulted here.
func Reduce(taskID string, events []event.Event, now time.Time, deny event.SeveritySet) State {
	st := State{
		TaskID:             taskID,
		EventCount:         len(events),
		LastUnblockedIndex: -1,
		ApprovalStatus:     ApprovalNone,
	}
	if len(events) == 0 {
		st.Verdict = VerdictUnknown
		return st
	}

	st.Counts = make(map[string]int)
	approvalIndex := -1
	for i, ev := range events {
		st.Counts[countKey(ev.Type)]++

		switch k := ev.Kind().(type) {
		case event.Blocked:
			st.BlockState = BlockBlocked
		case event.Unblocked:
			st.BlockState = BlockUnblocked
			st.LastUnblockedIndex = i
		case event.Approval:
			if k.Agent == event.AuthorityAgent {
				approvalIndex = i
			} else {
				st.ForeignApprovals++
			}
		case event.Risk, event.Other:
			// Risks are judged against the final unblock below.
		}
	}

	if st.LastUnblockedIndex >= 0 {
		st.LastUnblocked = copyOf(events[st.LastUnblockedIndex])
	}
	st.BlockingRisk = firstBlockingRisk(events[st.LastUnblockedIndex+1:], deny)

	if approvalIndex >= 0 {
		st.Approval = copyOf(events[approvalIndex])
		st.ApprovalStatus, st.ApprovalExpiry = classifyApproval(st.Approval, now)
	}

	st.LastEvent = copyOf(events[len(events)-1])
	st.Verdict = verdictFor(st)
	return st
}

func firstBlockingRisk(window []event.Event, deny event.SeveritySet) *event.Event {
	for _, ev := range window {
		if r, ok := ev.Kind().(event.Risk); ok && deny.Contains(r.Severity) {
			return copyOf(ev)
		}
	}
	return nil
}

// classifyApproval applies the expiry rule: valid while now <= expires_at.
// A missing or unparseable expires_at makes the approval invalid.
func classifyApproval(approval *event.Event, now time.Time) (ApprovalStatus, time.Time) {
	k := approval.Kind().(event.Approval)
	if k.ExpiresAt == "" {
		return ApprovalInvalid, time.Time{}
	}
	expiry, err := event.ParseTS(k.ExpiresAt)
	if err != nil {
		return ApprovalInvalid, time.Time{}
	}
	if now.After(expiry) {
		return ApprovalExpired, expiry
	}
	return ApprovalValid, expiry
}

func verdictFor(st State) Verdict {
	switch {
	case st.BlockState == BlockBlocked:
		return VerdictBlocked
	case st.BlockingRisk != nil:
		return VerdictBlockedRisk
	case st.ApprovalStatus == ApprovalValid:
		return VerdictApproved
	case st.ApprovalStatus == ApprovalExpired:
		return VerdictApprovalExpired
	default:
		return VerdictPending
	}
}

func countKey(typ string) string {
	if typ == "" {
		return "<?>"
	}
	return typ
}

func copyOf(ev event.Event) *event.Event {
	c := ev
	return &c
}
