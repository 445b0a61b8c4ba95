package taskstate

import (
	"reflect"
	"testing"
	"time"

	"github.com/anoner9000/ClawDawg/internal/event"
)

var now = time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

func ev(ts, agent, typ string) event.Event {
	return event.Event{TS: ts, TaskID: "T1", Agent: agent, Type: typ}
}

func risk(ts, sev string) event.Event {
	e := ev(ts, "auditor", event.TypeRisk)
	e.Severity = sev
	return e
}

func approval(ts, agent, expires string) event.Event {
	e := ev(ts, agent, event.TypeApproval)
	e.ExpiresAt = expires
	return e
}

func reduce(events ...event.Event) State {
	return Reduce("T1", events, now, event.DefaultDenySeverities())
}

func TestReduce_EmptyIsUnknown(t *testing.T) {
	st := reduce()
	if st.Verdict != VerdictUnknown || st.Known() {
		t.Fatalf("expected UNKNOWN, got %q", st.Verdict)
	}
	if st.LastEvent != nil || st.BlockState != BlockNone {
		t.Fatalf("unexpected state for empty task: %#v", st)
	}
}

func TestReduce_OnlyStatusIsPending(t *testing.T) {
	st := reduce(ev("2026-02-07T10:00:00Z", "planner", "STATUS"))
	if st.Verdict != VerdictPending {
		t.Fatalf("expected PENDING, got %q", st.Verdict)
	}
	if st.Counts["STATUS"] != 1 {
		t.Fatalf("unexpected counts %#v", st.Counts)
	}
}

func TestReduce_BlockStateFollowsFileOrderNotTimestamps(t *testing.T) {
	// Later in the file but with an earlier ts (clock skew).
	st := reduce(
		ev("2026-02-07T11:00:00Z", "deiphobe", event.TypeUnblocked),
		ev("2026-02-07T09:00:00Z", "watcher", event.TypeBlocked),
	)
	if st.BlockState != BlockBlocked || st.Verdict != VerdictBlocked {
		t.Fatalf("expected BLOCKED from file order, got %q/%q", st.BlockState, st.Verdict)
	}

	st = reduce(
		ev("2026-02-07T11:00:00Z", "watcher", event.TypeBlocked),
		ev("2026-02-07T09:00:00Z", "deiphobe", event.TypeUnblocked),
	)
	if st.BlockState != BlockUnblocked {
		t.Fatalf("expected UNBLOCKED from file order, got %q", st.BlockState)
	}
}

func TestReduce_UnblockAmnestiesEarlierRisk(t *testing.T) {
	st := reduce(
		risk("2026-02-07T10:00:00Z", "critical"),
		ev("2026-02-07T10:05:00Z", "deiphobe", event.TypeUnblocked),
		risk("2026-02-07T10:06:00Z", "low"),
		approval("2026-02-07T10:07:00Z", "deiphobe", "2026-02-07T13:00:00Z"),
	)
	if st.BlockingRisk != nil {
		t.Fatalf("risk before unblock must be amnestied, got %#v", st.BlockingRisk)
	}
	if st.Verdict != VerdictApproved {
		t.Fatalf("expected APPROVED, got %q", st.Verdict)
	}
	if st.LastUnblockedIndex != 1 || st.LastUnblocked == nil {
		t.Fatalf("unexpected last unblock %d %#v", st.LastUnblockedIndex, st.LastUnblocked)
	}
}

func TestReduce_RiskAfterUnblockBlocks(t *testing.T) {
	st := reduce(
		ev("2026-02-07T10:05:00Z", "deiphobe", event.TypeUnblocked),
		risk("2026-02-07T10:06:00Z", "medium"),
		risk("2026-02-07T10:07:00Z", "critical"),
		risk("2026-02-07T10:08:00Z", "high"),
	)
	if st.Verdict != VerdictBlockedRisk {
		t.Fatalf("expected BLOCKED (risk), got %q", st.Verdict)
	}
	if st.BlockingRisk == nil || st.BlockingRisk.Severity != "critical" {
		t.Fatalf("expected first qualifying risk (critical), got %#v", st.BlockingRisk)
	}
}

func TestReduce_BlockedOutranksRisk(t *testing.T) {
	st := reduce(
		risk("2026-02-07T10:06:00Z", "critical"),
		ev("2026-02-07T10:07:00Z", "watcher", event.TypeBlocked),
	)
	if st.Verdict != VerdictBlocked {
		t.Fatalf("expected BLOCKED, got %q", st.Verdict)
	}
	if st.BlockingRisk == nil {
		t.Fatal("blocking risk is still reported under a BLOCKED verdict")
	}
}

func TestReduce_LatestApprovalSupersedes(t *testing.T) {
	st := reduce(
		approval("2026-02-07T08:00:00Z", "deiphobe", "2027-01-01T00:00:00Z"),
		approval("2026-02-07T09:00:00Z", "deiphobe", "2026-02-07T11:00:00Z"),
	)
	if st.ApprovalStatus != ApprovalExpired || st.Verdict != VerdictApprovalExpired {
		t.Fatalf("expected later approval to win as expired, got %q/%q", st.ApprovalStatus, st.Verdict)
	}
	if st.Approval.ExpiresAt != "2026-02-07T11:00:00Z" {
		t.Fatalf("wrong approval chosen: %#v", st.Approval)
	}
}

func TestReduce_ApprovalFromOtherAgentIgnored(t *testing.T) {
	st := reduce(
		approval("2026-02-07T08:00:00Z", "deiphobe", "2026-02-07T11:00:00Z"),
		approval("2026-02-07T09:00:00Z", "executor", "2027-01-01T00:00:00Z"),
	)
	if st.ApprovalStatus != ApprovalExpired {
		t.Fatalf("executor approval must not count, got %q", st.ApprovalStatus)
	}
	if st.ForeignApprovals != 1 {
		t.Fatalf("expected 1 foreign approval, got %d", st.ForeignApprovals)
	}
}

func TestReduce_ApprovalBoundaryAndInvalid(t *testing.T) {
	st := reduce(approval("2026-02-07T08:00:00Z", "deiphobe", "2026-02-07T12:00:00Z"))
	if st.ApprovalStatus != ApprovalValid {
		t.Fatalf("now == expires_at must still be valid, got %q", st.ApprovalStatus)
	}
	if !st.ApprovalExpiry.Equal(now) {
		t.Fatalf("unexpected expiry %v", st.ApprovalExpiry)
	}

	st = reduce(approval("2026-02-07T08:00:00Z", "deiphobe", ""))
	if st.ApprovalStatus != ApprovalInvalid || st.Verdict != VerdictPending {
		t.Fatalf("missing expiry: got %q/%q", st.ApprovalStatus, st.Verdict)
	}

	st = reduce(approval("2026-02-07T08:00:00Z", "deiphobe", "next tuesday"))
	if st.ApprovalStatus != ApprovalInvalid {
		t.Fatalf("unparseable expiry: got %q", st.ApprovalStatus)
	}
}

func TestReduce_ValidApprovalLosesToRisk(t *testing.T) {
	st := reduce(
		approval("2026-02-07T11:50:00Z", "deiphobe", "2026-02-07T12:15:00Z"),
		risk("2026-02-07T11:55:00Z", "critical"),
	)
	if st.Verdict != VerdictBlockedRisk {
		t.Fatalf("expected BLOCKED (risk), got %q", st.Verdict)
	}
	if st.ApprovalStatus != ApprovalValid {
		t.Fatalf("approval itself is still valid, got %q", st.ApprovalStatus)
	}
}

func TestReduce_DenySetIsAParameter(t *testing.T) {
	events := []event.Event{risk("2026-02-07T10:00:00Z", "medium")}
	if st := Reduce("T1", events, now, event.DefaultDenySeverities()); st.BlockingRisk != nil {
		t.Fatal("medium must not block under the default set")
	}
	wide, err := event.ParseSeverities("medium,high,critical")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if st := Reduce("T1", events, now, wide); st.Verdict != VerdictBlockedRisk {
		t.Fatalf("medium must block under a widened set, got %q", st.Verdict)
	}
}

func TestReduce_Deterministic(t *testing.T) {
	events := []event.Event{
		risk("2026-02-07T10:00:00Z", "critical"),
		ev("2026-02-07T10:05:00Z", "deiphobe", event.TypeUnblocked),
		approval("2026-02-07T10:07:00Z", "deiphobe", "2026-02-07T13:00:00Z"),
	}
	a := reduce(events...)
	b := reduce(events...)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("reduce is not deterministic:\n%#v\n%#v", a, b)
	}
	a.LastEvent.Summary = "mutated"
	if events[2].Summary == "mutated" {
		t.Fatal("state must not alias the caller's events")
	}
}
