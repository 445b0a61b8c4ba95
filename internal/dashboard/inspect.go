package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/anoner9000/ClawDawg/internal/taskstate"
)

// UnknownTaskLine is the whole inspector report for a task with no events.
const UnknownTaskLine = "STATE: UNKNOWN (no events for task)"

// WriteInspect prints the plain task-state report. It never colours the
// STATE line so scripts can grep it.
func WriteInspect(w io.Writer, st taskstate.State) {
	if !st.Known() {
		fmt.Fprintln(w, UnknownTaskLine)
		return
	}
	fmt.Fprintf(w, "TASK: %s\n", st.TaskID)
	fmt.Fprintf(w, "STATE: %s\n", st.Verdict)
	fmt.Fprintf(w, "BLOCK STATE: %s\n", blockStateLabel(st.BlockState))
	fmt.Fprintf(w, "APPROVAL: %s\n", InspectApproval(st))
	if st.Approval != nil && strings.TrimSpace(st.Approval.ExpiresAt) != "" {
		fmt.Fprintf(w, "APPROVAL EXPIRES: %s\n", st.Approval.ExpiresAt)
	}
	if st.BlockingRisk != nil {
		fmt.Fprintf(w, "BLOCKING RISK: severity=%s\n", st.BlockingRisk.Severity)
		fmt.Fprintf(w, "  summary: %s\n", st.BlockingRisk.Summary)
	}
	le := st.LastEvent
	fmt.Fprintln(w, "LAST EVENT:")
	fmt.Fprintf(w, "  ts: %s\n", le.TS)
	fmt.Fprintf(w, "  agent: %s\n", le.Agent)
	fmt.Fprintf(w, "  type: %s\n", le.Type)
	fmt.Fprintf(w, "  summary: %s\n", le.Summary)
}

// InspectApproval is the upper-case APPROVAL value of the inspector report.
func InspectApproval(st taskstate.State) string {
	if st.ApprovalStatus != taskstate.ApprovalInvalid {
		return strings.ToUpper(string(st.ApprovalStatus))
	}
	if st.Approval == nil || strings.TrimSpace(st.Approval.ExpiresAt) == "" {
		return "INVALID (missing expires_at)"
	}
	return "INVALID (unparseable expires_at)"
}

// WriteInspectJSON prints the state as one indented JSON document.
func WriteInspectJSON(w io.Writer, st taskstate.State) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
