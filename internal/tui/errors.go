package tui

import (
	"errors"
	"strings"

	"github.com/anoner9000/ClawDawg/internal/teambus"
)

// humanError shortens a refresh error for the status line.
// "read bus /x: open: permission denied" → "Permission denied"
func humanError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, teambus.ErrBusNotFound) {
		return "Bus not found, waiting for the first append"
	}
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx != -1 && idx+2 < len(msg) {
		inner := msg[idx+2:]
		if len(inner) > 0 {
			inner = strings.ToUpper(inner[:1]) + inner[1:]
		}
		return inner
	}
	return msg
}
