//go:build !windows

package tui

import (
	"os"
	"os/exec"
)

// bestEffortResetTTY restores cooked mode if the program exited while the
// terminal was still raw.
func bestEffortResetTTY() {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return
	}
	if (fi.Mode() & os.ModeCharDevice) == 0 {
		return
	}
	// /dev/tty, not stdin, which may be redirected.
	_ = exec.Command("sh", "-c", "stty sane < /dev/tty >/dev/null 2>&1 || true").Run()
}
