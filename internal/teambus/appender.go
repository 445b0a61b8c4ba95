package teambus

import (
	"fmt"
	"os"

	"github.com/anoner9000/ClawDawg/internal/event"
)

// Appender adds events to the end of a bus. Implementations never rewrite
// existing content.
type Appender interface {
	// Append writes events in order and returns how many were fully written
	// before any error.
	Append(events ...event.Event) (int, error)
}

// FileAppender appends to a bus file opened with O_APPEND, one write call
// per newline-terminated line, so concurrent writers interleave at line
// granularity.
type FileAppender struct {
	Path string
	// Create allows the file to be created when missing. The sweep leaves
	// this off: it only writes to a bus it has just read.
	Create bool
}

// NewFileAppender returns an appender for an existing bus file.
func NewFileAppender(path string) *FileAppender {
	return &FileAppender{Path: path}
}

func (a *FileAppender) Append(events ...event.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	lines := make([][]byte, 0, len(events))
	for _, ev := range events {
		b, err := event.Marshal(ev)
		if err != nil {
			return 0, fmt.Errorf("encode event for task %s: %w", ev.TaskID, err)
		}
		lines = append(lines, b)
	}

	flags := os.O_APPEND | os.O_WRONLY
	if a.Create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(a.Path, flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open bus for append: %w", err)
	}

	written := 0
	for _, line := range lines {
		if _, err := f.Write(line); err != nil {
			_ = f.Close()
			return written, fmt.Errorf("append to bus: %w", err)
		}
		written++
	}
	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close bus: %w", err)
	}
	return written, nil
}
