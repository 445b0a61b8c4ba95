// Package teambus reads and appends the team bus: an append-only JSONL file
// shared by every agent, written without coordination.
package teambus

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/anoner9000/ClawDawg/internal/event"
)

// ErrBusNotFound means the bus file does not exist. It is distinct from a
// bus that exists but holds no events for the requested task.
var ErrBusNotFound = errors.New("bus not found")

// SkippedLine records a non-empty line that could not be decoded.
type SkippedLine struct {
	Line   int
	Reason string
}

// Log is the result of one read pass, in file order.
type Log struct {
	Path    string
	Events  []event.Event
	Lines   int // non-empty lines seen
	Skipped []SkippedLine
}

// SkippedCount is the number of malformed lines dropped during the read.
func (l *Log) SkippedCount() int {
	return len(l.Skipped)
}

// Suspect reports the data-quality case where the file had content but not
// a single line decoded.
func (l *Log) Suspect() bool {
	return l.Lines > 0 && len(l.Events) == 0 && len(l.Skipped) > 0
}

// Load reads every decodable event in the file.
func Load(path string) (*Log, error) {
	return load(path, func(event.Event) bool { return true })
}

// LoadTask reads the events whose task_id equals taskID. Malformed lines
// are counted whether or not they might have belonged to the task.
func LoadTask(path, taskID string) (*Log, error) {
	return load(path, func(ev event.Event) bool { return ev.TaskID == taskID })
}

func load(path string, keep func(event.Event) bool) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBusNotFound, path)
		}
		return nil, fmt.Errorf("open bus: %w", err)
	}
	defer f.Close()

	log := &Log{Path: path}
	if err := decode(f, log, keep); err != nil {
		return nil, fmt.Errorf("read bus %s: %w", path, err)
	}
	return log, nil
}

// decode scans r line by line. bufio.Reader is used instead of Scanner so a
// single oversized line cannot abort the whole read.
func decode(r io.Reader, log *Log, keep func(event.Event) bool) error {
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			lineNo++
			consume(raw, lineNo, log, keep)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func consume(raw []byte, lineNo int, log *Log, keep func(event.Event) bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return
	}
	log.Lines++
	ev, err := event.Parse(trimmed)
	if err != nil {
		// Torn concurrent appends and hand-edited lines land here.
		log.Skipped = append(log.Skipped, SkippedLine{Line: lineNo, Reason: err.Error()})
		return
	}
	ev.Line = lineNo
	if keep(ev) {
		log.Events = append(log.Events, ev)
	}
}

// TaskGroup is the ordered event list of one task.
type TaskGroup struct {
	TaskID string
	Events []event.Event
}

// GroupByTask partitions task-scoped events by task_id. Groups come back in
// order of each task's first appearance; events keep file order.
func (l *Log) GroupByTask() []TaskGroup {
	index := make(map[string]int)
	var groups []TaskGroup
	for _, ev := range l.Events {
		if ev.TaskID == "" {
			continue
		}
		i, ok := index[ev.TaskID]
		if !ok {
			i = len(groups)
			index[ev.TaskID] = i
			groups = append(groups, TaskGroup{TaskID: ev.TaskID})
		}
		groups[i].Events = append(groups[i].Events, ev)
	}
	return groups
}
