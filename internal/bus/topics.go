package bus

// Watch-mode topics.
const (
	TopicSweepRequested = "sweep.requested"
	TopicSweepCompleted = "sweep.completed"
	TopicSweepFailed    = "sweep.failed"
	TopicTaskBlocked    = "task.blocked"
)

// Trigger sources for TopicSweepRequested.
const (
	SourceSchedule   = "schedule"
	SourceFileChange = "file_change"
	SourceStartup    = "startup"
)

// SweepRequest asks the sweeper to run.
type SweepRequest struct {
	Source string
	RunID  string
}

// SweepCompleted reports a finished sweep.
type SweepCompleted struct {
	RunID   string
	Tasks   int
	Skipped int
	Blocked []string
}

// SweepFailed reports a sweep that hit a read or write error.
type SweepFailed struct {
	RunID   string
	Written int
	Err     error
}

// TaskBlocked is published once per synthetic BLOCKED record appended.
type TaskBlocked struct {
	RunID    string
	TaskID   string
	Severity string
}
