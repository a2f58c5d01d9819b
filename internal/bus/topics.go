package bus

// Command queue topics.
const (
	TopicCommandEnqueued = "command.enqueued"
	TopicCommandClaimed  = "command.claimed"
	TopicCommandFinished = "command.finished"
	TopicCommandRejected = "command.rejected"
)

// Build run topics.
const (
	TopicRunStarted      = "run.started"
	TopicRunStateChanged = "run.state_changed"
	TopicRunTaskStarted  = "run.task.started"
	TopicRunTaskFinished = "run.task.finished"
	TopicRunFinished     = "run.finished"
)

// Side-effect topics.
const (
	TopicDebugAttempt   = "debug.attempt"
	TopicDebugExhausted = "debug.exhausted"
	TopicConsultOpened  = "consult.opened"
	TopicMemoryCreated  = "memory.created"
	TopicConfigReloaded = "config.reloaded"
)

// CommandEvent is published on every command status change.
type CommandEvent struct {
	CommandID string `json:"command_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}

// RunEvent is published when a build run or one of its tasks changes state.
type RunEvent struct {
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	TaskID    string `json:"task_id,omitempty"`
	TaskIndex int    `json:"task_index"`
}

// DebugEvent is published for each auto-debug attempt and on exhaustion.
type DebugEvent struct {
	ProjectID string `json:"project_id"`
	Agent     string `json:"agent"`
	Attempt   int    `json:"attempt"`
	Tier      string `json:"tier"`
}

// ConsultEvent is published when a consultation session opens.
type ConsultEvent struct {
	SessionID   string   `json:"session_id"`
	ProjectID   string   `json:"project_id"`
	Initiator   string   `json:"initiator"`
	Topic       string   `json:"topic"`
	Consultants []string `json:"consultants"`
}

// MemoryEvent is published for each persisted memory record.
type MemoryEvent struct {
	ProjectID  string `json:"project_id"`
	Agent      string `json:"agent"`
	MemoryType string `json:"memory_type"`
}

func (e CommandEvent) Project() string { return e.ProjectID }
func (e RunEvent) Project() string     { return e.ProjectID }
func (e DebugEvent) Project() string   { return e.ProjectID }
func (e ConsultEvent) Project() string { return e.ProjectID }
func (e MemoryEvent) Project() string  { return e.ProjectID }
