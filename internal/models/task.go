package models

import "time"

// TaskState is the lifecycle of a Task handed off to a sub-agent.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Task is created on hand-off and resolved when the assigned agent's
// loop returns a terminal result.
type Task struct {
	ID              string
	AssignedAgentID string
	Description     string
	Context         map[string]any
	State           TaskState
	SubmittedAt     time.Time
	CompletedAt     time.Time
	Result          *TaskResult
}

// TaskResult is published into the orchestrator's results table once a
// hand-off resolves. A tool failure inside the sub-agent surfaces here
// as Success=false, never as an orchestrator-level error.
type TaskResult struct {
	TaskID      string
	Success     bool
	Text        string
	Error       string
	CompletedAt time.Time
	Duration    time.Duration
}
