// Package storage provides the persistence layer for the automation engine.
package storage

import (
	"time"
)

// ExecutionStatus represents the state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal returns true if the status allows no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// WorkflowExecution is one run of a workflow, created per trigger call.
// Rows are append-only: an execution is never deleted and never leaves
// a terminal state.
type WorkflowExecution struct {
	ExecutionID  string            `json:"execution_id"`
	WorkflowName string            `json:"workflow_name"`
	TriggerEvent string            `json:"trigger_event"`
	ContextData  map[string]string `json:"context_data"`
	Status       ExecutionStatus   `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// TaskStatus represents the state of a scheduled task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal returns true if the status allows no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ScheduledTask is a unit of delayed work. A task is "due" when it is
// pending and execute_at has passed; claiming flips it to processing
// atomically so no two drains pick up the same row.
type ScheduledTask struct {
	TaskID       string            `json:"task_id"`
	TaskType     string            `json:"task_type"`
	Payload      map[string]string `json:"payload"`
	Status       TaskStatus        `json:"status"`
	ExecuteAt    time.Time         `json:"execute_at"`
	ClaimedBy    string            `json:"claimed_by,omitempty"`
	ClaimedAt    *time.Time        `json:"claimed_at,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// MessageStatus represents the state of a queued outbound message.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSending MessageStatus = "sending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// QueuedMessage is the durable email-log row. Attempts only ever grow;
// once attempts reach the configured maximum the row ends in "failed"
// and stays visible to the dashboard rather than being dropped.
type QueuedMessage struct {
	MessageID       string            `json:"message_id"`
	Recipient       string            `json:"recipient"`
	TemplateName    string            `json:"template_name,omitempty"`
	ContextData     map[string]string `json:"context_data,omitempty"`
	RenderedSubject string            `json:"rendered_subject,omitempty"`
	RenderedBody    string            `json:"rendered_body,omitempty"`
	Status          MessageStatus     `json:"status"`
	Attempts        int               `json:"attempts"`
	NextAttemptAt   time.Time         `json:"next_attempt_at"`
	SentAt          *time.Time        `json:"sent_at,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// MessageTemplate is a named subject/body pattern with {token}
// placeholders. Templates are configuration: written by admin tooling,
// loaded read-only at engine startup.
type MessageTemplate struct {
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Category  string    `json:"category,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionCounts aggregates workflow executions by status for a
// trailing window.
type ExecutionCounts struct {
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// TaskCounts aggregates scheduled tasks by status.
type TaskCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

// MessageStats aggregates queued messages for a trailing window.
// Pending counts the whole undelivered backlog, in-flight sending rows
// included, not just the window.
type MessageStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`
}

// SystemLock is a named cluster-wide lock used to keep background
// processing single-flight across workers.
type SystemLock struct {
	LockName  string    `json:"lock_name"`
	LockedBy  string    `json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
