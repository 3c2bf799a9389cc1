// Package hooks provides lifecycle hooks for automation observability.
package hooks

import (
	"context"
	"time"
)

// AutomationHooks defines callbacks for automation lifecycle events.
// Implement this interface to add observability (logging, tracing, metrics).
type AutomationHooks interface {
	// Workflow execution lifecycle
	OnExecutionStart(ctx context.Context, info ExecutionStartInfo)
	OnExecutionComplete(ctx context.Context, info ExecutionCompleteInfo)
	OnExecutionFailed(ctx context.Context, info ExecutionFailedInfo)

	// Step lifecycle
	OnStepStart(ctx context.Context, info StepStartInfo)
	OnStepComplete(ctx context.Context, info StepCompleteInfo)
	OnStepFailed(ctx context.Context, info StepFailedInfo)

	// Message delivery
	OnMessageEnqueued(ctx context.Context, info MessageEnqueuedInfo)
	OnMessageSent(ctx context.Context, info MessageSentInfo)
	OnMessageRetry(ctx context.Context, info MessageRetryInfo)
	OnMessageFailed(ctx context.Context, info MessageFailedInfo)

	// Scheduled tasks
	OnTaskScheduled(ctx context.Context, info TaskScheduledInfo)
	OnTaskCompleted(ctx context.Context, info TaskCompletedInfo)
	OnTaskFailed(ctx context.Context, info TaskFailedInfo)
	OnTaskCancelled(ctx context.Context, info TaskCancelledInfo)
}

// ExecutionStartInfo contains information about a workflow execution start.
type ExecutionStartInfo struct {
	ExecutionID  string
	WorkflowName string
	TriggerEvent string
	ContextData  map[string]string
	StartTime    time.Time
}

// ExecutionCompleteInfo contains information about a workflow execution completion.
type ExecutionCompleteInfo struct {
	ExecutionID  string
	WorkflowName string
	Steps        int
	Duration     time.Duration
}

// ExecutionFailedInfo contains information about a workflow execution failure.
type ExecutionFailedInfo struct {
	ExecutionID  string
	WorkflowName string
	FailedStep   string
	Error        error
	Duration     time.Duration
}

// StepStartInfo contains information about a step start.
type StepStartInfo struct {
	ExecutionID  string
	WorkflowName string
	StepName     string
	StepIndex    int
}

// StepCompleteInfo contains information about a step completion.
type StepCompleteInfo struct {
	ExecutionID  string
	WorkflowName string
	StepName     string
	StepIndex    int
	Duration     time.Duration
}

// StepFailedInfo contains information about a step failure.
type StepFailedInfo struct {
	ExecutionID  string
	WorkflowName string
	StepName     string
	StepIndex    int
	Error        error
	Duration     time.Duration
}

// MessageEnqueuedInfo contains information about an enqueued message.
type MessageEnqueuedInfo struct {
	MessageID    string
	Recipient    string
	TemplateName string
}

// MessageSentInfo contains information about a delivered message.
type MessageSentInfo struct {
	MessageID string
	Recipient string
	Attempts  int
	Duration  time.Duration
}

// MessageRetryInfo contains information about a message retry.
type MessageRetryInfo struct {
	MessageID     string
	Recipient     string
	Attempts      int
	NextAttemptAt time.Time
	Error         error
}

// MessageFailedInfo contains information about a permanently failed message.
type MessageFailedInfo struct {
	MessageID string
	Recipient string
	Attempts  int
	Error     error
}

// TaskScheduledInfo contains information about a scheduled task.
type TaskScheduledInfo struct {
	TaskID    string
	TaskType  string
	ExecuteAt time.Time
}

// TaskCompletedInfo contains information about a completed task.
type TaskCompletedInfo struct {
	TaskID   string
	TaskType string
	Duration time.Duration
}

// TaskFailedInfo contains information about a failed task.
type TaskFailedInfo struct {
	TaskID   string
	TaskType string
	Error    error
	Duration time.Duration
}

// TaskCancelledInfo contains information about a cancelled task.
type TaskCancelledInfo struct {
	TaskID   string
	TaskType string
}

// NoOpHooks is a no-operation implementation of AutomationHooks.
// Use this as a base for partial implementations.
type NoOpHooks struct{}

func (n *NoOpHooks) OnExecutionStart(ctx context.Context, info ExecutionStartInfo)       {}
func (n *NoOpHooks) OnExecutionComplete(ctx context.Context, info ExecutionCompleteInfo) {}
func (n *NoOpHooks) OnExecutionFailed(ctx context.Context, info ExecutionFailedInfo)     {}
func (n *NoOpHooks) OnStepStart(ctx context.Context, info StepStartInfo)                 {}
func (n *NoOpHooks) OnStepComplete(ctx context.Context, info StepCompleteInfo)           {}
func (n *NoOpHooks) OnStepFailed(ctx context.Context, info StepFailedInfo)               {}
func (n *NoOpHooks) OnMessageEnqueued(ctx context.Context, info MessageEnqueuedInfo)     {}
func (n *NoOpHooks) OnMessageSent(ctx context.Context, info MessageSentInfo)             {}
func (n *NoOpHooks) OnMessageRetry(ctx context.Context, info MessageRetryInfo)           {}
func (n *NoOpHooks) OnMessageFailed(ctx context.Context, info MessageFailedInfo)         {}
func (n *NoOpHooks) OnTaskScheduled(ctx context.Context, info TaskScheduledInfo)         {}
func (n *NoOpHooks) OnTaskCompleted(ctx context.Context, info TaskCompletedInfo)         {}
func (n *NoOpHooks) OnTaskFailed(ctx context.Context, info TaskFailedInfo)               {}
func (n *NoOpHooks) OnTaskCancelled(ctx context.Context, info TaskCancelledInfo)         {}
