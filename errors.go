// Package automation provides a database-backed automation engine:
// event-triggered workflows, scheduled tasks, and a retrying outbound
// message queue sharing one durable store.
package automation

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned by operations that need a started engine.
var ErrNotStarted = errors.New("engine not started")

// UnknownStepError indicates a workflow references a step name that
// has no registered handler.
type UnknownStepError struct {
	Step string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("no handler registered for step %q", e.Step)
}

// UnknownTaskTypeError indicates a claimed task has no registered
// handler for its type.
type UnknownTaskTypeError struct {
	TaskType string
}

func (e *UnknownTaskTypeError) Error() string {
	return fmt.Sprintf("no handler registered for task type %q", e.TaskType)
}

// StepFailedError wraps a step handler failure with the step name.
type StepFailedError struct {
	Step string
	Err  error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}

// WorkflowConflictError indicates a second workflow was registered for
// a trigger event that already has one.
type WorkflowConflictError struct {
	TriggerEvent string
	Existing     string
}

func (e *WorkflowConflictError) Error() string {
	return fmt.Sprintf("trigger event %q already handled by workflow %q",
		e.TriggerEvent, e.Existing)
}

// InvalidWorkflowError indicates a workflow definition failed
// validation at registration.
type InvalidWorkflowError struct {
	Name   string
	Reason string
}

func (e *InvalidWorkflowError) Error() string {
	return fmt.Sprintf("invalid workflow %q: %s", e.Name, e.Reason)
}

// TaskNotFoundError indicates no scheduled task exists with the given ID.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}
