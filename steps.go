package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/truevault/automation/delivery"
)

// StepHandler executes one named step of a workflow.
type StepHandler interface {
	// Name is the identifier workflows reference in their step lists.
	Name() string

	// Execute runs the step. Returning an error fails the execution
	// and skips the remaining steps.
	Execute(ctx context.Context, sc *StepContext) error
}

// StepContext carries the trigger payload through a workflow
// execution. Steps read trigger data with Get and publish values for
// later steps with Attach.
type StepContext struct {
	executionID  string
	workflowName string
	triggerEvent string

	mu   sync.RWMutex
	data map[string]string
}

func newStepContext(executionID, workflowName, triggerEvent string, data map[string]string) *StepContext {
	sc := &StepContext{
		executionID:  executionID,
		workflowName: workflowName,
		triggerEvent: triggerEvent,
		data:         make(map[string]string, len(data)),
	}
	for k, v := range data {
		sc.data[k] = v
	}
	return sc
}

// ExecutionID returns the ID of the running execution.
func (sc *StepContext) ExecutionID() string { return sc.executionID }

// WorkflowName returns the name of the running workflow.
func (sc *StepContext) WorkflowName() string { return sc.workflowName }

// TriggerEvent returns the event that started the execution.
func (sc *StepContext) TriggerEvent() string { return sc.triggerEvent }

// Get returns the value for key, or "" if absent.
func (sc *StepContext) Get(key string) string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.data[key]
}

// Lookup returns the value for key and whether it was present.
func (sc *StepContext) Lookup(key string) (string, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	v, ok := sc.data[key]
	return v, ok
}

// Attach makes a value available to subsequent steps.
func (sc *StepContext) Attach(key, value string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.data[key] = value
}

// Snapshot returns a copy of the current context data.
func (sc *StepContext) Snapshot() map[string]string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make(map[string]string, len(sc.data))
	for k, v := range sc.data {
		out[k] = v
	}
	return out
}

// StepFunc adapts a function to the StepHandler interface.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, sc *StepContext) error
}

func (s StepFunc) Name() string { return s.StepName }

func (s StepFunc) Execute(ctx context.Context, sc *StepContext) error {
	return s.Fn(ctx, sc)
}

// NewStep creates a StepHandler from a function.
func NewStep(name string, fn func(ctx context.Context, sc *StepContext) error) StepHandler {
	return StepFunc{StepName: name, Fn: fn}
}

// enqueuer is the slice of the delivery queue the email step needs.
type enqueuer interface {
	Enqueue(ctx context.Context, recipient, templateName string, data map[string]string) (string, error)
}

var _ enqueuer = (*delivery.Queue)(nil)

// NewSendEmailStep creates a step that queues a templated message for
// the address in the context key "email". The message is delivered
// asynchronously by the queue drain, so a later SMTP outage cannot
// fail the workflow that enqueued it.
func NewSendEmailStep(name, templateName string, queue enqueuer) StepHandler {
	return NewStep(name, func(ctx context.Context, sc *StepContext) error {
		recipient, ok := sc.Lookup("email")
		if !ok || recipient == "" {
			return fmt.Errorf("context key %q is required", "email")
		}
		messageID, err := queue.Enqueue(ctx, recipient, templateName, sc.Snapshot())
		if err != nil {
			return err
		}
		sc.Attach("last_message_id", messageID)
		return nil
	})
}

// taskScheduler is the slice of the engine the schedule step needs.
type taskScheduler interface {
	Schedule(ctx context.Context, taskType string, payload map[string]string, executeAt time.Time) (string, error)
}

// NewScheduleTaskStep creates a step that schedules a task of the
// given type to run after delay, carrying the context snapshot as its
// payload.
func NewScheduleTaskStep(name, taskType string, delay time.Duration, scheduler taskScheduler) StepHandler {
	return NewStep(name, func(ctx context.Context, sc *StepContext) error {
		taskID, err := scheduler.Schedule(ctx, taskType, sc.Snapshot(), time.Now().Add(delay))
		if err != nil {
			return err
		}
		sc.Attach("last_task_id", taskID)
		return nil
	})
}

// NewAuditLogStep creates a step that records the execution context
// to the structured log.
func NewAuditLogStep(name string, logger *slog.Logger) StepHandler {
	return NewStep(name, func(ctx context.Context, sc *StepContext) error {
		if logger == nil {
			logger = slog.Default()
		}
		logger.InfoContext(ctx, "audit",
			"execution_id", sc.ExecutionID(),
			"workflow", sc.WorkflowName(),
			"trigger_event", sc.TriggerEvent(),
			"context", sc.Snapshot())
		return nil
	})
}
