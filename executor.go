package automation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/truevault/automation/hooks"
	"github.com/truevault/automation/internal/storage"
)

// Trigger fires an event. If a registered active workflow listens to
// the event, its steps run synchronously, in order, and the execution
// is recorded. The execution ID is returned even when a step fails;
// the failure lives in the execution row, not in the returned error.
//
// An event nobody listens to returns ("", nil) and records nothing.
func (e *Engine) Trigger(ctx context.Context, event string, data map[string]string) (string, error) {
	store := e.store()
	if store == nil {
		return "", ErrNotStarted
	}

	def, ok := e.registry.workflowFor(event)
	if !ok {
		return "", nil
	}

	executionID := uuid.New().String()
	start := time.Now()

	exec := &storage.WorkflowExecution{
		ExecutionID:  executionID,
		WorkflowName: def.Name,
		TriggerEvent: event,
		ContextData:  data,
		Status:       storage.ExecutionRunning,
		StartedAt:    start,
	}
	if err := store.CreateExecution(ctx, exec); err != nil {
		return "", err
	}

	e.hooks.OnExecutionStart(ctx, hooks.ExecutionStartInfo{
		ExecutionID:  executionID,
		WorkflowName: def.Name,
		TriggerEvent: event,
		ContextData:  data,
		StartTime:    start,
	})
	slog.Info("workflow execution started",
		"execution_id", executionID,
		"workflow", def.Name,
		"trigger_event", event)

	sc := newStepContext(executionID, def.Name, event, data)

	for i, stepName := range def.Steps {
		if err := e.runStep(ctx, def, sc, i, stepName); err != nil {
			e.finishFailed(ctx, store, executionID, def.Name, stepName, err, start)
			return executionID, nil
		}
	}

	if err := store.FinishExecution(ctx, executionID, storage.ExecutionCompleted, ""); err != nil {
		slog.Error("error finishing execution",
			"execution_id", executionID,
			"error", err)
	}
	e.hooks.OnExecutionComplete(ctx, hooks.ExecutionCompleteInfo{
		ExecutionID:  executionID,
		WorkflowName: def.Name,
		Steps:        len(def.Steps),
		Duration:     time.Since(start),
	})
	slog.Info("workflow execution completed",
		"execution_id", executionID,
		"workflow", def.Name,
		"steps", len(def.Steps),
		"duration", time.Since(start))
	return executionID, nil
}

func (e *Engine) runStep(ctx context.Context, def WorkflowDefinition, sc *StepContext, index int, stepName string) error {
	stepStart := time.Now()
	e.hooks.OnStepStart(ctx, hooks.StepStartInfo{
		ExecutionID:  sc.ExecutionID(),
		WorkflowName: def.Name,
		StepName:     stepName,
		StepIndex:    index,
	})

	handler, ok := e.registry.step(stepName)

	var err error
	if !ok {
		err = &UnknownStepError{Step: stepName}
	} else {
		err = handler.Execute(ctx, sc)
	}

	if err != nil {
		wrapped := &StepFailedError{Step: stepName, Err: err}
		e.hooks.OnStepFailed(ctx, hooks.StepFailedInfo{
			ExecutionID:  sc.ExecutionID(),
			WorkflowName: def.Name,
			StepName:     stepName,
			StepIndex:    index,
			Error:        err,
			Duration:     time.Since(stepStart),
		})
		return wrapped
	}

	e.hooks.OnStepComplete(ctx, hooks.StepCompleteInfo{
		ExecutionID:  sc.ExecutionID(),
		WorkflowName: def.Name,
		StepName:     stepName,
		StepIndex:    index,
		Duration:     time.Since(stepStart),
	})
	return nil
}

func (e *Engine) finishFailed(ctx context.Context, store storage.Storage, executionID, workflowName, stepName string, cause error, start time.Time) {
	if err := store.FinishExecution(ctx, executionID, storage.ExecutionFailed, cause.Error()); err != nil {
		slog.Error("error finishing execution",
			"execution_id", executionID,
			"error", err)
	}
	e.hooks.OnExecutionFailed(ctx, hooks.ExecutionFailedInfo{
		ExecutionID:  executionID,
		WorkflowName: workflowName,
		FailedStep:   stepName,
		Error:        cause,
		Duration:     time.Since(start),
	})
	slog.Warn("workflow execution failed",
		"execution_id", executionID,
		"workflow", workflowName,
		"step", stepName,
		"error", cause)
}
