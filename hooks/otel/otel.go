// Package otel provides OpenTelemetry integration for automation hooks.
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/truevault/automation/hooks"
)

const (
	tracerName = "automation"
)

// OTelHooks implements AutomationHooks with OpenTelemetry tracing.
// It creates spans for execution, step, message, and task lifecycle events.
type OTelHooks struct {
	hooks.NoOpHooks
	tracer trace.Tracer

	mu sync.Mutex

	// Map of execution_id -> active span for tracking execution spans
	executionSpans map[string]trace.Span

	// Map of execution_id -> context with execution span for child spans
	executionContexts map[string]context.Context

	// Map of execution_id:step_name -> active span for tracking step spans
	stepSpans map[string]trace.Span
}

// NewOTelHooks creates a new OpenTelemetry hooks instance.
// If tracerProvider is nil, the global tracer provider is used.
func NewOTelHooks(tracerProvider trace.TracerProvider) *OTelHooks {
	var tracer trace.Tracer
	if tracerProvider != nil {
		tracer = tracerProvider.Tracer(tracerName)
	} else {
		tracer = otel.Tracer(tracerName)
	}

	return &OTelHooks{
		tracer:            tracer,
		executionSpans:    make(map[string]trace.Span),
		executionContexts: make(map[string]context.Context),
		stepSpans:         make(map[string]trace.Span),
	}
}

// Execution lifecycle

// OnExecutionStart creates a new span when a workflow execution starts.
func (h *OTelHooks) OnExecutionStart(ctx context.Context, info hooks.ExecutionStartInfo) {
	spanCtx, span := h.tracer.Start(ctx, fmt.Sprintf("execution/%s", info.WorkflowName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("automation.execution_id", info.ExecutionID),
			attribute.String("automation.workflow_name", info.WorkflowName),
			attribute.String("automation.trigger_event", info.TriggerEvent),
			attribute.String("automation.start_time", info.StartTime.String()),
		),
	)
	h.mu.Lock()
	h.executionSpans[info.ExecutionID] = span
	h.executionContexts[info.ExecutionID] = spanCtx
	h.mu.Unlock()
}

// OnExecutionComplete ends the execution span with success status.
func (h *OTelHooks) OnExecutionComplete(ctx context.Context, info hooks.ExecutionCompleteInfo) {
	h.mu.Lock()
	span, ok := h.executionSpans[info.ExecutionID]
	if ok {
		delete(h.executionSpans, info.ExecutionID)
		delete(h.executionContexts, info.ExecutionID)
	}
	h.mu.Unlock()
	if ok {
		span.SetAttributes(
			attribute.Int("automation.steps", info.Steps),
			attribute.Int64("automation.duration_ms", info.Duration.Milliseconds()),
		)
		span.SetStatus(codes.Ok, "execution completed")
		span.End()
	}
}

// OnExecutionFailed ends the execution span with error status.
func (h *OTelHooks) OnExecutionFailed(ctx context.Context, info hooks.ExecutionFailedInfo) {
	h.mu.Lock()
	span, ok := h.executionSpans[info.ExecutionID]
	if ok {
		delete(h.executionSpans, info.ExecutionID)
		delete(h.executionContexts, info.ExecutionID)
	}
	h.mu.Unlock()
	if ok {
		span.SetAttributes(
			attribute.String("automation.failed_step", info.FailedStep),
			attribute.Int64("automation.duration_ms", info.Duration.Milliseconds()),
		)
		span.RecordError(info.Error)
		span.SetStatus(codes.Error, info.Error.Error())
		span.End()
	}
}

// Step lifecycle

func (h *OTelHooks) stepKey(executionID, stepName string) string {
	return executionID + ":" + stepName
}

// OnStepStart creates a new span when a step starts.
// The step span is created as a child of the execution span.
func (h *OTelHooks) OnStepStart(ctx context.Context, info hooks.StepStartInfo) {
	h.mu.Lock()
	parentCtx := ctx
	if execCtx, ok := h.executionContexts[info.ExecutionID]; ok {
		parentCtx = execCtx
	}
	h.mu.Unlock()

	_, span := h.tracer.Start(parentCtx, fmt.Sprintf("step/%s", info.StepName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("automation.execution_id", info.ExecutionID),
			attribute.String("automation.workflow_name", info.WorkflowName),
			attribute.String("automation.step_name", info.StepName),
			attribute.Int("automation.step_index", info.StepIndex),
		),
	)
	h.mu.Lock()
	h.stepSpans[h.stepKey(info.ExecutionID, info.StepName)] = span
	h.mu.Unlock()
}

// OnStepComplete ends the step span with success status.
func (h *OTelHooks) OnStepComplete(ctx context.Context, info hooks.StepCompleteInfo) {
	key := h.stepKey(info.ExecutionID, info.StepName)
	h.mu.Lock()
	span, ok := h.stepSpans[key]
	if ok {
		delete(h.stepSpans, key)
	}
	h.mu.Unlock()
	if ok {
		span.SetAttributes(
			attribute.Int64("automation.duration_ms", info.Duration.Milliseconds()),
		)
		span.SetStatus(codes.Ok, "step completed")
		span.End()
	}
}

// OnStepFailed ends the step span with error status.
func (h *OTelHooks) OnStepFailed(ctx context.Context, info hooks.StepFailedInfo) {
	key := h.stepKey(info.ExecutionID, info.StepName)
	h.mu.Lock()
	span, ok := h.stepSpans[key]
	if ok {
		delete(h.stepSpans, key)
	}
	h.mu.Unlock()
	if ok {
		span.SetAttributes(
			attribute.Int64("automation.duration_ms", info.Duration.Milliseconds()),
		)
		span.RecordError(info.Error)
		span.SetStatus(codes.Error, info.Error.Error())
		span.End()
	}
}

// Message delivery

// OnMessageSent records a span for a delivered message.
func (h *OTelHooks) OnMessageSent(ctx context.Context, info hooks.MessageSentInfo) {
	_, span := h.tracer.Start(ctx, "message_sent",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("automation.message_id", info.MessageID),
			attribute.Int("automation.attempts", info.Attempts),
			attribute.Int64("automation.duration_ms", info.Duration.Milliseconds()),
		),
	)
	span.SetStatus(codes.Ok, "message sent")
	span.End()
}

// OnMessageRetry records a span for a message delivery retry.
func (h *OTelHooks) OnMessageRetry(ctx context.Context, info hooks.MessageRetryInfo) {
	_, span := h.tracer.Start(ctx, "message_retry",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("automation.message_id", info.MessageID),
			attribute.Int("automation.attempts", info.Attempts),
			attribute.String("automation.next_attempt_at", info.NextAttemptAt.String()),
			attribute.String("automation.error", info.Error.Error()),
		),
	)
	span.SetStatus(codes.Error, "delivery failed, will retry")
	span.End()
}

// OnMessageFailed records a span for a permanently failed message.
func (h *OTelHooks) OnMessageFailed(ctx context.Context, info hooks.MessageFailedInfo) {
	_, span := h.tracer.Start(ctx, "message_failed",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("automation.message_id", info.MessageID),
			attribute.Int("automation.attempts", info.Attempts),
		),
	)
	span.RecordError(info.Error)
	span.SetStatus(codes.Error, info.Error.Error())
	span.End()
}

// Scheduled tasks

// OnTaskCompleted records a span for a completed task.
func (h *OTelHooks) OnTaskCompleted(ctx context.Context, info hooks.TaskCompletedInfo) {
	_, span := h.tracer.Start(ctx, fmt.Sprintf("task/%s", info.TaskType),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("automation.task_id", info.TaskID),
			attribute.String("automation.task_type", info.TaskType),
			attribute.Int64("automation.duration_ms", info.Duration.Milliseconds()),
		),
	)
	span.SetStatus(codes.Ok, "task completed")
	span.End()
}

// OnTaskFailed records a span for a failed task.
func (h *OTelHooks) OnTaskFailed(ctx context.Context, info hooks.TaskFailedInfo) {
	_, span := h.tracer.Start(ctx, fmt.Sprintf("task/%s", info.TaskType),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("automation.task_id", info.TaskID),
			attribute.String("automation.task_type", info.TaskType),
			attribute.Int64("automation.duration_ms", info.Duration.Milliseconds()),
		),
	)
	span.RecordError(info.Error)
	span.SetStatus(codes.Error, info.Error.Error())
	span.End()
}

// Ensure OTelHooks implements AutomationHooks interface
var _ hooks.AutomationHooks = (*OTelHooks)(nil)
