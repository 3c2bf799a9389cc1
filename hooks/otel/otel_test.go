package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/truevault/automation/hooks"
)

// setupTest creates a test tracer provider and returns the hooks and span recorder.
func setupTest() (*OTelHooks, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	h := NewOTelHooks(tp)
	return h, sr
}

func TestNewOTelHooks(t *testing.T) {
	// Test with nil tracer provider (uses global)
	h := NewOTelHooks(nil)
	if h == nil {
		t.Fatal("expected non-nil hooks")
	}
	if h.tracer == nil {
		t.Fatal("expected non-nil tracer")
	}

	// Test with custom tracer provider
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	h = NewOTelHooks(tp)
	if h == nil {
		t.Fatal("expected non-nil hooks")
	}
}

func TestExecutionLifecycle(t *testing.T) {
	h, sr := setupTest()
	ctx := context.Background()

	h.OnExecutionStart(ctx, hooks.ExecutionStartInfo{
		ExecutionID:  "exec-123",
		WorkflowName: "user_onboarding",
		TriggerEvent: "user.created",
		StartTime:    time.Now(),
	})

	h.OnExecutionComplete(ctx, hooks.ExecutionCompleteInfo{
		ExecutionID:  "exec-123",
		WorkflowName: "user_onboarding",
		Steps:        3,
		Duration:     100 * time.Millisecond,
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if span.Name() != "execution/user_onboarding" {
		t.Errorf("expected span name 'execution/user_onboarding', got %s", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("expected status OK, got %v", span.Status().Code)
	}

	attrs := span.Attributes()
	checkAttribute(t, attrs, "automation.execution_id", "exec-123")
	checkAttribute(t, attrs, "automation.workflow_name", "user_onboarding")
	checkAttribute(t, attrs, "automation.trigger_event", "user.created")
}

func TestExecutionFailed(t *testing.T) {
	h, sr := setupTest()
	ctx := context.Background()

	h.OnExecutionStart(ctx, hooks.ExecutionStartInfo{
		ExecutionID:  "exec-456",
		WorkflowName: "payment_reminder",
		StartTime:    time.Now(),
	})

	h.OnExecutionFailed(ctx, hooks.ExecutionFailedInfo{
		ExecutionID:  "exec-456",
		WorkflowName: "payment_reminder",
		FailedStep:   "send_email",
		Error:        errors.New("smtp unavailable"),
		Duration:     50 * time.Millisecond,
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if span.Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", span.Status().Code)
	}
	checkAttribute(t, span.Attributes(), "automation.failed_step", "send_email")
}

func TestStepSpansAreChildrenOfExecution(t *testing.T) {
	h, sr := setupTest()
	ctx := context.Background()

	h.OnExecutionStart(ctx, hooks.ExecutionStartInfo{
		ExecutionID:  "exec-789",
		WorkflowName: "user_onboarding",
		StartTime:    time.Now(),
	})

	h.OnStepStart(ctx, hooks.StepStartInfo{
		ExecutionID:  "exec-789",
		WorkflowName: "user_onboarding",
		StepName:     "send_email",
		StepIndex:    0,
	})
	h.OnStepComplete(ctx, hooks.StepCompleteInfo{
		ExecutionID:  "exec-789",
		WorkflowName: "user_onboarding",
		StepName:     "send_email",
		StepIndex:    0,
		Duration:     20 * time.Millisecond,
	})

	h.OnExecutionComplete(ctx, hooks.ExecutionCompleteInfo{
		ExecutionID:  "exec-789",
		WorkflowName: "user_onboarding",
		Steps:        1,
		Duration:     30 * time.Millisecond,
	})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	stepSpan := spans[0]
	execSpan := spans[1]
	if stepSpan.Name() != "step/send_email" {
		t.Errorf("expected span name 'step/send_email', got %s", stepSpan.Name())
	}
	if stepSpan.Parent().SpanID() != execSpan.SpanContext().SpanID() {
		t.Error("expected step span to be a child of the execution span")
	}
}

func TestStepFailed(t *testing.T) {
	h, sr := setupTest()
	ctx := context.Background()

	h.OnStepStart(ctx, hooks.StepStartInfo{
		ExecutionID: "exec-1",
		StepName:    "schedule_task",
	})
	h.OnStepFailed(ctx, hooks.StepFailedInfo{
		ExecutionID: "exec-1",
		StepName:    "schedule_task",
		Error:       errors.New("bad payload"),
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[0].Status().Code)
	}
}

func TestMessageSpans(t *testing.T) {
	h, sr := setupTest()
	ctx := context.Background()

	h.OnMessageSent(ctx, hooks.MessageSentInfo{
		MessageID: "msg-1",
		Recipient: "user@example.com",
		Attempts:  1,
		Duration:  10 * time.Millisecond,
	})
	h.OnMessageRetry(ctx, hooks.MessageRetryInfo{
		MessageID:     "msg-2",
		Attempts:      1,
		NextAttemptAt: time.Now().Add(time.Minute),
		Error:         errors.New("connection refused"),
	})
	h.OnMessageFailed(ctx, hooks.MessageFailedInfo{
		MessageID: "msg-3",
		Attempts:  3,
		Error:     errors.New("mailbox full"),
	})

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	if spans[0].Name() != "message_sent" {
		t.Errorf("unexpected span name %s", spans[0].Name())
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("expected retry span status Error, got %v", spans[1].Status().Code)
	}
	if spans[2].Status().Code != codes.Error {
		t.Errorf("expected failed span status Error, got %v", spans[2].Status().Code)
	}
}

func TestTaskSpans(t *testing.T) {
	h, sr := setupTest()
	ctx := context.Background()

	h.OnTaskCompleted(ctx, hooks.TaskCompletedInfo{
		TaskID:   "task-1",
		TaskType: "delete_expired_users",
		Duration: 5 * time.Millisecond,
	})
	h.OnTaskFailed(ctx, hooks.TaskFailedInfo{
		TaskID:   "task-2",
		TaskType: "cleanup_logs",
		Error:    errors.New("disk full"),
	})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "task/delete_expired_users" {
		t.Errorf("unexpected span name %s", spans[0].Name())
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[1].Status().Code)
	}
}

func TestCompleteWithoutStartIsIgnored(t *testing.T) {
	h, sr := setupTest()
	ctx := context.Background()

	h.OnExecutionComplete(ctx, hooks.ExecutionCompleteInfo{ExecutionID: "unknown"})
	h.OnStepComplete(ctx, hooks.StepCompleteInfo{ExecutionID: "unknown", StepName: "x"})

	if spans := sr.Ended(); len(spans) != 0 {
		t.Fatalf("expected 0 spans, got %d", len(spans))
	}
}

// checkAttribute verifies a string attribute is present with the expected value.
func checkAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if got := attr.Value.AsString(); got != want {
				t.Errorf("attribute %s = %q, want %q", key, got, want)
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}
