package storage

import (
	"context"
	"database/sql"
	"time"
)

// Storage defines the interface for automation persistence.
// Implementations must be safe for concurrent use, and every claim
// operation must be a single atomic status transition so that two
// concurrent processors never pick up the same row.
type Storage interface {
	// Close closes the underlying database connection.
	Close() error

	// DB returns the underlying database connection.
	// This is primarily used for migrations.
	DB() *sql.DB

	// Workflow Execution Operations
	ExecutionManager

	// Scheduled Task Operations
	TaskManager

	// Delivery Queue Operations
	MessageManager

	// Message Template Operations
	TemplateManager

	// System Lock Operations
	SystemLockManager
}

// ExecutionManager handles the append-only workflow execution log.
type ExecutionManager interface {
	// CreateExecution inserts a new execution row.
	CreateExecution(ctx context.Context, exec *WorkflowExecution) error

	// GetExecution retrieves an execution by ID. Returns (nil, nil) if
	// no such execution exists.
	GetExecution(ctx context.Context, executionID string) (*WorkflowExecution, error)

	// FinishExecution transitions a running execution to a terminal
	// status and stamps completed_at. Rows already in a terminal state
	// are left untouched.
	FinishExecution(ctx context.Context, executionID string, status ExecutionStatus, errorMsg string) error

	// ListRecentExecutions returns executions ordered newest first.
	ListRecentExecutions(ctx context.Context, limit int) ([]*WorkflowExecution, error)

	// CountExecutionsSince aggregates executions started after the
	// given time by status.
	CountExecutionsSince(ctx context.Context, since time.Time) (ExecutionCounts, error)
}

// TaskManager handles scheduled task persistence and claiming.
type TaskManager interface {
	// CreateTask inserts a new pending task.
	CreateTask(ctx context.Context, task *ScheduledTask) error

	// GetTask retrieves a task by ID. Returns (nil, nil) if not found.
	GetTask(ctx context.Context, taskID string) (*ScheduledTask, error)

	// ClaimDueTasks atomically claims up to limit pending tasks whose
	// execute_at has passed, flipping them to processing and recording
	// the claiming worker. Ordered earliest due first. Two concurrent
	// callers never receive the same task.
	ClaimDueTasks(ctx context.Context, workerID string, limit int) ([]*ScheduledTask, error)

	// CompleteTask marks a claimed task completed. Idempotent: calling
	// it on an already-terminal task is a no-op.
	CompleteTask(ctx context.Context, taskID string) error

	// FailTask marks a claimed task failed with an error message.
	// Idempotent in the same way as CompleteTask.
	FailTask(ctx context.Context, taskID string, errorMsg string) error

	// CancelTask cancels a task that is still pending. Returns false
	// when the task was already claimed or terminal; losing that race
	// is expected, not an error.
	CancelTask(ctx context.Context, taskID string) (bool, error)

	// ListTasksByStatus returns tasks with the given status, soonest
	// execute_at first. An empty status returns all tasks.
	ListTasksByStatus(ctx context.Context, status TaskStatus, limit int) ([]*ScheduledTask, error)

	// CountTasksByStatus aggregates all tasks by status.
	CountTasksByStatus(ctx context.Context) (TaskCounts, error)

	// ReleaseStaleTasks returns tasks stuck in processing longer than
	// the timeout back to pending so a later drain retries them (a
	// worker crash must not strand its claimed tasks forever).
	ReleaseStaleTasks(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MessageManager handles the outbound delivery queue.
type MessageManager interface {
	// CreateMessage inserts a new pending message.
	CreateMessage(ctx context.Context, msg *QueuedMessage) error

	// GetMessage retrieves a message by ID. Returns (nil, nil) if not found.
	GetMessage(ctx context.Context, messageID string) (*QueuedMessage, error)

	// ClaimPendingMessages atomically claims up to limit pending
	// messages whose next_attempt_at has passed, flipping them to
	// sending. FIFO by creation time.
	ClaimPendingMessages(ctx context.Context, limit int) ([]*QueuedMessage, error)

	// UpdateMessageRendered stores the rendered subject and body
	// produced during batch processing.
	UpdateMessageRendered(ctx context.Context, messageID, subject, body string) error

	// MarkMessageSent records a successful delivery.
	MarkMessageSent(ctx context.Context, messageID string) error

	// MarkMessageRetry returns a message to pending after a failed
	// attempt, recording the attempt count, the error, and when the
	// message becomes eligible again.
	MarkMessageRetry(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time, lastError string) error

	// MarkMessageFailed records a terminal delivery failure.
	MarkMessageFailed(ctx context.Context, messageID string, attempts int, lastError string) error

	// ReleaseStaleMessages returns messages stuck in sending back to
	// pending so a later drain retries them. A message goes stale when
	// the worker that claimed it died before marking an outcome; the
	// interrupted attempt is not counted. Returns the number released.
	ReleaseStaleMessages(ctx context.Context, olderThan time.Duration) (int64, error)

	// ListRecentMessages returns messages ordered newest first.
	ListRecentMessages(ctx context.Context, limit int) ([]*QueuedMessage, error)

	// MessageStatsSince aggregates sent/failed messages updated after
	// the given time plus the current pending backlog.
	MessageStatsSince(ctx context.Context, since time.Time) (MessageStats, error)
}

// TemplateManager handles message template configuration rows.
type TemplateManager interface {
	// UpsertTemplate creates or replaces a template by name.
	UpsertTemplate(ctx context.Context, tmpl *MessageTemplate) error

	// GetTemplate retrieves a template by name. Returns (nil, nil) if
	// not found.
	GetTemplate(ctx context.Context, name string) (*MessageTemplate, error)

	// ListTemplates returns all templates ordered by name.
	ListTemplates(ctx context.Context) ([]*MessageTemplate, error)
}

// SystemLockManager handles named locks for single-flight background
// processing across workers.
type SystemLockManager interface {
	// TryAcquireSystemLock attempts to acquire a named lock for the
	// worker. Returns true if acquired. An expired lock held by a dead
	// worker is taken over.
	TryAcquireSystemLock(ctx context.Context, lockName, workerID string, timeoutSec int) (bool, error)

	// ReleaseSystemLock releases a lock held by the worker.
	ReleaseSystemLock(ctx context.Context, lockName, workerID string) error

	// CleanupExpiredSystemLocks removes locks past their expiry.
	CleanupExpiredSystemLocks(ctx context.Context) error
}
