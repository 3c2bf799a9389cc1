//go:build integration

package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/truevault/automation/internal/migrations"
)

func setupPostgresContainer(t *testing.T) (*PostgresStorage, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("automation_test"),
		postgres.WithUsername("automation"),
		postgres.WithPassword("automation"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute)),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		testcontainers.CleanupContainer(t, container)
		t.Fatalf("failed to get connection string: %v", err)
	}

	store, err := NewPostgresStorage(connStr)
	if err != nil {
		testcontainers.CleanupContainer(t, container)
		t.Fatalf("failed to create PostgreSQL storage: %v", err)
	}

	migrationsFS := os.DirFS("../../schema/db/migrations")
	if _, err := migrations.Apply(ctx, store.DB(), "postgresql", migrationsFS); err != nil {
		store.Close()
		testcontainers.CleanupContainer(t, container)
		t.Fatalf("failed to apply migrations: %v", err)
	}

	cleanup := func() {
		store.Close()
		testcontainers.CleanupContainer(t, container)
	}

	return store, cleanup
}

func cleanupPostgresTables(t *testing.T, store *PostgresStorage) {
	t.Helper()
	ctx := context.Background()

	tables := []string{
		"workflow_executions",
		"scheduled_tasks",
		"queued_messages",
		"message_templates",
		"system_locks",
	}

	for _, table := range tables {
		if _, err := store.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Logf("Warning: failed to clean table %s: %v", table, err)
		}
	}
}

func TestPostgresIntegration_Executions(t *testing.T) {
	store, cleanup := setupPostgresContainer(t)
	defer cleanup()
	defer cleanupPostgresTables(t, store)

	ctx := context.Background()

	exec := &WorkflowExecution{
		ExecutionID:  "pg-exec-1",
		WorkflowName: "user_onboarding",
		TriggerEvent: "user.created",
		ContextData:  map[string]string{"email": "alice@example.com"},
		Status:       ExecutionRunning,
		StartedAt:    time.Now(),
	}
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}

	got, err := store.GetExecution(ctx, "pg-exec-1")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if got == nil || got.Status != ExecutionRunning {
		t.Fatalf("unexpected execution: %+v", got)
	}
	if got.ContextData["email"] != "alice@example.com" {
		t.Errorf("context data not round-tripped: %v", got.ContextData)
	}

	if err := store.FinishExecution(ctx, "pg-exec-1", ExecutionFailed, "step send_email failed"); err != nil {
		t.Fatalf("failed to finish execution: %v", err)
	}
	got, _ = store.GetExecution(ctx, "pg-exec-1")
	if got.Status != ExecutionFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.ErrorMessage != "step send_email failed" {
		t.Errorf("error message not stored: %q", got.ErrorMessage)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	// Terminal rows are immutable.
	if err := store.FinishExecution(ctx, "pg-exec-1", ExecutionCompleted, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = store.GetExecution(ctx, "pg-exec-1")
	if got.Status != ExecutionFailed {
		t.Errorf("terminal status changed to %s", got.Status)
	}

	counts, err := store.CountExecutionsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to count executions: %v", err)
	}
	if counts.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", counts.Failed)
	}
}

func TestPostgresIntegration_TaskClaiming(t *testing.T) {
	store, cleanup := setupPostgresContainer(t)
	defer cleanup()
	defer cleanupPostgresTables(t, store)

	ctx := context.Background()

	const total = 30
	for i := 0; i < total; i++ {
		task := &ScheduledTask{
			TaskID:    fmt.Sprintf("pg-task-%d", i),
			TaskType:  "noop",
			Status:    TaskPending,
			ExecuteAt: time.Now().Add(-time.Minute),
		}
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}
	}

	// FOR UPDATE SKIP LOCKED keeps concurrent claims disjoint.
	const workers = 5
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		claimed = make(map[string]string)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				tasks, err := store.ClaimDueTasks(ctx, workerID, 4)
				if err != nil {
					t.Errorf("claim error: %v", err)
					return
				}
				if len(tasks) == 0 {
					return
				}
				mu.Lock()
				for _, task := range tasks {
					if prev, ok := claimed[task.TaskID]; ok {
						t.Errorf("task %s claimed by both %s and %s", task.TaskID, prev, workerID)
					}
					claimed[task.TaskID] = workerID
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	if len(claimed) != total {
		t.Errorf("expected %d tasks claimed, got %d", total, len(claimed))
	}
}

func TestPostgresIntegration_MessageLifecycle(t *testing.T) {
	store, cleanup := setupPostgresContainer(t)
	defer cleanup()
	defer cleanupPostgresTables(t, store)

	ctx := context.Background()

	msg := &QueuedMessage{
		MessageID:    "pg-msg-1",
		Recipient:    "bob@example.com",
		TemplateName: "welcome",
		ContextData:  map[string]string{"name": "Bob"},
		Status:       MessagePending,
	}
	if err := store.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}

	claimed, err := store.ClaimPendingMessages(ctx, 10)
	if err != nil {
		t.Fatalf("failed to claim messages: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Status != MessageSending {
		t.Fatalf("unexpected claim result: %+v", claimed)
	}

	if err := store.MarkMessageRetry(ctx, "pg-msg-1", 1, time.Now().Add(time.Hour), "timeout"); err != nil {
		t.Fatalf("failed to mark retry: %v", err)
	}

	// Backoff gate: not claimable until next_attempt_at passes.
	claimed, err = store.ClaimPendingMessages(ctx, 10)
	if err != nil {
		t.Fatalf("failed to claim messages: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("expected 0 due messages, got %d", len(claimed))
	}

	if _, err := store.db.ExecContext(ctx,
		`UPDATE queued_messages SET next_attempt_at = now() - interval '1 minute' WHERE message_id = $1`,
		"pg-msg-1"); err != nil {
		t.Fatalf("failed to backdate message: %v", err)
	}

	claimed, err = store.ClaimPendingMessages(ctx, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("reclaim failed: %v (%d messages)", err, len(claimed))
	}

	if err := store.MarkMessageSent(ctx, "pg-msg-1"); err != nil {
		t.Fatalf("failed to mark sent: %v", err)
	}
	got, _ := store.GetMessage(ctx, "pg-msg-1")
	if got.Status != MessageSent {
		t.Errorf("expected status sent, got %s", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", got.Attempts)
	}

	// A message claimed by a worker that dies before marking any
	// outcome is released back to pending once stale.
	stranded := &QueuedMessage{
		MessageID: "pg-msg-stranded",
		Recipient: "carol@example.com",
		Status:    MessagePending,
	}
	if err := store.CreateMessage(ctx, stranded); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}
	claimed, err = store.ClaimPendingMessages(ctx, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim failed: %v (%d messages)", err, len(claimed))
	}

	released, err := store.ReleaseStaleMessages(ctx, time.Hour)
	if err != nil {
		t.Fatalf("failed to release messages: %v", err)
	}
	if released != 0 {
		t.Errorf("expected 0 released before timeout, got %d", released)
	}

	released, err = store.ReleaseStaleMessages(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("failed to release messages: %v", err)
	}
	if released != 1 {
		t.Errorf("expected 1 released, got %d", released)
	}
	got, _ = store.GetMessage(ctx, "pg-msg-stranded")
	if got.Status != MessagePending {
		t.Errorf("expected status pending after release, got %s", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("expected 0 attempts after release, got %d", got.Attempts)
	}
}

func TestPostgresIntegration_SystemLocks(t *testing.T) {
	store, cleanup := setupPostgresContainer(t)
	defer cleanup()
	defer cleanupPostgresTables(t, store)

	ctx := context.Background()

	acquired, err := store.TryAcquireSystemLock(ctx, "process_due", "worker-1", 60)
	if err != nil || !acquired {
		t.Fatalf("failed to acquire lock: %v", err)
	}

	acquired, err = store.TryAcquireSystemLock(ctx, "process_due", "worker-2", 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Error("expected lock contention to fail")
	}

	if err := store.ReleaseSystemLock(ctx, "process_due", "worker-1"); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}

	acquired, err = store.TryAcquireSystemLock(ctx, "process_due", "worker-2", 60)
	if err != nil || !acquired {
		t.Fatalf("failed to acquire released lock: %v", err)
	}
}
