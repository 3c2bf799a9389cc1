package automation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/truevault/automation/hooks"
	"github.com/truevault/automation/internal/storage"
)

// TaskHandler runs a claimed scheduled task. Returning an error marks
// the task failed with the error message recorded.
type TaskHandler func(ctx context.Context, payload map[string]string) error

// Schedule queues a task of the given type to run at executeAt.
// Returns the task ID.
func (e *Engine) Schedule(ctx context.Context, taskType string, payload map[string]string, executeAt time.Time) (string, error) {
	store := e.store()
	if store == nil {
		return "", ErrNotStarted
	}

	task := &storage.ScheduledTask{
		TaskID:    uuid.New().String(),
		TaskType:  taskType,
		Payload:   payload,
		Status:    storage.TaskPending,
		ExecuteAt: executeAt,
	}
	if err := store.CreateTask(ctx, task); err != nil {
		return "", err
	}

	e.hooks.OnTaskScheduled(ctx, hooks.TaskScheduledInfo{
		TaskID:    task.TaskID,
		TaskType:  taskType,
		ExecuteAt: executeAt,
	})
	slog.Debug("task scheduled",
		"task_id", task.TaskID,
		"task_type", taskType,
		"execute_at", executeAt)
	return task.TaskID, nil
}

// CancelTask cancels a task that has not been claimed yet. Returns
// false when the task was already claimed, finished, or cancelled;
// losing that race is expected, not an error.
func (e *Engine) CancelTask(ctx context.Context, taskID string) (bool, error) {
	store := e.store()
	if store == nil {
		return false, ErrNotStarted
	}

	cancelled, err := store.CancelTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if cancelled {
		task, getErr := store.GetTask(ctx, taskID)
		taskType := ""
		if getErr == nil && task != nil {
			taskType = task.TaskType
		}
		e.hooks.OnTaskCancelled(ctx, hooks.TaskCancelledInfo{
			TaskID:   taskID,
			TaskType: taskType,
		})
	}
	return cancelled, nil
}

type taskDrainResult struct {
	claimed   int
	completed int
	failed    int
}

// processDueTasks claims a batch of due tasks and runs their handlers
// concurrently, capped by the task semaphore. One handler failing
// never affects the rest of the batch.
func (e *Engine) processDueTasks(ctx context.Context, store storage.Storage, limit int) (taskDrainResult, error) {
	var result taskDrainResult

	tasks, err := store.ClaimDueTasks(ctx, e.config.workerID, limit)
	if err != nil {
		return result, err
	}
	result.claimed = len(tasks)
	if len(tasks) == 0 {
		return result, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, task := range tasks {
		if err := e.taskSem.Acquire(ctx, 1); err != nil {
			// Shutdown mid-batch: the claimed tasks go stale and a
			// later drain releases them back to pending.
			break
		}
		wg.Add(1)
		go func(task *storage.ScheduledTask) {
			defer wg.Done()
			defer e.taskSem.Release(1)

			ok := e.runTask(ctx, store, task)
			mu.Lock()
			if ok {
				result.completed++
			} else {
				result.failed++
			}
			mu.Unlock()
		}(task)
	}
	wg.Wait()
	return result, nil
}

// runTask executes one claimed task. Returns true on success.
func (e *Engine) runTask(ctx context.Context, store storage.Storage, task *storage.ScheduledTask) bool {
	start := time.Now()

	handler, ok := e.registry.taskHandler(task.TaskType)
	if !ok {
		err := &UnknownTaskTypeError{TaskType: task.TaskType}
		e.failTask(ctx, store, task, err, start)
		return false
	}

	if err := handler(ctx, task.Payload); err != nil {
		e.failTask(ctx, store, task, err, start)
		return false
	}

	if err := store.CompleteTask(ctx, task.TaskID); err != nil {
		slog.Error("error completing task",
			"task_id", task.TaskID,
			"error", err)
	}
	e.hooks.OnTaskCompleted(ctx, hooks.TaskCompletedInfo{
		TaskID:   task.TaskID,
		TaskType: task.TaskType,
		Duration: time.Since(start),
	})
	slog.Info("task completed",
		"task_id", task.TaskID,
		"task_type", task.TaskType,
		"duration", time.Since(start))
	return true
}

func (e *Engine) failTask(ctx context.Context, store storage.Storage, task *storage.ScheduledTask, cause error, start time.Time) {
	if err := store.FailTask(ctx, task.TaskID, cause.Error()); err != nil {
		slog.Error("error failing task",
			"task_id", task.TaskID,
			"error", err)
	}
	e.hooks.OnTaskFailed(ctx, hooks.TaskFailedInfo{
		TaskID:   task.TaskID,
		TaskType: task.TaskType,
		Error:    cause,
		Duration: time.Since(start),
	})
	slog.Warn("task failed",
		"task_id", task.TaskID,
		"task_type", task.TaskType,
		"error", cause)
}
