// Package coordination keeps background processing single-flight
// across workers using database-backed system locks.
package coordination

import (
	"context"
	"time"
)

// SystemLockManager is the subset of the storage interface the runner
// needs.
type SystemLockManager interface {
	TryAcquireSystemLock(ctx context.Context, lockName, workerID string, timeoutSec int) (bool, error)
	ReleaseSystemLock(ctx context.Context, lockName, workerID string) error
}

// SingletonTaskConfig configures a singleton task.
type SingletonTaskConfig struct {
	// TaskName is the unique name for this task (used as lock name).
	TaskName string

	// LockTimeout is how long the lock is held before expiring.
	// Should be longer than the expected task duration.
	// Default: 60 seconds.
	LockTimeout time.Duration
}

// DefaultSingletonConfig returns the default configuration.
func DefaultSingletonConfig(taskName string) SingletonTaskConfig {
	return SingletonTaskConfig{
		TaskName:    taskName,
		LockTimeout: 60 * time.Second,
	}
}

// SingletonTaskRunner runs a task as a singleton across the cluster.
// Only one worker holds the lock at a time, so overlapping processing
// ticks (or two replicas) cannot drain the same queue concurrently.
type SingletonTaskRunner struct {
	locks    SystemLockManager
	workerID string
	config   SingletonTaskConfig
}

// NewSingletonTaskRunner creates a new singleton task runner.
func NewSingletonTaskRunner(locks SystemLockManager, workerID string, config SingletonTaskConfig) *SingletonTaskRunner {
	if config.LockTimeout == 0 {
		config.LockTimeout = 60 * time.Second
	}
	return &SingletonTaskRunner{
		locks:    locks,
		workerID: workerID,
		config:   config,
	}
}

// TryRun attempts to acquire the lock and run the task.
// Returns (true, nil) if the task ran successfully.
// Returns (false, nil) if the lock was held by another worker.
// Returns (false, error) on lock or task failure.
func (r *SingletonTaskRunner) TryRun(ctx context.Context, task func(context.Context) error) (bool, error) {
	acquired, err := r.locks.TryAcquireSystemLock(
		ctx,
		r.config.TaskName,
		r.workerID,
		int(r.config.LockTimeout.Seconds()),
	)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	taskErr := task(ctx)

	// Release failure is tolerable: the lock expires on its own.
	_ = r.locks.ReleaseSystemLock(ctx, r.config.TaskName, r.workerID)

	if taskErr != nil {
		return false, taskErr
	}
	return true, nil
}
