package automation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/truevault/automation/delivery"
	"github.com/truevault/automation/hooks"
	"github.com/truevault/automation/internal/coordination"
	"github.com/truevault/automation/internal/migrations"
	"github.com/truevault/automation/internal/storage"
	"github.com/truevault/automation/template"
)

// Engine is the main entry point. It owns the storage, the workflow
// registry, the scheduled task drain, and the delivery queue, and runs
// the periodic background processing that keeps them moving.
type Engine struct {
	config   *engineConfig
	storage  storage.Storage
	hooks    hooks.AutomationHooks
	registry *registry

	templates *template.Store
	queue     *delivery.Queue

	// Background task management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Concurrency control for task handlers
	taskSem *semaphore.Weighted

	// Singleton runner for the periodic drain (nil when disabled)
	processRunner *coordination.SingletonTaskRunner

	// State
	running bool
	mu      sync.Mutex
}

// NewEngine creates a new automation engine.
func NewEngine(opts ...Option) *Engine {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.workerID == "" {
		config.workerID = uuid.New().String()
	}

	return &Engine{
		config:    config,
		hooks:     config.hooks,
		registry:  newRegistry(),
		templates: template.NewStore(config.templates...),
		taskSem:   semaphore.NewWeighted(int64(config.maxConcurrentTasks)),
	}
}

// RegisterWorkflow registers a workflow definition. At most one
// workflow may listen to a given trigger event.
func (e *Engine) RegisterWorkflow(def WorkflowDefinition) error {
	return e.registry.registerWorkflow(def)
}

// RegisterStep registers a step handler by its name.
func (e *Engine) RegisterStep(h StepHandler) {
	e.registry.registerStep(h)
}

// RegisterTaskHandler registers a handler for a scheduled task type.
func (e *Engine) RegisterTaskHandler(taskType string, h TaskHandler) {
	e.registry.registerTaskHandler(taskType, h)
}

// Workflows returns the registered workflow definitions.
func (e *Engine) Workflows() []WorkflowDefinition {
	return e.registry.listWorkflows()
}

// Templates returns the in-memory template store.
func (e *Engine) Templates() *template.Store {
	return e.templates
}

// Start initializes storage, syncs templates, and starts the periodic
// background processing loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine already running")
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.initStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := e.syncTemplates(e.ctx); err != nil {
		return fmt.Errorf("failed to sync templates: %w", err)
	}

	e.queue = delivery.NewQueue(e.storage, e.templates, e.config.transport,
		delivery.WithPolicy(e.config.retryPolicy),
		delivery.WithHooks(e.hooks),
		delivery.WithSendTimeout(e.config.deliveryTimeout),
	)

	if e.config.singletonProcessing {
		e.processRunner = coordination.NewSingletonTaskRunner(
			e.storage,
			e.config.workerID,
			coordination.DefaultSingletonConfig("process_due"),
		)
	}

	e.wg.Add(1)
	go e.runProcessingLoop()

	e.running = true
	slog.Info("automation engine started",
		"service", e.config.serviceName,
		"worker_id", e.config.workerID,
		"process_interval", e.config.processInterval)
	return nil
}

// Shutdown gracefully stops background processing and closes storage.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out")
	case <-time.After(e.config.shutdownTimeout):
		return fmt.Errorf("shutdown timed out after %v", e.config.shutdownTimeout)
	}

	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	return nil
}

// store returns the storage handle, or nil before Start. Reading under
// the mutex pairs with the write in Start so callers racing Start see
// either nil or a fully initialized backend.
func (e *Engine) store() storage.Storage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storage
}

// deliveryQueue returns the delivery queue, or nil before Start.
func (e *Engine) deliveryQueue() *delivery.Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue
}

// initStorage opens the storage backend selected by the database URL.
func (e *Engine) initStorage() error {
	url := e.config.databaseURL
	if url == "" {
		url = "automation.db"
	}

	dbType, err := migrations.DetectDBType(url)
	if err != nil {
		return err
	}

	switch dbType {
	case "postgresql":
		pg, err := storage.NewPostgresStorage(url)
		if err != nil {
			return fmt.Errorf("failed to create PostgreSQL storage: %w", err)
		}
		e.storage = pg
	default:
		lite, err := storage.NewSQLiteStorage(strings.TrimPrefix(url, "file:"))
		if err != nil {
			return fmt.Errorf("failed to create SQLite storage: %w", err)
		}
		e.storage = lite
	}

	if e.config.autoMigrate {
		if _, err := migrations.Apply(e.ctx, e.storage.DB(), dbType, EmbeddedMigrationsFS()); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}
	return nil
}

// syncTemplates upserts code-registered templates into the database,
// then loads any database-only templates into the in-memory store so
// admin-authored templates render too.
func (e *Engine) syncTemplates(ctx context.Context) error {
	for _, t := range e.templates.List() {
		err := e.storage.UpsertTemplate(ctx, &storage.MessageTemplate{
			Name:     t.Name,
			Subject:  t.Subject,
			Body:     t.Body,
			Category: t.Category,
		})
		if err != nil {
			return fmt.Errorf("upsert template %q: %w", t.Name, err)
		}
	}

	stored, err := e.storage.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	for _, t := range stored {
		if _, err := e.templates.Get(t.Name); err != nil {
			e.templates.Put(template.Template{
				Name:     t.Name,
				Subject:  t.Subject,
				Body:     t.Body,
				Category: t.Category,
			})
		}
	}
	return nil
}

// ProcessResult summarizes one ProcessDue pass.
type ProcessResult struct {
	TasksClaimed     int                  `json:"tasks_claimed"`
	TasksCompleted   int                  `json:"tasks_completed"`
	TasksFailed      int                  `json:"tasks_failed"`
	TasksReleased    int64                `json:"tasks_released"`
	MessagesReleased int64                `json:"messages_released"`
	Messages         delivery.BatchResult `json:"messages"`
}

// ProcessDue drains one batch of due tasks and pending messages. The
// background loop calls this every tick; the admin API and CLI call it
// for an immediate drain. Work claimed by a worker that died before
// finishing is released back to pending first, so crashed deliveries
// and task runs are retried rather than stranded.
func (e *Engine) ProcessDue(ctx context.Context, taskLimit, emailLimit int) (ProcessResult, error) {
	var result ProcessResult

	store := e.store()
	if store == nil {
		return result, ErrNotStarted
	}

	released, err := store.ReleaseStaleTasks(ctx, e.config.staleTaskTimeout)
	if err != nil {
		slog.Error("error releasing stale tasks", "error", err)
	}
	result.TasksReleased = released

	released, err = store.ReleaseStaleMessages(ctx, e.config.staleTaskTimeout)
	if err != nil {
		slog.Error("error releasing stale messages", "error", err)
	}
	result.MessagesReleased = released

	taskResult, err := e.processDueTasks(ctx, store, taskLimit)
	if err != nil {
		return result, err
	}
	result.TasksClaimed = taskResult.claimed
	result.TasksCompleted = taskResult.completed
	result.TasksFailed = taskResult.failed

	if queue := e.deliveryQueue(); queue != nil && e.config.transport != nil {
		msgResult, err := queue.ProcessBatch(ctx, emailLimit)
		if err != nil {
			return result, err
		}
		result.Messages = msgResult
	}

	if err := store.CleanupExpiredSystemLocks(ctx); err != nil {
		slog.Debug("error cleaning up expired locks", "error", err)
	}
	return result, nil
}

// runProcessingLoop drains due work every tick until shutdown.
func (e *Engine) runProcessingLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(addJitter(e.config.processInterval))
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.processTick()
		}
	}
}

func (e *Engine) processTick() {
	drain := func(ctx context.Context) error {
		_, err := e.ProcessDue(ctx, e.config.taskBatchSize, e.config.emailBatchSize)
		return err
	}

	var err error
	if e.processRunner != nil {
		// Only one worker drains per tick across the cluster.
		_, err = e.processRunner.TryRun(e.ctx, drain)
	} else {
		err = drain(e.ctx)
	}
	if err != nil && e.ctx.Err() == nil {
		slog.Error("error processing due work", "error", err)
	}
}

// addJitter adds random jitter (±25%) to a duration to prevent thundering herd.
func addJitter(d time.Duration) time.Duration {
	const jitterPercent = 0.25
	factor := 1.0 + jitterPercent*(2*rand.Float64()-1)
	return time.Duration(float64(d) * factor)
}

// Stats aggregates engine activity: executions and messages over the
// trailing window, tasks over all time.
type Stats struct {
	WindowDays int                     `json:"window_days"`
	Executions storage.ExecutionCounts `json:"executions"`
	Tasks      storage.TaskCounts      `json:"tasks"`
	Messages   storage.MessageStats    `json:"messages"`
}

// Stats returns activity counts for the trailing window.
func (e *Engine) Stats(ctx context.Context, windowDays int) (*Stats, error) {
	store := e.store()
	if store == nil {
		return nil, ErrNotStarted
	}
	if windowDays <= 0 {
		windowDays = 7
	}
	since := time.Now().AddDate(0, 0, -windowDays)

	execs, err := store.CountExecutionsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}
	tasks, err := store.CountTasksByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	msgs, err := store.MessageStatsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("message stats: %w", err)
	}

	return &Stats{
		WindowDays: windowDays,
		Executions: execs,
		Tasks:      tasks,
		Messages:   msgs,
	}, nil
}

// RecentExecutions returns the most recent workflow executions.
func (e *Engine) RecentExecutions(ctx context.Context, limit int) ([]*storage.WorkflowExecution, error) {
	store := e.store()
	if store == nil {
		return nil, ErrNotStarted
	}
	return store.ListRecentExecutions(ctx, limit)
}

// TasksByStatus returns scheduled tasks filtered by status. An empty
// status returns all.
func (e *Engine) TasksByStatus(ctx context.Context, status storage.TaskStatus, limit int) ([]*storage.ScheduledTask, error) {
	store := e.store()
	if store == nil {
		return nil, ErrNotStarted
	}
	return store.ListTasksByStatus(ctx, status, limit)
}

// RecentMessages returns the most recent queued messages.
func (e *Engine) RecentMessages(ctx context.Context, limit int) ([]*storage.QueuedMessage, error) {
	store := e.store()
	if store == nil {
		return nil, ErrNotStarted
	}
	return store.ListRecentMessages(ctx, limit)
}

// SendTestMessage queues a literal message, bypassing templates. Used
// by operators to verify transport configuration end to end.
func (e *Engine) SendTestMessage(ctx context.Context, recipient, subject, body string) (string, error) {
	queue := e.deliveryQueue()
	if queue == nil {
		return "", ErrNotStarted
	}
	return queue.EnqueueLiteral(ctx, recipient, subject, body)
}
