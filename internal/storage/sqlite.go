package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// For in-memory databases, use shared cache mode so all connections share
	// the same database. database/sql pools connections, and without shared
	// cache each connection to ":memory:" would get its own separate database.
	var connStr string
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	} else {
		connStr = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// DB returns the underlying database connection.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const sqliteTimeFormat = "2006-01-02 15:04:05"

// parseSQLiteTime parses a SQLite datetime TEXT value into time.Time.
// Handles both "2006-01-02 15:04:05" and RFC3339 formats.
func parseSQLiteTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{sqliteTimeFormat, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time: %s", s)
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func encodeMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode data map: %w", err)
	}
	return string(b), nil
}

func decodeMap(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return map[string]string{}, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("failed to decode data map: %w", err)
	}
	return m, nil
}

// --- Execution Manager ---

// CreateExecution inserts a new execution row.
func (s *SQLiteStorage) CreateExecution(ctx context.Context, exec *WorkflowExecution) error {
	contextJSON, err := encodeMap(exec.ContextData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (
			execution_id, workflow_name, trigger_event, context_data, status, error_message, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, exec.ExecutionID, exec.WorkflowName, exec.TriggerEvent, contextJSON,
		exec.Status, exec.ErrorMessage, formatSQLiteTime(exec.StartedAt))
	return err
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStorage) GetExecution(ctx context.Context, executionID string) (*WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, workflow_name, trigger_event, context_data, status, error_message, started_at, completed_at
		FROM workflow_executions WHERE execution_id = ?
	`, executionID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

// FinishExecution transitions a running execution to a terminal status.
// Terminal rows are never updated again.
func (s *SQLiteStorage) FinishExecution(ctx context.Context, executionID string, status ExecutionStatus, errorMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = ?, error_message = ?, completed_at = datetime('now')
		WHERE execution_id = ? AND status = 'running'
	`, status, errorMsg, executionID)
	return err
}

// ListRecentExecutions returns executions ordered newest first.
func (s *SQLiteStorage) ListRecentExecutions(ctx context.Context, limit int) ([]*WorkflowExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, workflow_name, trigger_event, context_data, status, error_message, started_at, completed_at
		FROM workflow_executions
		ORDER BY started_at DESC, execution_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var execs []*WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// CountExecutionsSince aggregates executions started after the given time.
func (s *SQLiteStorage) CountExecutionsSince(ctx context.Context, since time.Time) (ExecutionCounts, error) {
	var counts ExecutionCounts
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM workflow_executions
		WHERE datetime(started_at) >= datetime(?)
		GROUP BY status
	`, formatSQLiteTime(since))
	if err != nil {
		return counts, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status ExecutionStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return counts, err
		}
		switch status {
		case ExecutionRunning:
			counts.Running = n
		case ExecutionCompleted:
			counts.Completed = n
		case ExecutionFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*WorkflowExecution, error) {
	var exec WorkflowExecution
	var contextData, errorMsg, startedAt, completedAt sql.NullString

	if err := row.Scan(&exec.ExecutionID, &exec.WorkflowName, &exec.TriggerEvent,
		&contextData, &exec.Status, &errorMsg, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	var err error
	if exec.ContextData, err = decodeMap(contextData); err != nil {
		return nil, err
	}
	if errorMsg.Valid {
		exec.ErrorMessage = errorMsg.String
	}
	if startedAt.Valid {
		exec.StartedAt, _ = parseSQLiteTime(startedAt.String)
	}
	if completedAt.Valid {
		if t, err := parseSQLiteTime(completedAt.String); err == nil && !t.IsZero() {
			exec.CompletedAt = &t
		}
	}
	return &exec, nil
}

// --- Task Manager ---

// CreateTask inserts a new pending task.
func (s *SQLiteStorage) CreateTask(ctx context.Context, task *ScheduledTask) error {
	payloadJSON, err := encodeMap(task.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (
			task_id, task_type, payload, status, execute_at, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
	`, task.TaskID, task.TaskType, payloadJSON, task.Status,
		formatSQLiteTime(task.ExecuteAt), task.ErrorMessage)
	return err
}

// GetTask retrieves a task by ID.
func (s *SQLiteStorage) GetTask(ctx context.Context, taskID string) (*ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, taskSelectSQL+` WHERE task_id = ?`, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

const taskSelectSQL = `
	SELECT task_id, task_type, payload, status, execute_at, claimed_by, claimed_at, error_message, created_at, updated_at
	FROM scheduled_tasks`

// ClaimDueTasks atomically claims up to limit due tasks. The claim is a
// single guarded UPDATE ... RETURNING so two concurrent drains never
// receive the same row.
func (s *SQLiteStorage) ClaimDueTasks(ctx context.Context, workerID string, limit int) ([]*ScheduledTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		UPDATE scheduled_tasks
		SET status = 'processing', claimed_by = ?, claimed_at = datetime('now'), updated_at = datetime('now')
		WHERE task_id IN (
			SELECT task_id FROM scheduled_tasks
			WHERE status = 'pending' AND datetime(execute_at) <= datetime('now')
			ORDER BY execute_at ASC
			LIMIT ?
		) AND status = 'pending'
		RETURNING task_id, task_type, payload, status, execute_at, claimed_by, claimed_at, error_message, created_at, updated_at
	`, workerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []*ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CompleteTask marks a claimed task completed. No-op on terminal rows.
func (s *SQLiteStorage) CompleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = 'completed', updated_at = datetime('now')
		WHERE task_id = ? AND status = 'processing'
	`, taskID)
	return err
}

// FailTask marks a claimed task failed. No-op on terminal rows.
func (s *SQLiteStorage) FailTask(ctx context.Context, taskID string, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = 'failed', error_message = ?, updated_at = datetime('now')
		WHERE task_id = ? AND status = 'processing'
	`, errorMsg, taskID)
	return err
}

// CancelTask cancels a still-pending task. Returns false if the task
// was already claimed or terminal.
func (s *SQLiteStorage) CancelTask(ctx context.Context, taskID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = 'cancelled', updated_at = datetime('now')
		WHERE task_id = ? AND status = 'pending'
	`, taskID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListTasksByStatus returns tasks with the given status, soonest first.
func (s *SQLiteStorage) ListTasksByStatus(ctx context.Context, status TaskStatus, limit int) ([]*ScheduledTask, error) {
	if limit <= 0 {
		limit = 50
	}
	query := taskSelectSQL
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY execute_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []*ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CountTasksByStatus aggregates all tasks by status.
func (s *SQLiteStorage) CountTasksByStatus(ctx context.Context) (TaskCounts, error) {
	var counts TaskCounts
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM scheduled_tasks GROUP BY status
	`)
	if err != nil {
		return counts, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status TaskStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return counts, err
		}
		switch status {
		case TaskPending:
			counts.Pending = n
		case TaskProcessing:
			counts.Processing = n
		case TaskCompleted:
			counts.Completed = n
		case TaskFailed:
			counts.Failed = n
		case TaskCancelled:
			counts.Cancelled = n
		}
	}
	return counts, rows.Err()
}

// ReleaseStaleTasks returns tasks stuck in processing back to pending.
func (s *SQLiteStorage) ReleaseStaleTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := formatSQLiteTime(time.Now().Add(-olderThan))
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = datetime('now')
		WHERE status = 'processing' AND datetime(claimed_at) < datetime(?)
	`, threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanTask(row rowScanner) (*ScheduledTask, error) {
	var task ScheduledTask
	var payload, claimedBy, claimedAt, errorMsg sql.NullString
	var executeAt, createdAt, updatedAt sql.NullString

	if err := row.Scan(&task.TaskID, &task.TaskType, &payload, &task.Status,
		&executeAt, &claimedBy, &claimedAt, &errorMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if task.Payload, err = decodeMap(payload); err != nil {
		return nil, err
	}
	if claimedBy.Valid {
		task.ClaimedBy = claimedBy.String
	}
	if claimedAt.Valid {
		if t, err := parseSQLiteTime(claimedAt.String); err == nil && !t.IsZero() {
			task.ClaimedAt = &t
		}
	}
	if errorMsg.Valid {
		task.ErrorMessage = errorMsg.String
	}
	if executeAt.Valid {
		task.ExecuteAt, _ = parseSQLiteTime(executeAt.String)
	}
	if createdAt.Valid {
		task.CreatedAt, _ = parseSQLiteTime(createdAt.String)
	}
	if updatedAt.Valid {
		task.UpdatedAt, _ = parseSQLiteTime(updatedAt.String)
	}
	return &task, nil
}

// --- Message Manager ---

// CreateMessage inserts a new pending message.
func (s *SQLiteStorage) CreateMessage(ctx context.Context, msg *QueuedMessage) error {
	contextJSON, err := encodeMap(msg.ContextData)
	if err != nil {
		return err
	}
	nextAttempt := msg.NextAttemptAt
	if nextAttempt.IsZero() {
		nextAttempt = msg.CreatedAt
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queued_messages (
			message_id, recipient, template_name, context_data, rendered_subject, rendered_body,
			status, attempts, next_attempt_at, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
	`, msg.MessageID, msg.Recipient, msg.TemplateName, contextJSON,
		msg.RenderedSubject, msg.RenderedBody, msg.Status, msg.Attempts,
		formatSQLiteTime(nextAttempt), msg.LastError)
	return err
}

const messageSelectSQL = `
	SELECT message_id, recipient, template_name, context_data, rendered_subject, rendered_body,
	       status, attempts, next_attempt_at, sent_at, last_error, created_at, updated_at
	FROM queued_messages`

// GetMessage retrieves a message by ID.
func (s *SQLiteStorage) GetMessage(ctx context.Context, messageID string) (*QueuedMessage, error) {
	row := s.db.QueryRowContext(ctx, messageSelectSQL+` WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// ClaimPendingMessages atomically claims up to limit eligible pending
// messages, flipping them to sending. FIFO by creation time.
func (s *SQLiteStorage) ClaimPendingMessages(ctx context.Context, limit int) ([]*QueuedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		UPDATE queued_messages
		SET status = 'sending', updated_at = datetime('now')
		WHERE message_id IN (
			SELECT message_id FROM queued_messages
			WHERE status = 'pending' AND datetime(next_attempt_at) <= datetime('now')
			ORDER BY created_at ASC
			LIMIT ?
		) AND status = 'pending'
		RETURNING message_id, recipient, template_name, context_data, rendered_subject, rendered_body,
		          status, attempts, next_attempt_at, sent_at, last_error, created_at, updated_at
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// UpdateMessageRendered stores rendered content for a message.
func (s *SQLiteStorage) UpdateMessageRendered(ctx context.Context, messageID, subject, body string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queued_messages
		SET rendered_subject = ?, rendered_body = ?, updated_at = datetime('now')
		WHERE message_id = ?
	`, subject, body, messageID)
	return err
}

// MarkMessageSent records a successful delivery. Guarded on status so a
// message already terminal cannot be re-marked.
func (s *SQLiteStorage) MarkMessageSent(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queued_messages
		SET status = 'sent', attempts = attempts + 1, sent_at = datetime('now'), last_error = '', updated_at = datetime('now')
		WHERE message_id = ? AND status = 'sending'
	`, messageID)
	return err
}

// MarkMessageRetry returns a message to pending for a later pass.
func (s *SQLiteStorage) MarkMessageRetry(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queued_messages
		SET status = 'pending', attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = datetime('now')
		WHERE message_id = ? AND status = 'sending'
	`, attempts, formatSQLiteTime(nextAttemptAt), lastError, messageID)
	return err
}

// MarkMessageFailed records a terminal delivery failure.
func (s *SQLiteStorage) MarkMessageFailed(ctx context.Context, messageID string, attempts int, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queued_messages
		SET status = 'failed', attempts = ?, last_error = ?, updated_at = datetime('now')
		WHERE message_id = ? AND status = 'sending'
	`, attempts, lastError, messageID)
	return err
}

// ReleaseStaleMessages returns messages stuck in sending back to
// pending. The claim timestamp is updated_at, set when the message
// flipped to sending.
func (s *SQLiteStorage) ReleaseStaleMessages(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := formatSQLiteTime(time.Now().Add(-olderThan))
	result, err := s.db.ExecContext(ctx, `
		UPDATE queued_messages
		SET status = 'pending', updated_at = datetime('now')
		WHERE status = 'sending' AND datetime(updated_at) < datetime(?)
	`, threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListRecentMessages returns messages ordered newest first.
func (s *SQLiteStorage) ListRecentMessages(ctx context.Context, limit int) ([]*QueuedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, messageSelectSQL+`
		ORDER BY created_at DESC, message_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// MessageStatsSince aggregates delivery outcomes for a trailing window.
func (s *SQLiteStorage) MessageStatsSince(ctx context.Context, since time.Time) (MessageStats, error) {
	var stats MessageStats
	sinceStr := formatSQLiteTime(since)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = 'sent' AND datetime(updated_at) >= datetime(?) THEN 1 END),
			COUNT(CASE WHEN status = 'failed' AND datetime(updated_at) >= datetime(?) THEN 1 END),
			COUNT(CASE WHEN status IN ('pending', 'sending') THEN 1 END)
		FROM queued_messages
	`, sinceStr, sinceStr).Scan(&stats.Sent, &stats.Failed, &stats.Pending)
	return stats, err
}

func scanMessage(row rowScanner) (*QueuedMessage, error) {
	var msg QueuedMessage
	var templateName, contextData, subject, body, lastError sql.NullString
	var nextAttemptAt, sentAt, createdAt, updatedAt sql.NullString

	if err := row.Scan(&msg.MessageID, &msg.Recipient, &templateName, &contextData,
		&subject, &body, &msg.Status, &msg.Attempts, &nextAttemptAt, &sentAt,
		&lastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if msg.ContextData, err = decodeMap(contextData); err != nil {
		return nil, err
	}
	if templateName.Valid {
		msg.TemplateName = templateName.String
	}
	if subject.Valid {
		msg.RenderedSubject = subject.String
	}
	if body.Valid {
		msg.RenderedBody = body.String
	}
	if lastError.Valid {
		msg.LastError = lastError.String
	}
	if nextAttemptAt.Valid {
		msg.NextAttemptAt, _ = parseSQLiteTime(nextAttemptAt.String)
	}
	if sentAt.Valid {
		if t, err := parseSQLiteTime(sentAt.String); err == nil && !t.IsZero() {
			msg.SentAt = &t
		}
	}
	if createdAt.Valid {
		msg.CreatedAt, _ = parseSQLiteTime(createdAt.String)
	}
	if updatedAt.Valid {
		msg.UpdatedAt, _ = parseSQLiteTime(updatedAt.String)
	}
	return &msg, nil
}

// --- Template Manager ---

// UpsertTemplate creates or replaces a template by name.
func (s *SQLiteStorage) UpsertTemplate(ctx context.Context, tmpl *MessageTemplate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_templates (name, subject, body, category, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT (name) DO UPDATE SET
			subject = excluded.subject,
			body = excluded.body,
			category = excluded.category,
			updated_at = datetime('now')
	`, tmpl.Name, tmpl.Subject, tmpl.Body, tmpl.Category)
	return err
}

// GetTemplate retrieves a template by name.
func (s *SQLiteStorage) GetTemplate(ctx context.Context, name string) (*MessageTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, subject, body, category, updated_at
		FROM message_templates WHERE name = ?
	`, name)
	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tmpl, err
}

// ListTemplates returns all templates ordered by name.
func (s *SQLiteStorage) ListTemplates(ctx context.Context) ([]*MessageTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, subject, body, category, updated_at
		FROM message_templates ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tmpls []*MessageTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		tmpls = append(tmpls, tmpl)
	}
	return tmpls, rows.Err()
}

func scanTemplate(row rowScanner) (*MessageTemplate, error) {
	var tmpl MessageTemplate
	var category, updatedAt sql.NullString
	if err := row.Scan(&tmpl.Name, &tmpl.Subject, &tmpl.Body, &category, &updatedAt); err != nil {
		return nil, err
	}
	if category.Valid {
		tmpl.Category = category.String
	}
	if updatedAt.Valid {
		tmpl.UpdatedAt, _ = parseSQLiteTime(updatedAt.String)
	}
	return &tmpl, nil
}

// --- System Lock Manager ---

// TryAcquireSystemLock attempts to acquire a named lock for a worker.
// An expired lock is taken over; a live lock held by another worker is
// left alone.
func (s *SQLiteStorage) TryAcquireSystemLock(ctx context.Context, lockName, workerID string, timeoutSec int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO system_locks (lock_name, locked_by, locked_at, expires_at)
		VALUES (?, ?, datetime('now'), datetime('now', ? || ' seconds'))
		ON CONFLICT (lock_name) DO UPDATE SET
			locked_by = excluded.locked_by,
			locked_at = excluded.locked_at,
			expires_at = excluded.expires_at
		WHERE datetime(system_locks.expires_at) <= datetime('now')
		   OR system_locks.locked_by = excluded.locked_by
	`, lockName, workerID, timeoutSec)
	if err != nil {
		// A unique constraint race means another worker inserted first.
		if strings.Contains(strings.ToLower(err.Error()), "unique") ||
			strings.Contains(strings.ToLower(err.Error()), "constraint") {
			return false, nil
		}
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ReleaseSystemLock releases a lock held by the worker.
func (s *SQLiteStorage) ReleaseSystemLock(ctx context.Context, lockName, workerID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM system_locks WHERE lock_name = ? AND locked_by = ?
	`, lockName, workerID)
	return err
}

// CleanupExpiredSystemLocks removes locks past their expiry.
func (s *SQLiteStorage) CleanupExpiredSystemLocks(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM system_locks WHERE datetime(expires_at) <= datetime('now')
	`)
	return err
}
