// Package delivery implements the durable outbound message queue.
// Messages are enqueued in the same database as the rest of the
// automation state, then drained in batches with retry and backoff.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/truevault/automation/hooks"
	"github.com/truevault/automation/internal/storage"
	"github.com/truevault/automation/retry"
	"github.com/truevault/automation/template"
)

// Renderer renders a named template with context data.
// *template.Store satisfies this.
type Renderer interface {
	Render(name string, data map[string]string) (subject, body string, err error)
}

// Queue manages the outbound delivery queue.
type Queue struct {
	store       storage.MessageManager
	renderer    Renderer
	transport   Transport
	policy      *retry.Policy
	hooks       hooks.AutomationHooks
	sendTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithPolicy sets the retry policy. Defaults to retry.DefaultPolicy.
func WithPolicy(p *retry.Policy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithHooks sets the lifecycle hooks.
func WithHooks(h hooks.AutomationHooks) Option {
	return func(q *Queue) { q.hooks = h }
}

// WithSendTimeout bounds each individual delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(q *Queue) { q.sendTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// NewQueue creates a delivery queue over the given storage, renderer,
// and transport.
func NewQueue(store storage.MessageManager, renderer Renderer, transport Transport, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		renderer:    renderer,
		transport:   transport,
		policy:      retry.DefaultPolicy(),
		hooks:       &hooks.NoOpHooks{},
		sendTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// BatchResult summarizes one ProcessBatch pass.
type BatchResult struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}

// Enqueue queues a templated message for delivery. The template is
// rendered later, during batch processing, so template edits between
// enqueue and send take effect. Returns the message ID.
func (q *Queue) Enqueue(ctx context.Context, recipient, templateName string, data map[string]string) (string, error) {
	if _, err := mail.ParseAddress(recipient); err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	if _, _, err := q.renderer.Render(templateName, data); err != nil {
		var nf *template.NotFoundError
		if errors.As(err, &nf) {
			return "", err
		}
	}

	msg := &storage.QueuedMessage{
		MessageID:    uuid.New().String(),
		Recipient:    recipient,
		TemplateName: templateName,
		ContextData:  data,
		Status:       storage.MessagePending,
	}
	if err := q.store.CreateMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}

	q.hooks.OnMessageEnqueued(ctx, hooks.MessageEnqueuedInfo{
		MessageID:    msg.MessageID,
		Recipient:    recipient,
		TemplateName: templateName,
	})
	q.logger.Debug("message enqueued",
		"message_id", msg.MessageID,
		"template", templateName)
	return msg.MessageID, nil
}

// EnqueueLiteral queues a message with a literal subject and body,
// bypassing templates. Used for test sends.
func (q *Queue) EnqueueLiteral(ctx context.Context, recipient, subject, body string) (string, error) {
	if _, err := mail.ParseAddress(recipient); err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}

	msg := &storage.QueuedMessage{
		MessageID:       uuid.New().String(),
		Recipient:       recipient,
		RenderedSubject: subject,
		RenderedBody:    body,
		Status:          storage.MessagePending,
	}
	if err := q.store.CreateMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}

	q.hooks.OnMessageEnqueued(ctx, hooks.MessageEnqueuedInfo{
		MessageID: msg.MessageID,
		Recipient: recipient,
	})
	return msg.MessageID, nil
}

// ProcessBatch claims up to max due messages and attempts delivery.
// A failure on one message never aborts the rest of the batch.
func (q *Queue) ProcessBatch(ctx context.Context, max int) (BatchResult, error) {
	var result BatchResult

	msgs, err := q.store.ClaimPendingMessages(ctx, max)
	if err != nil {
		return result, fmt.Errorf("claim pending messages: %w", err)
	}
	result.Claimed = len(msgs)

	for _, msg := range msgs {
		switch q.processOne(ctx, msg) {
		case outcomeSent:
			result.Sent++
		case outcomeRetried:
			result.Retried++
		case outcomeFailed:
			result.Failed++
		}
	}
	return result, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetried
	outcomeFailed
)

func (q *Queue) processOne(ctx context.Context, msg *storage.QueuedMessage) outcome {
	start := time.Now()

	subject, body := msg.RenderedSubject, msg.RenderedBody
	if msg.TemplateName != "" {
		var err error
		subject, body, err = q.renderer.Render(msg.TemplateName, msg.ContextData)
		if err != nil {
			// A missing template will not fix itself on retry.
			return q.fail(ctx, msg, msg.Attempts+1, err)
		}
		if err := q.store.UpdateMessageRendered(ctx, msg.MessageID, subject, body); err != nil {
			q.logger.Warn("persist rendered message failed",
				"message_id", msg.MessageID,
				"error", err)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, q.sendTimeout)
	err := q.transport.Send(sendCtx, OutboundMessage{
		MessageID: msg.MessageID,
		Recipient: msg.Recipient,
		Subject:   subject,
		Body:      body,
	})
	cancel()

	attempts := msg.Attempts + 1
	if err == nil {
		if err := q.store.MarkMessageSent(ctx, msg.MessageID); err != nil {
			q.logger.Error("mark message sent failed",
				"message_id", msg.MessageID,
				"error", err)
		}
		q.hooks.OnMessageSent(ctx, hooks.MessageSentInfo{
			MessageID: msg.MessageID,
			Recipient: msg.Recipient,
			Attempts:  attempts,
			Duration:  time.Since(start),
		})
		q.logger.Info("message sent",
			"message_id", msg.MessageID,
			"attempts", attempts)
		return outcomeSent
	}

	if !q.policy.ShouldRetry(attempts) {
		return q.fail(ctx, msg, attempts, err)
	}

	nextAt := q.policy.NextAttemptAt(time.Now(), attempts)
	if markErr := q.store.MarkMessageRetry(ctx, msg.MessageID, attempts, nextAt, err.Error()); markErr != nil {
		q.logger.Error("mark message retry failed",
			"message_id", msg.MessageID,
			"error", markErr)
	}
	q.hooks.OnMessageRetry(ctx, hooks.MessageRetryInfo{
		MessageID:     msg.MessageID,
		Recipient:     msg.Recipient,
		Attempts:      attempts,
		NextAttemptAt: nextAt,
		Error:         err,
	})
	q.logger.Warn("message delivery failed, will retry",
		"message_id", msg.MessageID,
		"attempts", attempts,
		"next_attempt_at", nextAt,
		"error", err)
	return outcomeRetried
}

func (q *Queue) fail(ctx context.Context, msg *storage.QueuedMessage, attempts int, cause error) outcome {
	if err := q.store.MarkMessageFailed(ctx, msg.MessageID, attempts, cause.Error()); err != nil {
		q.logger.Error("mark message failed failed",
			"message_id", msg.MessageID,
			"error", err)
	}
	q.hooks.OnMessageFailed(ctx, hooks.MessageFailedInfo{
		MessageID: msg.MessageID,
		Recipient: msg.Recipient,
		Attempts:  attempts,
		Error:     cause,
	})
	q.logger.Error("message delivery failed permanently",
		"message_id", msg.MessageID,
		"attempts", attempts,
		"error", cause)
	return outcomeFailed
}

// Stats returns sent/failed counts over the trailing window plus the
// whole pending backlog.
func (q *Queue) Stats(ctx context.Context, windowDays int) (storage.MessageStats, error) {
	since := time.Now().AddDate(0, 0, -windowDays)
	return q.store.MessageStatsSince(ctx, since)
}

// Recent returns the most recently created messages.
func (q *Queue) Recent(ctx context.Context, limit int) ([]*storage.QueuedMessage, error) {
	return q.store.ListRecentMessages(ctx, limit)
}
