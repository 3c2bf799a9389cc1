package delivery

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Transport sends a rendered message to its recipient.
type Transport interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is a fully rendered message ready for delivery.
type OutboundMessage struct {
	MessageID string
	Recipient string
	Subject   string
	Body      string
}

// SMTPTransport delivers messages over SMTP.
type SMTPTransport struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

// NewSMTPTransport creates an SMTP transport. auth may be nil for
// servers that accept unauthenticated relay.
func NewSMTPTransport(addr, from string, auth smtp.Auth) *SMTPTransport {
	return &SMTPTransport{Addr: addr, From: from, Auth: auth}
}

// Send delivers the message. The context deadline bounds the whole
// SMTP conversation including the initial dial.
func (t *SMTPTransport) Send(ctx context.Context, msg OutboundMessage) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host := t.Addr
	if h, _, splitErr := net.SplitHostPort(t.Addr); splitErr == nil {
		host = h
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if t.Auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(t.Auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := c.Mail(t.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(msg.Recipient); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMIME(t.From, msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}

	return c.Quit()
}

func buildMIME(from string, msg OutboundMessage) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// WebhookTransport posts messages to an HTTP endpoint as CloudEvents.
// Useful for routing notifications through an external delivery
// service instead of SMTP.
type WebhookTransport struct {
	client cloudevents.Client
	target string
	source string
}

// NewWebhookTransport creates a transport that posts CloudEvents of
// type "com.truevault.automation.message" to the target URL.
func NewWebhookTransport(target string) (*WebhookTransport, error) {
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("create cloudevents client: %w", err)
	}
	return &WebhookTransport{
		client: client,
		target: target,
		source: "truevault/automation",
	}, nil
}

// Send posts the message as a CloudEvent.
func (t *WebhookTransport) Send(ctx context.Context, msg OutboundMessage) error {
	event := cloudevents.NewEvent()
	if msg.MessageID != "" {
		event.SetID(msg.MessageID)
	} else {
		event.SetID(uuid.New().String())
	}
	event.SetType("com.truevault.automation.message")
	event.SetSource(t.source)
	event.SetTime(time.Now())

	if err := event.SetData(cloudevents.ApplicationJSON, map[string]string{
		"recipient": msg.Recipient,
		"subject":   msg.Subject,
		"body":      msg.Body,
	}); err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}

	ctx = cloudevents.ContextWithTarget(ctx, t.target)
	if result := t.client.Send(ctx, event); cloudevents.IsUndelivered(result) {
		return fmt.Errorf("deliver event to %s: %w", t.target, result)
	}
	return nil
}
