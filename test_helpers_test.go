package automation

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/truevault/automation/delivery"
)

// recordingTransport captures delivered messages and optionally fails
// the first few sends.
type recordingTransport struct {
	mu       sync.Mutex
	sent     []delivery.OutboundMessage
	failures int
}

func (t *recordingTransport) Send(ctx context.Context, msg delivery.OutboundMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures > 0 {
		t.failures--
		return errors.New("transport unavailable")
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *recordingTransport) delivered() []delivery.OutboundMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]delivery.OutboundMessage, len(t.sent))
	copy(out, t.sent)
	return out
}

// createTestEngine creates a started Engine over a temp-file SQLite
// database. The processing interval is long so tests drive draining
// explicitly through ProcessDue.
func createTestEngine(t *testing.T, opts ...Option) (*Engine, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "automation-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	allOpts := append([]Option{
		WithDatabase(tmpPath),
		WithProcessInterval(time.Hour),
		WithWorkerID("test-worker"),
	}, opts...)
	engine := NewEngine(allOpts...)

	if err := engine.Start(context.Background()); err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to start engine: %v", err)
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
		_ = os.Remove(tmpPath)
	}
	return engine, cleanup
}
