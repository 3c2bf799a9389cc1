package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/truevault/automation/hooks"
	"github.com/truevault/automation/retry"
	"github.com/truevault/automation/template"
)

func TestDefaultConfig(t *testing.T) {
	c := defaultConfig()

	assert.Equal(t, "file:automation.db", c.databaseURL)
	assert.True(t, c.autoMigrate)
	assert.Equal(t, "automation-service", c.serviceName)
	assert.Empty(t, c.workerID)
	assert.Nil(t, c.transport)
	assert.Equal(t, retry.DefaultPolicy(), c.retryPolicy)
	assert.Equal(t, 30*time.Second, c.deliveryTimeout)
	assert.Empty(t, c.templates)
	assert.Equal(t, 60*time.Second, c.processInterval)
	assert.True(t, c.singletonProcessing)
	assert.Equal(t, 5*time.Minute, c.staleTaskTimeout)
	assert.Equal(t, 25, c.taskBatchSize)
	assert.Equal(t, 25, c.emailBatchSize)
	assert.Equal(t, 10, c.maxConcurrentTasks)
	assert.IsType(t, &hooks.NoOpHooks{}, c.hooks)
	assert.Equal(t, 30*time.Second, c.shutdownTimeout)
}

func TestOptions(t *testing.T) {
	transport := &recordingTransport{}
	policy := retry.Fixed(5, time.Minute)
	customHooks := &hooks.NoOpHooks{}

	c := defaultConfig()
	opts := []Option{
		WithDatabase("postgres://localhost/automation"),
		WithAutoMigrate(false),
		WithServiceName("vpn-automation"),
		WithWorkerID("worker-7"),
		WithTransport(transport),
		WithRetryPolicy(policy),
		WithDeliveryTimeout(10 * time.Second),
		WithTemplates(template.Template{Name: "welcome", Subject: "s", Body: "b"}),
		WithProcessInterval(15 * time.Second),
		WithSingletonProcessing(false),
		WithStaleTaskTimeout(time.Minute),
		WithTaskBatchSize(50),
		WithEmailBatchSize(100),
		WithMaxConcurrentTasks(4),
		WithHooks(customHooks),
		WithShutdownTimeout(5 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}

	assert.Equal(t, "postgres://localhost/automation", c.databaseURL)
	assert.False(t, c.autoMigrate)
	assert.Equal(t, "vpn-automation", c.serviceName)
	assert.Equal(t, "worker-7", c.workerID)
	assert.Same(t, transport, c.transport.(*recordingTransport))
	assert.Equal(t, policy, c.retryPolicy)
	assert.Equal(t, 10*time.Second, c.deliveryTimeout)
	assert.Len(t, c.templates, 1)
	assert.Equal(t, "welcome", c.templates[0].Name)
	assert.Equal(t, 15*time.Second, c.processInterval)
	assert.False(t, c.singletonProcessing)
	assert.Equal(t, time.Minute, c.staleTaskTimeout)
	assert.Equal(t, 50, c.taskBatchSize)
	assert.Equal(t, 100, c.emailBatchSize)
	assert.Equal(t, 4, c.maxConcurrentTasks)
	assert.Same(t, customHooks, c.hooks.(*hooks.NoOpHooks))
	assert.Equal(t, 5*time.Second, c.shutdownTimeout)
}

func TestWithTemplatesAccumulates(t *testing.T) {
	c := defaultConfig()
	WithTemplates(template.Template{Name: "a", Subject: "s", Body: "b"})(c)
	WithTemplates(
		template.Template{Name: "b", Subject: "s", Body: "b"},
		template.Template{Name: "c", Subject: "s", Body: "b"},
	)(c)

	names := make([]string, 0, len(c.templates))
	for _, tpl := range c.templates {
		names = append(names, tpl.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestNewEngineGeneratesWorkerID(t *testing.T) {
	engine := NewEngine()
	assert.NotEmpty(t, engine.config.workerID)

	engine = NewEngine(WithWorkerID("fixed"))
	assert.Equal(t, "fixed", engine.config.workerID)
}
