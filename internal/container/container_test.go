package container

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/domain/event"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "crm.db")
	cfg.Auth.JWTSecret = "test-secret-0123456789"
	cfg.Worker.ResumeInterval = time.Hour
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "jwt secret missing")

	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())
}

func TestNewContainer_RequiresConfigAndLogger(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(testConfig(t), nil)
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()), "second start")

	services := c.Services()
	require.NotNil(t, services)
	assert.NotNil(t, services.Workflow)
	assert.NotNil(t, services.Application)
	assert.NotNil(t, services.Notification)
	assert.NotNil(t, services.Profile)
	assert.Nil(t, services.Risk, "no OpenAI key configured")

	health := c.Health()
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)
	assert.Equal(t, "disabled", health.Components["email"].Message)
	assert.Equal(t, "disabled", health.Components["chat"].Message)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "second close")
	assert.Error(t, c.Start(context.Background()), "start after close")
}

func TestContainer_AutoScoreSubscription(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.BaseURL = "http://127.0.0.1:1/v1"

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.NotNil(t, c.Services().Risk)
	handlers := c.Dispatcher().ListHandlers(event.TypeStatusChanged)
	require.Len(t, handlers, 1)
	assert.Equal(t, "risk_scorer", handlers[0].Name)
}

func TestContainer_AutoScoreDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.AutoScore = false

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.NotNil(t, c.Services().Risk)
	assert.Empty(t, c.Dispatcher().ListHandlers(event.TypeStatusChanged))
}

func TestProvideRiskScorer_BadPromptsPath(t *testing.T) {
	_, err := ProvideRiskScorer(&OpenAIConfig{APIKey: "k", PromptsPath: "/does/not/exist.yaml"}, zap.NewNop())
	assert.Error(t, err)
}

func TestProvideWorkers_RequiresResumer(t *testing.T) {
	_, err := ProvideWorkers(&WorkerDeps{WorkerCfg: &WorkerConfig{}, Logger: zap.NewNop()})
	assert.Error(t, err)
}

func TestConvertToZapFields(t *testing.T) {
	fields := convertToZapFields("id", "a1", 42, "skipped", "error", errors.New("boom"), "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "id", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
}
