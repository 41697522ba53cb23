package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvPrefix("CCTEST_NONE").Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workflow.MaxValidationRetries)
	assert.Equal(t, 4, cfg.Workflow.ContentConcurrency)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
workflow:
  max_validation_retries: 5
  skip_human_review: true
  content_concurrency: 8
checkpoint:
  backend: redis
redis:
  addr: redis.internal:6379
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).WithEnvPrefix("CCTEST_NONE").Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Workflow.MaxValidationRetries)
	assert.True(t, cfg.Workflow.SkipHumanReview)
	assert.Equal(t, 8, cfg.Workflow.ContentConcurrency)
	assert.Equal(t, "redis", cfg.Checkpoint.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	// Untouched sections keep defaults.
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflow:\n  max_validation_retries: 5\n"), 0o600))

	t.Setenv("CCTEST_WORKFLOW_MAX_VALIDATION_RETRIES", "7")
	t.Setenv("CCTEST_WORKFLOW_AGENT_TIMEOUT", "90s")
	t.Setenv("CCTEST_WORKFLOW_FAIL_CLOSED", "true")
	t.Setenv("CCTEST_LLM_TEMPERATURE", "0.9")

	cfg, err := NewLoader().WithConfigPath(path).WithEnvPrefix("CCTEST").Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Workflow.MaxValidationRetries)
	assert.Equal(t, 90*time.Second, cfg.Workflow.AgentTimeout)
	assert.True(t, cfg.Workflow.FailClosed)
	assert.InDelta(t, 0.9, cfg.LLM.Temperature, 1e-9)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	t.Setenv("CCBAD_CHECKPOINT_BACKEND", "etcd")
	_, err := NewLoader().WithEnvPrefix("CCBAD").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint.backend")
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.Error(t, err)
}

func TestBuildLogger(t *testing.T) {
	logger, err := BuildLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = BuildLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
