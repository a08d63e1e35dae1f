package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prod", c.Env)
	assert.Equal(t, "sqlworker", c.WorkerName)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 30000, c.InvokeTimeoutMS)
	assert.Zero(t, c.RateLimit.PerSecond)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SQLBRIDGE_ENV", "dev")
	t.Setenv("SQLBRIDGE_LOG_LEVEL", "DEBUG")
	t.Setenv("SQLBRIDGE_INVOKE_TIMEOUT_MS", "5000")
	t.Setenv("SQLBRIDGE_RATE_LIMIT", "100.5")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", c.Env)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 5000, c.InvokeTimeoutMS)
	assert.Equal(t, 100.5, c.RateLimit.PerSecond)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SQLBRIDGE_ENV", "staging")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnparsable(t *testing.T) {
	t.Setenv("SQLBRIDGE_INVOKE_TIMEOUT_MS", "soon")
	_, err := Load()
	assert.Error(t, err)
}
