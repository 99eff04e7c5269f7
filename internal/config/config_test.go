package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, 12, cfg.Credential.BcryptCost)
	assert.Equal(t, 10000, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, 0, cfg.Pipeline.WorkerCount)
	assert.Equal(t, "test-secret", cfg.Session.Secret)
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}

func TestPipelineConfigResolvedWorkerCount(t *testing.T) {
	explicit := PipelineConfig{WorkerCount: 4}
	assert.Equal(t, 4, explicit.ResolvedWorkerCount())

	auto := PipelineConfig{WorkerCount: 0}
	assert.Greater(t, auto.ResolvedWorkerCount(), 0)
}
