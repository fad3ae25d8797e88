package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "kubdev.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "kubdev.local", cfg.Cluster.IngressDomain)
	assert.Equal(t, int64(4000), cfg.Quota.CeilingCPUMillis)
	assert.Equal(t, 200, cfg.Batch.MaxItems)
	assert.Equal(t, 10, cfg.Batch.Concurrency)
	assert.Equal(t, 8*time.Hour, cfg.Lifecycle.DefaultTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Lifecycle.Retry.BaseDelay)
	assert.Equal(t, 4, cfg.Lifecycle.Retry.MaxAttempts)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("BATCH_MAX_ITEMS", "50")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Batch.MaxItems)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_AutoGeneratesJWTSecret(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	// 32 random bytes hex-encoded.
	assert.Len(t, cfg.Security.JWTSecret, 64)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Quota:     QuotaConfig{WarningRatio: 0.70, CriticalRatio: 0.90},
			Batch:     BatchConfig{MaxItems: 200, Concurrency: 10},
			Lifecycle: LifecycleConfig{Retry: RetryConfig{MaxAttempts: 4}},
			Security:  SecurityConfig{JWTSecret: "0123456789abcdef0123456789abcdef"},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("short jwt secret", func(t *testing.T) {
		cfg := base()
		cfg.Security.JWTSecret = "short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero batch ceiling", func(t *testing.T) {
		cfg := base()
		cfg.Batch.MaxItems = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("inverted pressure ratios", func(t *testing.T) {
		cfg := base()
		cfg.Quota.WarningRatio = 0.95
		assert.Error(t, cfg.Validate())
	})
}
