package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotZero(t, cfg.Retry.MaxAttempts)
	assert.NotZero(t, cfg.Catalog.FetchTimeout)
	assert.NotEmpty(t, cfg.Anthropic.BaseURL)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, int64(32<<20), cfg.MaxBodyBytes)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.TLSEnabled())
}

func TestDefaultAnthropicConfig(t *testing.T) {
	cfg := DefaultConfig().Anthropic
	assert.Equal(t, "sk-ant-", cfg.KeyPrefix)
	assert.Equal(t, "2023-06-01", cfg.APIVersion)
	assert.Equal(t, 4096, cfg.MaxTokens)
	assert.Equal(t, "passthrough", cfg.ImageURLMode)
	assert.Empty(t, cfg.APIKey)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, "claudegate:", cfg.KeyPrefix)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "claudegate", cfg.ServiceName)
	assert.Equal(t, 0.1, cfg.SampleRate)
}
