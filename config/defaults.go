// =============================================================================
// 📦 claudegate 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/claudegate/internal/cache"
	"github.com/BaSui01/claudegate/llm/catalog"
	"github.com/BaSui01/claudegate/llm/providers"
	"github.com/BaSui01/claudegate/llm/retry"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Anthropic: providers.DefaultClaudeConfig(),
		Retry:     retry.DefaultPolicy(),
		Catalog:   catalog.DefaultConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    32 << 20, // 多张 5MB 图片的 base64
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置（关闭）
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled: false,
		Config:  cache.DefaultConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "claudegate",
		SampleRate:   0.1,
	}
}
