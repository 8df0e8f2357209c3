package providers

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultClaudeBaseURL    = "https://api.anthropic.com"
	DefaultClaudeAPIVersion = "2023-06-01"
	DefaultClaudeModel      = "claude-sonnet-4-5-20250929"
	DefaultClaudeKeyPrefix  = "sk-ant-"
	DefaultMaxTokens        = 4096
	DefaultMaxTurns         = 200
)

// Image URL modes
const (
	ImageURLPassthrough = "passthrough"
	ImageURLInline      = "inline"
)

// BaseProviderConfig 所有 Provider 共享的基础配置字段。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"` // 单次尝试超时
}

// ClaudeConfig Claude Provider 配置
type ClaudeConfig struct {
	BaseProviderConfig `yaml:",inline"`
	APIVersion         string `json:"api_version" yaml:"api_version" env:"API_VERSION"`
	KeyPrefix          string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
	MaxTokens          int    `json:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS"`
	MaxTurns           int    `json:"max_turns" yaml:"max_turns" env:"MAX_TURNS"`
	ImageURLMode       string `json:"image_url_mode" yaml:"image_url_mode" env:"IMAGE_URL_MODE"`
	MaxResponseBytes   int64  `json:"max_response_bytes" yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
}

// DefaultClaudeConfig returns defaults without an API key.
func DefaultClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		BaseProviderConfig: BaseProviderConfig{
			BaseURL: DefaultClaudeBaseURL,
			Model:   DefaultClaudeModel,
			Timeout: 60 * time.Second,
		},
		APIVersion:       DefaultClaudeAPIVersion,
		KeyPrefix:        DefaultClaudeKeyPrefix,
		MaxTokens:        DefaultMaxTokens,
		MaxTurns:         DefaultMaxTurns,
		ImageURLMode:     ImageURLPassthrough,
		MaxResponseBytes: 8 << 20,
	}
}

// Validate checks ranges. A missing API key is not an error here; the
// pipeline reports it per request.
func (c ClaudeConfig) Validate() error {
	var errs []string
	if !strings.HasPrefix(c.BaseURL, "https://") && !strings.HasPrefix(c.BaseURL, "http://") {
		errs = append(errs, "anthropic.base_url must be an http(s) URL")
	}
	if c.Timeout <= 0 {
		errs = append(errs, "anthropic.timeout must be positive")
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, "anthropic.max_tokens must be positive")
	}
	if c.MaxTurns <= 0 {
		errs = append(errs, "anthropic.max_turns must be positive")
	}
	if c.MaxResponseBytes <= 0 {
		errs = append(errs, "anthropic.max_response_bytes must be positive")
	}
	switch c.ImageURLMode {
	case ImageURLPassthrough, ImageURLInline:
	default:
		errs = append(errs, fmt.Sprintf("anthropic.image_url_mode must be %q or %q", ImageURLPassthrough, ImageURLInline))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid anthropic config: %s", strings.Join(errs, "; "))
	}
	return nil
}
