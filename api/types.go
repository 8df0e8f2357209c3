package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/claudegate/llm/providers/claude"
	"github.com/BaSui01/claudegate/types"
)

// =============================================================================
// 聊天请求类型
// =============================================================================

// ChatRequest 是 Open WebUI pipe 风格的聊天请求。
// @Description 聊天请求结构
type ChatRequest struct {
	// 模型 ID，允许 "pipe.claude-..." 或 "pipe/claude-..." 前缀
	Model string `json:"model" example:"claude-sonnet-4-5-20250929"`
	// 对话消息，system 消息会合并进上游 system 字段
	Messages []Message `json:"messages"`
	// 是否以 SSE 流式返回
	Stream bool `json:"stream,omitempty"`
	// 最大输出 token 数，缺省使用服务端默认值
	MaxTokens int `json:"max_tokens,omitempty" example:"4096"`
	// 采样参数，只在设置时转发
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// Message 是一条对话消息，content 可以是字符串或内容片段数组。
type Message struct {
	Role    string  `json:"role" example:"user"`
	Content Content `json:"content"`
}

// Content 兼容 "content": "text" 与 "content": [{"type": ...}] 两种写法。
type Content struct {
	Text  string
	Parts []ContentPart
	list  bool
}

// TextContent builds string content.
func TextContent(s string) Content { return Content{Text: s} }

// PartsContent builds list content.
func PartsContent(parts ...ContentPart) Content { return Content{Parts: parts, list: true} }

// IsList reports whether the content was given as an array.
func (c Content) IsList() bool { return c.list }

// UnmarshalJSON accepts a string, an array of parts or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts, list: true}
		return nil
	}
	return fmt.Errorf("content must be a string or an array of parts")
}

// MarshalJSON writes the form the content was given in.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.list {
		if c.Parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// ContentPart 是多模态内容片段：text 或 image_url。
type ContentPart struct {
	Type     string    `json:"type" example:"text"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL 可以是 http(s) URL 或 base64 data URL。
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Content part types
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ToConversation 把请求消息转换为内部对话。
//
// 未知类型的片段被忽略；数组内容若没有可用片段，整条消息被跳过。
// 角色、图片和结构的校验交给 Normalizer。
func (r ChatRequest) ToConversation() types.Conversation {
	turns := make([]types.Turn, 0, len(r.Messages))
	for _, m := range r.Messages {
		role := types.Role(strings.ToLower(strings.TrimSpace(m.Role)))
		if !m.Content.list {
			turns = append(turns, types.NewTurn(role, types.TextBlock(m.Content.Text)))
			continue
		}

		var blocks []types.ContentBlock
		for _, p := range m.Content.Parts {
			switch p.Type {
			case PartText:
				blocks = append(blocks, types.TextBlock(p.Text))
			case PartImageURL:
				url := ""
				if p.ImageURL != nil {
					url = strings.TrimSpace(p.ImageURL.URL)
				}
				blocks = append(blocks, types.ImageURLBlock(url))
			}
		}
		if len(blocks) > 0 {
			turns = append(turns, types.NewTurn(role, blocks...))
		}
	}
	return types.NewConversation(turns...)
}

// ToOptions 提取采样参数。
func (r ChatRequest) ToOptions() claude.Options {
	return claude.Options{
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		TopK:        r.TopK,
	}
}

// =============================================================================
// 聊天响应类型
// =============================================================================

// NoResponseText is returned when the upstream produced no text.
const NoResponseText = "No response generated"

// ChatResponse 是非流式聊天响应。
// @Description 聊天响应结构
type ChatResponse struct {
	ID         string `json:"id,omitempty" example:"msg_01XFDUDYJgAACzvnptvVoYEL"`
	Model      string `json:"model" example:"claude-sonnet-4-5-20250929"`
	Content    string `json:"content"`
	StopReason string `json:"stop_reason,omitempty" example:"end_turn"`
	Usage      Usage  `json:"usage"`
	Attempts   int    `json:"attempts,omitempty" example:"1"`
}

// Usage 是 token 用量。
type Usage struct {
	InputTokens  int `json:"input_tokens" example:"12"`
	OutputTokens int `json:"output_tokens" example:"48"`
}

// UsageFrom converts upstream usage.
func UsageFrom(u claude.Usage) Usage {
	return Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}

// StreamChunk 是 SSE 或 WebSocket 中的一帧。
// @Description 流式响应块结构
type StreamChunk struct {
	// 帧类型：start、delta、done、error
	Type       string       `json:"type" example:"delta"`
	ID         string       `json:"id,omitempty"`
	Model      string       `json:"model,omitempty"`
	Text       string       `json:"text,omitempty"`
	StopReason string       `json:"stop_reason,omitempty"`
	Usage      *Usage       `json:"usage,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// Stream chunk types
const (
	ChunkStart = "start"
	ChunkDelta = "delta"
	ChunkDone  = "done"
	ChunkError = "error"
)

// ChunkFromEvent maps a decoder event to a chunk. Events that carry nothing
// for clients, such as message_delta, return ok=false.
func ChunkFromEvent(ev claude.Event) (StreamChunk, bool) {
	switch ev.Type {
	case claude.EventMessageStart:
		return StreamChunk{Type: ChunkStart, ID: ev.MessageID, Model: ev.Model}, true
	case claude.EventTextDelta:
		return StreamChunk{Type: ChunkDelta, Text: ev.Text}, true
	case claude.EventDone:
		c := StreamChunk{Type: ChunkDone, ID: ev.MessageID, Model: ev.Model, StopReason: ev.StopReason}
		if ev.Usage != nil {
			u := UsageFrom(*ev.Usage)
			c.Usage = &u
		}
		return c, true
	}
	return StreamChunk{}, false
}

// =============================================================================
// 模型列表
// =============================================================================

// ModelInfo 是一个可用模型。
type ModelInfo struct {
	ID   string `json:"id" example:"claude-sonnet-4-5-20250929"`
	Name string `json:"name" example:"Claude Sonnet 4.5"`
}

// ModelListResponse 是 GET /api/v1/models 的响应。
// @Description 模型列表响应
type ModelListResponse struct {
	Models []ModelInfo `json:"models"`
	// 数据来源：cache、fresh、stale、fallback
	Source string `json:"source" example:"cache"`
}

// ModelsFrom converts catalog entries.
func ModelsFrom(in []claude.ModelInfo) []ModelInfo {
	out := make([]ModelInfo, 0, len(in))
	for _, m := range in {
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		out = append(out, ModelInfo{ID: m.ID, Name: name})
	}
	return out
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorDetail 是对外错误信息，只来自 types.SafeError。
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误类别
	Code string `json:"code" example:"VALIDATION_ERROR"`
	// 细分原因
	Reason string `json:"reason,omitempty" example:"image_too_large"`
	// 固定文案，不含上游原文
	Message string `json:"message" example:"Image too large (max 5MB)."`
	// 稍后重试是否可能成功
	Retryable bool `json:"retryable,omitempty"`
	// 请求 ID，用于关联服务端日志
	RequestID string `json:"request_id,omitempty"`
}

// ErrorDetailFrom converts a SafeError.
func ErrorDetailFrom(e *types.SafeError) *ErrorDetail {
	return &ErrorDetail{
		Code:      string(e.Kind),
		Reason:    string(e.Reason),
		Message:   e.Message,
		Retryable: e.Retryable,
		RequestID: e.RequestID,
	}
}
