// =============================================================================
// 📦 测试数据工厂 - Anthropic 响应测试数据
// =============================================================================
// 提供预定义的 Messages API 响应，用于测试
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	MessageID = "msg_01TEST"
	Model     = "claude-sonnet-4-5-20250929"
)

// =============================================================================
// 🎯 SSE 事件流工厂
// =============================================================================

// SSEEvent formats one named event frame.
func SSEEvent(event string, payload any) string {
	data, ok := payload.(string)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		data = string(b)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

// MessageStart is the opening message_start frame.
func MessageStart() string {
	return SSEEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": MessageID, "type": "message", "role": "assistant", "model": Model,
			"content": []any{}, "usage": map[string]int{"input_tokens": 12, "output_tokens": 1},
		},
	})
}

// TextDelta is a content_block_delta frame carrying text.
func TextDelta(text string) string {
	return SSEEvent("content_block_delta", map[string]any{
		"type": "content_block_delta", "index": 0,
		"delta": map[string]string{"type": "text_delta", "text": text},
	})
}

// MessageDelta carries the stop reason and output token count.
func MessageDelta(stopReason string, outputTokens int) string {
	return SSEEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]int{"output_tokens": outputTokens},
	})
}

// MessageStop is the terminal frame.
func MessageStop() string {
	return SSEEvent("message_stop", map[string]string{"type": "message_stop"})
}

// Ping is a keep-alive frame.
func Ping() string {
	return SSEEvent("ping", map[string]string{"type": "ping"})
}

// ErrorEvent is an in-stream error frame.
func ErrorEvent(errType, message string) string {
	return SSEEvent("error", map[string]any{
		"type":  "error",
		"error": map[string]string{"type": errType, "message": message},
	})
}

// TextStream builds a complete, well-formed stream that delivers chunks in order.
func TextStream(chunks ...string) string {
	var b strings.Builder
	b.WriteString(MessageStart())
	b.WriteString(SSEEvent("content_block_start", map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]string{"type": "text", "text": ""},
	}))
	b.WriteString(Ping())
	for _, c := range chunks {
		b.WriteString(TextDelta(c))
	}
	b.WriteString(SSEEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}))
	b.WriteString(MessageDelta("end_turn", len(chunks)))
	b.WriteString(MessageStop())
	return b.String()
}

// =============================================================================
// 📄 非流式响应工厂
// =============================================================================

// MessageJSON is a non-streaming response with a single text block.
func MessageJSON(text string) string {
	b, _ := json.Marshal(map[string]any{
		"id": MessageID, "type": "message", "role": "assistant", "model": Model,
		"content":     []map[string]string{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
		"usage":       map[string]int{"input_tokens": 12, "output_tokens": 7},
	})
	return string(b)
}

// ErrorJSON is an API error body.
func ErrorJSON(errType, message string) string {
	b, _ := json.Marshal(map[string]any{
		"type":  "error",
		"error": map[string]string{"type": errType, "message": message},
	})
	return string(b)
}

// ModelsJSON is one page of GET /v1/models.
func ModelsJSON(hasMore bool, ids ...string) string {
	data := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]string{"id": id, "display_name": strings.ToUpper(id[:1]) + id[1:], "type": "model"})
	}
	last := ""
	if len(ids) > 0 {
		last = ids[len(ids)-1]
	}
	b, _ := json.Marshal(map[string]any{"data": data, "has_more": hasMore, "last_id": last})
	return string(b)
}
