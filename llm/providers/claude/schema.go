package claude

// =============================================================================
// 📤 请求
// =============================================================================

// MessagesRequest is the body of POST /v1/messages. Only the Normalizer
// builds one.
type MessagesRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message is one upstream turn. Role is "user" or "assistant".
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is a text or image block.
type ContentPart struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// Image source types
const (
	SourceBase64 = "base64"
	SourceURL    = "url"
)

// ImageSource is either {type: base64, media_type, data} or {type: url, url}.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// =============================================================================
// 📥 响应
// =============================================================================

// Usage is token accounting reported by the API.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// MessagesResponse is the non-streaming response and the message_start payload.
type MessagesResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Model        string          `json:"model"`
	Content      []ResponseBlock `json:"content"`
	StopReason   string          `json:"stop_reason,omitempty"`
	StopSequence *string         `json:"stop_sequence,omitempty"`
	Usage        Usage           `json:"usage"`
}

// ResponseBlock is a returned content block. Only text blocks carry output
// this proxy forwards.
type ResponseBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// apiError is the body of an "error" event or error response.
type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// streamEvent is the JSON payload of one SSE frame.
type streamEvent struct {
	Type         string            `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        int               `json:"index"`
	ContentBlock *ResponseBlock    `json:"content_block,omitempty"`
	Delta        *streamDelta      `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	Error        *apiError         `json:"error,omitempty"`
}

type streamDelta struct {
	Type         string  `json:"type"`
	Text         string  `json:"text,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// =============================================================================
// 📡 对外事件
// =============================================================================

// EventType discriminates Event.
type EventType string

const (
	EventMessageStart EventType = "message_start"
	EventTextDelta    EventType = "text_delta"
	EventMessageDelta EventType = "message_delta"
	EventDone         EventType = "done"
)

// Event is one decoded stream item, delivered in arrival order.
type Event struct {
	Type       EventType `json:"type"`
	Index      int       `json:"index,omitempty"`
	Text       string    `json:"text,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Model      string    `json:"model,omitempty"`
	StopReason string    `json:"stop_reason,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
}

// Completion is an aggregated response.
type Completion struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	Text       string `json:"text"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

// ModelInfo is one entry of GET /v1/models.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at,omitempty"`
	Type        string `json:"type,omitempty"`
}
