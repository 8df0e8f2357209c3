package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/claudegate/api"
	"github.com/BaSui01/claudegate/internal/ctxkeys"
	"github.com/BaSui01/claudegate/llm"
	"go.uber.org/zap"
)

// ChatService 是聊天处理器依赖的最小接口，*llm.Pipeline 满足它。
type ChatService interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Result, error)
	Stream(ctx context.Context, req llm.Request) (*llm.Stream, error)
}

// =============================================================================
// 💬 聊天 Handler
// =============================================================================

// ChatHandler 聊天补全处理器
type ChatHandler struct {
	service ChatService
	maxBody int64
	logger  *zap.Logger
}

// NewChatHandler 创建聊天处理器。maxBody 为请求体上限，<=0 表示不限制。
func NewChatHandler(service ChatService, maxBody int64, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		service: service,
		maxBody: maxBody,
		logger:  logger.With(zap.String("component", "chat_handler")),
	}
}

// HandleCompletion 处理 POST /api/v1/chat/completions
// @Summary 聊天补全
// @Description 发送对话到 Claude；stream=true 时以 SSE 返回
// @Tags 聊天
// @Accept json
// @Produce json
// @Param request body api.ChatRequest true "聊天请求"
// @Success 200 {object} api.ChatResponse "补全结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "上游错误"
// @Router /api/v1/chat/completions [post]
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := ValidateContentType(r); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var body api.ChatRequest
	if err := DecodeJSONBody(w, r, &body, h.maxBody); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	req := toPipelineRequest(body)

	if body.Stream {
		h.handleStream(w, r, req)
		return
	}

	res, err := h.service.Complete(r.Context(), req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, toChatResponse(res))
}

func toPipelineRequest(body api.ChatRequest) llm.Request {
	return llm.Request{
		Conversation: body.ToConversation(),
		Model:        body.Model,
		Options:      body.ToOptions(),
	}
}

// toChatResponse 在上游没有文本时返回固定占位文案。
func toChatResponse(res *llm.Result) api.ChatResponse {
	text := res.Text
	if text == "" {
		text = api.NoResponseText
	}
	return api.ChatResponse{
		ID:         res.ID,
		Model:      res.Model,
		Content:    text,
		StopReason: res.StopReason,
		Usage:      api.UsageFrom(res.Usage),
		Attempts:   res.Attempts,
	}
}

// =============================================================================
// 🌊 SSE 流式输出
// =============================================================================

// handleStream 在上游连接建立前失败时返回 JSON 错误；之后的失败以
// "event: error" 帧送出，随后仍以 [DONE] 结束。
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request, req llm.Request) {
	stream, err := h.service.Stream(r.Context(), req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	chunks := 0
	for item := range stream.Chan(r.Context()) {
		if item.Err != nil {
			se := safeErrorOf(item.Err, stream.RequestID(), h.logger)
			if err := writeSSE(w, "error", api.StreamChunk{Type: api.ChunkError, Error: api.ErrorDetailFrom(se)}); err != nil {
				return
			}
			break
		}
		chunk, ok := api.ChunkFromEvent(item.Event)
		if !ok {
			continue
		}
		if err := writeSSE(w, "", chunk); err != nil {
			h.logger.Debug("sse write failed", zap.String("request_id", stream.RequestID()), zap.Error(err))
			return
		}
		_ = rc.Flush()
		chunks++
	}

	if r.Context().Err() != nil {
		return
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	_ = rc.Flush()

	rid, _ := ctxkeys.RequestID(r.Context())
	h.logger.Debug("sse stream finished",
		zap.String("request_id", rid),
		zap.Int("chunks", chunks))
}

func writeSSE(w io.Writer, event string, chunk api.StreamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
