package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BaSui01/claudegate/api"
	"github.com/BaSui01/claudegate/internal/ctxkeys"
	"github.com/BaSui01/claudegate/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 🔌 WebSocket 流式聊天
// =============================================================================

// WebSocketHandler 在一条连接上依次处理多个聊天请求。每个文本消息是一个
// api.ChatRequest；回复为 start/delta/done 帧，失败时为一个 error 帧，
// 连接保持打开。
type WebSocketHandler struct {
	service   ChatService
	origins   []string
	readLimit int64
	logger    *zap.Logger
}

// NewWebSocketHandler 创建处理器。origins 为允许的跨域 Origin 主机模式，
// 为空时只接受同源。readLimit 为单条消息上限。
func NewWebSocketHandler(service ChatService, origins []string, readLimit int64, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		service:   service,
		origins:   origins,
		readLimit: readLimit,
		logger:    logger.With(zap.String("component", "ws_handler")),
	}
}

// HandleChat 处理 GET /api/v1/chat/ws
// @Summary WebSocket 流式聊天
// @Tags 聊天
// @Router /api/v1/chat/ws [get]
func (h *WebSocketHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			h.logClose(err)
			return
		}

		reqCtx := ctxkeys.WithRequestID(ctx, uuid.NewString())
		if typ != websocket.MessageText {
			if h.writeError(reqCtx, conn, clientError(types.ReasonInvalidParameter, MsgBadJSON)) != nil {
				return
			}
			continue
		}
		var body api.ChatRequest
		if err := json.Unmarshal(data, &body); err != nil {
			if h.writeError(reqCtx, conn, clientError(types.ReasonInvalidParameter, MsgBadJSON)) != nil {
				return
			}
			continue
		}
		if err := h.serve(reqCtx, conn, body); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// serve streams one request. Only connection write failures are returned.
func (h *WebSocketHandler) serve(ctx context.Context, conn *websocket.Conn, body api.ChatRequest) error {
	stream, err := h.service.Stream(ctx, toPipelineRequest(body))
	if err != nil {
		return h.writeError(ctx, conn, err)
	}
	for item := range stream.Chan(ctx) {
		if item.Err != nil {
			return h.writeError(ctx, conn, item.Err)
		}
		chunk, ok := api.ChunkFromEvent(item.Event)
		if !ok {
			continue
		}
		if err := wsjson.Write(ctx, conn, chunk); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (h *WebSocketHandler) writeError(ctx context.Context, conn *websocket.Conn, err error) error {
	rid, _ := ctxkeys.RequestID(ctx)
	se := safeErrorOf(err, rid, h.logger)
	return wsjson.Write(ctx, conn, api.StreamChunk{Type: api.ChunkError, Error: api.ErrorDetailFrom(se)})
}

func (h *WebSocketHandler) logClose(err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		h.logger.Debug("websocket closed by client")
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Debug("websocket read failed", zap.Error(err))
}
