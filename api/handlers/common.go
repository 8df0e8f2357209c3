package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/BaSui01/claudegate/api"
	"github.com/BaSui01/claudegate/internal/ctxkeys"
	"github.com/BaSui01/claudegate/llm/classify"
	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool             `json:"success"`
	Data      any              `json:"data,omitempty"`
	Error     *api.ErrorDetail `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	RequestID string           `json:"request_id,omitempty"`
}

// 处理器自身产生的错误文案（请求还没进入 pipeline）
const (
	MsgBadJSON        = "Request body is not valid JSON."
	MsgBadContentType = "Content-Type must be application/json."
	MsgBodyTooLarge   = "Request body too large."
	MsgMethod         = "Method not allowed."
	MsgRateLimited    = "Too many requests. Please slow down."
)

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败无法再报告
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	rid, _ := ctxkeys.RequestID(r.Context())
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rid,
	})
}

// WriteError 写入错误响应。只有 *types.SafeError 的文案会原样返回，其他
// 错误记录日志后以固定文案回复 500。
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	rid, _ := ctxkeys.RequestID(r.Context())
	se := safeErrorOf(err, rid, logger)

	WriteJSON(w, StatusForError(se), Response{
		Success:   false,
		Error:     api.ErrorDetailFrom(se),
		Timestamp: time.Now(),
		RequestID: se.RequestID,
	})
}

// safeErrorOf returns err as a SafeError carrying a request id. Anything
// else is logged and replaced by the generic message.
func safeErrorOf(err error, requestID string, logger *zap.Logger) *types.SafeError {
	se, ok := types.AsSafeError(err)
	if !ok {
		if logger != nil {
			logger.Error("unclassified handler error",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
		se = &types.SafeError{Kind: types.KindUnknown, Message: classify.MsgUnknown}
	} else {
		cp := *se
		se = &cp
	}
	if se.RequestID == "" {
		se.RequestID = requestID
	}
	return se
}

// clientError builds a handler-level SafeError.
func clientError(reason types.Reason, message string) *types.SafeError {
	return &types.SafeError{Kind: types.KindValidation, Reason: reason, Message: message}
}

// =============================================================================
// 🔄 错误类别到 HTTP 状态码映射
// =============================================================================

// StatusForError maps a SafeError to an HTTP status.
//
// Upstream authentication failures are the gateway's own configuration
// problem, so they surface as 502 rather than 401.
func StatusForError(e *types.SafeError) int {
	switch e.Kind {
	case types.KindValidation, types.KindSSRFBlocked:
		switch e.Reason {
		case types.ReasonTooLarge:
			return http.StatusRequestEntityTooLarge
		case types.ReasonImageTooLarge:
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case types.KindInvalidRequest:
		switch e.Reason {
		case types.ReasonNotFound:
			return http.StatusNotFound
		case types.ReasonForbidden:
			return http.StatusForbidden
		case types.ReasonTooLarge:
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case types.KindConfigMissing:
		return http.StatusServiceUnavailable
	case types.KindAuth, types.KindDecode:
		return http.StatusBadGateway
	case types.KindRateLimited:
		return http.StatusTooManyRequests
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindUpstreamServer:
		if e.Reason == types.ReasonOverloaded {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case types.KindRetryExhausted:
		return http.StatusServiceUnavailable
	case types.KindCancelled:
		return StatusClientClosedRequest
	}
	return http.StatusInternalServerError
}

// StatusClientClosedRequest is the nginx convention for a client that went away.
const StatusClientClosedRequest = 499

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体，最多读取 maxBytes。未知字段被忽略，
// Open WebUI 会附带 chat_id、metadata 等额外字段。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		return clientError(types.ReasonInvalidParameter, MsgBadJSON)
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return clientError(types.ReasonTooLarge, MsgBodyTooLarge)
		}
		return clientError(types.ReasonInvalidParameter, MsgBadJSON)
	}
	return nil
}

// ValidateContentType 验证 Content-Type 为 application/json（允许参数）。
func ValidateContentType(r *http.Request) error {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return clientError(types.ReasonInvalidParameter, MsgBadContentType)
	}
	return nil
}

// requireMethod writes 405 unless r uses method.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	rid, _ := ctxkeys.RequestID(r.Context())
	WriteJSON(w, http.StatusMethodNotAllowed, Response{
		Success:   false,
		Error:     &api.ErrorDetail{Code: string(types.KindValidation), Message: MsgMethod, RequestID: rid},
		Timestamp: time.Now(),
		RequestID: rid,
	})
	return false
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码。它转发 Flush 与
// Hijack，SSE 和 WebSocket 在中间件之后仍然可用。
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
	Bytes      int64
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.Bytes += int64(n)
	return n, err
}

// Flush 转发给底层 writer
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		if !rw.Written {
			rw.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

// Hijack 转发给底层 writer；升级成功视为 101。
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	conn, brw, err := h.Hijack()
	if err == nil && !rw.Written {
		rw.StatusCode = http.StatusSwitchingProtocols
		rw.Written = true
	}
	return conn, brw, err
}

// Unwrap 供 http.ResponseController 使用
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
