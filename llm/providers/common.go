package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/claudegate/llm/retry"
	"github.com/BaSui01/claudegate/types"
)

// maxErrorBody bounds how much of an upstream error body is read.
const maxErrorBody = 64 * 1024

// StatusOverloaded is Anthropic's "overloaded" status.
const StatusOverloaded = 529

// Classification is one row of the status table.
type Classification struct {
	Kind      types.Kind
	Reason    types.Reason
	Retryable bool
}

// ClassifyStatus maps an upstream HTTP status to a Kind. This is the only
// place status codes are interpreted.
func ClassifyStatus(status int) Classification {
	switch status {
	case http.StatusBadRequest:
		return Classification{Kind: types.KindInvalidRequest}
	case http.StatusUnauthorized:
		return Classification{Kind: types.KindAuth}
	case http.StatusForbidden:
		return Classification{Kind: types.KindInvalidRequest, Reason: types.ReasonForbidden}
	case http.StatusNotFound:
		return Classification{Kind: types.KindInvalidRequest, Reason: types.ReasonNotFound}
	case http.StatusRequestTimeout:
		return Classification{Kind: types.KindTimeout, Retryable: true}
	case http.StatusRequestEntityTooLarge:
		return Classification{Kind: types.KindInvalidRequest, Reason: types.ReasonTooLarge}
	case http.StatusTooManyRequests:
		return Classification{Kind: types.KindRateLimited, Retryable: true}
	case StatusOverloaded:
		return Classification{Kind: types.KindUpstreamServer, Reason: types.ReasonOverloaded, Retryable: true}
	}
	switch {
	case status >= 500:
		return Classification{Kind: types.KindUpstreamServer, Retryable: true}
	case status >= 400:
		return Classification{Kind: types.KindInvalidRequest}
	}
	return Classification{Kind: types.KindUnknown}
}

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 types.Error。
// msg 为上游详情，仅用于日志；429、503、529 会采用 Retry-After。
func MapHTTPError(status int, msg string, header http.Header) *types.Error {
	c := ClassifyStatus(status)
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := types.NewError(c.Kind, msg).
		WithReason(c.Reason).
		WithHTTPStatus(status).
		WithRetryable(c.Retryable)

	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, StatusOverloaded:
		if header != nil {
			e.WithRetryAfter(retry.ParseRetryAfter(header.Get("Retry-After"), time.Now()))
		}
	}
	return e
}

// ClassifyTransportError maps a failed client.Do or body read. parent is the
// caller's context; a deadline on a per-attempt child context is a
// retryable Timeout, while the parent ending is not retried.
func ClassifyTransportError(parent context.Context, err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	if perr := parent.Err(); perr != nil {
		if errors.Is(perr, context.DeadlineExceeded) {
			return types.NewError(types.KindTimeout, "request deadline exceeded").WithCause(err)
		}
		return types.NewError(types.KindCancelled, "request cancelled").WithCause(err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return types.NewError(types.KindTimeout, "upstream attempt timed out").
			WithCause(err).WithRetryable(true)
	case errors.Is(err, context.Canceled):
		return types.NewError(types.KindCancelled, "request cancelled").WithCause(err)
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return types.NewError(types.KindUpstreamServer, "connection to upstream failed").
			WithReason(types.ReasonConnection).WithCause(err).WithRetryable(true)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return types.NewError(types.KindUpstreamServer, "cannot reach upstream").
			WithReason(types.ReasonConnection).WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.KindUpstreamServer, "upstream transport error").
		WithReason(types.ReasonConnection).WithCause(err).WithRetryable(true)
}

// ReadErrorMessage 读取响应体中的错误消息，最多 64KiB。
// 识别 Anthropic 的 {"error":{"type","message"}} 结构，否则返回原始文本。
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return errResp.Error.Message + " (type: " + errResp.Error.Type + ")"
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// SafeCloseBody drains a little and closes the body so the connection can be
// reused.
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_, _ = io.CopyN(io.Discard, body, 4096)
		_ = body.Close()
	}
}
