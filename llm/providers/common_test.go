package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/BaSui01/claudegate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		kind      types.Kind
		reason    types.Reason
		retryable bool
	}{
		{400, types.KindInvalidRequest, "", false},
		{401, types.KindAuth, "", false},
		{403, types.KindInvalidRequest, types.ReasonForbidden, false},
		{404, types.KindInvalidRequest, types.ReasonNotFound, false},
		{408, types.KindTimeout, "", true},
		{413, types.KindInvalidRequest, types.ReasonTooLarge, false},
		{422, types.KindInvalidRequest, "", false},
		{429, types.KindRateLimited, "", true},
		{500, types.KindUpstreamServer, "", true},
		{502, types.KindUpstreamServer, "", true},
		{503, types.KindUpstreamServer, "", true},
		{504, types.KindUpstreamServer, "", true},
		{529, types.KindUpstreamServer, types.ReasonOverloaded, true},
		{599, types.KindUpstreamServer, "", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			c := ClassifyStatus(tt.status)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.reason, c.Reason)
			assert.Equal(t, tt.retryable, c.Retryable)
		})
	}
}

// 所有 4xx（除 408、429）都不可重试，所有 5xx 都可重试
func TestClassifyStatus_Buckets(t *testing.T) {
	for status := 400; status < 600; status++ {
		c := ClassifyStatus(status)
		switch {
		case status == 408 || status == 429:
			assert.True(t, c.Retryable, status)
		case status < 500:
			assert.False(t, c.Retryable, status)
		default:
			assert.True(t, c.Retryable, status)
		}
	}
}

func TestMapHTTPError_RetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "12")

	e := MapHTTPError(429, "rate limited", h)
	assert.Equal(t, types.KindRateLimited, e.Kind)
	assert.Equal(t, 12*time.Second, e.RetryAfter)
	assert.Equal(t, 429, e.HTTPStatus)

	e = MapHTTPError(529, "", h)
	assert.Equal(t, 12*time.Second, e.RetryAfter)
	assert.Equal(t, http.StatusText(529), e.Message)

	e = MapHTTPError(500, "boom", h)
	assert.Zero(t, e.RetryAfter, "500 ignores Retry-After")

	e = MapHTTPError(401, "bad key", nil)
	assert.Equal(t, types.KindAuth, e.Kind)
	assert.False(t, e.Retryable)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransportError(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		parent    context.Context
		err       error
		kind      types.Kind
		reason    types.Reason
		retryable bool
	}{
		{"attempt deadline", context.Background(), context.DeadlineExceeded, types.KindTimeout, "", true},
		{"net timeout", context.Background(), &net.OpError{Op: "read", Err: timeoutErr{}}, types.KindTimeout, "", true},
		{"parent cancelled", cancelled, errors.New("whatever"), types.KindCancelled, "", false},
		{"reset", context.Background(), fmt.Errorf("read: %w", syscall.ECONNRESET), types.KindUpstreamServer, types.ReasonConnection, true},
		{"refused", context.Background(), &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, types.KindUpstreamServer, types.ReasonConnection, true},
		{"unexpected eof", context.Background(), io.ErrUnexpectedEOF, types.KindUpstreamServer, types.ReasonConnection, true},
		{"dns", context.Background(), &net.DNSError{Err: "no such host", Name: "api.anthropic.com"}, types.KindUpstreamServer, types.ReasonConnection, true},
		{"typed passes through", context.Background(), types.NewSSRFError(types.ReasonRedirect, "hop"), types.KindSSRFBlocked, types.ReasonRedirect, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ClassifyTransportError(tt.parent, tt.err)
			require.NotNil(t, e)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.reason, e.Reason)
			assert.Equal(t, tt.retryable, e.Retryable)
		})
	}
}

func TestReadErrorMessage(t *testing.T) {
	body := `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`
	assert.Equal(t, "Overloaded (type: overloaded_error)", ReadErrorMessage(strings.NewReader(body)))
	assert.Equal(t, "plain text", ReadErrorMessage(strings.NewReader(" plain text\n")))

	huge := strings.Repeat("a", 3*maxErrorBody)
	assert.Len(t, ReadErrorMessage(strings.NewReader(huge)), maxErrorBody)
}

func TestClaudeConfig_Validate(t *testing.T) {
	cfg := DefaultClaudeConfig()
	require.NoError(t, cfg.Validate())

	cfg.ImageURLMode = "download"
	cfg.MaxTokens = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image_url_mode")
	assert.Contains(t, err.Error(), "max_tokens")
}
