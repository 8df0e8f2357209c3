package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/claudegate/api"
	"github.com/BaSui01/claudegate/internal/ctxkeys"
	"github.com/BaSui01/claudegate/llm"
	"github.com/BaSui01/claudegate/llm/classify"
	"github.com/BaSui01/claudegate/llm/providers/claude"
	"github.com/BaSui01/claudegate/testutil"
	"github.com/BaSui01/claudegate/testutil/fixtures"
	"github.com/BaSui01/claudegate/testutil/mocks"
	"github.com/BaSui01/claudegate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🧪 ChatHandler 测试
// =============================================================================

type chatEnvelope struct {
	Success   bool             `json:"success"`
	Data      api.ChatResponse `json:"data"`
	Error     *api.ErrorDetail `json:"error"`
	RequestID string           `json:"request_id"`
}

func decodeChat(t *testing.T, w *httptest.ResponseRecorder) chatEnvelope {
	t.Helper()
	var env chatEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestChatHandler_Completion(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(mocks.JSON(200, fixtures.MessageJSON("Hi there")))
	h := NewChatHandler(newPipeline(t, up, nil), 1<<20, nil)

	r := postJSON("/api/v1/chat/completions", `{
		"model": "pipe.claude-haiku-4-5-20251001",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [{"type": "text", "text": "Hello"}]}
		],
		"max_tokens": 256,
		"temperature": 0.2,
		"chat_id": "ignored"
	}`)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-chat"))
	w := httptest.NewRecorder()
	h.HandleCompletion(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decodeChat(t, w)
	assert.True(t, env.Success)
	assert.Equal(t, "Hi there", env.Data.Content)
	assert.Equal(t, "end_turn", env.Data.StopReason)
	assert.Equal(t, api.Usage{InputTokens: 12, OutputTokens: 7}, env.Data.Usage)
	assert.Equal(t, "req-chat", env.RequestID)

	sent := testutil.MustParseJSON[claude.MessagesRequest](up.Requests()[0].Body)
	assert.Equal(t, "claude-haiku-4-5-20251001", sent.Model)
	assert.Equal(t, "be brief", sent.System)
	assert.Equal(t, 256, sent.MaxTokens)
	require.NotNil(t, sent.Temperature)
	assert.InDelta(t, 0.2, *sent.Temperature, 1e-9)
	assert.Nil(t, sent.TopP)
}

func TestChatHandler_EmptyResponseFallback(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(mocks.JSON(200, fixtures.MessageJSON("")))
	h := NewChatHandler(newPipeline(t, up, nil), 1<<20, nil)

	w := httptest.NewRecorder()
	h.HandleCompletion(w, postJSON("/", `{"messages":[{"role":"user","content":"Hello"}]}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.NoResponseText, decodeChat(t, w).Data.Content)
}

func TestChatHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		request    func() *http.Request
		upstream   []mocks.Response
		wantStatus int
		wantCode   types.Kind
		wantMsg    string
		wantCalls  int
	}{
		{
			name:       "wrong method",
			request:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/", nil) },
			wantStatus: http.StatusMethodNotAllowed,
			wantCode:   types.KindValidation,
			wantMsg:    MsgMethod,
		},
		{
			name: "wrong content type",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   types.KindValidation,
			wantMsg:    MsgBadContentType,
		},
		{
			name:       "bad json",
			request:    func() *http.Request { return postJSON("/", `{"messages":`) },
			wantStatus: http.StatusBadRequest,
			wantCode:   types.KindValidation,
			wantMsg:    MsgBadJSON,
		},
		{
			name:       "empty conversation",
			request:    func() *http.Request { return postJSON("/", `{"messages":[]}`) },
			wantStatus: http.StatusBadRequest,
			wantCode:   types.KindValidation,
			wantMsg:    classify.MsgEmptyConversation,
		},
		{
			name: "metadata image blocked",
			request: func() *http.Request {
				return postJSON("/", `{"messages":[{"role":"user","content":[
					{"type":"text","text":"what is this"},
					{"type":"image_url","image_url":{"url":"http://169.254.169.254/latest/meta-data/"}}]}]}`)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   types.KindSSRFBlocked,
			wantMsg:    classify.MsgSSRF,
		},
		{
			name:       "upstream rejects key",
			request:    func() *http.Request { return postJSON("/", `{"messages":[{"role":"user","content":"hi"}]}`) },
			upstream:   []mocks.Response{mocks.JSON(401, fixtures.ErrorJSON("authentication_error", "invalid x-api-key sk-ant-leak"))},
			wantStatus: http.StatusBadGateway,
			wantCode:   types.KindAuth,
			wantMsg:    classify.MsgAuth,
			wantCalls:  1,
		},
		{
			name:       "rate limited after retries",
			request:    func() *http.Request { return postJSON("/", `{"messages":[{"role":"user","content":"hi"}]}`) },
			upstream:   []mocks.Response{mocks.Status(429), mocks.Status(429)},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   types.KindRetryExhausted,
			wantMsg:    classify.MsgRateLimited,
			wantCalls:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := mocks.NewMockUpstream(t).Enqueue(tt.upstream...)
			p := newPipeline(t, up, func(c *llm.Config) { c.Retry.MaxAttempts = 2 })
			h := NewChatHandler(p, 1<<20, nil)

			w := httptest.NewRecorder()
			h.HandleCompletion(w, tt.request())

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			env := decodeChat(t, w)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, string(tt.wantCode), env.Error.Code)
			assert.Equal(t, tt.wantMsg, env.Error.Message)
			assert.NotContains(t, w.Body.String(), "sk-ant")
			assert.Equal(t, tt.wantCalls, up.Calls())
		})
	}
}

func TestChatHandler_BodyTooLarge(t *testing.T) {
	up := mocks.NewMockUpstream(t)
	h := NewChatHandler(newPipeline(t, up, nil), 128, nil)

	body := `{"messages":[{"role":"user","content":"` + strings.Repeat("x", 1024) + `"}]}`
	w := httptest.NewRecorder()
	h.HandleCompletion(w, postJSON("/", body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, up.Calls())
}

// =============================================================================
// 🧪 SSE 测试
// =============================================================================

type sseFrame struct {
	event string
	data  string
}

func readSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.data != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func chunkOf(t *testing.T, f sseFrame) api.StreamChunk {
	t.Helper()
	var c api.StreamChunk
	require.NoError(t, json.Unmarshal([]byte(f.data), &c))
	return c
}

func TestChatHandler_StreamSSE(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(mocks.SSE(fixtures.TextStream("Hel", "lo", "!")))
	h := NewChatHandler(newPipeline(t, up, nil), 1<<20, nil)

	w := httptest.NewRecorder()
	h.HandleCompletion(w, postJSON("/", `{"stream":true,"messages":[{"role":"user","content":"Hello"}]}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	frames := readSSE(t, w.Body.String())
	require.Len(t, frames, 6)
	assert.Equal(t, api.ChunkStart, chunkOf(t, frames[0]).Type)

	var text strings.Builder
	for _, f := range frames[1:4] {
		c := chunkOf(t, f)
		assert.Equal(t, api.ChunkDelta, c.Type)
		text.WriteString(c.Text)
	}
	assert.Equal(t, "Hello!", text.String())

	done := chunkOf(t, frames[4])
	assert.Equal(t, api.ChunkDone, done.Type)
	assert.Equal(t, "end_turn", done.StopReason)
	require.NotNil(t, done.Usage)
	assert.Equal(t, 12, done.Usage.InputTokens)
	assert.Equal(t, "[DONE]", frames[5].data)

	sent := testutil.MustParseJSON[claude.MessagesRequest](up.Requests()[0].Body)
	assert.True(t, sent.Stream)
}

func TestChatHandler_StreamTruncatedKeepsDeliveredText(t *testing.T) {
	truncated := fixtures.MessageStart() + fixtures.TextDelta("partial ")
	up := mocks.NewMockUpstream(t).Enqueue(mocks.SSE(truncated))
	h := NewChatHandler(newPipeline(t, up, nil), 1<<20, nil)

	w := httptest.NewRecorder()
	h.HandleCompletion(w, postJSON("/", `{"stream":true,"messages":[{"role":"user","content":"Hello"}]}`))

	require.Equal(t, http.StatusOK, w.Code)
	frames := readSSE(t, w.Body.String())
	require.Len(t, frames, 4)
	assert.Equal(t, "partial ", chunkOf(t, frames[1]).Text)

	assert.Equal(t, "error", frames[2].event)
	errChunk := chunkOf(t, frames[2])
	assert.Equal(t, api.ChunkError, errChunk.Type)
	require.NotNil(t, errChunk.Error)
	assert.Equal(t, string(types.KindDecode), errChunk.Error.Code)
	assert.Equal(t, classify.MsgStreamInterrupted, errChunk.Error.Message)
	assert.Equal(t, "[DONE]", frames[3].data)
	assert.Equal(t, 1, up.Calls(), "mid-stream failures are not retried")
}

func TestChatHandler_StreamFailsBeforeHeaders(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(mocks.JSON(400, fixtures.ErrorJSON("invalid_request_error", "bad")))
	h := NewChatHandler(newPipeline(t, up, nil), 1<<20, nil)

	w := httptest.NewRecorder()
	h.HandleCompletion(w, postJSON("/", `{"stream":true,"messages":[{"role":"user","content":"Hello"}]}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeChat(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, classify.MsgRequestFailed, env.Error.Message)
}
