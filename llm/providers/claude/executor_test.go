package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/claudegate/llm/retry"
	"github.com/BaSui01/claudegate/testutil"
	"github.com/BaSui01/claudegate/testutil/fixtures"
	"github.com/BaSui01/claudegate/testutil/mocks"
	"github.com/BaSui01/claudegate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "sk-ant-test-0123456789"

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestExecutor(t *testing.T, up *mocks.MockUpstream, policy retry.Policy) (*Executor, *recordedSleeps) {
	t.Helper()
	s := &recordedSleeps{}
	r := retry.New(policy, nil, retry.WithSleep(s.sleep), retry.WithRand(func() float64 { return 0.5 }))
	cfg := ExecutorConfig{BaseURL: up.URL(), APIKey: testKey, Timeout: 2 * time.Second}
	return NewExecutor(cfg, up.Client(), r, nil), s
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2, JitterFraction: 0.2}
}

func simpleRequest(stream bool) *MessagesRequest {
	return &MessagesRequest{
		Model:     "claude-x",
		MaxTokens: 64,
		Stream:    stream,
		Messages:  []Message{{Role: "user", Content: []ContentPart{{Type: "text", Text: "hi"}}}},
	}
}

func TestExecutor_SendsHeadersAndBody(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(
		mocks.JSON(200, fixtures.MessageJSON("hello")).WithHeader("request-id", "req_123"))
	e, _ := newTestExecutor(t, up, testPolicy())

	resp, err := e.Execute(testutil.TestContext(t), simpleRequest(false))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "req_123", resp.RequestID)

	reqs := up.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/v1/messages", reqs[0].Path)
	assert.Equal(t, testKey, reqs[0].Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", reqs[0].Header.Get("anthropic-version"))
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.Empty(t, reqs[0].Header.Get("Authorization"))

	var sent MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &sent))
	assert.Equal(t, *simpleRequest(false), sent)

	c, err := DecodeCompletion(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", c.Text)
}

// 三次 503 之后 200：四次尝试全部发生，延迟按策略递增，最终成功
func TestExecutor_ThreeUnavailableThenOK(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(
		mocks.Status(503), mocks.Status(503), mocks.Status(503),
		mocks.JSON(200, fixtures.MessageJSON("finally")),
	)
	e, s := newTestExecutor(t, up, testPolicy())

	resp, err := e.Execute(testutil.TestContext(t), simpleRequest(false))
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Attempts)
	assert.Equal(t, 4, up.Calls())
	require.Len(t, s.delays, 3)
	assert.Less(t, s.delays[0], s.delays[1])
	assert.Less(t, s.delays[1], s.delays[2])

	c, err := DecodeCompletion(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "finally", c.Text)
}

func TestExecutor_FatalStatusesSingleAttempt(t *testing.T) {
	tests := []struct {
		status int
		kind   types.Kind
	}{
		{400, types.KindInvalidRequest},
		{401, types.KindAuth},
		{403, types.KindInvalidRequest},
		{404, types.KindInvalidRequest},
		{413, types.KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			up := mocks.NewMockUpstream(t).WithFallback(
				mocks.JSON(tt.status, fixtures.ErrorJSON("invalid_request_error", "nope")))
			e, s := newTestExecutor(t, up, testPolicy())

			_, err := e.Execute(testutil.TestContext(t), simpleRequest(false))
			e2, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, e2.Kind)
			assert.Equal(t, tt.status, e2.HTTPStatus)
			assert.Equal(t, 1, e2.Attempts)
			assert.Equal(t, 1, up.Calls())
			assert.Empty(t, s.delays)
		})
	}
}

func TestExecutor_RateLimitHonoursRetryAfter(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(
		mocks.JSON(429, fixtures.ErrorJSON("rate_limit_error", "slow")).WithHeader("Retry-After", "3"),
		mocks.JSON(200, fixtures.MessageJSON("ok")),
	)
	e, s := newTestExecutor(t, up, testPolicy())

	_, err := e.Execute(testutil.TestContext(t), simpleRequest(false))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, s.delays)
}

func TestExecutor_Exhausted(t *testing.T) {
	up := mocks.NewMockUpstream(t).WithFallback(mocks.JSON(529, fixtures.ErrorJSON("overloaded_error", "busy")))
	p := testPolicy()
	p.MaxAttempts = 3
	e, _ := newTestExecutor(t, up, p)

	_, err := e.Execute(testutil.TestContext(t), simpleRequest(false))
	e2, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindRetryExhausted, e2.Kind)
	assert.Equal(t, 3, e2.Attempts)
	assert.Equal(t, 3, up.Calls())
	require.NotNil(t, e2.LastFailure())
	assert.Equal(t, types.ReasonOverloaded, e2.LastFailure().Reason)
}

func TestExecutor_PerAttemptTimeoutIsRetried(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(
		mocks.JSON(200, fixtures.MessageJSON("late")).WithDelay(time.Second),
		mocks.JSON(200, fixtures.MessageJSON("fast")),
	)
	s := &recordedSleeps{}
	r := retry.New(testPolicy(), nil, retry.WithSleep(s.sleep))
	e := NewExecutor(ExecutorConfig{BaseURL: up.URL(), APIKey: testKey, Timeout: 100 * time.Millisecond}, up.Client(), r, nil)

	resp, err := e.Execute(testutil.TestContext(t), simpleRequest(false))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Attempts)
	c, err := DecodeCompletion(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "fast", c.Text)
}

func TestExecutor_CancelledNeverRetries(t *testing.T) {
	up := mocks.NewMockUpstream(t).WithFallback(mocks.Status(503).WithDelay(time.Second))
	e, s := newTestExecutor(t, up, testPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := e.Execute(ctx, simpleRequest(false))
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
	assert.Empty(t, s.delays)
	assert.LessOrEqual(t, up.Calls(), 1)
}

func TestExecutor_StreamBodyStaysOpen(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(mocks.SSE(fixtures.TextStream("Hel", "lo")))
	e, _ := newTestExecutor(t, up, testPolicy())

	resp, err := e.Execute(testutil.TestContext(t), simpleRequest(true))
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", up.Requests()[0].Header.Get("Accept"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Contains(t, string(body), "message_stop")
}

func TestExecutor_ListModels(t *testing.T) {
	up := mocks.NewMockUpstream(t).Enqueue(
		mocks.JSON(200, fixtures.ModelsJSON(true, "claude-opus-4-1", "embed-x")),
		mocks.JSON(200, fixtures.ModelsJSON(false, "claude-haiku-4-5")),
	)
	e, _ := newTestExecutor(t, up, testPolicy())

	models, err := e.ListModels(testutil.TestContext(t))
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "claude-opus-4-1", models[0].ID)
	assert.Equal(t, "claude-haiku-4-5", models[1].ID)

	reqs := up.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/v1/models", reqs[0].Path)
	assert.NotContains(t, reqs[0].Query, "after_id")
	assert.Contains(t, reqs[1].Query, "after_id=embed-x")
	assert.Equal(t, testKey, reqs[1].Header.Get("x-api-key"))
}

func TestExecutor_ListModelsAuthError(t *testing.T) {
	up := mocks.NewMockUpstream(t).WithFallback(mocks.JSON(401, fixtures.ErrorJSON("authentication_error", "bad")))
	e, _ := newTestExecutor(t, up, testPolicy())

	_, err := e.ListModels(testutil.TestContext(t))
	assert.Equal(t, types.KindAuth, types.KindOf(err))
}
