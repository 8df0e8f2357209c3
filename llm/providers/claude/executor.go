package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/claudegate/llm/providers"
	"github.com/BaSui01/claudegate/llm/retry"
	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	BaseURL          string
	APIKey           string
	APIVersion       string
	Timeout          time.Duration // per attempt
	MaxResponseBytes int64         // non-streaming body bound
}

// ExecutorConfigFrom derives an ExecutorConfig from provider config.
func ExecutorConfigFrom(c providers.ClaudeConfig) ExecutorConfig {
	return ExecutorConfig{
		BaseURL:          c.BaseURL,
		APIKey:           c.APIKey,
		APIVersion:       c.APIVersion,
		Timeout:          c.Timeout,
		MaxResponseBytes: c.MaxResponseBytes,
	}
}

// RawResponse is a successful upstream response. For streaming requests
// Body is the live event stream and must be closed; otherwise it is the
// fully read body.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Attempts   int
	RequestID  string
	Latency    time.Duration
}

// Executor issues POST /v1/messages under a retry policy.
type Executor struct {
	cfg     ExecutorConfig
	client  Doer
	retryer *retry.Retryer
	logger  *zap.Logger
}

// errAttemptTimeout is the cancel cause set when one attempt runs out of time.
var errAttemptTimeout = errors.New("attempt timed out")

// NewExecutor creates an Executor. The API key is fixed for its lifetime.
func NewExecutor(cfg ExecutorConfig, client Doer, retryer *retry.Retryer, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = providers.DefaultClaudeBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = providers.DefaultClaudeAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 8 << 20
	}
	if retryer == nil {
		retryer = retry.New(retry.DefaultPolicy(), logger)
	}
	return &Executor{
		cfg:     cfg,
		client:  client,
		retryer: retryer,
		logger:  logger.With(zap.String("component", "executor")),
	}
}

// Execute sends req, retrying retryable failures.
//
// The per-attempt timeout covers connection and response headers for
// streaming requests, and the whole body otherwise, so a body that fails
// mid-read is retried too. A mid-stream failure is never retried.
func (e *Executor) Execute(ctx context.Context, req *MessagesRequest) (*RawResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.KindUnknown, "failed to encode request").WithCause(err)
	}

	start := time.Now()
	attempts := 0
	resp, err := retry.Do(ctx, e.retryer, func(ctx context.Context, attempt int) (*RawResponse, error) {
		attempts = attempt
		return e.attempt(ctx, payload, req.Stream)
	})
	if err != nil {
		e.logger.Debug("upstream call failed",
			zap.Int("attempts", attempts),
			zap.String("kind", string(types.KindOf(err))),
			zap.Duration("latency", time.Since(start)))
		return nil, err
	}
	resp.Attempts = attempts
	resp.Latency = time.Since(start)
	return resp, nil
}

func (e *Executor) attempt(parent context.Context, payload []byte, stream bool) (*RawResponse, error) {
	ctx, cancel := context.WithCancelCause(parent)
	timer := time.AfterFunc(e.cfg.Timeout, func() { cancel(errAttemptTimeout) })
	release := func() {
		timer.Stop()
		cancel(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		release()
		return nil, types.NewError(types.KindUnknown, "failed to build request").WithCause(err)
	}
	e.setHeaders(httpReq)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		release()
		return nil, e.transportError(parent, ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := providers.ReadErrorMessage(resp.Body)
		providers.SafeCloseBody(resp.Body)
		release()
		e.logger.Debug("upstream error status",
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", resp.Header.Get("request-id")))
		return nil, providers.MapHTTPError(resp.StatusCode, msg, resp.Header)
	}

	raw := &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		RequestID:  resp.Header.Get("request-id"),
	}

	if stream {
		// Headers arrived in time; the stream is bounded by the caller's
		// context from here on.
		timer.Stop()
		raw.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: func() { cancel(nil) }}
		return raw, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxResponseBytes+1))
	_ = resp.Body.Close()
	release()
	if err != nil {
		return nil, e.transportError(parent, ctx, err)
	}
	if int64(len(body)) > e.cfg.MaxResponseBytes {
		return nil, types.NewError(types.KindDecode, "response body too large").WithReason(types.ReasonOversized)
	}
	raw.Body = io.NopCloser(bytes.NewReader(body))
	return raw, nil
}

func (e *Executor) transportError(parent, attemptCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(context.Cause(attemptCtx), errAttemptTimeout) {
		return types.NewError(types.KindTimeout, fmt.Sprintf("no response within %s", e.cfg.Timeout)).
			WithCause(err).WithRetryable(true)
	}
	return providers.ClassifyTransportError(parent, err)
}

func (e *Executor) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", e.cfg.APIKey)
	req.Header.Set("anthropic-version", e.cfg.APIVersion)
	req.Header.Set("Content-Type", "application/json")
}

func (e *Executor) endpoint(path string) string {
	return strings.TrimRight(e.cfg.BaseURL, "/") + path
}

// cancelOnClose releases the attempt context when the stream is closed.
type cancelOnClose struct {
	io.ReadCloser
	once   sync.Once
	cancel func()
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)
	return err
}
