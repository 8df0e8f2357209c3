package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/claudegate/internal/ctxkeys"
	"github.com/BaSui01/claudegate/internal/tlsutil"
	"github.com/BaSui01/claudegate/llm/classify"
	"github.com/BaSui01/claudegate/llm/observability"
	"github.com/BaSui01/claudegate/llm/providers"
	"github.com/BaSui01/claudegate/llm/providers/claude"
	"github.com/BaSui01/claudegate/llm/retry"
	"github.com/BaSui01/claudegate/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Recorder receives pipeline metrics. *metrics.Collector satisfies it.
type Recorder interface {
	classify.Recorder
	RecordPipelineRequest(model, mode, outcome string, duration time.Duration)
	RecordUpstreamAttempts(model string, attempts int)
	RecordTokens(model string, input, output int)
	RecordStreamEvent(eventType string)
}

// Config configures a Pipeline.
type Config struct {
	Claude providers.ClaudeConfig
	Retry  retry.Policy
}

// Request is one conversation to send upstream. The stream flag in Options
// is set by Complete and Stream.
type Request struct {
	Conversation types.Conversation
	Model        string
	Options      claude.Options
}

// Result is an aggregated completion.
type Result struct {
	ID         string       `json:"id"`
	Model      string       `json:"model"`
	Text       string       `json:"text"`
	StopReason string       `json:"stop_reason,omitempty"`
	Usage      claude.Usage `json:"usage"`
	RequestID  string       `json:"request_id"`
	Attempts   int          `json:"attempts"`
}

const (
	modeComplete = "complete"
	modeStream   = "stream"
)

// =============================================================================
// 🎯 Pipeline
// =============================================================================

// Pipeline runs Normalizer, Executor and Decoder for each request and passes
// every failure through the Classifier. Only *types.SafeError values leave
// it. The API key is fixed at construction.
type Pipeline struct {
	cfg        Config
	normalizer *claude.Normalizer
	executor   *claude.Executor
	classifier *classify.Classifier
	recorder   Recorder
	otel       *observability.Metrics
	keyErr     error
	newID      func() string
	logger     *zap.Logger

	client    claude.Doer
	validator claude.URLValidator
	fetcher   claude.ImageFetcher
	retryOpts []retry.Option
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient sets the upstream client. The default is a hardened
// transport without an overall timeout; attempts are bounded by the executor.
func WithHTTPClient(c claude.Doer) Option { return func(p *Pipeline) { p.client = c } }

// WithURLValidator sets the image URL check.
func WithURLValidator(v claude.URLValidator) Option { return func(p *Pipeline) { p.validator = v } }

// WithImageFetcher sets the downloader used in inline image mode.
func WithImageFetcher(f claude.ImageFetcher) Option { return func(p *Pipeline) { p.fetcher = f } }

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

// WithObservability sets the OpenTelemetry instruments.
func WithObservability(m *observability.Metrics) Option { return func(p *Pipeline) { p.otel = m } }

// WithRetryOptions passes options to the retryer, e.g. a fake sleep in tests.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(p *Pipeline) { p.retryOpts = append(p.retryOpts, opts...) }
}

// WithRequestIDFunc replaces uuid.NewString for requests without an id in
// their context.
func WithRequestIDFunc(f func() string) Option { return func(p *Pipeline) { p.newID = f } }

// New creates a Pipeline. A missing or malformed API key does not fail
// construction; every request then fails with ConfigMissing or AuthError
// before any network activity.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Claude.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    cfg,
		newID:  uuid.NewString,
		logger: logger.With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = tlsutil.SecureHTTPClient(0)
	}

	p.keyErr = checkAPIKey(cfg.Claude.APIKey, cfg.Claude.KeyPrefix)
	if p.keyErr != nil {
		p.logger.Warn("api key unusable, requests will fail until configured",
			zap.String("kind", string(types.KindOf(p.keyErr))))
	}

	retryOpts := append([]retry.Option{retry.WithOnRetry(p.onRetry)}, p.retryOpts...)
	retryer := retry.New(cfg.Retry, logger, retryOpts...)

	p.normalizer = claude.NewNormalizer(claude.NormalizerConfigFrom(cfg.Claude), p.validator, p.fetcher, logger)
	p.executor = claude.NewExecutor(claude.ExecutorConfigFrom(cfg.Claude), p.client, retryer, logger)
	p.classifier = classify.New(logger, p.recorder)

	p.logger.Info("pipeline initialized",
		zap.String("base_url", cfg.Claude.BaseURL),
		zap.String("default_model", cfg.Claude.Model),
		zap.String("image_url_mode", cfg.Claude.ImageURLMode),
		zap.Int("max_attempts", retryer.Policy().MaxAttempts))
	return p, nil
}

// checkAPIKey never echoes the key.
func checkAPIKey(key, prefix string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return types.NewError(types.KindConfigMissing, "api key not configured")
	}
	if prefix != "" && !strings.HasPrefix(key, prefix) {
		return types.NewError(types.KindAuth, "api key does not have the expected prefix").
			WithReason(types.ReasonMalformedKey)
	}
	return nil
}

// Ready reports whether the API key is usable, as a SafeError.
func (p *Pipeline) Ready() error {
	if p.keyErr == nil {
		return nil
	}
	return &types.SafeError{
		Kind:    types.KindOf(p.keyErr),
		Reason:  reasonOf(p.keyErr),
		Message: classify.Message(types.KindOf(p.keyErr), reasonOf(p.keyErr)),
	}
}

// DefaultModel returns the model used when a request names none.
func (p *Pipeline) DefaultModel() string { return p.cfg.Claude.Model }

// ListModels lists upstream Claude models. It satisfies catalog.Lister.
func (p *Pipeline) ListModels(ctx context.Context) ([]claude.ModelInfo, error) {
	if p.keyErr != nil {
		return nil, p.keyErr
	}
	return p.executor.ListModels(ctx)
}

// =============================================================================
// 📄 非流式
// =============================================================================

// Complete sends req and returns the aggregated response.
func (p *Pipeline) Complete(ctx context.Context, req Request) (*Result, error) {
	call := p.begin(ctx, req, modeComplete)

	raw, err := call.execute(false)
	if err != nil {
		return nil, call.fail(err)
	}
	defer raw.Body.Close()

	_, span := call.stage("decode")
	c, err := claude.DecodeCompletion(raw.Body)
	span.End()
	if err != nil {
		return nil, call.fail(err)
	}
	return call.succeed(c), nil
}

// =============================================================================
// 🌊 流式
// =============================================================================

// Stream sends req and returns a lazy event sequence. The caller must Close
// the stream.
func (p *Pipeline) Stream(ctx context.Context, req Request) (*Stream, error) {
	call := p.begin(ctx, req, modeStream)

	raw, err := call.execute(true)
	if err != nil {
		return nil, call.fail(err)
	}
	dec := claude.NewDecoder(call.ctx, raw.Body, 0, p.logger)
	return &Stream{call: call, dec: dec}, nil
}

// =============================================================================
// 🔧 单次调用状态
// =============================================================================

// call is the request-scoped state of one Complete or Stream.
type call struct {
	p         *Pipeline
	ctx       context.Context
	span      trace.Span
	req       Request
	model     string
	mode      string
	requestID string
	start     time.Time
	attempts  int
	finished  bool
}

func (p *Pipeline) begin(ctx context.Context, req Request, mode string) *call {
	rid, ok := ctxkeys.RequestID(ctx)
	if !ok {
		rid = p.newID()
		ctx = ctxkeys.WithRequestID(ctx, rid)
	}
	c := &call{
		p:         p,
		ctx:       ctx,
		req:       req,
		model:     claude.ResolveModel(req.Model, p.cfg.Claude.Model),
		mode:      mode,
		requestID: rid,
		start:     time.Now(),
	}
	if p.otel != nil {
		c.ctx, c.span = p.otel.StartRequest(ctx, observability.RequestAttrs{
			Model: c.model, Mode: mode, RequestID: rid,
		})
	}
	return c
}

func (c *call) stage(name string) (context.Context, trace.Span) {
	if c.p.otel == nil {
		return c.ctx, trace.SpanFromContext(c.ctx)
	}
	return c.p.otel.StartStage(c.ctx, name)
}

func (c *call) execute(stream bool) (*claude.RawResponse, error) {
	if c.p.keyErr != nil {
		return nil, c.p.keyErr
	}

	opts := c.req.Options
	opts.Stream = stream
	nctx, nspan := c.stage("normalize")
	msgReq, err := c.p.normalizer.Normalize(nctx, c.req.Conversation, c.req.Model, opts)
	c.endStage(nspan)
	if err != nil {
		return nil, err
	}

	ectx, espan := c.stage("execute")
	raw, err := c.p.executor.Execute(ectx, msgReq)
	c.endStage(espan)
	if err != nil {
		if e, ok := types.AsError(err); ok {
			c.attempts = e.Attempts
		}
		return nil, err
	}
	c.attempts = raw.Attempts
	c.p.logger.Debug("upstream accepted request",
		zap.String("request_id", c.requestID),
		zap.String("upstream_request_id", raw.RequestID),
		zap.Int("attempts", raw.Attempts),
		zap.Duration("latency", raw.Latency))
	return raw, nil
}

// endStage closes a stage span unless it is the request span borrowed when
// tracing is off.
func (c *call) endStage(span trace.Span) {
	if c.p.otel != nil {
		span.End()
	}
}

func (c *call) detail() classify.Detail {
	return classify.Detail{RequestID: c.requestID, Model: c.model, Latency: time.Since(c.start)}
}

func (c *call) fail(err error) error {
	safe := c.p.classifier.Classify(err, c.detail())
	c.finish(string(safe.Kind), string(reasonOf(err)), claude.Usage{})
	return safe
}

func (c *call) succeed(comp *claude.Completion) *Result {
	c.finish("ok", "", comp.Usage)
	model := comp.Model
	if model == "" {
		model = c.model
	}
	return &Result{
		ID:         comp.ID,
		Model:      model,
		Text:       comp.Text,
		StopReason: comp.StopReason,
		Usage:      comp.Usage,
		RequestID:  c.requestID,
		Attempts:   c.attempts,
	}
}

func (c *call) finish(outcome, reason string, usage claude.Usage) {
	if c.finished {
		return
	}
	c.finished = true
	elapsed := time.Since(c.start)

	if r := c.p.recorder; r != nil {
		r.RecordPipelineRequest(c.model, c.mode, outcome, elapsed)
		r.RecordUpstreamAttempts(c.model, c.attempts)
		if usage.InputTokens > 0 || usage.OutputTokens > 0 {
			r.RecordTokens(c.model, usage.InputTokens, usage.OutputTokens)
		}
	}
	if c.p.otel != nil {
		c.p.otel.EndRequest(c.ctx, c.span, observability.RequestAttrs{
			Model: c.model, Mode: c.mode, RequestID: c.requestID,
		}, observability.ResponseAttrs{
			Status:       outcome,
			ErrorReason:  reason,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			Attempts:     c.attempts,
			Duration:     elapsed,
		})
	}
	if outcome == "ok" {
		c.p.logger.Info("request completed",
			zap.String("request_id", c.requestID),
			zap.String("model", c.model),
			zap.String("mode", c.mode),
			zap.Int("attempts", c.attempts),
			zap.Int("input_tokens", usage.InputTokens),
			zap.Int("output_tokens", usage.OutputTokens),
			zap.Duration("latency", elapsed))
	}
}

func (p *Pipeline) onRetry(ctx context.Context, s retry.State, _ error) {
	if p.otel != nil {
		p.otel.RecordRetry(ctx, s.Attempt, string(s.LastKind), s.Delay)
	}
}

func reasonOf(err error) types.Reason {
	var e *types.Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
