package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/claudegate/llm"

// Metrics 管道的 OpenTelemetry 指标与 span
type Metrics struct {
	tracer trace.Tracer
	meter  metric.Meter
	// 计数器
	requestTotal metric.Int64Counter
	tokenTotal   metric.Int64Counter
	errorTotal   metric.Int64Counter
	retryTotal   metric.Int64Counter
	eventTotal   metric.Int64Counter
	// 直方图
	requestDuration metric.Float64Histogram
	attemptCount    metric.Int64Histogram
	// 活跃请求
	activeRequests metric.Int64UpDownCounter
}

// Option 配置 Metrics
type Option func(*options)

type options struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider 使用指定的 TracerProvider，默认取全局
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithMeterProvider 使用指定的 MeterProvider，默认取全局
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

// NewMetrics 创建指标收集器
func NewMetrics(opts ...Option) (*Metrics, error) {
	o := options{tp: otel.GetTracerProvider(), mp: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.mp.Meter(instrumentationName)
	m := &Metrics{
		tracer: o.tp.Tracer(instrumentationName),
		meter:  meter,
	}

	var err error

	// 请求计数
	m.requestTotal, err = meter.Int64Counter("claudegate.request.total",
		metric.WithDescription("Total number of pipeline requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	// Token 计数
	m.tokenTotal, err = meter.Int64Counter("claudegate.token.total",
		metric.WithDescription("Tokens reported by the upstream"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	// 错误计数
	m.errorTotal, err = meter.Int64Counter("claudegate.error.total",
		metric.WithDescription("Classified errors"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	// 重试计数
	m.retryTotal, err = meter.Int64Counter("claudegate.retry.total",
		metric.WithDescription("Retries scheduled by the executor"),
		metric.WithUnit("{retry}"))
	if err != nil {
		return nil, err
	}

	// 流事件计数
	m.eventTotal, err = meter.Int64Counter("claudegate.stream.event.total",
		metric.WithDescription("Stream events delivered"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}

	// 请求延迟
	m.requestDuration, err = meter.Float64Histogram("claudegate.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120))
	if err != nil {
		return nil, err
	}

	// 尝试次数分布
	m.attemptCount, err = meter.Int64Histogram("claudegate.upstream.attempts",
		metric.WithDescription("Outbound attempts per request"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 7, 8, 9))
	if err != nil {
		return nil, err
	}

	// 活跃请求数
	m.activeRequests, err = meter.Int64UpDownCounter("claudegate.request.active",
		metric.WithDescription("Number of active requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RequestAttrs 请求属性
type RequestAttrs struct {
	Model     string
	Mode      string // stream 或 complete
	RequestID string
}

// ResponseAttrs 响应属性
type ResponseAttrs struct {
	Status       string // ok 或错误 kind
	ErrorReason  string
	InputTokens  int
	OutputTokens int
	Attempts     int
	Duration     time.Duration
}

// StartRequest 开始请求追踪
func (m *Metrics) StartRequest(ctx context.Context, attrs RequestAttrs) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, "claudegate.pipeline",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("llm.model", attrs.Model),
			attribute.String("llm.mode", attrs.Mode),
			attribute.String("request.id", attrs.RequestID),
		))

	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", attrs.Mode)))
	return ctx, span
}

// EndRequest 结束请求追踪
func (m *Metrics) EndRequest(ctx context.Context, span trace.Span, req RequestAttrs, resp ResponseAttrs) {
	defer span.End()

	commonAttrs := []attribute.KeyValue{
		attribute.String("model", req.Model),
		attribute.String("mode", req.Mode),
		attribute.String("status", resp.Status),
	}

	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attribute.String("mode", req.Mode)))
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(commonAttrs...))
	m.requestDuration.Record(ctx, resp.Duration.Seconds(), metric.WithAttributes(commonAttrs...))

	if resp.Attempts > 0 {
		m.attemptCount.Record(ctx, int64(resp.Attempts), metric.WithAttributes(attribute.String("model", req.Model)))
	}

	if resp.InputTokens > 0 || resp.OutputTokens > 0 {
		m.tokenTotal.Add(ctx, int64(resp.InputTokens), metric.WithAttributes(
			attribute.String("model", req.Model),
			attribute.String("type", "input")))
		m.tokenTotal.Add(ctx, int64(resp.OutputTokens), metric.WithAttributes(
			attribute.String("model", req.Model),
			attribute.String("type", "output")))
	}

	if resp.Status != "ok" {
		m.errorTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", resp.Status),
			attribute.String("reason", resp.ErrorReason)))
		span.SetStatus(codes.Error, resp.Status)
		span.SetAttributes(attribute.String("error.kind", resp.Status))
		if resp.ErrorReason != "" {
			span.SetAttributes(attribute.String("error.reason", resp.ErrorReason))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", resp.InputTokens),
		attribute.Int("llm.tokens.output", resp.OutputTokens),
		attribute.Int("llm.attempts", resp.Attempts),
		attribute.Float64("llm.duration_ms", float64(resp.Duration.Milliseconds())))
}

// StartStage 为管道中的一个阶段开启子 span，例如 normalize、execute
func (m *Metrics) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "claudegate."+stage)
}

// RecordRetry 记录一次计划中的重试
func (m *Metrics) RecordRetry(ctx context.Context, attempt int, kind string, delay time.Duration) {
	m.retryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.String("kind", kind),
		attribute.Int64("delay_ms", delay.Milliseconds())))
}

// RecordStreamEvent 记录一个下发的流事件
func (m *Metrics) RecordStreamEvent(ctx context.Context, eventType string) {
	m.eventTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// Tracer 获取 Tracer
func (m *Metrics) Tracer() trace.Tracer {
	return m.tracer
}
