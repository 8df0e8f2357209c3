package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestMetrics(t *testing.T) (*Metrics, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	m, err := NewMetrics(WithTracerProvider(tp), WithMeterProvider(mp))
	require.NoError(t, err)
	return m, rec, reader
}

func collectNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetrics_RequestLifecycle(t *testing.T) {
	m, rec, reader := newTestMetrics(t)
	req := RequestAttrs{Model: "claude-x", Mode: "stream", RequestID: "req-1"}

	ctx, span := m.StartRequest(context.Background(), req)
	_, stage := m.StartStage(ctx, "normalize")
	stage.End()
	m.RecordRetry(ctx, 1, "UPSTREAM_SERVER_ERROR", time.Second)
	m.RecordStreamEvent(ctx, "text_delta")
	m.EndRequest(ctx, span, req, ResponseAttrs{
		Status: "ok", InputTokens: 12, OutputTokens: 7, Attempts: 2, Duration: time.Second,
	})

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "claudegate.normalize", ended[0].Name())
	root := ended[1]
	assert.Equal(t, "claudegate.pipeline", root.Name())
	assert.Equal(t, codes.Ok, root.Status().Code)
	require.Len(t, root.Events(), 1)
	assert.Equal(t, "retry", root.Events()[0].Name)
	assert.Equal(t, root.SpanContext().TraceID(), ended[0].Parent().TraceID())

	got := collectNames(t, reader)
	for _, name := range []string{
		"claudegate.request.total",
		"claudegate.request.duration",
		"claudegate.token.total",
		"claudegate.retry.total",
		"claudegate.stream.event.total",
		"claudegate.upstream.attempts",
		"claudegate.request.active",
	} {
		assert.Contains(t, got, name)
	}
	assert.NotContains(t, got, "claudegate.error.total")

	sum, ok := got["claudegate.token.total"].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(19), total)
}

func TestMetrics_ErrorStatus(t *testing.T) {
	m, rec, reader := newTestMetrics(t)
	req := RequestAttrs{Model: "claude-x", Mode: "complete"}

	ctx, span := m.StartRequest(context.Background(), req)
	m.EndRequest(ctx, span, req, ResponseAttrs{Status: "VALIDATION_ERROR", ErrorReason: "image_too_large"})

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "VALIDATION_ERROR", ended[0].Status().Description)

	got := collectNames(t, reader)
	assert.Contains(t, got, "claudegate.error.total")
	assert.NotContains(t, got, "claudegate.upstream.attempts", "no attempts recorded before the upstream call")
}

func TestNewMetrics_GlobalProviders(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	assert.NotNil(t, m.Tracer())
}
