package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.pipelineRequestsTotal)
	assert.NotNil(t, collector.upstreamAttempts)
	assert.NotNil(t, collector.errorsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)
	collector.RecordHTTPRequest("GET", "/test", 503, 50*time.Millisecond, 512, 1024)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "5xx")))
}

func TestCollector_RecordPipeline(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordPipelineRequest("claude-x", "stream", "ok", time.Second)
	collector.RecordUpstreamAttempts("claude-x", 4)
	collector.RecordUpstreamAttempts("claude-x", 0)
	collector.RecordTokens("claude-x", 12, 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.pipelineRequestsTotal.WithLabelValues("claude-x", "stream", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.upstreamAttempts))
	assert.Equal(t, 12.0, testutil.ToFloat64(collector.tokensUsed.WithLabelValues("claude-x", "input")))
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.tokensUsed.WithLabelValues("claude-x", "output")))
}

func TestCollector_RecordErrors(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordError("VALIDATION_ERROR", "image_too_large")
	collector.RecordError("VALIDATION_ERROR", "image_too_large")
	collector.RecordSSRFBlock("private_address")
	collector.RecordStreamEvent("text_delta")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.errorsTotal.WithLabelValues("VALIDATION_ERROR", "image_too_large")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ssrfBlocksTotal.WithLabelValues("private_address")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.streamEventsTotal.WithLabelValues("text_delta")))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("catalog")
	collector.RecordCacheMiss("catalog")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheHits.WithLabelValues("catalog")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheMisses.WithLabelValues("catalog")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordError("TIMEOUT", "")
			collector.RecordCacheHit("catalog")
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.errorsTotal.WithLabelValues("TIMEOUT", "")))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 529: "5xx", 0: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code))
	}
}
