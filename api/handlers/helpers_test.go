package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/claudegate/llm"
	"github.com/BaSui01/claudegate/llm/providers"
	"github.com/BaSui01/claudegate/llm/retry"
	"github.com/BaSui01/claudegate/llm/safeurl"
	"github.com/BaSui01/claudegate/testutil"
	"github.com/BaSui01/claudegate/testutil/mocks"
	"github.com/stretchr/testify/require"
)

// newPipeline wires a real pipeline to a scripted upstream with no sleeps
// between retries.
func newPipeline(t *testing.T, up *mocks.MockUpstream, mutate func(*llm.Config)) *llm.Pipeline {
	t.Helper()
	cc := providers.DefaultClaudeConfig()
	cc.APIKey = "sk-ant-test-key"
	cc.BaseURL = up.URL()
	cc.Timeout = 2 * time.Second
	cfg := llm.Config{Claude: cc, Retry: retry.DefaultPolicy()}
	if mutate != nil {
		mutate(&cfg)
	}

	resolver := testutil.NewFakeResolver(map[string]string{"images.example.com": "93.184.216.34"})
	p, err := llm.New(cfg, nil,
		llm.WithHTTPClient(up.Client()),
		llm.WithURLValidator(safeurl.New(safeurl.WithResolver(resolver))),
		llm.WithRetryOptions(retry.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })),
	)
	require.NoError(t, err)
	return p
}

func postJSON(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}
