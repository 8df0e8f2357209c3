// MockUpstream 是 Anthropic API 的测试模拟实现。
//
// 支持脚本化响应序列、请求记录与故障注入场景。
package mocks

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// --- 响应脚本 ---

// Response is one scripted reply. Handler, when set, takes over entirely.
type Response struct {
	Status  int
	Header  http.Header
	Body    string
	Delay   time.Duration
	Handler http.HandlerFunc
}

// Status replies with an empty body.
func Status(code int) Response { return Response{Status: code} }

// JSON replies with a JSON body.
func JSON(code int, body string) Response {
	return Response{Status: code, Body: body, Header: http.Header{"Content-Type": []string{"application/json"}}}
}

// SSE replies with an event stream.
func SSE(body string) Response {
	return Response{Status: http.StatusOK, Body: body, Header: http.Header{"Content-Type": []string{"text/event-stream"}}}
}

// WithHeader adds a header to the reply.
func (r Response) WithHeader(key, value string) Response {
	if r.Header == nil {
		r.Header = http.Header{}
	} else {
		r.Header = r.Header.Clone()
	}
	r.Header.Set(key, value)
	return r
}

// WithDelay delays the reply.
func (r Response) WithDelay(d time.Duration) Response {
	r.Delay = d
	return r
}

// --- MockUpstream 结构 ---

// RecordedRequest is what the upstream saw.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

// MockUpstream serves scripted responses in order; when the script runs out
// it repeats the fallback.
type MockUpstream struct {
	mu       sync.Mutex
	server   *httptest.Server
	script   []Response
	fallback Response
	requests []RecordedRequest
}

// NewMockUpstream starts a server that is closed with the test.
func NewMockUpstream(t testing.TB) *MockUpstream {
	m := &MockUpstream{fallback: Status(http.StatusInternalServerError)}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.server.Close)
	return m
}

// Enqueue appends scripted responses.
func (m *MockUpstream) Enqueue(rs ...Response) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, rs...)
	return m
}

// WithFallback sets the reply used once the script is empty.
func (m *MockUpstream) WithFallback(r Response) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = r
	return m
}

// URL is the server base URL.
func (m *MockUpstream) URL() string { return m.server.URL }

// Client returns a client for the server.
func (m *MockUpstream) Client() *http.Client { return m.server.Client() }

// Requests returns a copy of everything received.
func (m *MockUpstream) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// Calls returns the number of requests received.
func (m *MockUpstream) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockUpstream) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	resp := m.fallback
	if len(m.script) > 0 {
		resp = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if resp.Handler != nil {
		resp.Handler(w, r)
		return
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}
