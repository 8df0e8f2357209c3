package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/BaSui01/claudegate/llm/providers"
	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
)

// maxModelPages bounds pagination against a misbehaving upstream.
const maxModelPages = 20

type modelsPage struct {
	Data    []ModelInfo `json:"data"`
	HasMore bool        `json:"has_more"`
	LastID  string      `json:"last_id"`
}

// ListModels fetches GET /v1/models, following pagination, and keeps only
// Claude models. It is a single attempt per page; the catalog handles
// staleness and fallbacks.
func (e *Executor) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var (
		out     []ModelInfo
		afterID string
	)
	for page := 0; page < maxModelPages; page++ {
		p, err := e.modelsPage(ctx, afterID)
		if err != nil {
			return nil, err
		}
		for _, m := range p.Data {
			if !strings.HasPrefix(m.ID, "claude") {
				continue
			}
			if m.DisplayName == "" {
				m.DisplayName = m.ID
			}
			out = append(out, m)
		}
		if !p.HasMore || p.LastID == "" {
			break
		}
		afterID = p.LastID
	}
	e.logger.Debug("models listed", zap.Int("count", len(out)))
	return out, nil
}

func (e *Executor) modelsPage(ctx context.Context, afterID string) (*modelsPage, error) {
	q := url.Values{"limit": []string{"1000"}}
	if afterID != "" {
		q.Set("after_id", afterID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint("/v1/models")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewError(types.KindUnknown, "failed to build request").WithCause(err)
	}
	e.setHeaders(req)
	req.Header.Del("Content-Type")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, providers.ClassifyTransportError(ctx, err)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), resp.Header)
	}

	var p modelsPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, e.cfg.MaxResponseBytes)).Decode(&p); err != nil {
		return nil, types.NewError(types.KindDecode, "malformed models response").
			WithReason(types.ReasonMalformed).WithCause(err)
	}
	return &p, nil
}
