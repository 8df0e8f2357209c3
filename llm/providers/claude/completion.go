package claude

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/BaSui01/claudegate/types"
)

// DecodeCompletion reads a non-streaming response body and aggregates its
// text blocks. The body has already been bounded by the Executor.
func DecodeCompletion(body io.Reader) (*Completion, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, types.NewError(types.KindDecode, "failed to read response").
			WithReason(types.ReasonTruncated).WithCause(err)
	}

	var resp MessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, types.NewError(types.KindDecode, "malformed response body").
			WithReason(types.ReasonMalformed).WithCause(err)
	}
	if resp.Type == "error" {
		var env struct {
			Error *apiError `json:"error"`
		}
		_ = json.Unmarshal(data, &env)
		return nil, upstreamEventError(env.Error)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Completion{
		ID:         resp.ID,
		Model:      resp.Model,
		Text:       sb.String(),
		StopReason: resp.StopReason,
		Usage:      resp.Usage,
	}, nil
}
