package claude

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/BaSui01/claudegate/llm/streaming"
	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
)

// State is the decoder lifecycle.
type State int

const (
	StateAwaitingStart State = iota
	StateStreaming
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting_start"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Decoder turns an SSE body into an ordered sequence of Events. Call Next
// until it returns an error; io.EOF means the stream completed. Events
// already returned are never retracted, even if the stream later aborts.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	ctx    context.Context
	body   io.ReadCloser
	frames *streaming.FrameReader
	logger *zap.Logger

	state      State
	err        error
	transcript strings.Builder
	id         string
	model      string
	stopReason string
	usage      Usage

	closeOnce sync.Once
}

// NewDecoder wraps a streaming response body. ctx is the request context;
// read failures after it ends are reported as Cancelled or Timeout.
func NewDecoder(ctx context.Context, body io.ReadCloser, maxFrameBytes int, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{
		ctx:    ctx,
		body:   body,
		frames: streaming.NewFrameReader(body, maxFrameBytes),
		logger: logger.With(zap.String("component", "decoder")),
	}
}

// State returns the current state.
func (d *Decoder) State() State { return d.state }

// Err returns the abort error, if any.
func (d *Decoder) Err() error { return d.err }

// Transcript returns the text delivered so far.
func (d *Decoder) Transcript() string { return d.transcript.String() }

// Result returns the aggregate once the stream has completed.
func (d *Decoder) Result() (*Completion, bool) {
	if d.state != StateCompleted {
		return nil, false
	}
	return &Completion{
		ID:         d.id,
		Model:      d.model,
		Text:       d.transcript.String(),
		StopReason: d.stopReason,
		Usage:      d.usage,
	}, true
}

// Next returns the next event.
func (d *Decoder) Next() (Event, error) {
	switch d.state {
	case StateCompleted:
		return Event{}, io.EOF
	case StateAborted:
		return Event{}, d.err
	}

	for {
		frame, err := d.frames.Next()
		if err != nil {
			return Event{}, d.abort(d.readError(err))
		}
		if strings.TrimSpace(frame.Data) == "[DONE]" {
			return d.complete(), nil
		}
		if frame.Data == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(frame.Data), &ev); err != nil {
			return Event{}, d.abort(types.NewError(types.KindDecode, "malformed event payload").
				WithReason(types.ReasonMalformed).WithCause(err))
		}
		if ev.Type == "" {
			ev.Type = frame.Event
		}

		out, emit, err := d.handle(ev)
		if err != nil {
			return Event{}, d.abort(err)
		}
		if emit {
			return out, nil
		}
	}
}

func (d *Decoder) handle(ev streamEvent) (Event, bool, error) {
	switch ev.Type {
	case "ping", "content_block_stop":
		return Event{}, false, nil

	case "message_start":
		d.state = StateStreaming
		if ev.Message == nil {
			return Event{}, false, nil
		}
		d.id, d.model = ev.Message.ID, ev.Message.Model
		d.usage = ev.Message.Usage
		usage := d.usage
		return Event{Type: EventMessageStart, MessageID: d.id, Model: d.model, Usage: &usage}, true, nil

	case "content_block_start":
		d.state = StateStreaming
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "text" && ev.ContentBlock.Text != "" {
			return d.text(ev.Index, ev.ContentBlock.Text), true, nil
		}
		return Event{}, false, nil

	case "content_block_delta":
		d.state = StateStreaming
		if ev.Delta != nil && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
			return d.text(ev.Index, ev.Delta.Text), true, nil
		}
		return Event{}, false, nil

	case "message_delta":
		d.state = StateStreaming
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			d.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			d.usage.OutputTokens = ev.Usage.OutputTokens
			if ev.Usage.InputTokens > 0 {
				d.usage.InputTokens = ev.Usage.InputTokens
			}
		}
		usage := d.usage
		return Event{Type: EventMessageDelta, StopReason: d.stopReason, Usage: &usage}, true, nil

	case "message_stop":
		return d.complete(), true, nil

	case "error":
		return Event{}, false, upstreamEventError(ev.Error)
	}

	d.logger.Debug("ignoring unknown stream event", zap.String("type", ev.Type))
	return Event{}, false, nil
}

func (d *Decoder) text(index int, s string) Event {
	d.transcript.WriteString(s)
	return Event{Type: EventTextDelta, Index: index, Text: s}
}

func (d *Decoder) complete() Event {
	d.state = StateCompleted
	d.closeBody()
	usage := d.usage
	return Event{Type: EventDone, MessageID: d.id, Model: d.model, StopReason: d.stopReason, Usage: &usage}
}

func (d *Decoder) abort(err error) error {
	d.state = StateAborted
	d.err = err
	d.closeBody()
	d.logger.Debug("stream aborted",
		zap.String("kind", string(types.KindOf(err))),
		zap.Int("delivered_bytes", d.transcript.Len()))
	return err
}

func (d *Decoder) readError(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return types.NewError(types.KindDecode, "stream ended before message_stop").WithReason(types.ReasonTruncated)
	case errors.Is(err, streaming.ErrTruncatedFrame):
		return types.NewError(types.KindDecode, "stream ended inside an event").WithReason(types.ReasonTruncated).WithCause(err)
	case errors.Is(err, streaming.ErrFrameTooLarge):
		return types.NewError(types.KindDecode, "event exceeds frame limit").WithReason(types.ReasonOversized).WithCause(err)
	}
	if ctxErr := d.ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return types.NewError(types.KindTimeout, "stream deadline exceeded").WithCause(err)
		}
		return types.NewError(types.KindCancelled, "stream cancelled").WithCause(err)
	}
	return types.NewError(types.KindDecode, "stream read failed").WithReason(types.ReasonTruncated).WithCause(err)
}

// upstreamEventError maps an in-stream error event.
func upstreamEventError(ae *apiError) error {
	if ae == nil {
		return types.NewError(types.KindDecode, "upstream error event").WithReason(types.ReasonUpstreamEvent)
	}
	switch ae.Type {
	case "overloaded_error":
		return types.NewError(types.KindUpstreamServer, ae.Message).WithReason(types.ReasonOverloaded)
	case "api_error":
		return types.NewError(types.KindUpstreamServer, ae.Message)
	case "rate_limit_error":
		return types.NewError(types.KindRateLimited, ae.Message)
	}
	return types.NewError(types.KindDecode, ae.Type+": "+ae.Message).WithReason(types.ReasonUpstreamEvent)
}

// Close releases the body. A stream closed before completion ends Aborted
// with Cancelled.
func (d *Decoder) Close() error {
	if d.state == StateAwaitingStart || d.state == StateStreaming {
		d.state = StateAborted
		d.err = types.NewError(types.KindCancelled, "stream closed by consumer")
	}
	return d.closeBody()
}

func (d *Decoder) closeBody() error {
	var err error
	d.closeOnce.Do(func() {
		if d.body != nil {
			err = d.body.Close()
		}
	})
	return err
}

// Drain reads the stream to its end and returns the aggregate.
func (d *Decoder) Drain() (*Completion, error) {
	for {
		if _, err := d.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				c, _ := d.Result()
				return c, nil
			}
			return nil, err
		}
	}
}
