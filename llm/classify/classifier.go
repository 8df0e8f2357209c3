package classify

import (
	"errors"
	"time"

	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 对外消息表。内容固定，不拼接任何上游文本。
const (
	MsgConfigMissing     = "API key not configured. Add your API key in the pipeline settings."
	MsgAuth              = "Invalid API key. Check your ANTHROPIC_API_KEY."
	MsgRateLimited       = "Rate limit exceeded. Please wait a moment."
	MsgTimeout           = "Request timed out. Please try again."
	MsgUpstream          = "Anthropic API is temporarily unavailable."
	MsgConnection        = "Cannot connect to Anthropic API."
	MsgImageTooLarge     = "Image too large (max 5MB)."
	MsgUnsupportedImage  = "Unsupported image format. Use JPEG, PNG, GIF or WebP."
	MsgEmptyConversation = "Conversation is empty."
	MsgInvalid           = "Invalid request."
	MsgSSRF              = "Image URL blocked for security reasons."
	MsgRequestFailed     = "API request failed."
	MsgStreamInterrupted = "Stream interrupted."
	MsgCancelled         = "Request cancelled."
	MsgUnknown           = "Unexpected error, see server logs."
)

// Recorder counts classified errors. *metrics.Collector satisfies it.
type Recorder interface {
	RecordError(kind, reason string)
	RecordSSRFBlock(reason string)
}

// Detail is request context logged alongside a failure.
type Detail struct {
	RequestID string
	Model     string
	Latency   time.Duration
}

// Classifier maps internal errors to SafeErrors. The full error goes to the
// log, the user only ever sees a message from the table above.
type Classifier struct {
	logger   *zap.Logger
	recorder Recorder
}

// New creates a Classifier. recorder may be nil.
func New(logger *zap.Logger, recorder Recorder) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		logger:   logger.With(zap.String("component", "classifier")),
		recorder: recorder,
	}
}

// Classify returns nil for a nil error and passes an existing SafeError
// through unchanged. Every other error yields exactly one log record and one
// metric increment.
func (c *Classifier) Classify(err error, d Detail) *types.SafeError {
	if err == nil {
		return nil
	}
	if se, ok := types.AsSafeError(err); ok {
		return se
	}

	kind := types.KindOf(err)
	var (
		reason   types.Reason
		status   int
		attempts int
	)
	ie, isTyped := types.AsError(err)
	if isTyped {
		reason, status, attempts = ie.Reason, ie.HTTPStatus, ie.Attempts
	}

	msgKind, msgReason := kind, reason
	if kind == types.KindRetryExhausted {
		if last := ie.LastFailure(); last != nil {
			msgKind, msgReason = last.Kind, last.Reason
			if reason == "" {
				reason = last.Reason
			}
			if status == 0 {
				status = last.HTTPStatus
			}
		} else {
			msgKind = types.KindUnknown
		}
	}

	safe := &types.SafeError{
		Kind:      kind,
		Reason:    reason,
		Message:   Message(msgKind, msgReason),
		Retryable: retryHint(msgKind),
		RequestID: d.RequestID,
	}

	c.log(err, safe, status, attempts, d, isTyped)
	if c.recorder != nil {
		c.recorder.RecordError(string(kind), string(reason))
		if kind == types.KindSSRFBlocked {
			c.recorder.RecordSSRFBlock(string(reason))
		}
	}
	return safe
}

// Error is Classify returning an error value, nil-safe.
func (c *Classifier) Error(err error, d Detail) error {
	if se := c.Classify(err, d); se != nil {
		return se
	}
	return nil
}

// Message returns the user-facing message for a kind and reason.
func Message(kind types.Kind, reason types.Reason) string {
	switch kind {
	case types.KindConfigMissing:
		return MsgConfigMissing
	case types.KindAuth:
		return MsgAuth
	case types.KindRateLimited:
		return MsgRateLimited
	case types.KindTimeout:
		return MsgTimeout
	case types.KindUpstreamServer:
		if reason == types.ReasonConnection {
			return MsgConnection
		}
		return MsgUpstream
	case types.KindValidation:
		switch reason {
		case types.ReasonImageTooLarge:
			return MsgImageTooLarge
		case types.ReasonUnsupportedImageFormat:
			return MsgUnsupportedImage
		case types.ReasonEmptyConversation:
			return MsgEmptyConversation
		}
		return MsgInvalid
	case types.KindSSRFBlocked:
		return MsgSSRF
	case types.KindInvalidRequest:
		return MsgRequestFailed
	case types.KindDecode:
		return MsgStreamInterrupted
	case types.KindCancelled:
		return MsgCancelled
	}
	return MsgUnknown
}

func retryHint(k types.Kind) bool {
	switch k {
	case types.KindRateLimited, types.KindTimeout, types.KindUpstreamServer, types.KindDecode:
		return true
	}
	return false
}

func (c *Classifier) log(err error, safe *types.SafeError, status, attempts int, d Detail, typed bool) {
	level := levelFor(safe.Kind)
	if safe.Kind == types.KindRetryExhausted && safe.Message == MsgUnknown {
		level = zapcore.ErrorLevel
	}
	if !typed && safe.Kind == types.KindUnknown {
		level = zapcore.ErrorLevel
	}
	ce := c.logger.Check(level, "request failed")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("kind", string(safe.Kind)),
		zap.String("reason", string(safe.Reason)),
		zap.Int("status", status),
		zap.Int("attempts", attempts),
		zap.Duration("latency", d.Latency),
		zap.String("request_id", d.RequestID),
		zap.Error(err),
	}
	if d.Model != "" {
		fields = append(fields, zap.String("model", d.Model))
	}
	var ie *types.Error
	if errors.As(err, &ie) && ie.RetryAfter > 0 {
		fields = append(fields, zap.Duration("retry_after", ie.RetryAfter))
	}
	ce.Write(fields...)
}

func levelFor(k types.Kind) zapcore.Level {
	switch k {
	case types.KindValidation, types.KindSSRFBlocked, types.KindCancelled, types.KindConfigMissing:
		return zapcore.InfoLevel
	case types.KindUnknown:
		return zapcore.ErrorLevel
	}
	return zapcore.WarnLevel
}
