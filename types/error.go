package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is the closed set of failure categories the pipeline can report.
type Kind string

const (
	KindConfigMissing  Kind = "CONFIG_MISSING"
	KindValidation     Kind = "VALIDATION_ERROR"
	KindSSRFBlocked    Kind = "SSRF_BLOCKED"
	KindAuth           Kind = "AUTH_ERROR"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindTimeout        Kind = "TIMEOUT"
	KindUpstreamServer Kind = "UPSTREAM_SERVER_ERROR"
	KindInvalidRequest Kind = "INVALID_REQUEST"
	KindDecode         Kind = "DECODE_ERROR"
	KindRetryExhausted Kind = "RETRY_EXHAUSTED"
	KindCancelled      Kind = "CANCELLED"
	KindUnknown        Kind = "UNKNOWN_ERROR"
)

// Reason narrows a Kind. Validation failures always carry one.
type Reason string

// Validation reasons
const (
	ReasonImageTooLarge          Reason = "image_too_large"
	ReasonUnsupportedImageFormat Reason = "unsupported_image_format"
	ReasonEmptyConversation      Reason = "empty_conversation"
	ReasonTooManyTurns           Reason = "too_many_turns"
	ReasonEmptyTurn              Reason = "empty_turn"
	ReasonInvalidRole            Reason = "invalid_role"
	ReasonInvalidImage           Reason = "invalid_image"
	ReasonInvalidParameter       Reason = "invalid_parameter"
)

// SSRF reasons
const (
	ReasonScheme         Reason = "scheme"
	ReasonInvalidURL     Reason = "invalid_url"
	ReasonBlockedHost    Reason = "blocked_host"
	ReasonMetadata       Reason = "metadata_endpoint"
	ReasonPrivateAddress Reason = "private_address"
	ReasonResolution     Reason = "resolution_failed"
	ReasonRedirect       Reason = "redirect"
)

// Transport, upstream and stream reasons
const (
	ReasonMalformedKey  Reason = "malformed_key"
	ReasonForbidden     Reason = "forbidden"
	ReasonNotFound      Reason = "not_found"
	ReasonTooLarge      Reason = "request_too_large"
	ReasonConnection    Reason = "connection"
	ReasonOverloaded    Reason = "overloaded"
	ReasonMalformed     Reason = "malformed_frame"
	ReasonOversized     Reason = "oversized_frame"
	ReasonTruncated     Reason = "truncated"
	ReasonUpstreamEvent Reason = "upstream_error_event"
	ReasonNoFailure     Reason = "no_recorded_failure"
)

// Error is the internal, detail-carrying error. Message and Cause may contain
// upstream text and must never reach an end user; see SafeError.
type Error struct {
	Kind       Kind          `json:"kind"`
	Reason     Reason        `json:"reason,omitempty"`
	Message    string        `json:"message"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	tag := string(e.Kind)
	if e.Reason != "" {
		tag += "/" + string(e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", tag, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", tag, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given kind and message.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewValidationError creates a ValidationError with the given reason.
func NewValidationError(reason Reason, message string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: message}
}

// NewSSRFError creates an SSRFBlocked error. Never retryable.
func NewSSRFError(reason Reason, message string) *Error {
	return &Error{Kind: KindSSRFBlocked, Reason: reason, Message: message}
}

// WithReason sets the reason.
func (e *Error) WithReason(reason Reason) *Error {
	e.Reason = reason
	return e
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the upstream HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRetryAfter records a server-requested delay.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithAttempts records how many outbound attempts were made.
func (e *Error) WithAttempts(n int) *Error {
	e.Attempts = n
	return e
}

// LastFailure returns the failure that ended a RetryExhausted run, if any.
func (e *Error) LastFailure() *Error {
	if e.Kind != KindRetryExhausted || e.Cause == nil {
		return nil
	}
	var last *Error
	if errors.As(e.Cause, &last) {
		return last
	}
	return nil
}

// =============================================================================
// 🔍 错误工具函数
// =============================================================================

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the Kind of err. Bare context errors map to Cancelled or
// Timeout; anything else unrecognised is Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindUnknown
}

// IsKind checks whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// RetryAfterOf returns the server-requested delay carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	if e, ok := AsError(err); ok {
		return e.RetryAfter
	}
	return 0
}

// =============================================================================
// 🛡️ 对外安全错误
// =============================================================================

// SafeError is the only error shape that leaves the pipeline. Message is
// chosen from a fixed table and never contains upstream text.
type SafeError struct {
	Kind      Kind   `json:"kind"`
	Reason    Reason `json:"reason,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *SafeError) Error() string {
	return e.Message
}

// AsSafeError extracts a *SafeError from an error chain.
func AsSafeError(err error) (*SafeError, bool) {
	var e *SafeError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
