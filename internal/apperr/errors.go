// Package apperr defines the error taxonomy shared by the provider adapter,
// the job runtime and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure. Each kind has a distinct user-visible code.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindUpstreamBusiness  Kind = "UPSTREAM_ERROR"
	KindUpstreamTransport Kind = "UPSTREAM_UNAVAILABLE"
	KindGenerationFailed  Kind = "GENERATION_FAILED"
	KindTimeout           Kind = "TIMEOUT"
	KindUnsupported       Kind = "UNSUPPORTED"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// Error is the structured error carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	// Status is the upstream HTTP status or envelope code, when known.
	Status int
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error onto the status returned to API clients.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindUnsupported:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamBusiness:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusInternalServerError
	case KindUpstreamTransport:
		if isTimeout(e.Cause) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(message string) *Error { return New(KindValidation, message) }

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func Unsupported(feature string) *Error {
	return Newf(KindUnsupported, "%s is not supported by the current upstream provider", feature)
}

// Upstream reports a provider envelope with code != 200. The message is the
// provider's msg verbatim.
func Upstream(status int, msg string) *Error {
	return &Error{Kind: KindUpstreamBusiness, Message: msg, Status: status}
}

func Transport(cause error) *Error {
	return Wrap(cause, KindUpstreamTransport, "upstream request failed")
}

func GenerationFailed(msg string) *Error {
	if msg == "" {
		msg = "unknown"
	}
	return New(KindGenerationFailed, msg)
}

func Timeout(taskID string) *Error {
	return Newf(KindTimeout, "timeout waiting for task %s", taskID)
}

func Internal(cause error) *Error {
	return Wrap(cause, KindInternal, "internal error")
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage is safe to show to API clients.
func PublicMessage(err error) string {
	e, ok := As(err)
	if !ok || e.Kind == KindInternal {
		return "Internal server error"
	}
	return e.Message
}

// Retryable reports whether a background run should be attempted again:
// transport failures, poll timeouts, upstream 429/5xx, and messages that
// mention CAPTCHA, timeout or network.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := As(err); ok {
		switch e.Kind {
		case KindUpstreamTransport, KindTimeout:
			return true
		case KindUpstreamBusiness:
			if e.Status == http.StatusTooManyRequests || e.Status >= 500 {
				return true
			}
		case KindValidation, KindUnauthorized, KindUnsupported, KindNotFound:
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "captcha") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "network")
}

// Recoverable reports whether a poll tick may swallow err and try again.
// Client-side upstream rejections other than 429 end the poll.
func Recoverable(err error) bool {
	e, ok := As(err)
	if !ok {
		return true
	}
	switch e.Kind {
	case KindUpstreamTransport:
		return true
	case KindUpstreamBusiness:
		return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
	default:
		return false
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
