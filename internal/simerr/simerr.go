// Package simerr defines the error kinds produced by the simulation engine
// and their mapping to HTTP status codes and OpenAI-style error type strings.
package simerr

import (
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a simulator error.
type Kind int

const (
	KindConfig Kind = iota
	KindValidation
	KindNotFound
	KindRateLimited
	KindTimeout
	KindAuthentication
	KindPermission
	KindUnavailable
	KindContextLength
	KindInjected
	KindInternal
)

// InjectedType identifies the synthetic error class produced by the chaos
// engine. The wire strings match the snake_case names used in config files.
type InjectedType string

const (
	InjectRateLimit      InjectedType = "rate_limit"
	InjectTimeout        InjectedType = "timeout"
	InjectServerError    InjectedType = "server_error"
	InjectBadGateway     InjectedType = "bad_gateway"
	InjectUnavailable    InjectedType = "service_unavailable"
	InjectAuthentication InjectedType = "authentication_error"
	InjectInvalidRequest InjectedType = "invalid_request"
	InjectContextLength  InjectedType = "context_length_exceeded"
)

// DefaultStatus returns the HTTP status a chaos rule of this type produces
// when the rule does not override it.
func (t InjectedType) DefaultStatus() int {
	switch t {
	case InjectRateLimit:
		return http.StatusTooManyRequests
	case InjectTimeout:
		return http.StatusGatewayTimeout
	case InjectServerError:
		return http.StatusInternalServerError
	case InjectBadGateway:
		return http.StatusBadGateway
	case InjectUnavailable:
		return http.StatusServiceUnavailable
	case InjectAuthentication:
		return http.StatusUnauthorized
	case InjectInvalidRequest, InjectContextLength:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Label returns the error_type string rendered on the wire for this type.
func (t InjectedType) Label() string {
	switch t {
	case InjectRateLimit:
		return "rate_limit_exceeded"
	case InjectTimeout:
		return "timeout"
	case InjectServerError:
		return "server_error"
	case InjectBadGateway:
		return "bad_gateway"
	case InjectUnavailable:
		return "service_unavailable"
	case InjectAuthentication:
		return "authentication_error"
	case InjectInvalidRequest:
		return "invalid_request_error"
	case InjectContextLength:
		return "context_length_exceeded"
	default:
		return "api_error"
	}
}

// Error is the simulator's error value. It carries enough information to
// render the OpenAI-style {"error":{...}} envelope without consulting the
// component that produced it.
type Error struct {
	Kind    Kind
	Message string

	// Param is the offending request field for validation errors.
	Param string

	// Code is an optional machine-readable code (e.g. "rate_limit_exceeded").
	Code string

	// Status overrides the kind's default HTTP status when non-zero.
	// Set by injected chaos errors that carry their own status code.
	Status int

	// RetryAfter is surfaced in the Retry-After header on 429 responses.
	RetryAfter time.Duration

	// Delay is an advisory extra latency attached by chaos rules; handlers
	// sleep for it before writing the error.
	Delay time.Duration

	// Injected marks errors synthesized by the chaos engine.
	Injected InjectedType
}

func (e *Error) Error() string { return e.Message }

// StatusCode returns the HTTP status for this error.
func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindValidation, KindContextLength:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Type returns the OpenAI-compatible error type string.
func (e *Error) Type() string {
	if e.Kind == KindInjected {
		switch e.Injected {
		case InjectInvalidRequest:
			return "invalid_request_error"
		case InjectAuthentication:
			return "authentication_error"
		default:
			return "api_error"
		}
	}
	switch e.Kind {
	case KindConfig:
		return "configuration_error"
	case KindValidation:
		return "invalid_request_error"
	case KindNotFound:
		return "not_found_error"
	case KindRateLimited:
		return "rate_limit_error"
	case KindTimeout:
		return "timeout_error"
	case KindAuthentication:
		return "authentication_error"
	case KindPermission:
		return "permission_error"
	case KindUnavailable:
		return "service_unavailable"
	case KindContextLength:
		return "context_length_exceeded"
	default:
		return "internal_error"
	}
}

// ── Constructors ─────────────────────────────────────────────────────────────

// Validation reports a malformed request. param may be empty.
func Validation(param, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Param: param, Message: fmt.Sprintf(format, args...)}
}

// ModelNotFound reports an unknown model id.
func ModelNotFound(model string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("model %q not found", model),
		Param:   "model",
		Code:    "model_not_found",
	}
}

// RateLimited reports a rate-limit denial with a retry hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    "rate limit exceeded",
		Code:       "rate_limit_exceeded",
		RetryAfter: retryAfter,
	}
}

// ContextLengthExceeded reports an input that overflows the model's window.
func ContextLengthExceeded(current, max int) *Error {
	return &Error{
		Kind:    KindContextLength,
		Message: fmt.Sprintf("context length exceeded: %d > %d", current, max),
		Code:    "context_length_exceeded",
	}
}

// Authentication reports a failed key check.
func Authentication(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

// Permission reports an authorization failure (valid key, wrong role).
func Permission(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// Unavailable reports a temporarily unserviceable request (drain, breaker).
func Unavailable(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Internal reports an unexpected failure.
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// Config reports an invalid configuration.
func Config(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// Injected builds a synthetic error for the chaos engine. message may be
// empty, in which case the conventional "Injected <type> error" text is used;
// status may be zero to use the type's default.
func InjectedError(t InjectedType, message string, status int, retryAfter, delay time.Duration) *Error {
	if message == "" {
		message = fmt.Sprintf("Injected %s error", t.Label())
	}
	if status == 0 {
		status = t.DefaultStatus()
	}
	e := &Error{
		Kind:     KindInjected,
		Injected: t,
		Message:  message,
		Status:   status,
		Delay:    delay,
	}
	if t == InjectRateLimit {
		e.RetryAfter = retryAfter
		e.Code = "rate_limit_exceeded"
	}
	return e
}
