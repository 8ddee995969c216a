// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-simulator/internal/simerr"
)

// ErrorType constants.
const (
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypePermissionErr     = "permission_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeRequestTimeout    = "request_timeout"
	CodeInvalidRequest    = "invalid_request"
	CodeServiceShutdown   = "service_shutting_down"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param,omitempty"`
		Code    string `json:"code,omitempty"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteSimError renders any error from the simulation engine. *simerr.Error
// values carry their own status, type, param, and code; anything else is a
// 500. Injected rate-limit errors get a Retry-After header.
func WriteSimError(ctx *fasthttp.RequestCtx, err error) {
	var se *simerr.Error
	if !errors.As(err, &se) {
		Write(ctx, fasthttp.StatusInternalServerError, err.Error(), TypeServerError, CodeInternalError)
		return
	}

	if se.RetryAfter > 0 {
		secs := int(se.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(secs))
	}

	ctx.SetStatusCode(se.StatusCode())
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: se.Message,
		Type:    se.Type(),
		Param:   se.Param,
		Code:    se.Code,
	}})
	ctx.SetBody(body)
}

// WriteAuth writes a 401 with the invalid_api_key code.
func WriteAuth(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusUnauthorized, message, TypeAuthenticationErr, CodeInvalidAPIKey)
}

// WriteForbidden writes a 403.
func WriteForbidden(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusForbidden, message, TypePermissionErr, "")
}

// WriteRateLimit writes a 429 with rate-limit headers.
//
//	Retry-After           — whole seconds, minimum 1
//	X-RateLimit-Limit     — requests per minute for the caller's tier
//	X-RateLimit-Remaining — always 0 on a denial
//	X-RateLimit-Reset     — seconds until a token is available
func WriteRateLimit(ctx *fasthttp.RequestCtx, limit int, retryAfter time.Duration) {
	secs := int(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(secs))
	ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	ctx.Response.Header.Set("X-RateLimit-Remaining", "0")
	ctx.Response.Header.Set("X-RateLimit-Reset", strconv.Itoa(secs))
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}

// WriteShutdown writes a 503 for requests arriving during drain.
func WriteShutdown(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Connection", "close")
	Write(ctx, fasthttp.StatusServiceUnavailable, "server is shutting down", TypeServerError, CodeServiceShutdown)
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "request timed out", TypeServerError, CodeRequestTimeout)
}
