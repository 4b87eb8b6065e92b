// Package kerr defines the error taxonomy of the server core: the cache,
// the pipeline driver and the rate limiter signal request failures through
// this package, so the pipeline has a status code and a log-friendly kind
// at the point the error response is built.
package kerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the closed failure taxonomy. Unlike an application's open
// business-error codes, this set never grows without a corresponding spec
// change: every kind maps to exactly one wire behavior.
type Kind string

const (
	BadRequest             Kind = "BAD_REQUEST"
	NotFound               Kind = "NOT_FOUND"
	MethodNotAllowed       Kind = "METHOD_NOT_ALLOWED"
	NotAcceptable          Kind = "NOT_ACCEPTABLE"
	PayloadTooLarge        Kind = "PAYLOAD_TOO_LARGE"
	HTTPVersionUnsupported Kind = "HTTP_VERSION_UNSUPPORTED"
	RateLimited            Kind = "RATE_LIMITED"
	UpstreamIO             Kind = "UPSTREAM_IO"
	UpstreamParse          Kind = "UPSTREAM_PARSE"
	UpstreamTimeout        Kind = "UPSTREAM_TIMEOUT"
	InternalIO             Kind = "INTERNAL_IO"
)

// Error is the concrete error type carried through the pipeline.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusCode maps a Kind to its corresponding HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case NotAcceptable:
		return http.StatusNotAcceptable
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case HTTPVersionUnsupported:
		return http.StatusHTTPVersionNotSupported
	case RateLimited:
		return http.StatusTooManyRequests
	case UpstreamIO, UpstreamParse:
		return http.StatusBadGateway
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case InternalIO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func BadRequestf(format string, args ...interface{}) *Error {
	return New(BadRequest, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func MethodNotAllowedf(format string, args ...interface{}) *Error {
	return New(MethodNotAllowed, fmt.Sprintf(format, args...))
}

func NotAcceptablef(format string, args ...interface{}) *Error {
	return New(NotAcceptable, fmt.Sprintf(format, args...))
}

func InternalIOf(cause error, format string, args ...interface{}) *Error {
	return Wrap(InternalIO, fmt.Sprintf(format, args...), cause)
}
