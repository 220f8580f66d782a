// Package errors provides the error model of the release mirror.
// It extends Go's standard error handling with operation-tagged errors,
// a small transport/status/protocol taxonomy and string error codes that
// classify a failure for reporting.
package errors

import (
	"context"
	"errors"
	"net/http"
)

// ErrorCode represents a specific error condition reported by the mirror.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Resource errors.

	// CodeNotFound indicates a requested resource does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict indicates a resource state conflict, e.g. a release tag that already exists.
	CodeConflict ErrorCode = "CONFLICT"

	// Permission errors.

	// CodeUnauthorized indicates the request lacks valid authentication credentials.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeForbidden indicates the token lacks permission for the operation.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// Validation errors.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration error prevents the operation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// Infrastructure errors.

	// CodeNetwork indicates a network operation failed before a response arrived.
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCanceled indicates the run was canceled before the operation finished.
	CodeCanceled ErrorCode = "CANCELED"

	// CodeRateLimit indicates the destination rate limit has been exceeded.
	CodeRateLimit ErrorCode = "RATE_LIMIT_EXCEEDED"

	// CodeUnavailable indicates the host is temporarily unavailable.
	CodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Execution errors.

	// CodePublishFailed indicates a host answered but did not accept the release or asset.
	CodePublishFailed ErrorCode = "PUBLISH_FAILED"

	// Generic errors.

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Code classifies err into an ErrorCode by walking its chain.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return codeForStatus(statusErr.StatusCode)
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return CodePublishFailed
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCanceled):
		return CodeCanceled
	case errors.Is(err, ErrInvalidConfig):
		return CodeInvalidConfig
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return CodeNetwork
	}

	return CodeUnknown
}

func codeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return CodeConflict
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return CodeTimeout
	case status >= 500:
		return CodeUnavailable
	default:
		return CodePublishFailed
	}
}
