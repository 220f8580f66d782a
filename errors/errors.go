package errors

import (
	"errors"
	"fmt"
)

// maxBodySnippet bounds how much of a response body an error keeps.
const maxBodySnippet = 4096

// Error represents a mirror operation error with context about the operation that failed.
// Op is assigned when the request is initiated, so the error identifies its call site
// without any stack inspection.
type Error struct {
	// Op is the operation that failed (e.g., "gitee.createRelease", "cnb.verify")
	Op string

	// Destination is the destination id (if applicable)
	Destination string

	// Asset is the asset name (if applicable)
	Asset string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Destination != "" && e.Asset != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.Destination, e.Asset, e.Err)
	}
	if e.Destination != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Destination, e.Err)
	}
	if e.Asset != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Asset, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDestination adds destination context to an existing error.
func (e *Error) WithDestination(destination string) *Error {
	e.Destination = destination
	return e
}

// WithAsset adds asset context to an existing error.
func (e *Error) WithAsset(asset string) *Error {
	e.Asset = asset
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewAssetError creates a new Error with destination and asset context.
func NewAssetError(op, destination, asset string, err error) *Error {
	return &Error{
		Op:          op,
		Destination: destination,
		Asset:       asset,
		Err:         err,
	}
}

// TransportError is a connection, DNS or timeout failure before any response was received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a response whose status is outside 2xx.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// NewHTTPStatusError creates an HTTPStatusError keeping at most 4 KiB of body.
func NewHTTPStatusError(status int, body []byte) *HTTPStatusError {
	return &HTTPStatusError{StatusCode: status, Body: snippet(body)}
}

// ProtocolError is a 2xx response that is missing or has a malformed expected field.
type ProtocolError struct {
	Field  string
	Reason string
	Body   string
}

func (e *ProtocolError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "missing"
	}
	if e.Body == "" {
		return fmt.Sprintf("protocol: field %q %s", e.Field, reason)
	}
	return fmt.Sprintf("protocol: field %q %s in response %s", e.Field, reason, e.Body)
}

// NewProtocolError creates a ProtocolError for field, keeping at most 4 KiB of body.
func NewProtocolError(field, reason string, body []byte) *ProtocolError {
	return &ProtocolError{Field: field, Reason: reason, Body: snippet(body)}
}

func snippet(body []byte) string {
	if len(body) > maxBodySnippet {
		return string(body[:maxBodySnippet]) + "..."
	}
	return string(body)
}

// Sentinel errors for common mirror failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("mirror: invalid input")

	// ErrInvalidConfig indicates that the configuration is invalid
	ErrInvalidConfig = errors.New("mirror: invalid configuration")

	// ErrAssetFetch indicates that an asset could not be fetched from the source host;
	// it is fatal to the whole run
	ErrAssetFetch = errors.New("mirror: asset fetch failed")

	// ErrNoDestinations indicates that no destination is configured
	ErrNoDestinations = errors.New("mirror: no destinations configured")

	// ErrCanceled indicates that the run was canceled before the destination finished
	ErrCanceled = errors.New("mirror: run canceled")
)

// IsAssetFetch checks if an error is a fatal source-host asset fetch failure.
func IsAssetFetch(err error) bool {
	return errors.Is(err, ErrAssetFetch)
}

// IsInvalidConfig checks if an error indicates an invalid configuration.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsCanceled checks if an error was caused by run cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// StatusCode returns the HTTP status carried by err, or 0 when there is none.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
