package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnreachable is matched by every *ConnectionError.
var ErrUnreachable = errors.New("controller unreachable")

// ErrForeignURI is matched by every *ForeignURIError.
var ErrForeignURI = errors.New("uri points outside the controller")

// ForeignURIError rejects an absolute URI whose scheme or host differs from
// the controller's base URL. No request is sent.
type ForeignURIError struct {
	URI  string
	Base string
}

func (e *ForeignURIError) Error() string {
	return fmt.Sprintf("refusing to send credentials to %s: controller is %s", e.URI, e.Base)
}

func (e *ForeignURIError) Unwrap() error {
	return ErrForeignURI
}

// HTTPError is returned for non-2xx responses. Body holds the raw response
// body so the vendor error envelope can be parsed later.
type HTTPError struct {
	StatusCode int
	Reason     string
	Method     string
	URL        string
	Body       []byte
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, reason)
}

// Transient reports whether the status is worth retrying for read-only calls.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ConnectionError wraps failures that happen before a response is received:
// refused connections, DNS failures, TLS errors and client timeouts.
type ConnectionError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnreachable) true for connection errors.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrUnreachable
}

// IsUnreachable returns true if err is a connection-level failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// AsHTTPError extracts an *HTTPError from err.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// IsStatus returns true if err is an HTTP error with the given status code.
func IsStatus(err error, status int) bool {
	he, ok := AsHTTPError(err)
	return ok && he.StatusCode == status
}

// IsTransient returns true for errors a read-only caller may retry.
func IsTransient(err error) bool {
	if IsUnreachable(err) {
		return true
	}
	if he, ok := AsHTTPError(err); ok {
		return he.Transient()
	}
	return false
}
