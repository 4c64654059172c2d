package client

import (
	"errors"
	"fmt"
)

// ErrInvalidTarget is returned when a listing target is not an absolute
// http(s) URL.
var ErrInvalidTarget = errors.New("invalid target")

// APIError represents a failed storage API request.
type APIError struct {
	// StatusCode is 0 for transport failures.
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	URL        string
	// Body holds the start of the error response body, if any.
	Body string
	Err  error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("storage API %s error", e.ErrorClass)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	msg += ": " + e.Message
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsHTTPStatus reports whether err is an APIError carrying the given status.
func IsHTTPStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
