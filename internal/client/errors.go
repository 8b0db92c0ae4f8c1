package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"deploytime/sync-agent/internal/models"
)

// NetworkError means no usable response was received (dial failure, timeout,
// cancelled context, unreadable body).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError is returned for 401 responses. The client has already dropped its
// token by the time the caller sees it.
type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Message
}

type RateLimitError struct {
	Message    string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// ValidationError covers every other 4xx: the request was understood and
// rejected, so repeating it gives the same answer.
type ValidationError struct {
	Message    string
	StatusCode int
	Body       []byte
}

func (e *ValidationError) Error() string {
	return e.Message
}

type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return e.Message
}

// IsRetryable reports whether the request may succeed if sent again later.
func IsRetryable(err error) bool {
	var (
		netErr     *NetworkError
		backendErr *BackendError
		rateErr    *RateLimitError
	)
	return errors.As(err, &netErr) || errors.As(err, &backendErr) || errors.As(err, &rateErr)
}

func IsUnauthorized(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTerminal reports a rejection that must not be queued for retry.
func IsTerminal(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// IsNotFound reports a 404 from the backend.
func IsNotFound(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr) && valErr.StatusCode == http.StatusNotFound
}

// ActiveEntryConflict returns the running entry named by a 400 that refused
// to start a second timer, nil for any other error.
func ActiveEntryConflict(err error) *models.TimeEntry {
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.StatusCode != http.StatusBadRequest {
		return nil
	}
	var body struct {
		ActiveEntry *models.TimeEntry `json:"active_entry"`
	}
	if json.Unmarshal(valErr.Body, &body) != nil || body.ActiveEntry == nil || body.ActiveEntry.ID == 0 {
		return nil
	}
	return body.ActiveEntry
}

func classify(status int, message string, body []byte) error {
	switch {
	case status == http.StatusUnauthorized:
		return &AuthError{Message: message, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Message: message, StatusCode: status}
	case status >= 400 && status < 500:
		return &ValidationError{Message: message, StatusCode: status, Body: body}
	default:
		return &BackendError{Message: message, StatusCode: status}
	}
}
