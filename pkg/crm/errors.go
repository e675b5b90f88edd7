package crm

import (
	"errors"
	"fmt"
)

// Configuration errors, surfaced before any fetch begins.
var (
	// ErrMissingBaseURL is returned when the client is created without a base URL.
	ErrMissingBaseURL = errors.New("crm: base URL is required")

	// ErrMissingToken is returned when the client is created without an API credential.
	ErrMissingToken = errors.New("crm: API token is required")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents malformed response payloads.
	ErrorClassDecode ErrorClass = "decode"
)

// APIError represents a failed CRM API call with classification context.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crm %s error (status %d) on %s: %s: %v",
			e.Class, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("crm %s error (status %d) on %s: %s",
		e.Class, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus categorizes an HTTP status code for observability.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
