package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of a failure.
type ErrorType string

const (
	// ErrorTypeConfiguration indicates missing or invalid process configuration.
	// It is fatal to the whole session and never recorded per endpoint.
	ErrorTypeConfiguration ErrorType = "configuration"

	// ErrorTypeInvalidEndpoint indicates an endpoint id that is not registered.
	ErrorTypeInvalidEndpoint ErrorType = "invalid_endpoint"

	// ErrorTypeUpstream indicates a non-success status from the aggregation API.
	ErrorTypeUpstream ErrorType = "upstream"

	// ErrorTypeMalformedResponse indicates a success status with an unparsable body.
	ErrorTypeMalformedResponse ErrorType = "malformed_response"

	// ErrorTypeNetwork indicates a transport failure before any status was received.
	ErrorTypeNetwork ErrorType = "network"
)

// DefaultUpstreamMessage is used when an error payload carries no message.
const DefaultUpstreamMessage = "API request failed"

// APIError is the canonical error returned by the gateway and the orchestrator.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Message is the human-readable, display-ready message
	Message string `json:"message"`

	// StatusCode is the upstream HTTP status (upstream errors only)
	StatusCode int `json:"-"`

	// EndpointID is the endpoint the failing call targeted, if any
	EndpointID string `json:"endpoint_id,omitempty"`

	// Err is the underlying cause
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status code to report this error with.
func (e *APIError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeUpstream:
		if e.StatusCode != 0 {
			return e.StatusCode
		}
		return http.StatusBadGateway
	case ErrorTypeInvalidEndpoint:
		return http.StatusBadRequest
	case ErrorTypeMalformedResponse, ErrorTypeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new error of the given type.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithStatusCode sets the upstream HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithEndpoint records the endpoint the failing call targeted.
func (e *APIError) WithEndpoint(id string) *APIError {
	e.EndpointID = id
	return e
}

// WithCause attaches the underlying error.
func (e *APIError) WithCause(err error) *APIError {
	e.Err = err
	return e
}

// Convenience constructors

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *APIError {
	return NewAPIError(ErrorTypeConfiguration, message)
}

// ErrInvalidEndpoint creates an invalid endpoint error for id.
func ErrInvalidEndpoint(id string) *APIError {
	return NewAPIError(ErrorTypeInvalidEndpoint, "Invalid model ID").WithEndpoint(id)
}

// ErrUpstream creates an upstream error. An empty message falls back to
// DefaultUpstreamMessage.
func ErrUpstream(status int, message string) *APIError {
	if message == "" {
		message = DefaultUpstreamMessage
	}
	return NewAPIError(ErrorTypeUpstream, message).WithStatusCode(status)
}

// ErrMalformedResponse creates a malformed response error.
func ErrMalformedResponse(cause error) *APIError {
	return NewAPIError(ErrorTypeMalformedResponse, "malformed response from upstream: "+cause.Error()).
		WithCause(cause)
}

// ErrNetwork creates a network error.
func ErrNetwork(cause error) *APIError {
	return NewAPIError(ErrorTypeNetwork, cause.Error()).WithCause(cause)
}

// AsAPIError extracts an *APIError from err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsType reports whether err carries an *APIError of type t.
func IsType(err error, t ErrorType) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Type == t
}

// DisplayMessage returns the message shown in place of a response for a
// failed endpoint.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := AsAPIError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
