package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TransportError reports a failure to complete the HTTP exchange: the
// connection could not be established, was dropped, or the response was
// truncated.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ContentLengthError is returned when the number of body bytes received
// differs from the declared Content-Length. It is wrapped in a TransportError.
type ContentLengthError struct {
	Declared int64
	Received int64
	Range    string
}

func (e *ContentLengthError) Error() string {
	msg := fmt.Sprintf("received response with content-length header set to %d but content length is %d",
		e.Declared, e.Received)
	if e.Range != "" {
		msg += " (" + e.Range + ")"
	}
	return msg
}

// HTTPError is returned for non-2xx responses that do not carry a JSON error
// envelope.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: %s", e.Status)
}

// APIError is a structured error reported by the platform:
//
//	{"error": {"type": "InvalidInput", "message": "...", "details": {...}}}
type APIError struct {
	Name       string
	Message    string
	Details    json.RawMessage
	StatusCode int
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s, code %d", e.Name, e.Message, e.StatusCode)
	if len(e.Details) > 0 {
		msg += "\nDetails: " + string(e.Details)
	}
	return msg
}

// DecodeError is returned when a response body could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Platform error names.
const (
	ErrNameInvalidState     = "InvalidState"
	ErrNameInvalidInput     = "InvalidInput"
	ErrNameResourceNotFound = "ResourceNotFound"
	ErrNamePermissionDenied = "PermissionDenied"
)

// IsAPIError reports whether err is an APIError with the given name.
func IsAPIError(err error, name string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Name == name
}

// StatusCode returns the HTTP status carried by err, or 0 if none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

type errorEnvelope struct {
	Error struct {
		Type    string          `json:"type"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details,omitempty"`
	} `json:"error"`
}

// parseAPIError decodes the platform error envelope.
func parseAPIError(body []byte, status int) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &DecodeError{Err: fmt.Errorf("error envelope: %w", err)}
	}
	name := env.Error.Type
	if name == "" {
		name = "APIError"
	}
	return &APIError{
		Name:       name,
		Message:    env.Error.Message,
		Details:    env.Error.Details,
		StatusCode: status,
	}
}
