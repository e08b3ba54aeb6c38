package apiclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	StatusCode int
	Path       string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("[apiclient] %s returned %d: %s", e.Path, e.StatusCode, msg)
	}
	return fmt.Sprintf("[apiclient] %s returned %d", e.Path, e.StatusCode)
}

// Message extracts the human readable reason the backend put in the body,
// checking the error, message and detail fields in that order.
func (e *HTTPError) Message() string {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return strings.TrimSpace(string(truncate(e.Body, 200)))
	}
	if s, ok := body.Error.(string); ok && s != "" {
		return s
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Detail
}

// Decode unmarshals the error body into v.
func (e *HTTPError) Decode(v any) error {
	return json.Unmarshal(e.Body, v)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
