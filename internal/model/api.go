package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// StartRunRequest is the request body for POST /v1/graphs/{slug}/runs.
type StartRunRequest struct {
	RunID     string         `json:"run_id,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TimeoutMs int            `json:"timeout_ms,omitempty"`
}

// StartRunResponse is the response body for POST /v1/graphs/{slug}/runs.
type StartRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// GraphSummary describes one stored graph with its binding status.
type GraphSummary struct {
	Slug    string        `json:"slug"`
	Name    string        `json:"name,omitempty"`
	Nodes   int           `json:"nodes"`
	Edges   int           `json:"edges"`
	Binding BindingStatus `json:"binding"`
}
