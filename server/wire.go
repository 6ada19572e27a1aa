package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hupe1980/agentweave/core"
)

// InvokeRequest is the body of POST /api/invoke.
type InvokeRequest struct {
	Agent     string        `json:"agent"`
	Input     core.Message  `json:"input"`
	Options   InvokeOptions `json:"options"`
	SessionID string        `json:"sessionId,omitempty"`
}

// InvokeOptions tune one invocation.
type InvokeOptions struct {
	Streaming bool `json:"streaming"`
}

// InvokeResponse is the answer of a non-streaming invocation.
type InvokeResponse struct {
	Output    core.Message `json:"output"`
	SessionID string       `json:"sessionId,omitempty"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error types the server reports in addition to core.ErrorType.
const (
	ErrorTypeBadRequest  = "BadRequest"
	ErrorTypeRateLimited = "RateLimited"
)

// StatusCode maps err to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Message: err.Error(), Type: core.ErrorType(err)}}
}

// RemoteError is a failure reported by a remote server. It matches the
// core sentinel of its type with errors.Is.
type RemoteError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s (%d): %s", e.Type, e.StatusCode, e.Message)
}

// Is reports whether target is the sentinel of the remote error type.
func (e *RemoteError) Is(target error) bool {
	sentinel, ok := sentinels[e.Type]
	return ok && target == sentinel
}

var sentinels = map[string]error{
	"ValidationError":            core.ErrValidation,
	"LimitExceededError":         core.ErrLimitExceeded,
	"TimeoutError":               core.ErrTimeout,
	"RoutingError":               core.ErrRouting,
	"AgentNotFoundError":         core.ErrAgentNotFound,
	"MaxIterationsExceededError": core.ErrMaxIterations,
	"UpstreamModelError":         core.ErrUpstreamModel,
	"StreamError":                core.ErrStream,
}
