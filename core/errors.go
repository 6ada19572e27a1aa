package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for errors.Is checks. Every typed error below matches
// exactly one of them.
var (
	ErrValidation    = errors.New("validation error")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrTimeout       = errors.New("timeout")
	ErrRouting       = errors.New("routing error")
	ErrAgentNotFound = errors.New("agent not found")
	ErrMaxIterations = errors.New("max iterations exceeded")
	ErrUpstreamModel = errors.New("upstream model error")
	ErrStream        = errors.New("stream error")
)

// ValidationError reports an input or output that does not satisfy the
// agent's declared schema.
type ValidationError struct {
	Agent   string   // Agent whose schema rejected the value
	Stage   string   // "input" or "output"
	Paths   []string // Offending instance locations (JSON pointers)
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	var b strings.Builder

	b.WriteString("validation error")

	if e.Agent != "" {
		fmt.Fprintf(&b, " for agent %s", e.Agent)
	}

	if e.Stage != "" {
		fmt.Fprintf(&b, " (%s)", e.Stage)
	}

	if len(e.Paths) > 0 {
		fmt.Fprintf(&b, " at %s", strings.Join(e.Paths, ", "))
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// LimitKind names the resource a LimitExceededError refers to.
type LimitKind string

const (
	LimitAgentInvokes LimitKind = "agent invokes"
	LimitTokens       LimitKind = "tokens"
	LimitHandoffs     LimitKind = "handoffs"
)

// LimitExceededError is returned when a root context ran out of budget.
type LimitExceededError struct {
	Kind LimitKind
	Used int64
	Max  int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("Exceeded max %s %d/%d", e.Kind, e.Used, e.Max)
}

func (e *LimitExceededError) Is(target error) bool { return target == ErrLimitExceeded }

// TimeoutError is returned when the root context's wall clock budget expired.
type TimeoutError struct {
	Timeout time.Duration
	Agent   string
}

func (e *TimeoutError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("agent %s timed out: exceeded root timeout %s", e.Agent, e.Timeout)
	}

	return fmt.Sprintf("exceeded root timeout %s", e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RoutingError is returned when a router's triage step picks a skill that
// does not exist or declines without a fallback.
type RoutingError struct {
	Router    string
	Selected  string
	Available []string
}

func (e *RoutingError) Error() string {
	if e.Selected == "" {
		return fmt.Sprintf("router %s: triage declined and no fallback skill is configured", e.Router)
	}

	return fmt.Sprintf("router %s: unknown skill %q (available: %s)", e.Router, e.Selected, strings.Join(e.Available, ", "))
}

func (e *RoutingError) Is(target error) bool { return target == ErrRouting }

// AgentNotFoundError is returned when an agent is referenced by a name no
// registry or skill set knows.
type AgentNotFoundError struct {
	Name string
}

func (e *AgentNotFoundError) Error() string { return fmt.Sprintf("agent %s not found", e.Name) }

func (e *AgentNotFoundError) Is(target error) bool { return target == ErrAgentNotFound }

// MaxIterationsExceededError is the orchestrator's safety valve.
type MaxIterationsExceededError struct {
	Agent         string
	MaxIterations int
}

func (e *MaxIterationsExceededError) Error() string {
	return fmt.Sprintf("agent %s exceeded max iterations %d without completing", e.Agent, e.MaxIterations)
}

func (e *MaxIterationsExceededError) Is(target error) bool { return target == ErrMaxIterations }

// UpstreamModelError wraps a failure reported by a chat model backend.
type UpstreamModelError struct {
	Provider string
	Model    string
	Err      error
}

func (e *UpstreamModelError) Error() string {
	return fmt.Sprintf("%s model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *UpstreamModelError) Unwrap() error { return e.Err }

func (e *UpstreamModelError) Is(target error) bool { return target == ErrUpstreamModel }

// StreamError signals an error value that terminated a chunk stream.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream error: %v", e.Err) }

func (e *StreamError) Unwrap() error { return e.Err }

func (e *StreamError) Is(target error) bool { return target == ErrStream }

// MergeTypeError reports a text delta aimed at a field that does not hold a
// string. Merge returns it wrapped in a StreamError.
type MergeTypeError struct {
	Field string
	Have  string
}

func (e *MergeTypeError) Error() string {
	return fmt.Sprintf("cannot merge text delta into field %q holding %s", e.Field, e.Have)
}

// ErrorType returns a short machine readable name for err used by transports.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrLimitExceeded):
		return "LimitExceededError"
	case errors.Is(err, ErrTimeout):
		return "TimeoutError"
	case errors.Is(err, ErrRouting):
		return "RoutingError"
	case errors.Is(err, ErrAgentNotFound):
		return "AgentNotFoundError"
	case errors.Is(err, ErrMaxIterations):
		return "MaxIterationsExceededError"
	case errors.Is(err, ErrUpstreamModel):
		return "UpstreamModelError"
	case errors.Is(err, ErrStream):
		return "StreamError"
	default:
		return "Error"
	}
}

// isTaxonomyError reports whether err already belongs to the error taxonomy
// and must surface without further wrapping.
func isTaxonomyError(err error) bool { return ErrorType(err) != "Error" }
