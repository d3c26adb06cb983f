// Package errors provides structured error types for pulse.
//
// These are the hard-failure channel of the orchestration core: caller
// mistakes and policy violations that abort an operation with no partial
// state change. Expected, racy outcomes (illegal command transitions) use
// the soft CommandResult channel in the orchestration package instead.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for pulse.
const (
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeRateLimitExceeded     Code = "RATE_LIMIT_EXCEEDED"
	CodeWorkspaceNotFound     Code = "WORKSPACE_NOT_FOUND"
	CodeJobNotFound           Code = "JOB_NOT_FOUND"
	CodeRunNotFound           Code = "RUN_NOT_FOUND"
	CodeAgentUnavailable      Code = "AGENT_UNAVAILABLE"
	CodeCapabilityUnsupported Code = "CAPABILITY_UNSUPPORTED"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryForbidden
	CategoryTooManyRequests
	CategoryUnavailable
	CategoryInternal
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodePermissionDenied:      CategoryForbidden,
	CodeRateLimitExceeded:     CategoryTooManyRequests,
	CodeWorkspaceNotFound:     CategoryNotFound,
	CodeJobNotFound:           CategoryNotFound,
	CodeRunNotFound:           CategoryNotFound,
	CodeAgentUnavailable:      CategoryUnavailable,
	CodeCapabilityUnsupported: CategoryBadRequest,
	CodeInvalidArgument:       CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryForbidden:
		return 403
	case CategoryTooManyRequests:
		return 429
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// PulseError is the structured error type for pulse.
type PulseError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *PulseError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *PulseError) Unwrap() error {
	return e.Cause
}

// Category returns the error category for HTTP status mapping.
func (e *PulseError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *PulseError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *PulseError) MarshalJSON() ([]byte, error) {
	type alias PulseError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a PulseError with the same code.
func (e *PulseError) Is(target error) bool {
	t, ok := target.(*PulseError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *PulseError) WithCause(err error) *PulseError {
	return &PulseError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrPermissionDenied returns an error for a caller outside the workspace.
func ErrPermissionDenied(userID, workspaceID string) *PulseError {
	return &PulseError{
		Code: CodePermissionDenied,
		What: "permission denied",
		Why:  fmt.Sprintf("user %s is not a member of workspace %s", userID, workspaceID),
	}
}

// ErrRateLimitExceeded returns an error when the workspace submission
// budget is exhausted.
func ErrRateLimitExceeded() *PulseError {
	return &PulseError{
		Code: CodeRateLimitExceeded,
		What: "Rate limit exceeded for orchestration jobs",
	}
}

// ErrJobNotFound returns an error when a job doesn't exist in the workspace.
func ErrJobNotFound(jobID string) *PulseError {
	return &PulseError{
		Code: CodeJobNotFound,
		What: "Job not found",
		Why:  fmt.Sprintf("no job %s in this workspace", jobID),
	}
}

// ErrRunNotFound returns an error when a run doesn't exist in the workspace.
func ErrRunNotFound(runID string) *PulseError {
	return &PulseError{
		Code: CodeRunNotFound,
		What: "Run not found",
		Why:  fmt.Sprintf("no run %s in this workspace", runID),
	}
}

// ErrAgentUnavailable returns an error when an agent is missing or inactive.
func ErrAgentUnavailable(agentID string) *PulseError {
	return &PulseError{
		Code: CodeAgentUnavailable,
		What: "Agent not available",
		Why:  fmt.Sprintf("agent %s does not exist in this workspace or is inactive", agentID),
	}
}

// ErrCapabilityUnsupported returns an error when an agent lacks the
// requested capability.
func ErrCapabilityUnsupported(agentID, capability string) *PulseError {
	return &PulseError{
		Code: CodeCapabilityUnsupported,
		What: "Agent does not support this capability",
		Why:  fmt.Sprintf("agent %s does not advertise capability %q", agentID, capability),
	}
}

// ErrInvalidArgument returns an error for malformed input.
func ErrInvalidArgument(field, reason string) *PulseError {
	return &PulseError{
		Code: CodeInvalidArgument,
		What: fmt.Sprintf("invalid argument: %s", field),
		Why:  reason,
	}
}

// AsPulseError attempts to convert an error to a PulseError.
// Returns nil if the error is not a PulseError.
func AsPulseError(err error) *PulseError {
	var pulseErr *PulseError
	if As(err, &pulseErr) {
		return pulseErr
	}
	return nil
}

// As is a convenience wrapper for errors.As behavior on PulseError.
func As(err error, target any) bool {
	return asError(err, target)
}

func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if pulseErr, ok := err.(*PulseError); ok {
		if t, ok := target.(**PulseError); ok {
			*t = pulseErr
			return true
		}
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a PulseError with unknown code.
func Wrap(err error, what string) *PulseError {
	return &PulseError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
