// Package editor defines the contract between the protocol core and the
// pluggable domain backends: the Port interface, the ToolResponse envelope,
// and the closed error-code taxonomy every failure maps into.
package editor

import "fmt"

// ErrorCode is the closed taxonomy. Every error leaving a tool call carries
// exactly one of these.
type ErrorCode string

const (
	// CodeInvalidPayload marks malformed or out-of-contract input. Never
	// retried automatically.
	CodeInvalidPayload ErrorCode = "invalid_payload"
	// CodeInvalidState marks unmet preconditions: no active project, missing
	// revision, unregistered backend.
	CodeInvalidState ErrorCode = "invalid_state"
	// CodeRevisionMismatch is the optimistic-concurrency conflict, split out
	// from CodeInvalidState so clients can special-case "refetch and retry".
	CodeRevisionMismatch ErrorCode = "invalid_state_revision_mismatch"
	// CodeNotImplemented marks a capability the backend genuinely lacks.
	CodeNotImplemented ErrorCode = "not_implemented"
	// CodeIO marks persistence or storage failure.
	CodeIO ErrorCode = "io_error"
	// CodeUnknown marks a caught panic or a malformed backend response.
	CodeUnknown ErrorCode = "unknown"
)

// ToolError is the structured failure payload of a tool call.
type ToolError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Fix     string         `json:"fix,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a ToolError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithFix attaches an actionable hint and returns the same error.
func (e *ToolError) WithFix(fix string) *ToolError {
	e.Fix = fix
	return e
}

// WithDetail attaches one details entry, allocating the map on first use.
func (e *ToolError) WithDetail(key string, value any) *ToolError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// Clone returns a shallow copy with its own details map, for callers that
// enrich an error without mutating a shared instance.
func (e *ToolError) Clone() *ToolError {
	if e == nil {
		return nil
	}
	out := *e
	if e.Details != nil {
		out.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return &out
}
