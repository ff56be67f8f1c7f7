package editor

import (
	"encoding/json"

	"github.com/sigee-min/bbmcp-sub011/session"
)

// ToolResponse is the single result envelope of every tool call: either
// {ok:true, data} or {ok:false, error}, plus the response metadata the
// pipeline attaches (revision always when resolvable, state and diff on
// request). Metadata rides on failures too, so callers can recover context
// from a failed call.
type ToolResponse struct {
	OK          bool              `json:"ok"`
	Data        json.RawMessage   `json:"data,omitempty"`
	NextActions []string          `json:"nextActions,omitempty"`
	Error       *ToolError        `json:"error,omitempty"`
	Revision    string            `json:"revision,omitempty"`
	State       *session.Snapshot `json:"state,omitempty"`
	Diff        *session.Diff     `json:"diff,omitempty"`
}

// OK wraps data into a success response. A marshal failure degrades to a
// CodeUnknown failure rather than panicking past the envelope contract.
func OK(data any) ToolResponse {
	if data == nil {
		return ToolResponse{OK: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(Errorf(CodeUnknown, "encode tool result: %v", err))
	}
	return ToolResponse{OK: true, Data: raw}
}

// Fail wraps a ToolError into a failure response. A nil error is itself a
// contract violation and is reported as unknown.
func Fail(err *ToolError) ToolResponse {
	if err == nil {
		err = Errorf(CodeUnknown, "tool failed without an error payload")
	}
	return ToolResponse{OK: false, Error: err}
}

// WithNextActions suggests follow-up tool names to the caller.
func (r ToolResponse) WithNextActions(actions ...string) ToolResponse {
	r.NextActions = append(r.NextActions, actions...)
	return r
}
