// Package revguard implements the optimistic-concurrency decision procedure
// applied before every guarded tool call: given the revision the caller last
// observed and the authoritative current revision, decide whether to proceed,
// ask for one cooperative retry, or fail with the mismatch error.
package revguard

import "github.com/sigee-min/bbmcp-sub011/editor"

// Action tells the caller how to continue after a positive decision.
type Action string

const (
	// ActionProceed lets the guarded call run against the verified revision.
	ActionProceed Action = "proceed"
	// ActionRetry asks the caller to re-issue exactly once with
	// CurrentRevision. One-shot by contract: a second mismatch fails.
	ActionRetry Action = "retry"
)

// StateRef carries the authoritative revision out of the state fetch.
type StateRef struct {
	Revision string
}

// Deps parameterizes one decision.
type Deps struct {
	// RequiresRevision gates the whole check; unguarded tools (pure reads)
	// skip everything including the state fetch.
	RequiresRevision bool
	// AllowAutoRetry turns a mismatch into ActionRetry instead of an error.
	AllowAutoRetry bool
	// CurrentState fetches the authoritative revision.
	CurrentState func() (StateRef, *editor.ToolError)
}

// Result is the decision. OK with an Action, or Err set.
type Result struct {
	OK              bool
	Action          Action
	CurrentRevision string
	Err             *editor.ToolError
}

// RetryFix is the hint attached to mismatch errors.
const RetryFix = "Call get_project_state to read the current revision, then retry with ifRevision set to it."

// DecideRevision runs the guard. An empty expected revision means the caller
// supplied none.
func DecideRevision(expected string, deps Deps) Result {
	if !deps.RequiresRevision {
		return Result{OK: true, Action: ActionProceed}
	}

	st, terr := deps.CurrentState()
	if terr != nil {
		coerced := terr.Clone()
		coerced.Code = editor.CodeInvalidState
		return Result{Err: coerced}
	}

	if expected == "" {
		err := editor.Errorf(editor.CodeInvalidState, "revision required but missing").
			WithFix(RetryFix).
			WithDetail("currentRevision", st.Revision)
		return Result{Err: err}
	}

	if expected == st.Revision {
		return Result{OK: true, Action: ActionProceed, CurrentRevision: st.Revision}
	}

	if deps.AllowAutoRetry {
		return Result{OK: true, Action: ActionRetry, CurrentRevision: st.Revision}
	}

	err := editor.Errorf(editor.CodeRevisionMismatch, "expected revision %q but project is at %q", expected, st.Revision).
		WithFix(RetryFix).
		WithDetail("currentRevision", st.Revision)
	return Result{Err: err, CurrentRevision: st.Revision}
}
