// Package pipeline sequences every tool call through the same four stages:
// payload validation, the revision guard, the use-case callback, and response
// metadata enrichment. Failures short-circuit in that order, so a validation
// error never touches the guard and a guard error never touches the use case.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sigee-min/bbmcp-sub011/editor"
	"github.com/sigee-min/bbmcp-sub011/internal/revguard"
)

// Deps parameterizes one pipeline run.
type Deps struct {
	// Port is the backend facade the use case and the enrichment stage read
	// state through.
	Port editor.Port
	Log  *slog.Logger

	// IfRevision is the revision the caller last observed, extracted from the
	// payload. It doubles as the diff baseline during enrichment.
	IfRevision string

	// RequiresRevision gates the guard; AllowAutoRetry turns the first
	// mismatch into one internal refresh-and-retry instead of an error.
	RequiresRevision bool
	AllowAutoRetry   bool

	// IncludeState and IncludeDiff select the response metadata attached on
	// top of the always-present revision.
	IncludeState bool
	IncludeDiff  bool

	// SkipRevisionGuard is the escape hatch for compound operations
	// re-entering the pipeline with a revision they already validated.
	SkipRevisionGuard bool
}

// Context carries the per-run state into the guard and run stages.
type Context[P any] struct {
	Port    editor.Port
	Payload P
	// IfRevision starts as the caller's expected revision and is refreshed to
	// the current one when the guard grants a retry.
	IfRevision string
}

// Stages supplies the callbacks. Validate and Guard are optional; Run is not.
type Stages[P any] struct {
	// Validate is a pure payload-shape check. A failure here never reaches
	// the guard or the use case.
	Validate func(payload P) *editor.ToolError
	// Guard overrides the default revision guard for tools with bespoke
	// needs. The default wraps revguard.DecideRevision against Port.Revision.
	Guard func(ctx context.Context, pc *Context[P], allowRetry bool) revguard.Result
	// Run is the use-case callback. Returning an Abort error short-circuits
	// with a prepared response; any other error, and any panic, is normalized
	// to a CodeUnknown failure.
	Run func(ctx context.Context, pc *Context[P]) (editor.ToolResponse, error)
}

// abortError smuggles a prepared ToolResponse out of a nested stage. It is a
// protocol-normal short circuit, distinct from a genuine failure.
type abortError struct {
	resp editor.ToolResponse
}

func (e *abortError) Error() string { return "pipeline: aborted with prepared response" }

// Abort wraps a prepared response so a nested stage can short-circuit the run.
func Abort(resp editor.ToolResponse) error {
	return &abortError{resp: resp}
}

// IsAbort reports whether err is a pipeline abort and unwraps its response.
func IsAbort(err error) (editor.ToolResponse, bool) {
	var ab *abortError
	if errors.As(err, &ab) {
		return ab.resp, true
	}
	return editor.ToolResponse{}, false
}

// Run executes the pipeline. It always returns exactly one ToolResponse;
// nothing escapes as a panic or an error.
func Run[P any](ctx context.Context, deps Deps, payload P, st Stages[P]) editor.ToolResponse {
	log := deps.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	if st.Validate != nil {
		if terr := st.Validate(payload); terr != nil {
			log.DebugContext(ctx, "pipeline.validate.fail", "code", terr.Code)
			return enrich(ctx, deps, editor.Fail(terr))
		}
	}

	pc := &Context[P]{Port: deps.Port, Payload: payload, IfRevision: deps.IfRevision}

	guard := st.Guard
	if guard == nil {
		guard = func(ctx context.Context, pc *Context[P], allowRetry bool) revguard.Result {
			return revguard.DecideRevision(pc.IfRevision, revguard.Deps{
				RequiresRevision: deps.RequiresRevision,
				AllowAutoRetry:   allowRetry,
				CurrentState: func() (revguard.StateRef, *editor.ToolError) {
					rev, terr := deps.Port.Revision(ctx)
					if terr != nil {
						return revguard.StateRef{}, terr
					}
					return revguard.StateRef{Revision: rev}, nil
				},
			})
		}
	}

	if !deps.SkipRevisionGuard {
		res := guard(ctx, pc, deps.AllowAutoRetry)
		if res.Err == nil && res.Action == revguard.ActionRetry {
			// Cooperative one-shot retry: refresh the expected revision and
			// decide once more with auto-retry off, so sustained contention
			// surfaces as a mismatch instead of a loop.
			log.DebugContext(ctx, "pipeline.guard.retry", "current_revision", res.CurrentRevision)
			pc.IfRevision = res.CurrentRevision
			res = guard(ctx, pc, false)
		}
		if res.Err != nil {
			log.DebugContext(ctx, "pipeline.guard.fail", "code", res.Err.Code)
			return enrich(ctx, deps, editor.Fail(res.Err))
		}
	}

	resp := runRecovered(ctx, pc, st.Run, log)
	return enrich(ctx, deps, resp)
}

// runRecovered executes the use-case callback, unwrapping aborts and
// normalizing panics and stray errors to CodeUnknown.
func runRecovered[P any](ctx context.Context, pc *Context[P], run func(context.Context, *Context[P]) (editor.ToolResponse, error), log *slog.Logger) (resp editor.ToolResponse) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "pipeline.run.panic", "reason", fmt.Sprint(r))
			resp = editor.Fail(editor.Errorf(editor.CodeUnknown, "tool execution panicked").
				WithDetail("reason", fmt.Sprint(r)))
		}
	}()

	resp, err := run(ctx, pc)
	if err != nil {
		if prepared, ok := IsAbort(err); ok {
			return prepared
		}
		log.ErrorContext(ctx, "pipeline.run.fail", "err", err)
		return editor.Fail(editor.Errorf(editor.CodeUnknown, "tool execution failed").
			WithDetail("reason", err.Error()))
	}
	return resp
}

// enrich attaches revision, state, and diff metadata. Failures get the same
// metadata as successes so callers can recover context from a failed call.
// The diff baseline is the caller's original ifRevision: without a baseline
// there is nothing to diff against.
func enrich(ctx context.Context, deps Deps, resp editor.ToolResponse) editor.ToolResponse {
	if deps.Port == nil {
		return resp
	}
	rev, terr := deps.Port.Revision(ctx)
	if terr != nil {
		// No resolvable project state: nothing to attach.
		return resp
	}
	resp.Revision = rev

	if deps.IncludeState {
		if st, terr := deps.Port.ProjectState(ctx); terr == nil {
			resp.State = st
		}
	}
	if deps.IncludeDiff && deps.IfRevision != "" {
		if diff, terr := deps.Port.DiffSince(ctx, deps.IfRevision); terr == nil && diff != nil {
			resp.Diff = diff
		}
	}
	return resp
}
