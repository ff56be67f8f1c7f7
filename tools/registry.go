// Package tools defines the callable tool surface of the server: a typed
// registry of tool descriptors and handlers, JSON-schema reflection for
// tools/list, and the Blockbench tool set wired through the proxy pipeline.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sigee-min/bbmcp-sub011/editor"
	"github.com/sigee-min/bbmcp-sub011/internal/pipeline"
	"github.com/sigee-min/bbmcp-sub011/mcp"
)

// CallMeta is the dispatcher-resolved context of one tool call.
type CallMeta struct {
	TenantID  string
	ActorID   string
	ProjectID string
	Log       *slog.Logger
}

// Handler executes one tool call against a resolved backend.
type Handler func(ctx context.Context, port editor.Port, meta CallMeta, args json.RawMessage) editor.ToolResponse

// Tool pairs a descriptor with its handler and the dispatch flags the
// dispatcher and pipeline read.
type Tool struct {
	Descriptor mcp.Tool
	// Mutating tools run under the project lock; reads never do.
	Mutating bool
	// RequiresRevision gates the revision guard for this tool.
	RequiresRevision bool
	Handler          Handler
}

// CommonArgs are the fields every tool accepts alongside its own. Backend and
// project identity are resolved by the dispatcher; ifRevision feeds the guard;
// includeState/includeDiff override the tool's response-metadata defaults.
type CommonArgs struct {
	Backend      string `json:"backend,omitempty" jsonschema:"enum=engine,enum=blockbench,description=Backend to execute against"`
	ProjectID    string `json:"projectId,omitempty" jsonschema:"description=Explicit project id"`
	ProjectName  string `json:"projectName,omitempty" jsonschema:"description=Human-readable project name; hashed into a stable project id"`
	IfRevision   string `json:"ifRevision,omitempty" jsonschema:"description=Revision last observed by the caller"`
	IncludeState *bool  `json:"includeState,omitempty"`
	IncludeDiff  *bool  `json:"includeDiff,omitempty"`
}

type toolConfig struct {
	description      string
	mutating         bool
	requiresRevision bool
	allowAutoRetry   bool
	includeState     bool
	includeDiff      bool
}

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

// WithDescription sets the tool description used in listings.
func WithDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// Mutating marks the tool as requiring the project lock and, by default, the
// revision guard with one cooperative auto-retry.
func Mutating() ToolOption {
	return func(c *toolConfig) {
		c.mutating = true
		c.requiresRevision = true
		c.allowAutoRetry = true
		c.includeState = true
		c.includeDiff = true
	}
}

// WithoutRevisionGuard exempts a mutating tool from the revision check, for
// operations that establish state rather than depend on it.
func WithoutRevisionGuard() ToolOption {
	return func(c *toolConfig) { c.requiresRevision = false }
}

// WithoutAutoRetry makes a revision mismatch fail immediately instead of
// refreshing once.
func WithoutAutoRetry() ToolOption {
	return func(c *toolConfig) { c.allowAutoRetry = false }
}

// WithIncludeState sets the default for attaching the state snapshot.
func WithIncludeState(include bool) ToolOption {
	return func(c *toolConfig) { c.includeState = include }
}

// NewTool builds a Tool from a typed args struct A. The input schema is
// reflected from A, arguments decode leniently (unknown fields belong to the
// dispatcher), and the handler runs inside the proxy pipeline: validate,
// revision guard, use case, metadata enrichment.
func NewTool[A any](name string, fn func(ctx context.Context, port editor.Port, meta CallMeta, args A) (editor.ToolResponse, error), opts ...ToolOption) Tool {
	return newToolValidated(name, nil, fn, opts...)
}

// NewValidatedTool is NewTool with a pure payload validation stage that runs
// before the guard and the use case.
func NewValidatedTool[A any](name string, validate func(args A) *editor.ToolError, fn func(ctx context.Context, port editor.Port, meta CallMeta, args A) (editor.ToolResponse, error), opts ...ToolOption) Tool {
	return newToolValidated(name, validate, fn, opts...)
}

func newToolValidated[A any](name string, validate func(args A) *editor.ToolError, fn func(ctx context.Context, port editor.Port, meta CallMeta, args A) (editor.ToolResponse, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](),
	}

	handler := func(ctx context.Context, port editor.Port, meta CallMeta, raw json.RawMessage) editor.ToolResponse {
		var args A
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return editor.Fail(editor.Errorf(editor.CodeInvalidPayload, "invalid arguments: %v", err))
			}
		}
		var common CommonArgs
		if len(raw) > 0 {
			// Lenient second pass; the schema already documents these fields.
			_ = json.Unmarshal(raw, &common)
		}

		deps := pipeline.Deps{
			Port:             port,
			Log:              meta.Log,
			IfRevision:       common.IfRevision,
			RequiresRevision: cfg.requiresRevision,
			AllowAutoRetry:   cfg.allowAutoRetry,
			IncludeState:     cfg.includeState,
			IncludeDiff:      cfg.includeDiff,
		}
		if common.IncludeState != nil {
			deps.IncludeState = *common.IncludeState
		}
		if common.IncludeDiff != nil {
			deps.IncludeDiff = *common.IncludeDiff
		}

		var stages pipeline.Stages[A]
		if validate != nil {
			stages.Validate = validate
		}
		stages.Run = func(ctx context.Context, pc *pipeline.Context[A]) (editor.ToolResponse, error) {
			return fn(ctx, port, meta, pc.Payload)
		}
		return pipeline.Run(ctx, deps, args, stages)
	}

	return Tool{
		Descriptor:       desc,
		Mutating:         cfg.mutating,
		RequiresRevision: cfg.requiresRevision,
		Handler:          handler,
	}
}

// Registry owns a mutable, threadsafe tool set in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry constructs a registry with the given definitions.
func NewRegistry(defs ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(defs))}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Register adds a tool if the name is unused. Returns true if added.
func (r *Registry) Register(def Tool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := def.Descriptor.Name
	if name == "" {
		return false
	}
	if _, exists := r.tools[name]; exists {
		return false
	}
	r.order = append(r.order, name)
	r.tools[name] = def
	return true
}

// Get resolves one tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors lists the tool descriptors in registration order, for
// tools/list responses.
func (r *Registry) Descriptors() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor)
	}
	return out
}
