// Package dispatch routes tool calls from the transport to a backend port:
// it resolves the call identity, selects the backend, takes the project lock
// for mutations, and records call metrics. The transport hands it a raw
// arguments object and gets back exactly one response envelope.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sigee-min/bbmcp-sub011/editor"
	"github.com/sigee-min/bbmcp-sub011/internal/logctx"
	"github.com/sigee-min/bbmcp-sub011/internal/telemetry"
	"github.com/sigee-min/bbmcp-sub011/projlock"
	"github.com/sigee-min/bbmcp-sub011/tools"
)

// LockConflictFix is the recovery hint attached to lock-contention failures.
const LockConflictFix = "Wait for the current MCP task to finish and retry."

// Call is one tool invocation as the transport sees it.
type Call struct {
	Name string
	Args json.RawMessage
	// SessionID is the transport session, used as the actor identity.
	SessionID string
	// AuthSubject is the authenticated principal, used as the tenant scope.
	AuthSubject string
}

type config struct {
	backends    map[editor.BackendKind]editor.Port
	defaultKind editor.BackendKind
	locks       projlock.Manager
	lockTTL     time.Duration
	metrics     *telemetry.Metrics
	log         *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*config)

// WithBackend registers a port under a kind. The first registration becomes
// the default unless WithDefaultBackend overrides it.
func WithBackend(kind editor.BackendKind, port editor.Port) Option {
	return func(c *config) {
		c.backends[kind] = port
		if c.defaultKind == "" {
			c.defaultKind = kind
		}
	}
}

// WithDefaultBackend selects the kind used when a call names none.
func WithDefaultBackend(kind editor.BackendKind) Option {
	return func(c *config) { c.defaultKind = kind }
}

// WithLockManager wires the project lock taken around mutating calls. A zero
// ttl selects the lock package default.
func WithLockManager(m projlock.Manager, ttl time.Duration) Option {
	return func(c *config) {
		c.locks = m
		c.lockTTL = ttl
	}
}

// WithMetrics wires call and lock instrumentation.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithLogger sets the dispatch logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// Dispatcher routes calls from a tool registry to backend ports.
type Dispatcher struct {
	registry *tools.Registry
	cfg      config
}

// New builds a dispatcher over a registry. At least one backend must be
// registered before Call is used.
func New(registry *tools.Registry, opts ...Option) *Dispatcher {
	cfg := config{backends: make(map[editor.BackendKind]editor.Port)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{registry: registry, cfg: cfg}
}

// Call executes one tool call end to end and always returns a response
// envelope; dispatch-level failures use the same error taxonomy as tools.
func (d *Dispatcher) Call(ctx context.Context, call Call) editor.ToolResponse {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return editor.Fail(editor.Errorf(editor.CodeInvalidPayload, "unknown tool %q", call.Name).
			WithFix("Call tools/list for the available tool names."))
	}

	hints := decodeHints(call.Args)
	port, kind, terr := d.resolveBackend(hints.Backend)
	if terr != nil {
		return editor.Fail(terr)
	}

	ref := resolveSessionRef(call.SessionID, call.AuthSubject, hints)
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: call.Name, Backend: string(kind)})
	ctx = logctx.WithProjectData(ctx, &logctx.ProjectData{ProjectID: ref.ProjectID})

	meta := tools.CallMeta{
		TenantID:  ref.TenantID,
		ActorID:   ref.ActorID,
		ProjectID: ref.ProjectID,
		Log:       d.cfg.log,
	}

	start := time.Now()
	var resp editor.ToolResponse
	if tool.Mutating && d.cfg.locks != nil {
		resp = d.callLocked(ctx, tool, port, meta, call, ref)
	} else {
		resp = tool.Handler(ctx, port, meta, call.Args)
	}
	elapsed := time.Since(start)

	d.cfg.metrics.RecordToolCall(call.Name, resp.OK, elapsed)
	if resp.OK {
		d.cfg.log.InfoContext(ctx, "dispatch.tool.call", "ok", true, "elapsed", elapsed)
	} else {
		d.cfg.log.InfoContext(ctx, "dispatch.tool.call", "ok", false, "code", resp.Error.Code, "elapsed", elapsed)
	}
	return resp
}

// Registry exposes the underlying tool registry; the transport serves
// tools/list straight from it.
func (d *Dispatcher) Registry() *tools.Registry { return d.registry }

func (d *Dispatcher) resolveBackend(name string) (editor.Port, editor.BackendKind, *editor.ToolError) {
	kind := d.cfg.defaultKind
	if name != "" {
		parsed, ok := editor.ParseBackendKind(name)
		if !ok {
			return nil, "", unknownBackendErr(name, d.cfg.backends)
		}
		kind = parsed
	}
	port, ok := d.cfg.backends[kind]
	if !ok {
		return nil, "", unknownBackendErr(string(kind), d.cfg.backends)
	}
	return port, kind, nil
}

func unknownBackendErr(name string, backends map[editor.BackendKind]editor.Port) *editor.ToolError {
	available := editor.KindNames(backends)
	return editor.Errorf(editor.CodeInvalidState, "backend %q is not available", name).
		WithFix("Use one of the registered backends: " + strings.Join(available, ", ") + ".").
		WithDetail("available", available)
}

// callLocked runs the handler under the project lock. Contention maps to an
// invalid_state failure carrying the holder identity; any other lock-layer
// failure is an io_error.
func (d *Dispatcher) callLocked(ctx context.Context, tool tools.Tool, port editor.Port, meta tools.CallMeta, call Call, ref SessionRef) editor.ToolResponse {
	var resp editor.ToolResponse
	err := projlock.With(ctx, d.cfg.locks, projlock.AcquireRequest{
		ProjectID:      ref.ProjectID,
		OwnerAgentID:   ref.ActorID,
		OwnerSessionID: call.SessionID,
		TTL:            d.cfg.lockTTL,
	}, func(ctx context.Context) error {
		d.cfg.metrics.RecordLockEvent("acquire", "granted")
		resp = tool.Handler(ctx, port, meta, call.Args)
		return nil
	})
	if err != nil {
		var conflict *projlock.ConflictError
		if errors.As(err, &conflict) {
			d.cfg.metrics.RecordLockEvent("acquire", "conflict")
			d.cfg.log.InfoContext(ctx, "dispatch.lock.conflict",
				"holder", conflict.OwnerAgentID, "expires_at", conflict.ExpiresAt)
			return editor.Fail(editor.Errorf(editor.CodeInvalidState, "project %q is locked by another task", conflict.ProjectID).
				WithFix(LockConflictFix).
				WithDetail("holder", conflict.OwnerAgentID).
				WithDetail("expiresAt", conflict.ExpiresAt))
		}
		d.cfg.metrics.RecordLockEvent("acquire", "error")
		d.cfg.log.ErrorContext(ctx, "dispatch.lock.fail", "err", err)
		return editor.Fail(editor.Errorf(editor.CodeIO, "project lock unavailable: %v", err))
	}
	return resp
}
