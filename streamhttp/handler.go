// Package streamhttp is the MCP endpoint: a single path speaking JSON-RPC
// 2.0 over POST, draining queued server events over GET as SSE, and tearing
// sessions down over DELETE. The handler is a small state machine with an
// exact status for every malformed input, so clients can always tell a
// transport problem from a tool failure.
package streamhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/sigee-min/bbmcp-sub011/auth"
	"github.com/sigee-min/bbmcp-sub011/editor"
	"github.com/sigee-min/bbmcp-sub011/internal/dispatch"
	"github.com/sigee-min/bbmcp-sub011/internal/jsonrpc"
	"github.com/sigee-min/bbmcp-sub011/internal/logctx"
	"github.com/sigee-min/bbmcp-sub011/internal/telemetry"
	"github.com/sigee-min/bbmcp-sub011/internal/wellknown"
	"github.com/sigee-min/bbmcp-sub011/mcp"
	"github.com/sigee-min/bbmcp-sub011/mcpsession"
)

const (
	sessionIDHeader       = "Mcp-Session-Id"
	protocolVersionHeader = "Mcp-Protocol-Version"
	wwwAuthenticateHeader = "WWW-Authenticate"

	// DefaultPath is the MCP endpoint path.
	DefaultPath = "/mcp"
	// DefaultMaxBodyBytes bounds one POST body.
	DefaultMaxBodyBytes = 4 << 20
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	postResponseTypes    = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
	eventStreamTypes     = []contenttype.MediaType{eventStreamMediaType}
)

type config struct {
	path          string
	maxBodyBytes  int64
	log           *slog.Logger
	metrics       *telemetry.Metrics
	authenticator auth.Authenticator
	realm         string
	serverInfo    mcp.Implementation
	instructions  string
	authServers   []string
}

// Option configures the handler.
type Option func(*config)

// WithPath overrides the endpoint path.
func WithPath(path string) Option {
	return func(c *config) { c.path = path }
}

// WithMaxBodyBytes bounds the accepted POST body size.
func WithMaxBodyBytes(n int64) Option {
	return func(c *config) { c.maxBodyBytes = n }
}

// WithLogger sets the transport logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithMetrics wires request instrumentation.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithAuthenticator enables bearer auth (static pre-shared token or
// OIDC/JWT, see the auth package). The authenticated subject becomes the
// tenant scope of tool calls.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *config) { c.authenticator = a }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = realm }
}

// WithServerInfo sets the implementation identity returned from initialize.
func WithServerInfo(info mcp.Implementation) Option {
	return func(c *config) { c.serverInfo = info }
}

// WithInstructions sets the initialize instructions text.
func WithInstructions(text string) Option {
	return func(c *config) { c.instructions = text }
}

// WithAuthorizationServers publishes OAuth protected-resource metadata at
// /.well-known/oauth-protected-resource<path> naming the given issuers, so
// clients can discover where to obtain tokens.
func WithAuthorizationServers(issuers ...string) Option {
	return func(c *config) { c.authServers = issuers }
}

// Handler serves the MCP endpoint.
type Handler struct {
	cfg        config
	dispatcher *dispatch.Dispatcher
	sessions   mcpsession.Store
}

// New builds the endpoint handler over a dispatcher and a session store.
func New(dispatcher *dispatch.Dispatcher, sessions mcpsession.Store, opts ...Option) *Handler {
	cfg := config{
		path:         DefaultPath,
		maxBodyBytes: DefaultMaxBodyBytes,
		realm:        "bbmcp",
		serverInfo:   mcp.Implementation{Name: "bbmcp", Title: "Blockbench MCP server"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.New(slog.DiscardHandler)
	}
	return &Handler{cfg: cfg, dispatcher: dispatcher, sessions: sessions}
}

var _ http.Handler = (*Handler)(nil)

// statusWriter captures the response status for metrics. It forwards Flush so
// SSE still streams through the wrapper.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sw := &statusWriter{ResponseWriter: w}
	defer func() {
		h.cfg.metrics.RecordHTTPRequest(r.Method, sw.status())
	}()

	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	if r.URL.Path != h.cfg.path {
		if len(h.cfg.authServers) > 0 && r.URL.Path == "/.well-known/oauth-protected-resource"+h.cfg.path {
			h.handleProtectedResourceMetadata(sw, r)
			return
		}
		http.NotFound(sw, r)
		return
	}

	subject, ok := h.authenticate(ctx, sw, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePost(sw, r, subject)
	case http.MethodGet:
		h.handleGet(sw, r)
	case http.MethodDelete:
		h.handleDelete(sw, r)
	default:
		sw.Header().Set("Allow", "POST, GET, DELETE")
		writeJSONError(sw, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// authenticate enforces the configured auth mode. With no authenticator the
// endpoint is open and the subject is empty.
func (h *Handler) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.cfg.authenticator == nil {
		return "", true
	}

	tok := bearerToken(r.Header.Get("Authorization"))
	if tok == "" {
		h.challenge(w, "invalid_request", "missing bearer token")
		h.cfg.log.InfoContext(ctx, "http.auth.missing")
		return "", false
	}

	userInfo, err := h.cfg.authenticator.CheckAuthentication(ctx, tok)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			h.challenge(w, "invalid_token", err.Error())
			h.cfg.log.InfoContext(ctx, "http.auth.fail", "err", err)
		case errors.Is(err, auth.ErrInsufficientScope):
			w.Header().Add(wwwAuthenticateHeader, h.bearerChallenge("insufficient_scope", err.Error()))
			writeJSONError(w, http.StatusForbidden, "insufficient scope")
			h.cfg.log.InfoContext(ctx, "http.auth.scope.fail", "err", err)
		default:
			writeJSONError(w, http.StatusInternalServerError, "authentication unavailable")
			h.cfg.log.ErrorContext(ctx, "http.auth.err", "err", err)
		}
		return "", false
	}
	return userInfo.UserID(), true
}

func (h *Handler) challenge(w http.ResponseWriter, errCode, desc string) {
	w.Header().Add(wwwAuthenticateHeader, h.bearerChallenge(errCode, desc))
	writeJSONError(w, http.StatusUnauthorized, "unauthorized")
}

func (h *Handler) bearerChallenge(errCode, desc string) string {
	return fmt.Sprintf("Bearer realm=%q, error=%q, error_description=%q", h.cfg.realm, errCode, desc)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

var supportedRequestMethods = map[string]bool{
	string(mcp.InitializeMethod): true,
	string(mcp.PingMethod):       true,
	string(mcp.ToolsListMethod):  true,
	string(mcp.ToolsCallMethod):  true,
}

func (h *Handler) handlePost(w *statusWriter, r *http.Request, subject string) {
	ctx := r.Context()
	start := time.Now()

	if pv := r.Header.Get(protocolVersionHeader); pv != "" && !mcp.IsSupportedProtocolVersion(pv) {
		writeJSONError(w, http.StatusBadRequest, "unsupported protocol version "+pv)
		h.cfg.log.WarnContext(ctx, "http.post.protocol.unsupported", "version", pv)
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	msg, err := jsonrpc.Parse(body)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeParseError, "invalid JSON-RPC body")
		h.cfg.log.WarnContext(ctx, "http.post.parse.fail", "err", err)
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: string(msg.Type())})

	switch msg.Type() {
	case jsonrpc.TypeResponse:
		// Client replies to server-initiated requests; nothing outstanding.
		w.WriteHeader(http.StatusAccepted)
	case jsonrpc.TypeNotification:
		h.handleNotification(ctx, w, r, msg.AsRequest())
	case jsonrpc.TypeRequest:
		h.handleRequest(ctx, w, r, msg.AsRequest(), subject)
	}
	h.cfg.log.InfoContext(ctx, "http.post.done", "status", w.status(), "dur", time.Since(start))
}

// handleNotification acknowledges known notifications with 202. Notifications
// never allocate a session; a stale session id still fails with 404 so the
// client restarts its handshake instead of talking into the void.
func (h *Handler) handleNotification(ctx context.Context, w *statusWriter, r *http.Request, req *jsonrpc.Request) {
	if req.Method != string(mcp.InitializedNotificationMethod) {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeMethodNotFound, "unsupported notification "+req.Method)
		return
	}
	if sid := r.Header.Get(sessionIDHeader); sid != "" {
		if _, err := h.sessions.Load(ctx, sid); err != nil {
			h.sessionLoadError(ctx, w, err)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleRequest(ctx context.Context, w *statusWriter, r *http.Request, req *jsonrpc.Request, subject string) {
	if !supportedRequestMethods[req.Method] {
		writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeMethodNotFound, "unsupported method "+req.Method)
		return
	}

	// Requests carry an id and therefore establish a session when the client
	// does not present one yet.
	var sess *mcpsession.Session
	if sid := r.Header.Get(sessionIDHeader); sid != "" {
		loaded, err := h.sessions.Load(ctx, sid)
		if err != nil {
			h.sessionLoadError(ctx, w, err)
			return
		}
		sess = loaded
	} else {
		created, err := h.sessions.Create(ctx, h.negotiateVersion(req))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "session allocation failed")
			h.cfg.log.ErrorContext(ctx, "http.session.create.fail", "err", err)
			return
		}
		sess = created
		h.cfg.log.InfoContext(ctx, "http.session.create", "session_id", sess.ID)
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		ActorID:         subject,
		ProtocolVersion: sess.ProtocolVersion,
	})

	resp := h.dispatchRequest(ctx, req, sess, subject)

	w.Header().Set(sessionIDHeader, sess.ID)
	w.Header().Set(protocolVersionHeader, sess.ProtocolVersion)
	h.respond(w, r, sess, resp)
}

// negotiateVersion picks the session protocol version from the initialize
// params when they name a supported one; anything else gets the latest.
func (h *Handler) negotiateVersion(req *jsonrpc.Request) string {
	if req.Method == string(mcp.InitializeMethod) {
		var init mcp.InitializeRequest
		if err := json.Unmarshal(req.Params, &init); err == nil && mcp.IsSupportedProtocolVersion(init.ProtocolVersion) {
			return init.ProtocolVersion
		}
	}
	return mcp.LatestProtocolVersion
}

func (h *Handler) dispatchRequest(ctx context.Context, req *jsonrpc.Request, sess *mcpsession.Session, subject string) *jsonrpc.Response {
	switch req.Method {
	case string(mcp.InitializeMethod):
		return mustResult(req.ID, mcp.InitializeResult{
			ProtocolVersion: sess.ProtocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools:   &mcp.ToolsCapability{},
				Logging: &struct{}{},
			},
			ServerInfo:   h.cfg.serverInfo,
			Instructions: h.cfg.instructions,
		})

	case string(mcp.PingMethod):
		return mustResult(req.ID, mcp.EmptyResult{})

	case string(mcp.ToolsListMethod):
		return mustResult(req.ID, mcp.ListToolsResult{Tools: h.dispatcher.Registry().Descriptors()})

	case string(mcp.ToolsCallMethod):
		var call mcp.CallToolRequest
		if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "tools/call params require a tool name", nil)
		}
		result := h.dispatcher.Call(ctx, dispatch.Call{
			Name:        call.Name,
			Args:        call.Arguments,
			SessionID:   sess.ID,
			AuthSubject: subject,
		})
		if !result.OK {
			h.publishFailureAdvisory(ctx, sess.ID, call.Name, result.Error.Code)
		}
		return mustResult(req.ID, toCallToolResult(result))
	}
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "unsupported method "+req.Method, nil)
}

// toCallToolResult folds the tool envelope into the MCP result shape: the
// envelope rides whole in structuredContent, a text rendering in content, and
// isError mirrors ok.
func toCallToolResult(resp editor.ToolResponse) mcp.CallToolResult {
	raw, err := json.Marshal(resp)
	if err != nil {
		raw = []byte(`{"ok":false,"error":{"code":"unknown","message":"encode response"}}`)
	}
	return mcp.CallToolResult{
		Content:           []mcp.ContentBlock{mcp.TextContent(string(raw))},
		StructuredContent: raw,
		IsError:           !resp.OK,
	}
}

// publishFailureAdvisory queues a logging notification so clients polling GET
// see tool failures even when they discard the inline result.
func (h *Handler) publishFailureAdvisory(ctx context.Context, sessionID, tool string, code any) {
	note := mcp.LoggingMessageNotification{
		Level:  mcp.LoggingLevelWarning,
		Logger: "bbmcp",
		Data:   map[string]any{"tool": tool, "code": code},
	}
	params, err := json.Marshal(note)
	if err != nil {
		return
	}
	payload, err := json.Marshal(jsonrpc.Request{
		JSONRPCVersion: jsonrpc.Version,
		Method:         string(mcp.LoggingNotificationMethod),
		Params:         params,
	})
	if err != nil {
		return
	}
	if err := h.sessions.PushEvent(ctx, sessionID, payload); err != nil && !errors.Is(err, mcpsession.ErrQueueFull) {
		h.cfg.log.WarnContext(ctx, "http.event.push.fail", "err", err)
	}
}

// respond writes one JSON-RPC response either as a plain JSON body or, when
// the client prefers it, as a single SSE event followed by stream close.
func (h *Handler) respond(w *statusWriter, r *http.Request, sess *mcpsession.Session, resp *jsonrpc.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "encode response")
		return
	}

	accepted, _, err := contenttype.GetAcceptableMediaType(r, postResponseTypes)
	if err == nil && accepted.Matches(eventStreamMediaType) {
		f, ok := w.ResponseWriter.(http.Flusher)
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		sseHeaders(w)
		w.WriteHeader(http.StatusOK)
		wf := &writeFlusher{Writer: w, Flusher: f}
		_ = writeSSEEvent(wf, "", payload)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleGet drains the session's queued events as one batched SSE flush and
// closes. Clients reconnect for more; there is no held-open stream.
func (h *Handler) handleGet(w *statusWriter, r *http.Request) {
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must include text/event-stream")
		return
	}

	sid := r.Header.Get(sessionIDHeader)
	if sid == "" {
		writeJSONError(w, http.StatusBadRequest, "missing "+sessionIDHeader+" header")
		return
	}
	sess, err := h.sessions.Load(ctx, sid)
	if err != nil {
		h.sessionLoadError(ctx, w, err)
		return
	}

	events, err := h.sessions.DrainEvents(ctx, sess.ID)
	if err != nil && !errors.Is(err, mcpsession.ErrSessionNotFound) {
		writeJSONError(w, http.StatusInternalServerError, "event drain failed")
		h.cfg.log.ErrorContext(ctx, "http.get.drain.fail", "err", err)
		return
	}

	f, ok := w.ResponseWriter.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sseHeaders(w)
	w.Header().Set(sessionIDHeader, sess.ID)
	w.WriteHeader(http.StatusOK)
	wf := &writeFlusher{Writer: w, Flusher: f}
	for _, ev := range events {
		if err := writeSSEEvent(wf, fmt.Sprintf("%d", ev.ID), ev.Payload); err != nil {
			h.cfg.log.WarnContext(ctx, "http.get.sse.fail", "err", err)
			return
		}
	}
	h.cfg.log.InfoContext(ctx, "http.get.flush", "events", len(events))
}

// handleDelete tears the session down. A later replay of the same id is a
// 404, indistinguishable from an id that never existed.
func (h *Handler) handleDelete(w *statusWriter, r *http.Request) {
	ctx := r.Context()

	sid := r.Header.Get(sessionIDHeader)
	if sid == "" {
		writeJSONError(w, http.StatusBadRequest, "missing "+sessionIDHeader+" header")
		return
	}
	if _, err := h.sessions.Load(ctx, sid); err != nil {
		h.sessionLoadError(ctx, w, err)
		return
	}
	if err := h.sessions.Delete(ctx, sid); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "session teardown failed")
		h.cfg.log.ErrorContext(ctx, "http.delete.fail", "err", err)
		return
	}
	h.cfg.log.InfoContext(ctx, "http.session.delete", "session_id", sid)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) sessionLoadError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, mcpsession.ErrSessionNotFound) {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSONError(w, http.StatusInternalServerError, "session store unavailable")
	h.cfg.log.ErrorContext(ctx, "http.session.load.fail", "err", err)
}

func mustResult(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "encode result", nil)
	}
	return resp
}

// writeJSONError emits the transport-level rejection body, before (or
// instead of) any JSON-RPC exchange. Shape:
// {"error":{"code":<httpStatus>,"message":"<reason>"}}.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": message},
	})
}

func writeRPCError(w http.ResponseWriter, status int, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, message, nil))
}

// handleProtectedResourceMetadata serves the RFC 9728 document for the MCP
// resource. The resource URL is derived from the request so the same handler
// works behind TLS terminators and in tests.
func (h *Handler) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	doc := wellknown.ProtectedResourceMetadata{
		Resource:               scheme + "://" + r.Host + h.cfg.path,
		AuthorizationServers:   h.cfg.authServers,
		BearerMethodsSupported: []string{"authorization_header"},
		ResourceName:           h.cfg.serverInfo.Name,
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(doc)
}
