package streamhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sigee-min/bbmcp-sub011/auth"
	"github.com/sigee-min/bbmcp-sub011/editor"
	"github.com/sigee-min/bbmcp-sub011/editor/engine"
	"github.com/sigee-min/bbmcp-sub011/internal/dispatch"
	"github.com/sigee-min/bbmcp-sub011/internal/jsonrpc"
	"github.com/sigee-min/bbmcp-sub011/mcp"
	"github.com/sigee-min/bbmcp-sub011/mcpsession"
	"github.com/sigee-min/bbmcp-sub011/projlock/memlock"
	"github.com/sigee-min/bbmcp-sub011/tools"
)

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *mcpsession.MemoryStore) {
	t.Helper()
	reg := tools.NewRegistry(tools.Blockbench(tools.DefaultLimits)...)
	d := dispatch.New(reg,
		dispatch.WithBackend(editor.BackendEngine, engine.New()),
		dispatch.WithLockManager(memlock.New(), 0),
	)
	store := mcpsession.NewMemoryStore()
	return New(d, store, opts...), store
}

func rpcRequest(t *testing.T, id any, method string, params any) string {
	t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != nil {
		msg["id"] = id
	}
	if params != nil {
		msg["params"] = params
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return string(raw)
}

func doPost(h *Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, DefaultPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusTable(t *testing.T) {
	h, store := newTestHandler(t)
	live, err := store.Create(context.Background(), mcp.LatestProtocolVersion)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	cases := []struct {
		name    string
		method  string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{name: "path mismatch", method: http.MethodPost, path: "/other", want: http.StatusNotFound},
		{name: "unsupported method", method: http.MethodPut, path: DefaultPath, want: http.StatusMethodNotAllowed},
		{name: "get without sse accept", method: http.MethodGet, path: DefaultPath,
			headers: map[string]string{"Accept": "application/json"}, want: http.StatusNotAcceptable},
		{name: "get without session", method: http.MethodGet, path: DefaultPath,
			headers: map[string]string{"Accept": "text/event-stream"}, want: http.StatusBadRequest},
		{name: "get with unknown session", method: http.MethodGet, path: DefaultPath,
			headers: map[string]string{"Accept": "text/event-stream", "Mcp-Session-Id": "nope"}, want: http.StatusNotFound},
		{name: "delete without session", method: http.MethodDelete, path: DefaultPath, want: http.StatusBadRequest},
		{name: "delete unknown session", method: http.MethodDelete, path: DefaultPath,
			headers: map[string]string{"Mcp-Session-Id": "nope"}, want: http.StatusNotFound},
		{name: "post bad protocol version", method: http.MethodPost, path: DefaultPath,
			body:    `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			headers: map[string]string{"Content-Type": "application/json", "Mcp-Protocol-Version": "1999-01-01"},
			want:    http.StatusBadRequest},
		{name: "post wrong content type", method: http.MethodPost, path: DefaultPath,
			body:    `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			headers: map[string]string{"Content-Type": "text/plain"},
			want:    http.StatusUnsupportedMediaType},
		{name: "post unparsable json", method: http.MethodPost, path: DefaultPath,
			body:    `{"jsonrpc":`,
			headers: map[string]string{"Content-Type": "application/json"},
			want:    http.StatusBadRequest},
		{name: "post unknown rpc method", method: http.MethodPost, path: DefaultPath,
			body:    `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
			headers: map[string]string{"Content-Type": "application/json"},
			want:    http.StatusBadRequest},
		{name: "post valid request", method: http.MethodPost, path: DefaultPath,
			body:    `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			headers: map[string]string{"Content-Type": "application/json"},
			want:    http.StatusOK},
		{name: "post valid notification", method: http.MethodPost, path: DefaultPath,
			body:    `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			headers: map[string]string{"Content-Type": "application/json"},
			want:    http.StatusAccepted},
		{name: "post request with stale session", method: http.MethodPost, path: DefaultPath,
			body:    `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			headers: map[string]string{"Content-Type": "application/json", "Mcp-Session-Id": "gone"},
			want:    http.StatusNotFound},
		{name: "delete live session", method: http.MethodDelete, path: DefaultPath,
			headers: map[string]string{"Mcp-Session-Id": live.ID}, want: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
			if tc.want == http.StatusMethodNotAllowed && rec.Header().Get("Allow") == "" {
				t.Fatalf("405 must carry Allow")
			}
		})
	}
}

func TestStaticBearerAuth(t *testing.T) {
	h, _ := newTestHandler(t, WithAuthenticator(auth.NewStatic("sekrit")))
	body := rpcRequest(t, 1, "ping", nil)

	rec := doPost(h, body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("401 must carry WWW-Authenticate")
	}

	rec = doPost(h, body, map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d", rec.Code)
	}

	rec = doPost(h, body, map[string]string{"Authorization": "Bearer sekrit"})
	if rec.Code != http.StatusOK {
		t.Fatalf("right token: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestSessionHandshake(t *testing.T) {
	h, _ := newTestHandler(t)

	init := rpcRequest(t, 1, "initialize", map[string]any{
		"protocolVersion": mcp.PreviousProtocolVersion,
		"clientInfo":      map[string]any{"name": "test-client"},
	})
	rec := doPost(h, init, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize: status %d body %s", rec.Code, rec.Body.String())
	}
	sid := rec.Header().Get("Mcp-Session-Id")
	if sid == "" {
		t.Fatalf("initialize must mint a session id")
	}
	if got := rec.Header().Get("Mcp-Protocol-Version"); got != mcp.PreviousProtocolVersion {
		t.Fatalf("negotiated version = %q, want echo of requested", got)
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var result mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if result.ProtocolVersion != mcp.PreviousProtocolVersion {
		t.Fatalf("result version = %q", result.ProtocolVersion)
	}
	if result.Capabilities.Tools == nil {
		t.Fatalf("server must advertise tools capability")
	}

	// Follow-up request echoing the session keeps the same id.
	rec = doPost(h, rpcRequest(t, 2, "tools/list", nil), map[string]string{"Mcp-Session-Id": sid})
	if rec.Code != http.StatusOK {
		t.Fatalf("tools/list: status %d", rec.Code)
	}
	if got := rec.Header().Get("Mcp-Session-Id"); got != sid {
		t.Fatalf("session id changed: %q -> %q", sid, got)
	}

	// Notifications never allocate a session.
	rec = doPost(h, rpcRequest(t, nil, "notifications/initialized", nil), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("notification: status %d", rec.Code)
	}
	if rec.Header().Get("Mcp-Session-Id") != "" {
		t.Fatalf("notification allocated a session")
	}

	// DELETE tears down; the replayed id is dead.
	req := httptest.NewRequest(http.MethodDelete, DefaultPath, nil)
	req.Header.Set("Mcp-Session-Id", sid)
	del := httptest.NewRecorder()
	h.ServeHTTP(del, req)
	if del.Code != http.StatusOK {
		t.Fatalf("delete: status %d", del.Code)
	}
	rec = doPost(h, rpcRequest(t, 3, "ping", nil), map[string]string{"Mcp-Session-Id": sid})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stale session replay: status %d, want 404", rec.Code)
	}
}

func TestToolsListAndCall(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doPost(h, rpcRequest(t, 1, "tools/list", nil), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tools/list: status %d", rec.Code)
	}
	sid := rec.Header().Get("Mcp-Session-Id")

	var listResp jsonrpc.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(listResp.Result, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Tools) != 19 {
		t.Fatalf("tools/list returned %d tools", len(list.Tools))
	}

	call := rpcRequest(t, 2, "tools/call", map[string]any{
		"name":      "ensure_project",
		"arguments": map[string]any{"name": "robot"},
	})
	rec = doPost(h, call, map[string]string{"Mcp-Session-Id": sid})
	if rec.Code != http.StatusOK {
		t.Fatalf("tools/call: status %d body %s", rec.Code, rec.Body.String())
	}

	var callResp jsonrpc.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &callResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(callResp.Result, &result); err != nil {
		t.Fatalf("decode call result: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool failed: %s", result.StructuredContent)
	}
	var envelope editor.ToolResponse
	if err := json.Unmarshal(result.StructuredContent, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !envelope.OK || envelope.Revision == "" {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestPostRespondsWithSSEWhenPreferred(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doPost(h, rpcRequest(t, 1, "ping", nil), map[string]string{"Accept": "text/event-stream"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "data: ") {
		t.Fatalf("body is not an SSE frame: %q", rec.Body.String())
	}
}

func TestGetDrainsQueuedEventsOnce(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	rec := doPost(h, rpcRequest(t, 1, "initialize", map[string]any{
		"protocolVersion": mcp.LatestProtocolVersion,
		"clientInfo":      map[string]any{"name": "test-client"},
	}), nil)
	sid := rec.Header().Get("Mcp-Session-Id")

	for _, payload := range []string{`{"n":1}`, `{"n":2}`} {
		if err := store.PushEvent(ctx, sid, json.RawMessage(payload)); err != nil {
			t.Fatalf("push event: %v", err)
		}
	}

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, DefaultPath, nil)
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Mcp-Session-Id", sid)
		out := httptest.NewRecorder()
		h.ServeHTTP(out, req)
		return out
	}

	first := get()
	if first.Code != http.StatusOK {
		t.Fatalf("get: status %d", first.Code)
	}
	body := first.Body.String()
	if !strings.Contains(body, "id: 1") || !strings.Contains(body, `data: {"n":1}`) {
		t.Fatalf("first frame missing: %q", body)
	}
	if !strings.Contains(body, "id: 2") || !strings.Contains(body, `data: {"n":2}`) {
		t.Fatalf("second frame missing: %q", body)
	}
	if strings.Index(body, "id: 1") > strings.Index(body, "id: 2") {
		t.Fatalf("events out of order: %q", body)
	}

	second := get()
	if second.Code != http.StatusOK {
		t.Fatalf("re-get: status %d", second.Code)
	}
	if strings.Contains(second.Body.String(), "data: ") {
		t.Fatalf("drain must be destructive, got %q", second.Body.String())
	}
}

func TestFailedToolCallQueuesAdvisory(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	call := rpcRequest(t, 1, "tools/call", map[string]any{
		"name":      "add_bone",
		"arguments": map[string]any{"name": "root"}, // no project, no revision
	})
	rec := doPost(h, call, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tools/call transport status %d", rec.Code)
	}
	sid := rec.Header().Get("Mcp-Session-Id")

	events, err := store.DrainEvents(ctx, sid)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("advisory events = %d, want 1", len(events))
	}
	var note jsonrpc.Request
	if err := json.Unmarshal(events[0].Payload, &note); err != nil {
		t.Fatalf("decode advisory: %v", err)
	}
	if note.Method != string(mcp.LoggingNotificationMethod) {
		t.Fatalf("advisory method = %q", note.Method)
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	h, _ := newTestHandler(t, WithAuthorizationServers("https://issuer.example"))

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if len(doc.AuthorizationServers) != 1 || doc.AuthorizationServers[0] != "https://issuer.example" {
		t.Fatalf("authorization_servers = %v", doc.AuthorizationServers)
	}
	if !strings.HasSuffix(doc.Resource, "/mcp") {
		t.Fatalf("resource = %q", doc.Resource)
	}

	// Not published unless issuers are configured.
	h2, _ := newTestHandler(t)
	rec2 := httptest.NewRecorder()
	h2.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource/mcp", nil))
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("unconfigured status = %d, want 404", rec2.Code)
	}
}

func TestTransportErrorsUseStructuredEnvelope(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPut, DefaultPath, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if body.Error.Code != http.StatusMethodNotAllowed || body.Error.Message == "" {
		t.Fatalf("error envelope: %+v", body.Error)
	}

	// Same shape on content-type rejection.
	req = httptest.NewRequest(http.MethodPost, DefaultPath, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode 415 envelope: %v", err)
	}
	if body.Error.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("415 envelope: %+v", body.Error)
	}
}

func TestInitializeCarriesConfiguredInstructions(t *testing.T) {
	h, _ := newTestHandler(t, WithInstructions("ensure_project first"))

	rec := doPost(h, rpcRequest(t, 1, "initialize", map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "t", "version": "0"},
	}), map[string]string{"Accept": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize status = %d", rec.Code)
	}
	var resp struct {
		Result struct {
			Instructions string `json:"instructions"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if resp.Result.Instructions != "ensure_project first" {
		t.Fatalf("instructions = %q", resp.Result.Instructions)
	}
}
