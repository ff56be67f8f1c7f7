package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func logLine(ctx context.Context, t *testing.T) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})
	log.InfoContext(ctx, "probe")
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	return out
}

func TestHandlerAddsContextGroups(t *testing.T) {
	ctx := WithRequestData(context.Background(), &RequestData{
		RequestID: "r1", Method: "POST", Path: "/mcp",
	})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "add_bone", Backend: "engine"})
	ctx = WithProjectData(ctx, &ProjectData{ProjectID: "proj-1", Revision: "abc"})

	out := logLine(ctx, t)

	req, ok := out["req"].(map[string]any)
	if !ok || req["id"] != "r1" || req["method"] != "POST" {
		t.Fatalf("req group: %v", out["req"])
	}
	tool, ok := out["tool"].(map[string]any)
	if !ok || tool["name"] != "add_bone" || tool["backend"] != "engine" {
		t.Fatalf("tool group: %v", out["tool"])
	}
	project, ok := out["project"].(map[string]any)
	if !ok || project["id"] != "proj-1" || project["revision"] != "abc" {
		t.Fatalf("project group: %v", out["project"])
	}
}

func TestHandlerIgnoresBareContext(t *testing.T) {
	out := logLine(context.Background(), t)
	for _, group := range []string{"req", "sess", "rpc", "tool", "project"} {
		if _, present := out[group]; present {
			t.Fatalf("group %q attached without context data", group)
		}
	}
}
