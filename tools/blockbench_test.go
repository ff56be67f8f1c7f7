package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sigee-min/bbmcp-sub011/editor"
	"github.com/sigee-min/bbmcp-sub011/editor/engine"
	"github.com/sigee-min/bbmcp-sub011/mcp"
	"github.com/sigee-min/bbmcp-sub011/session"
)

var toolNames = []string{
	"ensure_project", "get_project_state", "list_capabilities", "close_project",
	"list_bones", "add_bone", "update_bone", "remove_bone",
	"add_cube", "update_cube", "remove_cube",
	"list_textures", "add_texture", "update_texture", "remove_texture",
	"create_animation", "update_animation", "remove_animation", "set_keyframes",
}

func callTool(t *testing.T, reg *Registry, port editor.Port, name string, args map[string]any) editor.ToolResponse {
	t.Helper()
	def, ok := reg.Get(name)
	if !ok {
		t.Fatalf("tool %q not registered", name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	meta := CallMeta{TenantID: "default", ActorID: "test", ProjectID: "proj-1"}
	return def.Handler(context.Background(), port, meta, raw)
}

func TestBlockbenchToolSetComplete(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)

	descs := reg.Descriptors()
	if len(descs) != len(toolNames) {
		t.Fatalf("registered %d tools, want %d", len(descs), len(toolNames))
	}
	for i, name := range toolNames {
		if descs[i].Name != name {
			t.Fatalf("tool %d = %q, want %q", i, descs[i].Name, name)
		}
		if len(descs[i].InputSchema) == 0 {
			t.Fatalf("tool %q has no input schema", name)
		}
		var schema map[string]any
		if err := json.Unmarshal(descs[i].InputSchema, &schema); err != nil {
			t.Fatalf("tool %q schema is not JSON: %v", name, err)
		}
		if schema["type"] != "object" {
			t.Fatalf("tool %q schema type = %v", name, schema["type"])
		}
	}
}

func TestMutatingFlagsFollowToolKind(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)

	for _, name := range []string{"add_bone", "update_cube", "set_keyframes", "close_project"} {
		def, _ := reg.Get(name)
		if !def.Mutating {
			t.Errorf("%s should be mutating", name)
		}
	}
	for _, name := range []string{"get_project_state", "list_bones", "list_capabilities"} {
		def, _ := reg.Get(name)
		if def.Mutating {
			t.Errorf("%s should not be mutating", name)
		}
	}
	// Attach establishes state, so it skips the revision check.
	ensure, _ := reg.Get("ensure_project")
	if !ensure.Mutating || ensure.RequiresRevision {
		t.Fatalf("ensure_project flags: mutating=%v requiresRevision=%v", ensure.Mutating, ensure.RequiresRevision)
	}
}

func TestEnsureProjectThenMutate(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)
	eng := engine.New()

	resp := callTool(t, reg, eng, "ensure_project", map[string]any{"name": "robot", "format": "bedrock"})
	if !resp.OK {
		t.Fatalf("ensure_project failed: %+v", resp.Error)
	}
	if resp.Revision == "" {
		t.Fatalf("ensure_project response missing revision")
	}
	baseRev := resp.Revision

	resp = callTool(t, reg, eng, "add_bone", map[string]any{
		"name":       "root",
		"ifRevision": baseRev,
	})
	if !resp.OK {
		t.Fatalf("add_bone failed: %+v", resp.Error)
	}
	if resp.Revision == baseRev {
		t.Fatalf("mutation did not advance the revision")
	}
	if resp.State == nil {
		t.Fatalf("mutation response missing state snapshot")
	}
	if len(resp.State.Bones) != 1 || resp.State.Bones[0].Name != "root" {
		t.Fatalf("state bones = %+v", resp.State.Bones)
	}
	if resp.Diff == nil || resp.Diff.BaseRevision != baseRev {
		t.Fatalf("mutation response diff = %+v, want baseline %q", resp.Diff, baseRev)
	}
}

func TestMutationWithoutRevisionFails(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)
	eng := engine.New()
	callTool(t, reg, eng, "ensure_project", map[string]any{"name": "robot"})

	resp := callTool(t, reg, eng, "add_bone", map[string]any{"name": "root"})
	if resp.OK {
		t.Fatalf("expected guard failure without ifRevision")
	}
	if resp.Error.Code != editor.CodeInvalidState {
		t.Fatalf("error code = %q, want %q", resp.Error.Code, editor.CodeInvalidState)
	}
}

func TestStaleRevisionAutoRetries(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)
	eng := engine.New()
	ctx := context.Background()

	resp := callTool(t, reg, eng, "ensure_project", map[string]any{"name": "robot"})
	staleRev := resp.Revision

	// Advance state behind the caller's back.
	if _, terr := eng.AddBone(ctx, session.Bone{ID: "b0", Name: "spine"}); terr != nil {
		t.Fatalf("add bone: %v", terr)
	}

	resp = callTool(t, reg, eng, "add_bone", map[string]any{"name": "arm", "ifRevision": staleRev})
	if !resp.OK {
		t.Fatalf("expected one-shot retry to land the call, got %+v", resp.Error)
	}
}

func TestValidationRejectsOversizedPayloads(t *testing.T) {
	limits := Limits{MaxNameLength: 8, MaxKeyframesPerCall: 2, MaxTextureBytes: 16}
	reg := NewRegistry(Blockbench(limits)...)
	eng := engine.New()
	resp := callTool(t, reg, eng, "ensure_project", map[string]any{"name": "rig"})
	rev := resp.Revision

	resp = callTool(t, reg, eng, "add_bone", map[string]any{"name": "a-very-long-bone-name", "ifRevision": rev})
	if resp.OK || resp.Error.Code != editor.CodeInvalidPayload {
		t.Fatalf("long name: got %+v", resp)
	}

	frames := []map[string]any{
		{"bone": "b", "channel": "rotation", "time": 0.0},
		{"bone": "b", "channel": "rotation", "time": 0.5},
		{"bone": "b", "channel": "rotation", "time": 1.0},
	}
	resp = callTool(t, reg, eng, "set_keyframes", map[string]any{"animationId": "a1", "frames": frames, "ifRevision": rev})
	if resp.OK || resp.Error.Code != editor.CodeInvalidPayload {
		t.Fatalf("keyframe cap: got %+v", resp)
	}

	data := make([]byte, 32)
	resp = callTool(t, reg, eng, "add_texture", map[string]any{
		"name": "skin", "width": 16, "height": 16, "data": data, "ifRevision": rev,
	})
	if resp.OK || resp.Error.Code != editor.CodeInvalidPayload {
		t.Fatalf("texture cap: got %+v", resp)
	}
}

func TestIncludeStateOverride(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)
	eng := engine.New()
	resp := callTool(t, reg, eng, "ensure_project", map[string]any{"name": "rig"})
	rev := resp.Revision

	resp = callTool(t, reg, eng, "add_bone", map[string]any{
		"name": "root", "ifRevision": rev, "includeState": false, "includeDiff": false,
	})
	if !resp.OK {
		t.Fatalf("add_bone failed: %+v", resp.Error)
	}
	if resp.State != nil || resp.Diff != nil {
		t.Fatalf("overrides ignored: state=%v diff=%v", resp.State != nil, resp.Diff != nil)
	}
	if resp.Revision == "" {
		t.Fatalf("revision is attached regardless of overrides")
	}
}

func TestListCapabilitiesWithoutProject(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)
	eng := engine.New()

	resp := callTool(t, reg, eng, "list_capabilities", nil)
	if !resp.OK {
		t.Fatalf("list_capabilities needs no project: %+v", resp.Error)
	}
	var caps editor.Capabilities
	if err := DataAs(resp, &caps); err != nil {
		t.Fatalf("decode capabilities: %v", err)
	}
	if caps.Backend != editor.BackendEngine {
		t.Fatalf("capabilities backend = %q", caps.Backend)
	}
}

func TestAnimationRoundTrip(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)
	eng := engine.New()
	resp := callTool(t, reg, eng, "ensure_project", map[string]any{"name": "rig", "fps": 24})
	rev := resp.Revision

	resp = callTool(t, reg, eng, "add_bone", map[string]any{"id": "root", "name": "root", "ifRevision": rev})
	if !resp.OK {
		t.Fatalf("add_bone failed: %+v", resp.Error)
	}
	rev = resp.Revision

	resp = callTool(t, reg, eng, "create_animation", map[string]any{
		"id": "walk", "name": "walk", "length": 1.0, "loop": "loop", "ifRevision": rev,
	})
	if !resp.OK {
		t.Fatalf("create_animation failed: %+v", resp.Error)
	}
	rev = resp.Revision

	resp = callTool(t, reg, eng, "set_keyframes", map[string]any{
		"animationId": "walk",
		"frames": []map[string]any{
			{"bone": "root", "channel": "rotation", "time": 0.0, "values": []float64{0, 0, 0}},
			{"bone": "root", "channel": "rotation", "time": 0.5, "values": []float64{0, 45, 0}},
		},
		"ifRevision": rev,
	})
	if !resp.OK {
		t.Fatalf("set_keyframes failed: %+v", resp.Error)
	}
	var anim session.Animation
	if err := DataAs(resp, &anim); err != nil {
		t.Fatalf("decode animation: %v", err)
	}
	if len(anim.Keyframes) != 2 {
		t.Fatalf("animation has %d keyframes, want 2", len(anim.Keyframes))
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)
	if reg.Register(Tool{Descriptor: mcp.Tool{Name: "add_bone"}}) {
		t.Fatalf("duplicate registration accepted")
	}
	if reg.Register(Tool{}) {
		t.Fatalf("unnamed tool accepted")
	}
}

func TestBadArgumentsJSON(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)
	eng := engine.New()
	def, _ := reg.Get("add_bone")

	resp := def.Handler(context.Background(), eng, CallMeta{}, json.RawMessage(`{"name":42}`))
	if resp.OK || resp.Error.Code != editor.CodeInvalidPayload {
		t.Fatalf("type mismatch: got %+v", resp)
	}
}

func TestRemoveBoneCascadesThroughTheTool(t *testing.T) {
	reg := NewRegistry(Blockbench(DefaultLimits)...)
	eng := engine.New()

	resp := callTool(t, reg, eng, "ensure_project", map[string]any{"name": "rig"})
	rev := resp.Revision
	resp = callTool(t, reg, eng, "add_bone", map[string]any{"id": "torso", "name": "torso", "ifRevision": rev})
	rev = resp.Revision
	resp = callTool(t, reg, eng, "add_bone", map[string]any{"id": "arm", "name": "arm", "parent": "torso", "ifRevision": rev})
	rev = resp.Revision
	resp = callTool(t, reg, eng, "add_cube", map[string]any{
		"name": "chest", "bone": "torso",
		"from": []float64{0, 0, 0}, "to": []float64{4, 4, 4},
		"ifRevision": rev,
	})
	rev = resp.Revision

	// A bone with a child and an attached cube removes cleanly: the child
	// reparents, the cube goes with the bone.
	resp = callTool(t, reg, eng, "remove_bone", map[string]any{"id": "torso", "ifRevision": rev})
	if !resp.OK {
		t.Fatalf("remove_bone with dependents: %+v", resp.Error)
	}
	if resp.State == nil {
		t.Fatal("mutation response should carry state")
	}
	if len(resp.State.Bones) != 1 || resp.State.Bones[0].ID != "arm" || resp.State.Bones[0].Parent != "" {
		t.Fatalf("child not reparented to root: %+v", resp.State.Bones)
	}
	if len(resp.State.Cubes) != 0 {
		t.Fatalf("attached cube survived: %+v", resp.State.Cubes)
	}
}
