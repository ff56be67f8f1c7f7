package editor

import (
	"encoding/json"
	"testing"
)

func TestToolErrorBuilders(t *testing.T) {
	err := Errorf(CodeInvalidState, "no bone %q", "torso").
		WithFix("Call list_bones to see what exists.").
		WithDetail("id", "torso")

	if err.Code != CodeInvalidState {
		t.Fatalf("code = %q", err.Code)
	}
	if err.Error() != `invalid_state: no bone "torso"` {
		t.Fatalf("Error() = %q", err.Error())
	}
	if err.Fix == "" || err.Details["id"] != "torso" {
		t.Fatalf("builders lost data: %+v", err)
	}

	clone := err.Clone().WithDetail("extra", 1)
	if _, leaked := err.Details["extra"]; leaked {
		t.Fatal("Clone shares the details map")
	}
	if clone.Message != err.Message {
		t.Fatalf("clone message = %q", clone.Message)
	}
}

func TestNilToolErrorIsPrintable(t *testing.T) {
	var err *ToolError
	if err.Error() != "<nil>" {
		t.Fatalf("nil Error() = %q", err.Error())
	}
	if err.Clone() != nil {
		t.Fatal("nil Clone should stay nil")
	}
}

func TestResponseConstructors(t *testing.T) {
	resp := OK(map[string]int{"n": 1})
	if !resp.OK || resp.Error != nil {
		t.Fatalf("OK envelope: %+v", resp)
	}
	var data map[string]int
	if err := json.Unmarshal(resp.Data, &data); err != nil || data["n"] != 1 {
		t.Fatalf("data round-trip: %v %v", err, data)
	}

	empty := OK(nil)
	if !empty.OK || empty.Data != nil {
		t.Fatalf("OK(nil): %+v", empty)
	}

	failed := Fail(Errorf(CodeIO, "disk full"))
	if failed.OK || failed.Error == nil || failed.Error.Code != CodeIO {
		t.Fatalf("Fail envelope: %+v", failed)
	}
}

func TestParseBackendKind(t *testing.T) {
	if k, ok := ParseBackendKind("engine"); !ok || k != BackendEngine {
		t.Fatalf("engine: %v %v", k, ok)
	}
	if k, ok := ParseBackendKind("blockbench"); !ok || k != BackendBlockbench {
		t.Fatalf("blockbench: %v %v", k, ok)
	}
	if _, ok := ParseBackendKind("maya"); ok {
		t.Fatal("unknown kind accepted")
	}
}
