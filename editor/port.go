package editor

import (
	"context"
	"sort"

	"github.com/sigee-min/bbmcp-sub011/session"
)

// BackendKind discriminates the registered Port implementations. It is a
// closed set: unknown values are rejected at the dispatch boundary.
type BackendKind string

const (
	// BackendEngine is the in-process state machine backend.
	BackendEngine BackendKind = "engine"
	// BackendBlockbench is the live host-application bridge, registered only
	// when such a bridge is attached.
	BackendBlockbench BackendKind = "blockbench"
)

// ParseBackendKind validates a wire discriminator against the closed set.
func ParseBackendKind(s string) (BackendKind, bool) {
	switch BackendKind(s) {
	case BackendEngine:
		return BackendEngine, true
	case BackendBlockbench:
		return BackendBlockbench, true
	}
	return "", false
}

// KindNames renders a registry's keys sorted, for error messages.
func KindNames(kinds map[BackendKind]Port) []string {
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// EnsureProjectRequest attaches or re-attaches the working project. ProjectID
// is the dispatcher-resolved stable id; Name and Format describe a project to
// create when none exists under that id.
type EnsureProjectRequest struct {
	ProjectID string
	TenantID  string
	Name      string
	Format    string
	FPS       float64
}

// SetKeyframesRequest upserts frames on one clip.
type SetKeyframesRequest struct {
	AnimationID string
	Frames      []session.Keyframe
}

// AddTextureRequest inserts a texture slot. Data optionally carries the image
// bytes for backends wired to a blob store.
type AddTextureRequest struct {
	Texture session.Texture
	Data    []byte
}

// Capabilities describes what a backend can do, served by list_capabilities.
type Capabilities struct {
	Backend   BackendKind `json:"backend"`
	Formats   []string    `json:"formats"`
	Animation bool        `json:"animation"`
	Persisted bool        `json:"persisted"`
}

// Port is the uniform surface every backend implements: one method per domain
// operation. Mutations return a ToolError or nil; queries return a typed
// result. The core never sees how a backend fulfills these (live editor
// object graph and persisted-state engine are both valid).
type Port interface {
	EnsureProject(ctx context.Context, req EnsureProjectRequest) (*session.Snapshot, *ToolError)
	ProjectState(ctx context.Context) (*session.Snapshot, *ToolError)
	// Revision is the cheap current-token read backing the revision guard.
	Revision(ctx context.Context) (string, *ToolError)
	DiffSince(ctx context.Context, baseRevision string) (*session.Diff, *ToolError)

	ListBones(ctx context.Context) ([]session.Bone, *ToolError)
	AddBone(ctx context.Context, b session.Bone) (*session.Bone, *ToolError)
	UpdateBone(ctx context.Context, id string, patch session.BonePatch) (*session.Bone, *ToolError)
	RemoveBone(ctx context.Context, id string) *ToolError

	AddCube(ctx context.Context, c session.Cube) (*session.Cube, *ToolError)
	UpdateCube(ctx context.Context, id string, patch session.CubePatch) (*session.Cube, *ToolError)
	RemoveCube(ctx context.Context, id string) *ToolError

	ListTextures(ctx context.Context) ([]session.Texture, *ToolError)
	AddTexture(ctx context.Context, req AddTextureRequest) (*session.Texture, *ToolError)
	UpdateTexture(ctx context.Context, id string, patch session.TexturePatch) (*session.Texture, *ToolError)
	RemoveTexture(ctx context.Context, id string) *ToolError

	CreateAnimation(ctx context.Context, a session.Animation) (*session.Animation, *ToolError)
	UpdateAnimation(ctx context.Context, id string, patch session.AnimationPatch) (*session.Animation, *ToolError)
	RemoveAnimation(ctx context.Context, id string) *ToolError
	SetKeyframes(ctx context.Context, req SetKeyframesRequest) (*session.Animation, *ToolError)

	CloseProject(ctx context.Context) *ToolError
	Capabilities(ctx context.Context) (Capabilities, *ToolError)
}
