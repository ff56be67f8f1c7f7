package tools

import (
	"context"
	"encoding/json"

	"github.com/sigee-min/bbmcp-sub011/editor"
	"github.com/sigee-min/bbmcp-sub011/session"
)

// Limits bound tool payloads before they reach the guard or the backend.
type Limits struct {
	MaxNameLength       int
	MaxKeyframesPerCall int
	MaxTextureBytes     int
}

// DefaultLimits matches what a single agent editing one model needs.
var DefaultLimits = Limits{
	MaxNameLength:       120,
	MaxKeyframesPerCall: 1024,
	MaxTextureBytes:     4 << 20,
}

func (l Limits) checkName(field, name string) *editor.ToolError {
	if name == "" {
		return editor.Errorf(editor.CodeInvalidPayload, "%s is required", field)
	}
	if l.MaxNameLength > 0 && len(name) > l.MaxNameLength {
		return editor.Errorf(editor.CodeInvalidPayload, "%s exceeds %d characters", field, l.MaxNameLength)
	}
	return nil
}

type ensureProjectArgs struct {
	CommonArgs
	Name   string  `json:"name,omitempty" jsonschema:"description=Project name to create when none exists"`
	Format string  `json:"format,omitempty" jsonschema:"description=Model format such as bedrock or java_block"`
	FPS    float64 `json:"fps,omitempty" jsonschema:"description=Animation frame rate for the project time policy"`
}

type emptyArgs struct {
	CommonArgs
}

type addBoneArgs struct {
	CommonArgs
	ID       string     `json:"id,omitempty"`
	Name     string     `json:"name"`
	Parent   string     `json:"parent,omitempty"`
	Pivot    [3]float64 `json:"pivot,omitempty"`
	Rotation [3]float64 `json:"rotation,omitempty"`
	Mirror   bool       `json:"mirror,omitempty"`
}

type updateBoneArgs struct {
	CommonArgs
	ID    string            `json:"id"`
	Patch session.BonePatch `json:"patch"`
}

type removeByIDArgs struct {
	CommonArgs
	ID string `json:"id"`
}

type addCubeArgs struct {
	CommonArgs
	ID       string     `json:"id,omitempty"`
	Name     string     `json:"name"`
	Bone     string     `json:"bone,omitempty"`
	From     [3]float64 `json:"from"`
	To       [3]float64 `json:"to"`
	Origin   [3]float64 `json:"origin,omitempty"`
	Rotation [3]float64 `json:"rotation,omitempty"`
	Inflate  float64    `json:"inflate,omitempty"`
	UV       [2]float64 `json:"uv,omitempty"`
}

type updateCubeArgs struct {
	CommonArgs
	ID    string            `json:"id"`
	Patch session.CubePatch `json:"patch"`
}

type addTextureArgs struct {
	CommonArgs
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data,omitempty" jsonschema:"description=Base64 image payload stored in the blob store"`
}

type updateTextureArgs struct {
	CommonArgs
	ID    string               `json:"id"`
	Patch session.TexturePatch `json:"patch"`
}

type createAnimationArgs struct {
	CommonArgs
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name"`
	Length float64 `json:"length,omitempty"`
	Loop   string  `json:"loop,omitempty" jsonschema:"enum=once,enum=loop,enum=hold"`
}

type updateAnimationArgs struct {
	CommonArgs
	ID    string                 `json:"id"`
	Patch session.AnimationPatch `json:"patch"`
}

type setKeyframesArgs struct {
	CommonArgs
	AnimationID string             `json:"animationId"`
	Frames      []session.Keyframe `json:"frames"`
}

// Blockbench builds the complete tool set over the editor port.
func Blockbench(limits Limits) []Tool {
	if limits == (Limits{}) {
		limits = DefaultLimits
	}
	return []Tool{
		NewValidatedTool("ensure_project",
			func(args ensureProjectArgs) *editor.ToolError {
				if args.FPS < 0 {
					return editor.Errorf(editor.CodeInvalidPayload, "fps must not be negative")
				}
				return nil
			},
			func(ctx context.Context, port editor.Port, meta CallMeta, args ensureProjectArgs) (editor.ToolResponse, error) {
				name := args.Name
				if name == "" {
					name = args.ProjectName
				}
				snap, terr := port.EnsureProject(ctx, editor.EnsureProjectRequest{
					ProjectID: meta.ProjectID,
					TenantID:  meta.TenantID,
					Name:      name,
					Format:    args.Format,
					FPS:       args.FPS,
				})
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(snap).WithNextActions("add_bone", "add_cube", "create_animation"), nil
			},
			WithDescription("Attach or create the working project. Returns the full state and its revision."),
			Mutating(), WithoutRevisionGuard()),

		NewTool("get_project_state",
			func(ctx context.Context, port editor.Port, meta CallMeta, args emptyArgs) (editor.ToolResponse, error) {
				snap, terr := port.ProjectState(ctx)
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(snap), nil
			},
			WithDescription("Read the full project state and current revision.")),

		NewTool("list_capabilities",
			func(ctx context.Context, port editor.Port, meta CallMeta, args emptyArgs) (editor.ToolResponse, error) {
				caps, terr := port.Capabilities(ctx)
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(caps), nil
			},
			WithDescription("List what the selected backend supports. Works without an active project.")),

		NewTool("close_project",
			func(ctx context.Context, port editor.Port, meta CallMeta, args emptyArgs) (editor.ToolResponse, error) {
				if terr := port.CloseProject(ctx); terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(nil), nil
			},
			WithDescription("Close the working project. Persisted snapshots survive for a later ensure_project."),
			Mutating(), WithIncludeState(false)),

		NewTool("list_bones",
			func(ctx context.Context, port editor.Port, meta CallMeta, args emptyArgs) (editor.ToolResponse, error) {
				bones, terr := port.ListBones(ctx)
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(bones), nil
			},
			WithDescription("List the skeleton bones.")),

		NewValidatedTool("add_bone",
			func(args addBoneArgs) *editor.ToolError { return limits.checkName("name", args.Name) },
			func(ctx context.Context, port editor.Port, meta CallMeta, args addBoneArgs) (editor.ToolResponse, error) {
				bone, terr := port.AddBone(ctx, session.Bone{
					ID: args.ID, Name: args.Name, Parent: args.Parent,
					Pivot: args.Pivot, Rotation: args.Rotation, Mirror: args.Mirror,
				})
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(bone), nil
			},
			WithDescription("Add a bone to the skeleton."),
			Mutating()),

		NewValidatedTool("update_bone",
			func(args updateBoneArgs) *editor.ToolError {
				if args.ID == "" {
					return editor.Errorf(editor.CodeInvalidPayload, "id is required")
				}
				return nil
			},
			func(ctx context.Context, port editor.Port, meta CallMeta, args updateBoneArgs) (editor.ToolResponse, error) {
				bone, terr := port.UpdateBone(ctx, args.ID, args.Patch)
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(bone), nil
			},
			WithDescription("Update a subset of one bone's attributes."),
			Mutating()),

		NewValidatedTool("remove_bone", requireID,
			func(ctx context.Context, port editor.Port, meta CallMeta, args removeByIDArgs) (editor.ToolResponse, error) {
				if terr := port.RemoveBone(ctx, args.ID); terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(nil), nil
			},
			WithDescription("Remove a bone. Child bones are reparented to its parent and attached cubes are deleted."),
			Mutating()),

		NewValidatedTool("add_cube",
			func(args addCubeArgs) *editor.ToolError { return limits.checkName("name", args.Name) },
			func(ctx context.Context, port editor.Port, meta CallMeta, args addCubeArgs) (editor.ToolResponse, error) {
				cube, terr := port.AddCube(ctx, session.Cube{
					ID: args.ID, Name: args.Name, Bone: args.Bone,
					From: args.From, To: args.To, Origin: args.Origin,
					Rotation: args.Rotation, Inflate: args.Inflate, UV: args.UV,
				})
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(cube), nil
			},
			WithDescription("Add a cube element, optionally attached to a bone."),
			Mutating()),

		NewValidatedTool("update_cube",
			func(args updateCubeArgs) *editor.ToolError {
				if args.ID == "" {
					return editor.Errorf(editor.CodeInvalidPayload, "id is required")
				}
				return nil
			},
			func(ctx context.Context, port editor.Port, meta CallMeta, args updateCubeArgs) (editor.ToolResponse, error) {
				cube, terr := port.UpdateCube(ctx, args.ID, args.Patch)
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(cube), nil
			},
			WithDescription("Update a subset of one cube's attributes."),
			Mutating()),

		NewValidatedTool("remove_cube", requireID,
			func(ctx context.Context, port editor.Port, meta CallMeta, args removeByIDArgs) (editor.ToolResponse, error) {
				if terr := port.RemoveCube(ctx, args.ID); terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(nil), nil
			},
			WithDescription("Remove a cube."),
			Mutating()),

		NewTool("list_textures",
			func(ctx context.Context, port editor.Port, meta CallMeta, args emptyArgs) (editor.ToolResponse, error) {
				textures, terr := port.ListTextures(ctx)
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(textures), nil
			},
			WithDescription("List the project texture slots.")),

		NewValidatedTool("add_texture",
			func(args addTextureArgs) *editor.ToolError {
				if terr := limits.checkName("name", args.Name); terr != nil {
					return terr
				}
				if args.Width <= 0 || args.Height <= 0 {
					return editor.Errorf(editor.CodeInvalidPayload, "width and height must be positive")
				}
				if limits.MaxTextureBytes > 0 && len(args.Data) > limits.MaxTextureBytes {
					return editor.Errorf(editor.CodeInvalidPayload, "texture payload exceeds %d bytes", limits.MaxTextureBytes)
				}
				return nil
			},
			func(ctx context.Context, port editor.Port, meta CallMeta, args addTextureArgs) (editor.ToolResponse, error) {
				tex, terr := port.AddTexture(ctx, editor.AddTextureRequest{
					Texture: session.Texture{ID: args.ID, Name: args.Name, Path: args.Path, Width: args.Width, Height: args.Height},
					Data:    args.Data,
				})
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(tex), nil
			},
			WithDescription("Add a texture slot, optionally storing the image payload."),
			Mutating()),

		NewValidatedTool("update_texture",
			func(args updateTextureArgs) *editor.ToolError {
				if args.ID == "" {
					return editor.Errorf(editor.CodeInvalidPayload, "id is required")
				}
				return nil
			},
			func(ctx context.Context, port editor.Port, meta CallMeta, args updateTextureArgs) (editor.ToolResponse, error) {
				tex, terr := port.UpdateTexture(ctx, args.ID, args.Patch)
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(tex), nil
			},
			WithDescription("Update a subset of one texture's attributes."),
			Mutating()),

		NewValidatedTool("remove_texture", requireID,
			func(ctx context.Context, port editor.Port, meta CallMeta, args removeByIDArgs) (editor.ToolResponse, error) {
				if terr := port.RemoveTexture(ctx, args.ID); terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(nil), nil
			},
			WithDescription("Remove a texture slot and its stored payload."),
			Mutating()),

		NewValidatedTool("create_animation",
			func(args createAnimationArgs) *editor.ToolError {
				if terr := limits.checkName("name", args.Name); terr != nil {
					return terr
				}
				if args.Length < 0 {
					return editor.Errorf(editor.CodeInvalidPayload, "length must not be negative")
				}
				return nil
			},
			func(ctx context.Context, port editor.Port, meta CallMeta, args createAnimationArgs) (editor.ToolResponse, error) {
				anim, terr := port.CreateAnimation(ctx, session.Animation{
					ID: args.ID, Name: args.Name, Length: args.Length, Loop: args.Loop,
				})
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(anim).WithNextActions("set_keyframes"), nil
			},
			WithDescription("Create a named animation clip."),
			Mutating()),

		NewValidatedTool("update_animation",
			func(args updateAnimationArgs) *editor.ToolError {
				if args.ID == "" {
					return editor.Errorf(editor.CodeInvalidPayload, "id is required")
				}
				return nil
			},
			func(ctx context.Context, port editor.Port, meta CallMeta, args updateAnimationArgs) (editor.ToolResponse, error) {
				anim, terr := port.UpdateAnimation(ctx, args.ID, args.Patch)
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(anim), nil
			},
			WithDescription("Update a subset of one animation clip's attributes."),
			Mutating()),

		NewValidatedTool("remove_animation", requireID,
			func(ctx context.Context, port editor.Port, meta CallMeta, args removeByIDArgs) (editor.ToolResponse, error) {
				if terr := port.RemoveAnimation(ctx, args.ID); terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(nil), nil
			},
			WithDescription("Remove an animation clip."),
			Mutating()),

		NewValidatedTool("set_keyframes",
			func(args setKeyframesArgs) *editor.ToolError {
				if args.AnimationID == "" {
					return editor.Errorf(editor.CodeInvalidPayload, "animationId is required")
				}
				if len(args.Frames) == 0 {
					return editor.Errorf(editor.CodeInvalidPayload, "frames must not be empty")
				}
				if limits.MaxKeyframesPerCall > 0 && len(args.Frames) > limits.MaxKeyframesPerCall {
					return editor.Errorf(editor.CodeInvalidPayload, "frames exceed %d per call", limits.MaxKeyframesPerCall)
				}
				return nil
			},
			func(ctx context.Context, port editor.Port, meta CallMeta, args setKeyframesArgs) (editor.ToolResponse, error) {
				anim, terr := port.SetKeyframes(ctx, editor.SetKeyframesRequest{AnimationID: args.AnimationID, Frames: args.Frames})
				if terr != nil {
					return editor.Fail(terr), nil
				}
				return editor.OK(anim), nil
			},
			WithDescription("Upsert keyframes on one clip. Times snap to the project's frame grid."),
			Mutating()),
	}
}

func requireID(args removeByIDArgs) *editor.ToolError {
	if args.ID == "" {
		return editor.Errorf(editor.CodeInvalidPayload, "id is required")
	}
	return nil
}

// DataAs decodes a tool response's data payload into v, for callers that
// need the typed result back out of the envelope.
func DataAs(resp editor.ToolResponse, v any) error {
	return json.Unmarshal(resp.Data, v)
}
