// Package engine is the in-process editor.Port implementation: it owns the
// open session.Project and optionally persists committed snapshots through a
// projstore.ProjectRepository. It is the default backend and the reference
// for what a live host bridge must provide.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sigee-min/bbmcp-sub011/editor"
	"github.com/sigee-min/bbmcp-sub011/projstore"
	"github.com/sigee-min/bbmcp-sub011/session"
)

const textureBucket = "textures"

type config struct {
	log        *slog.Logger
	repo       projstore.ProjectRepository
	blobs      projstore.BlobStore
	timePolicy session.AnimationTimePolicy
	formats    []string
}

// Option tunes engine construction.
type Option func(*config)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithRepository wires snapshot autosave and rehydration.
func WithRepository(repo projstore.ProjectRepository) Option {
	return func(c *config) { c.repo = repo }
}

// WithBlobStore wires texture payload persistence.
func WithBlobStore(blobs projstore.BlobStore) Option {
	return func(c *config) { c.blobs = blobs }
}

// WithTimePolicy overrides the default animation time policy for new projects.
func WithTimePolicy(p session.AnimationTimePolicy) Option {
	return func(c *config) { c.timePolicy = p }
}

// WithFormats overrides the advertised model formats.
func WithFormats(formats ...string) Option {
	return func(c *config) { c.formats = formats }
}

// Engine serializes access to the open project with its own mutex; mutual
// exclusion across mutating tool calls is still the lock manager's job.
type Engine struct {
	mu      sync.Mutex
	log     *slog.Logger
	repo    projstore.ProjectRepository
	blobs   projstore.BlobStore
	policy  session.AnimationTimePolicy
	formats []string

	project *session.Project
	scope   projstore.Scope
}

// New builds an engine with no project attached.
func New(opts ...Option) *Engine {
	cfg := config{
		log:        slog.New(slog.DiscardHandler),
		timePolicy: session.DefaultTimePolicy,
		formats:    []string{"bedrock", "java_block", "generic"},
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Engine{
		log:     cfg.log,
		repo:    cfg.repo,
		blobs:   cfg.blobs,
		policy:  cfg.timePolicy,
		formats: cfg.formats,
	}
}

// EnsureProject attaches the project for req.ProjectID: reuses the already
// open one, rehydrates a persisted snapshot when a repository is wired, or
// creates a fresh project. Attaching a different project id replaces the open
// one (attach-over).
func (e *Engine) EnsureProject(ctx context.Context, req editor.EnsureProjectRequest) (*session.Snapshot, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ProjectID == "" {
		return nil, editor.Errorf(editor.CodeInvalidPayload, "projectId is required")
	}

	if e.project != nil && !e.project.Closed() && e.project.ID == req.ProjectID {
		return e.project.Snapshot(), nil
	}

	scope := projstore.Scope{TenantID: req.TenantID, ProjectID: req.ProjectID}

	if e.repo != nil {
		stored, err := e.repo.Load(ctx, scope)
		switch {
		case err == nil:
			e.project = session.Restore(stored.State)
			e.scope = scope
			e.log.InfoContext(ctx, "engine.project.rehydrate", "project_id", req.ProjectID, "revision", stored.Revision)
			return e.project.Snapshot(), nil
		case errors.Is(err, projstore.ErrNotFound):
			// fall through to create
		default:
			return nil, editor.Errorf(editor.CodeIO, "load project: %v", err)
		}
	}

	name := req.Name
	if name == "" {
		name = req.ProjectID
	}
	format := req.Format
	if format == "" {
		format = e.formats[0]
	}
	policy := e.policy
	if req.FPS > 0 {
		policy.FPS = req.FPS
	}

	e.project = session.NewProject(req.ProjectID, name, format, policy)
	e.scope = scope
	e.log.InfoContext(ctx, "engine.project.attach", "project_id", req.ProjectID, "name", name, "format", format)
	e.autosave(ctx)
	return e.project.Snapshot(), nil
}

func (e *Engine) ProjectState(ctx context.Context) (*session.Snapshot, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	return e.project.Snapshot(), nil
}

func (e *Engine) Revision(ctx context.Context) (string, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return "", terr
	}
	return e.project.Revision, nil
}

func (e *Engine) DiffSince(ctx context.Context, baseRevision string) (*session.Diff, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	return e.project.DiffSince(baseRevision), nil
}

func (e *Engine) ListBones(ctx context.Context) ([]session.Bone, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	return append([]session.Bone(nil), e.project.Bones...), nil
}

func (e *Engine) AddBone(ctx context.Context, b session.Bone) (*session.Bone, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	added, err := e.project.AddBone(b)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	e.autosave(ctx)
	return &added, nil
}

func (e *Engine) UpdateBone(ctx context.Context, id string, patch session.BonePatch) (*session.Bone, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	updated, err := e.project.UpdateBone(id, patch)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	e.autosave(ctx)
	return &updated, nil
}

func (e *Engine) RemoveBone(ctx context.Context, id string) *editor.ToolError {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return terr
	}
	if err := e.project.RemoveBone(id); err != nil {
		return mapSessionErr(err)
	}
	e.autosave(ctx)
	return nil
}

func (e *Engine) AddCube(ctx context.Context, c session.Cube) (*session.Cube, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	added, err := e.project.AddCube(c)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	e.autosave(ctx)
	return &added, nil
}

func (e *Engine) UpdateCube(ctx context.Context, id string, patch session.CubePatch) (*session.Cube, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	updated, err := e.project.UpdateCube(id, patch)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	e.autosave(ctx)
	return &updated, nil
}

func (e *Engine) RemoveCube(ctx context.Context, id string) *editor.ToolError {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return terr
	}
	if err := e.project.RemoveCube(id); err != nil {
		return mapSessionErr(err)
	}
	e.autosave(ctx)
	return nil
}

func (e *Engine) ListTextures(ctx context.Context) ([]session.Texture, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	return append([]session.Texture(nil), e.project.Textures...), nil
}

func (e *Engine) AddTexture(ctx context.Context, req editor.AddTextureRequest) (*session.Texture, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	added, err := e.project.AddTexture(req.Texture)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	if len(req.Data) > 0 && e.blobs != nil {
		key := e.scope.Key() + "/" + added.ID
		if err := e.blobs.Put(ctx, textureBucket, key, req.Data); err != nil {
			// Roll the slot back so state and blob store stay consistent.
			_ = e.project.RemoveTexture(added.ID)
			return nil, editor.Errorf(editor.CodeIO, "store texture payload: %v", err)
		}
	}
	e.autosave(ctx)
	return &added, nil
}

func (e *Engine) UpdateTexture(ctx context.Context, id string, patch session.TexturePatch) (*session.Texture, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	updated, err := e.project.UpdateTexture(id, patch)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	e.autosave(ctx)
	return &updated, nil
}

func (e *Engine) RemoveTexture(ctx context.Context, id string) *editor.ToolError {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return terr
	}
	if err := e.project.RemoveTexture(id); err != nil {
		return mapSessionErr(err)
	}
	if e.blobs != nil {
		key := e.scope.Key() + "/" + id
		if err := e.blobs.Delete(context.WithoutCancel(ctx), textureBucket, key); err != nil {
			e.log.WarnContext(ctx, "engine.texture.blob_delete.fail", "texture_id", id, "err", err)
		}
	}
	e.autosave(ctx)
	return nil
}

func (e *Engine) CreateAnimation(ctx context.Context, a session.Animation) (*session.Animation, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	created, err := e.project.CreateAnimation(a)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	e.autosave(ctx)
	return &created, nil
}

func (e *Engine) UpdateAnimation(ctx context.Context, id string, patch session.AnimationPatch) (*session.Animation, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	updated, err := e.project.UpdateAnimation(id, patch)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	e.autosave(ctx)
	return &updated, nil
}

func (e *Engine) RemoveAnimation(ctx context.Context, id string) *editor.ToolError {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return terr
	}
	if err := e.project.RemoveAnimation(id); err != nil {
		return mapSessionErr(err)
	}
	e.autosave(ctx)
	return nil
}

func (e *Engine) SetKeyframes(ctx context.Context, req editor.SetKeyframesRequest) (*session.Animation, *editor.ToolError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return nil, terr
	}
	updated, err := e.project.SetKeyframes(req.AnimationID, req.Frames)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	e.autosave(ctx)
	return &updated, nil
}

// CloseProject clears the in-memory project. A persisted snapshot survives
// for a later ensure_project to rehydrate.
func (e *Engine) CloseProject(ctx context.Context) *editor.ToolError {
	e.mu.Lock()
	defer e.mu.Unlock()
	if terr := e.requireProject(); terr != nil {
		return terr
	}
	e.project.Close()
	e.log.InfoContext(ctx, "engine.project.close", "project_id", e.project.ID)
	e.project = nil
	return nil
}

func (e *Engine) Capabilities(ctx context.Context) (editor.Capabilities, *editor.ToolError) {
	return editor.Capabilities{
		Backend:   editor.BackendEngine,
		Formats:   append([]string(nil), e.formats...),
		Animation: true,
		Persisted: e.repo != nil,
	}, nil
}

func (e *Engine) requireProject() *editor.ToolError {
	if e.project == nil || e.project.Closed() {
		return editor.Errorf(editor.CodeInvalidState, "no active project").
			WithFix("Call ensure_project to attach a project first.")
	}
	return nil
}

// autosave persists the current snapshot best-effort. Failures are logged and
// never surface in the tool response; the in-memory state is authoritative.
func (e *Engine) autosave(ctx context.Context) {
	if e.repo == nil || e.project == nil {
		return
	}
	snap := e.project.Snapshot()
	if err := e.repo.Save(context.WithoutCancel(ctx), e.scope, snap.Revision, snap); err != nil {
		e.log.ErrorContext(ctx, "engine.autosave.fail", "project_id", snap.ID, "revision", snap.Revision, "err", err)
	}
}

func mapSessionErr(err error) *editor.ToolError {
	var nf *session.NotFoundError
	if errors.As(err, &nf) {
		return editor.Errorf(editor.CodeInvalidState, "%s %q not found", nf.Kind, nf.ID).
			WithDetail("kind", nf.Kind).
			WithDetail("id", nf.ID)
	}
	var dup *session.DuplicateError
	if errors.As(err, &dup) {
		return editor.Errorf(editor.CodeInvalidState, "%s %q already exists", dup.Kind, dup.ID).
			WithDetail("kind", dup.Kind).
			WithDetail("id", dup.ID)
	}
	if errors.Is(err, session.ErrNoProject) || errors.Is(err, session.ErrClosed) {
		return editor.Errorf(editor.CodeInvalidState, "no active project").
			WithFix("Call ensure_project to attach a project first.")
	}
	return editor.Errorf(editor.CodeInvalidPayload, "%v", err)
}

var _ editor.Port = (*Engine)(nil)
