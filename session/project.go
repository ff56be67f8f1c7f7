// Package session holds the in-memory state of the single currently-open
// project: its bone/cube/texture/animation collections and the revision token
// that changes on every committed mutation. State is plain data; mutual
// exclusion across callers is the lock manager's job, and the owning engine
// serializes access for the Go memory model.
package session

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// DefaultJournalCap bounds the change journal used to answer DiffSince. Once a
// revision falls out of the window, diffs against it are no longer computable.
const DefaultJournalCap = 128

// DefaultTimePolicy matches the common 24 fps rig with a quarter-millisecond
// snap window.
var DefaultTimePolicy = AnimationTimePolicy{FPS: 24, Epsilon: 0.00025}

var (
	// ErrNoProject is returned by operations that need an attached project.
	ErrNoProject = errors.New("session: no active project")
	// ErrClosed is returned when mutating a project after Close.
	ErrClosed = errors.New("session: project closed")
)

// NotFoundError reports a missing entity of a given kind.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session: %s %q not found", e.Kind, e.ID)
}

// DuplicateError reports an entity id collision within one collection.
type DuplicateError struct {
	Kind string
	ID   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("session: %s %q already exists", e.Kind, e.ID)
}

// AnimationTimePolicy controls keyframe time quantization. Times within
// Epsilon of a frame boundary at FPS are snapped onto it so float drift does
// not produce spurious revisions.
type AnimationTimePolicy struct {
	FPS     float64 `json:"fps"`
	Epsilon float64 `json:"epsilon"`
}

// Quantize snaps t onto the frame grid when it is within Epsilon of a frame
// boundary. A zero FPS disables snapping.
func (p AnimationTimePolicy) Quantize(t float64) float64 {
	if p.FPS <= 0 {
		return t
	}
	snapped := math.Round(t*p.FPS) / p.FPS
	if math.Abs(t-snapped) <= p.Epsilon {
		return snapped
	}
	return t
}

// Bone is one node of the skeletal hierarchy.
type Bone struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Parent   string     `json:"parent,omitempty"`
	Pivot    [3]float64 `json:"pivot"`
	Rotation [3]float64 `json:"rotation"`
	Mirror   bool       `json:"mirror,omitempty"`
}

// Cube is one box element, attached to a bone.
type Cube struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Bone     string     `json:"bone,omitempty"`
	From     [3]float64 `json:"from"`
	To       [3]float64 `json:"to"`
	Origin   [3]float64 `json:"origin"`
	Rotation [3]float64 `json:"rotation"`
	Inflate  float64    `json:"inflate,omitempty"`
	UV       [2]float64 `json:"uv"`
}

// Texture references one image slot of the project.
type Texture struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Keyframe is one sampled value on an animation channel.
type Keyframe struct {
	Bone    string     `json:"bone"`
	Channel string     `json:"channel"`
	Time    float64    `json:"time"`
	Values  [3]float64 `json:"values"`
	Interp  string     `json:"interp,omitempty"`
}

// Animation is one named clip.
type Animation struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Length    float64    `json:"length"`
	Loop      string     `json:"loop,omitempty"`
	Keyframes []Keyframe `json:"keyframes,omitempty"`
}

// Project is the mutable state of the open project. All mutators bump
// Revision exactly once on success and record the change in the journal.
type Project struct {
	ID         string
	Name       string
	Format     string
	FormatID   string
	Revision   string
	Bones      []Bone
	Cubes      []Cube
	Textures   []Texture
	Animations []Animation
	TimePolicy AnimationTimePolicy

	journal    []Change
	journalCap int
	closed     bool
}

// NewProject attaches a fresh project and stamps its initial revision. The
// attach itself is journaled so DiffSince can answer against the initial
// revision while it remains in the window.
func NewProject(id, name, format string, policy AnimationTimePolicy) *Project {
	if id == "" {
		id = uuid.NewString()
	}
	if policy.FPS <= 0 {
		policy = DefaultTimePolicy
	}
	p := &Project{
		ID:         id,
		Name:       name,
		Format:     format,
		FormatID:   format,
		TimePolicy: policy,
		journalCap: DefaultJournalCap,
	}
	p.commit(OpAttach, KindProject, id, name)
	return p
}

// Closed reports whether Close has been called.
func (p *Project) Closed() bool { return p.closed }

// Close marks the project torn down. Further mutations fail with ErrClosed.
func (p *Project) Close() {
	p.closed = true
}

// newRevision mints the next opaque revision token.
func newRevision() string { return xid.New().String() }

// commit bumps the revision and journals one change record. Every mutator
// funnels through here so the "revision changes iff committed state changes"
// invariant has a single enforcement point.
func (p *Project) commit(op Op, kind Kind, targetID, name string) {
	p.Revision = newRevision()
	p.journal = append(p.journal, Change{
		Revision: p.Revision,
		Op:       op,
		Kind:     kind,
		TargetID: targetID,
		Name:     name,
	})
	if limit := p.journalCap; limit > 0 && len(p.journal) > limit {
		p.journal = p.journal[len(p.journal)-limit:]
	}
}

// Snapshot is a deep, caller-owned copy of project state, safe to serialize
// and to hand across the persistence boundary.
type Snapshot struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Format     string              `json:"format"`
	FormatID   string              `json:"formatId,omitempty"`
	Revision   string              `json:"revision"`
	Bones      []Bone              `json:"bones"`
	Cubes      []Cube              `json:"cubes"`
	Textures   []Texture           `json:"textures"`
	Animations []Animation         `json:"animations"`
	TimePolicy AnimationTimePolicy `json:"animationTimePolicy"`
}

// Snapshot copies the committed state at the current revision.
func (p *Project) Snapshot() *Snapshot {
	s := &Snapshot{
		ID:         p.ID,
		Name:       p.Name,
		Format:     p.Format,
		FormatID:   p.FormatID,
		Revision:   p.Revision,
		Bones:      append([]Bone(nil), p.Bones...),
		Cubes:      append([]Cube(nil), p.Cubes...),
		Textures:   append([]Texture(nil), p.Textures...),
		Animations: make([]Animation, len(p.Animations)),
		TimePolicy: p.TimePolicy,
	}
	for i, a := range p.Animations {
		a.Keyframes = append([]Keyframe(nil), a.Keyframes...)
		s.Animations[i] = a
	}
	return s
}

// Restore rebuilds a Project from a persisted snapshot, keeping the stored
// revision. The journal restarts empty: diffs cannot span a rehydration.
func Restore(s *Snapshot) *Project {
	p := &Project{
		ID:         s.ID,
		Name:       s.Name,
		Format:     s.Format,
		FormatID:   s.FormatID,
		Revision:   s.Revision,
		Bones:      append([]Bone(nil), s.Bones...),
		Cubes:      append([]Cube(nil), s.Cubes...),
		Textures:   append([]Texture(nil), s.Textures...),
		Animations: make([]Animation, len(s.Animations)),
		TimePolicy: s.TimePolicy,
		journalCap: DefaultJournalCap,
	}
	for i, a := range s.Animations {
		a.Keyframes = append([]Keyframe(nil), a.Keyframes...)
		p.Animations[i] = a
	}
	p.journal = append(p.journal, Change{Revision: p.Revision, Op: OpAttach, Kind: KindProject, TargetID: p.ID, Name: p.Name})
	return p
}
