package session

import (
	"fmt"

	"github.com/google/uuid"
)

// Patch types use pointer fields so callers can update a subset of attributes
// without clobbering the rest.

type BonePatch struct {
	Name     *string     `json:"name,omitempty"`
	Parent   *string     `json:"parent,omitempty"`
	Pivot    *[3]float64 `json:"pivot,omitempty"`
	Rotation *[3]float64 `json:"rotation,omitempty"`
	Mirror   *bool       `json:"mirror,omitempty"`
}

type CubePatch struct {
	Name     *string     `json:"name,omitempty"`
	Bone     *string     `json:"bone,omitempty"`
	From     *[3]float64 `json:"from,omitempty"`
	To       *[3]float64 `json:"to,omitempty"`
	Origin   *[3]float64 `json:"origin,omitempty"`
	Rotation *[3]float64 `json:"rotation,omitempty"`
	Inflate  *float64    `json:"inflate,omitempty"`
	UV       *[2]float64 `json:"uv,omitempty"`
}

type TexturePatch struct {
	Name   *string `json:"name,omitempty"`
	Path   *string `json:"path,omitempty"`
	Width  *int    `json:"width,omitempty"`
	Height *int    `json:"height,omitempty"`
}

type AnimationPatch struct {
	Name   *string  `json:"name,omitempty"`
	Length *float64 `json:"length,omitempty"`
	Loop   *string  `json:"loop,omitempty"`
}

func (p *Project) mutable() error {
	if p == nil {
		return ErrNoProject
	}
	if p.closed {
		return ErrClosed
	}
	return nil
}

func validLoop(s string) bool {
	switch s {
	case "", "once", "loop", "hold":
		return true
	}
	return false
}

func validChannel(s string) bool {
	switch s {
	case "rotation", "position", "scale":
		return true
	}
	return false
}

// AddBone inserts a bone, generating an id when absent. A named parent must
// already exist.
func (p *Project) AddBone(b Bone) (Bone, error) {
	if err := p.mutable(); err != nil {
		return Bone{}, err
	}
	if b.Name == "" {
		return Bone{}, fmt.Errorf("session: bone name is required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if p.findBone(b.ID) >= 0 {
		return Bone{}, &DuplicateError{Kind: "bone", ID: b.ID}
	}
	if b.Parent != "" && p.findBone(b.Parent) < 0 {
		return Bone{}, &NotFoundError{Kind: "bone", ID: b.Parent}
	}
	p.Bones = append(p.Bones, b)
	p.commit(OpAdd, KindBone, b.ID, b.Name)
	return b, nil
}

// UpdateBone applies a partial patch. Re-parenting onto a missing bone or
// onto itself is rejected.
func (p *Project) UpdateBone(id string, patch BonePatch) (Bone, error) {
	if err := p.mutable(); err != nil {
		return Bone{}, err
	}
	i := p.findBone(id)
	if i < 0 {
		return Bone{}, &NotFoundError{Kind: "bone", ID: id}
	}
	b := p.Bones[i]
	if patch.Parent != nil && *patch.Parent != "" {
		if *patch.Parent == id {
			return Bone{}, fmt.Errorf("session: bone %q cannot parent itself", id)
		}
		if p.findBone(*patch.Parent) < 0 {
			return Bone{}, &NotFoundError{Kind: "bone", ID: *patch.Parent}
		}
	}
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.Parent != nil {
		b.Parent = *patch.Parent
	}
	if patch.Pivot != nil {
		b.Pivot = *patch.Pivot
	}
	if patch.Rotation != nil {
		b.Rotation = *patch.Rotation
	}
	if patch.Mirror != nil {
		b.Mirror = *patch.Mirror
	}
	p.Bones[i] = b
	p.commit(OpUpdate, KindBone, id, b.Name)
	return b, nil
}

// RemoveBone deletes a bone together with its attached cubes and reparents
// child bones onto the removed bone's parent.
func (p *Project) RemoveBone(id string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	i := p.findBone(id)
	if i < 0 {
		return &NotFoundError{Kind: "bone", ID: id}
	}
	removed := p.Bones[i]
	p.Bones = append(p.Bones[:i], p.Bones[i+1:]...)
	for j := range p.Bones {
		if p.Bones[j].Parent == id {
			p.Bones[j].Parent = removed.Parent
		}
	}
	kept := p.Cubes[:0]
	for _, c := range p.Cubes {
		if c.Bone != id {
			kept = append(kept, c)
		}
	}
	p.Cubes = kept
	p.commit(OpRemove, KindBone, id, removed.Name)
	return nil
}

// AddCube inserts a cube. A named bone must exist.
func (p *Project) AddCube(c Cube) (Cube, error) {
	if err := p.mutable(); err != nil {
		return Cube{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if p.findCube(c.ID) >= 0 {
		return Cube{}, &DuplicateError{Kind: "cube", ID: c.ID}
	}
	if c.Bone != "" && p.findBone(c.Bone) < 0 {
		return Cube{}, &NotFoundError{Kind: "bone", ID: c.Bone}
	}
	p.Cubes = append(p.Cubes, c)
	p.commit(OpAdd, KindCube, c.ID, c.Name)
	return c, nil
}

func (p *Project) UpdateCube(id string, patch CubePatch) (Cube, error) {
	if err := p.mutable(); err != nil {
		return Cube{}, err
	}
	i := p.findCube(id)
	if i < 0 {
		return Cube{}, &NotFoundError{Kind: "cube", ID: id}
	}
	c := p.Cubes[i]
	if patch.Bone != nil && *patch.Bone != "" && p.findBone(*patch.Bone) < 0 {
		return Cube{}, &NotFoundError{Kind: "bone", ID: *patch.Bone}
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Bone != nil {
		c.Bone = *patch.Bone
	}
	if patch.From != nil {
		c.From = *patch.From
	}
	if patch.To != nil {
		c.To = *patch.To
	}
	if patch.Origin != nil {
		c.Origin = *patch.Origin
	}
	if patch.Rotation != nil {
		c.Rotation = *patch.Rotation
	}
	if patch.Inflate != nil {
		c.Inflate = *patch.Inflate
	}
	if patch.UV != nil {
		c.UV = *patch.UV
	}
	p.Cubes[i] = c
	p.commit(OpUpdate, KindCube, id, c.Name)
	return c, nil
}

func (p *Project) RemoveCube(id string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	i := p.findCube(id)
	if i < 0 {
		return &NotFoundError{Kind: "cube", ID: id}
	}
	name := p.Cubes[i].Name
	p.Cubes = append(p.Cubes[:i], p.Cubes[i+1:]...)
	p.commit(OpRemove, KindCube, id, name)
	return nil
}

// AddTexture inserts a texture slot. Dimensions must be positive.
func (p *Project) AddTexture(t Texture) (Texture, error) {
	if err := p.mutable(); err != nil {
		return Texture{}, err
	}
	if t.Width <= 0 || t.Height <= 0 {
		return Texture{}, fmt.Errorf("session: texture dimensions must be positive, got %dx%d", t.Width, t.Height)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if p.findTexture(t.ID) >= 0 {
		return Texture{}, &DuplicateError{Kind: "texture", ID: t.ID}
	}
	p.Textures = append(p.Textures, t)
	p.commit(OpAdd, KindTexture, t.ID, t.Name)
	return t, nil
}

func (p *Project) UpdateTexture(id string, patch TexturePatch) (Texture, error) {
	if err := p.mutable(); err != nil {
		return Texture{}, err
	}
	i := p.findTexture(id)
	if i < 0 {
		return Texture{}, &NotFoundError{Kind: "texture", ID: id}
	}
	t := p.Textures[i]
	if patch.Width != nil && *patch.Width <= 0 {
		return Texture{}, fmt.Errorf("session: texture width must be positive, got %d", *patch.Width)
	}
	if patch.Height != nil && *patch.Height <= 0 {
		return Texture{}, fmt.Errorf("session: texture height must be positive, got %d", *patch.Height)
	}
	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Path != nil {
		t.Path = *patch.Path
	}
	if patch.Width != nil {
		t.Width = *patch.Width
	}
	if patch.Height != nil {
		t.Height = *patch.Height
	}
	p.Textures[i] = t
	p.commit(OpUpdate, KindTexture, id, t.Name)
	return t, nil
}

func (p *Project) RemoveTexture(id string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	i := p.findTexture(id)
	if i < 0 {
		return &NotFoundError{Kind: "texture", ID: id}
	}
	name := p.Textures[i].Name
	p.Textures = append(p.Textures[:i], p.Textures[i+1:]...)
	p.commit(OpRemove, KindTexture, id, name)
	return nil
}

// CreateAnimation starts an empty clip. Loop must be one of once/loop/hold.
func (p *Project) CreateAnimation(a Animation) (Animation, error) {
	if err := p.mutable(); err != nil {
		return Animation{}, err
	}
	if a.Name == "" {
		return Animation{}, fmt.Errorf("session: animation name is required")
	}
	if !validLoop(a.Loop) {
		return Animation{}, fmt.Errorf("session: invalid loop mode %q", a.Loop)
	}
	if a.Length < 0 {
		return Animation{}, fmt.Errorf("session: animation length must not be negative")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if p.findAnimation(a.ID) >= 0 {
		return Animation{}, &DuplicateError{Kind: "animation", ID: a.ID}
	}
	if a.Loop == "" {
		a.Loop = "once"
	}
	if err := p.checkFrames(a.Keyframes); err != nil {
		return Animation{}, err
	}
	for i := range a.Keyframes {
		a.Keyframes[i].Time = p.TimePolicy.Quantize(a.Keyframes[i].Time)
		if a.Keyframes[i].Interp == "" {
			a.Keyframes[i].Interp = "linear"
		}
	}
	p.Animations = append(p.Animations, a)
	p.commit(OpAdd, KindAnimation, a.ID, a.Name)
	return a, nil
}

func (p *Project) UpdateAnimation(id string, patch AnimationPatch) (Animation, error) {
	if err := p.mutable(); err != nil {
		return Animation{}, err
	}
	i := p.findAnimation(id)
	if i < 0 {
		return Animation{}, &NotFoundError{Kind: "animation", ID: id}
	}
	a := p.Animations[i]
	if patch.Loop != nil && !validLoop(*patch.Loop) {
		return Animation{}, fmt.Errorf("session: invalid loop mode %q", *patch.Loop)
	}
	if patch.Length != nil && *patch.Length < 0 {
		return Animation{}, fmt.Errorf("session: animation length must not be negative")
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Length != nil {
		a.Length = *patch.Length
	}
	if patch.Loop != nil {
		a.Loop = *patch.Loop
	}
	p.Animations[i] = a
	p.commit(OpUpdate, KindAnimation, id, a.Name)
	return a, nil
}

func (p *Project) RemoveAnimation(id string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	i := p.findAnimation(id)
	if i < 0 {
		return &NotFoundError{Kind: "animation", ID: id}
	}
	name := p.Animations[i].Name
	p.Animations = append(p.Animations[:i], p.Animations[i+1:]...)
	p.commit(OpRemove, KindAnimation, id, name)
	return nil
}

// SetKeyframes upserts frames on a clip, keyed by (bone, channel, quantized
// time). Referenced bones must exist; channels come from the fixed set.
func (p *Project) SetKeyframes(animID string, frames []Keyframe) (Animation, error) {
	if err := p.mutable(); err != nil {
		return Animation{}, err
	}
	i := p.findAnimation(animID)
	if i < 0 {
		return Animation{}, &NotFoundError{Kind: "animation", ID: animID}
	}
	a := p.Animations[i]
	if err := p.checkFrames(frames); err != nil {
		return Animation{}, err
	}
	for _, f := range frames {
		f.Time = p.TimePolicy.Quantize(f.Time)
		if f.Interp == "" {
			f.Interp = "linear"
		}
		replaced := false
		for j, existing := range a.Keyframes {
			if existing.Bone == f.Bone && existing.Channel == f.Channel && existing.Time == f.Time {
				a.Keyframes[j] = f
				replaced = true
				break
			}
		}
		if !replaced {
			a.Keyframes = append(a.Keyframes, f)
		}
		if f.Time > a.Length {
			a.Length = f.Time
		}
	}
	p.Animations[i] = a
	p.commit(OpSet, KindKeyframes, animID, a.Name)
	return a, nil
}

func (p *Project) checkFrames(frames []Keyframe) error {
	for _, f := range frames {
		if !validChannel(f.Channel) {
			return fmt.Errorf("session: invalid channel %q", f.Channel)
		}
		if f.Bone == "" || p.findBone(f.Bone) < 0 {
			return &NotFoundError{Kind: "bone", ID: f.Bone}
		}
		if f.Time < 0 {
			return fmt.Errorf("session: keyframe time must not be negative")
		}
	}
	return nil
}

func (p *Project) findBone(id string) int {
	for i, b := range p.Bones {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func (p *Project) findCube(id string) int {
	for i, c := range p.Cubes {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (p *Project) findTexture(id string) int {
	for i, t := range p.Textures {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (p *Project) findAnimation(id string) int {
	for i, a := range p.Animations {
		if a.ID == id {
			return i
		}
	}
	return -1
}
