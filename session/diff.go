package session

// Op classifies what a journaled change did.
type Op string

const (
	OpAttach Op = "attach"
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
	OpSet    Op = "set"
)

// Kind names the entity collection a change touched.
type Kind string

const (
	KindProject   Kind = "project"
	KindBone      Kind = "bone"
	KindCube      Kind = "cube"
	KindTexture   Kind = "texture"
	KindAnimation Kind = "animation"
	KindKeyframes Kind = "keyframes"
)

// Change is one journal record. Revision is the token the change produced.
type Change struct {
	Revision string `json:"revision"`
	Op       Op     `json:"op"`
	Kind     Kind   `json:"kind"`
	TargetID string `json:"targetId"`
	Name     string `json:"name,omitempty"`
}

// Diff lists the changes committed after BaseRevision, oldest first.
type Diff struct {
	BaseRevision string   `json:"baseRevision"`
	Revision     string   `json:"revision"`
	Changes      []Change `json:"changes"`
}

// DiffSince answers "what changed since base". A base equal to the current
// revision yields an empty diff. A base that has fallen out of the bounded
// journal (or never existed) yields nil: the delta is not computable and the
// caller should fall back to a full state read.
func (p *Project) DiffSince(base string) *Diff {
	if base == "" {
		return nil
	}
	if base == p.Revision {
		return &Diff{BaseRevision: base, Revision: p.Revision, Changes: []Change{}}
	}
	for i, c := range p.journal {
		if c.Revision == base {
			changes := append([]Change(nil), p.journal[i+1:]...)
			return &Diff{BaseRevision: base, Revision: p.Revision, Changes: changes}
		}
	}
	return nil
}
