package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Defaults used when neither the transport nor the payload identifies the
// caller. Single-agent local use never has to name anything.
const (
	DefaultTenantID  = "default"
	DefaultActorID   = "default"
	DefaultProjectID = "default"
)

// SessionRef is the resolved identity of one tool call: who is calling
// (tenant, actor) and which project the call targets. It keys the project
// lock and the persistence scope.
type SessionRef struct {
	TenantID  string
	ActorID   string
	ProjectID string
}

// callHints are the identity-bearing fields peeled off the arguments object
// before the tool's own decoder runs. Aliases cover the spellings agents
// actually produce.
type callHints struct {
	Backend      string `json:"backend"`
	ProjectID    string `json:"projectId"`
	ProjectIDAlt string `json:"project_id"`
	Project      string `json:"project"`
	ProjectName  string `json:"projectName"`
	Name         string `json:"name"`
}

func decodeHints(raw json.RawMessage) callHints {
	var h callHints
	if len(raw) > 0 {
		// Lenient: hints ride in the same object as tool arguments.
		_ = json.Unmarshal(raw, &h)
	}
	return h
}

func (h callHints) projectID() string {
	for _, id := range []string{h.ProjectID, h.ProjectIDAlt, h.Project} {
		if id != "" {
			return id
		}
	}
	return ""
}

func (h callHints) projectName() string {
	if h.ProjectName != "" {
		return h.ProjectName
	}
	return h.Name
}

// hashProjectName folds a human project name into a stable id, so repeated
// calls naming the same project land on the same lock and storage slot.
func hashProjectName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return "proj-" + hex.EncodeToString(sum[:])[:16]
}

// resolveSessionRef derives the call identity. Explicit ids win; a project
// name hashes to a deterministic id; the transport session becomes the actor;
// the authenticated subject becomes the tenant. Everything else defaults.
func resolveSessionRef(sessionID, authSubject string, h callHints) SessionRef {
	ref := SessionRef{
		TenantID:  DefaultTenantID,
		ActorID:   DefaultActorID,
		ProjectID: DefaultProjectID,
	}
	if authSubject != "" {
		ref.TenantID = authSubject
	}
	if sessionID != "" {
		ref.ActorID = "mcp:" + sessionID
	}
	if id := h.projectID(); id != "" {
		ref.ProjectID = id
	} else if name := h.projectName(); name != "" {
		ref.ProjectID = hashProjectName(name)
	}
	return ref
}
