// Package projstore is the persistence boundary of the core: a repository
// for revisioned project snapshots and a bucketed blob store for opaque
// payloads such as texture images. Memory, Redis, and SQLite implementations
// live in subpackages; the core depends only on these signatures.
package projstore

import (
	"context"
	"errors"
	"time"

	"github.com/sigee-min/bbmcp-sub011/session"
)

// ErrNotFound is returned by Load when no snapshot exists for the scope.
var ErrNotFound = errors.New("projstore: project not found")

// Scope keys persisted state by tenant and project.
type Scope struct {
	TenantID  string `json:"tenantId"`
	ProjectID string `json:"projectId"`
}

// Key renders the canonical storage key.
func (s Scope) Key() string { return s.TenantID + "/" + s.ProjectID }

// StoredProject is one persisted snapshot with its revision stamp.
type StoredProject struct {
	Scope    Scope             `json:"scope"`
	Revision string            `json:"revision"`
	State    *session.Snapshot `json:"state"`
	SavedAt  time.Time         `json:"savedAt"`
}

// ProjectRepository persists revisioned project snapshots.
type ProjectRepository interface {
	Save(ctx context.Context, scope Scope, revision string, state *session.Snapshot) error
	Load(ctx context.Context, scope Scope) (*StoredProject, error)
	Remove(ctx context.Context, scope Scope) error
}

// BlobStore stores opaque payloads under (bucket, key).
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

// ErrBlobNotFound is returned by Get for a missing (bucket, key).
var ErrBlobNotFound = errors.New("projstore: blob not found")
