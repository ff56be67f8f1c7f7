// Package projlock provides per-project mutual exclusion for mutating tool
// calls: short-TTL leases with typed conflicts and idempotent release. Two
// implementations exist, an in-process map for single-process deployments
// (memlock) and a Redis-backed one for horizontal scale (redislock); the
// guarantee is the same for both: at most one granted, non-expired lock per
// project id at any time.
package projlock

import (
	"context"
	"fmt"
	"time"
)

// Lock is one granted lease.
type Lock struct {
	ProjectID      string    `json:"projectId"`
	OwnerAgentID   string    `json:"ownerAgentId"`
	OwnerSessionID string    `json:"ownerSessionId,omitempty"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// AcquireRequest identifies the caller and the project to lock. A zero TTL
// selects the default.
type AcquireRequest struct {
	ProjectID      string
	OwnerAgentID   string
	OwnerSessionID string
	TTL            time.Duration
}

// ReleaseRequest identifies the lease to give back. Release is keyed on owner
// identity, not the token, so a caller that lost the token can still clean up.
type ReleaseRequest struct {
	ProjectID      string
	OwnerAgentID   string
	OwnerSessionID string
}

// ReleaseResult distinguishes an actual release from a no-op. Releasing an
// absent, expired, or foreign lock is "skipped", never an error: best-effort
// cleanup must not cascade.
type ReleaseResult string

const (
	ReleaseReleased ReleaseResult = "released"
	ReleaseSkipped  ReleaseResult = "skipped"
)

// ConflictError reports a live lock held by someone else. It carries the
// holder's identity and expiry so the caller can decide to wait or surface
// the contention to a human. It is an expected outcome under concurrent
// agents, not a bug path.
type ConflictError struct {
	ProjectID      string
	OwnerAgentID   string
	OwnerSessionID string
	ExpiresAt      time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("projlock: project %q locked by %q until %s", e.ProjectID, e.OwnerAgentID, e.ExpiresAt.Format(time.RFC3339))
}

// Manager is the lock surface the dispatcher depends on.
type Manager interface {
	// Acquire grants a lease when no live lock exists for the project. A
	// conflicting live lock returns *ConflictError.
	Acquire(ctx context.Context, req AcquireRequest) (*Lock, error)
	// Release gives the lease back. Idempotent; see ReleaseResult.
	Release(ctx context.Context, req ReleaseRequest) (ReleaseResult, error)
}

// With runs fn while holding the project lock and guarantees release on every
// exit path, including panics. Release runs on a cancellation-stripped
// context so a dead request context cannot leak the lease.
func With(ctx context.Context, m Manager, req AcquireRequest, fn func(ctx context.Context) error) error {
	if _, err := m.Acquire(ctx, req); err != nil {
		return err
	}
	defer func() {
		_, _ = m.Release(context.WithoutCancel(ctx), ReleaseRequest{
			ProjectID:      req.ProjectID,
			OwnerAgentID:   req.OwnerAgentID,
			OwnerSessionID: req.OwnerSessionID,
		})
	}()
	return fn(ctx)
}
