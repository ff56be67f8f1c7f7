// Package memlock is the in-process projlock.Manager for single-process
// deployments. Expiry is judged against an injected clock so tests advance
// time instead of sleeping.
package memlock

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sigee-min/bbmcp-sub011/projlock"
)

type config struct {
	clock clockwork.Clock
}

// Option tunes the manager.
type Option func(*config)

// WithClock substitutes the time source.
func WithClock(c clockwork.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// Manager implements projlock.Manager over a guarded map.
type Manager struct {
	mu    sync.Mutex
	clock clockwork.Clock
	locks map[string]projlock.Lock
}

// New builds an empty manager using the real clock unless overridden.
func New(opts ...Option) *Manager {
	cfg := config{clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(&cfg)
	}
	return &Manager{
		clock: cfg.clock,
		locks: make(map[string]projlock.Lock),
	}
}

func (m *Manager) Acquire(ctx context.Context, req projlock.AcquireRequest) (*projlock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ttl := projlock.ResolveTTL(req.TTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if held, ok := m.locks[req.ProjectID]; ok && held.ExpiresAt.After(now) {
		return nil, &projlock.ConflictError{
			ProjectID:      held.ProjectID,
			OwnerAgentID:   held.OwnerAgentID,
			OwnerSessionID: held.OwnerSessionID,
			ExpiresAt:      held.ExpiresAt,
		}
	}

	lock := projlock.Lock{
		ProjectID:      req.ProjectID,
		OwnerAgentID:   req.OwnerAgentID,
		OwnerSessionID: req.OwnerSessionID,
		Token:          uuid.NewString(),
		ExpiresAt:      now.Add(ttl),
	}
	m.locks[req.ProjectID] = lock
	out := lock
	return &out, nil
}

func (m *Manager) Release(ctx context.Context, req projlock.ReleaseRequest) (projlock.ReleaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.locks[req.ProjectID]
	if !ok {
		return projlock.ReleaseSkipped, nil
	}
	if !held.ExpiresAt.After(m.clock.Now()) {
		// Expired lease: clean it up but report skipped, the caller's grant
		// is already gone.
		delete(m.locks, req.ProjectID)
		return projlock.ReleaseSkipped, nil
	}
	if held.OwnerAgentID != req.OwnerAgentID || held.OwnerSessionID != req.OwnerSessionID {
		return projlock.ReleaseSkipped, nil
	}
	delete(m.locks, req.ProjectID)
	return projlock.ReleaseReleased, nil
}

var _ projlock.Manager = (*Manager)(nil)
