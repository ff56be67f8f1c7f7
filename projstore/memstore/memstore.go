// Package memstore is the in-process projstore backend: an LRU-bounded
// snapshot repository and blob store for single-process deployments and
// tests. Eviction only drops the oldest entries once capacity is exceeded;
// within capacity the store behaves like a plain map.
package memstore

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/sigee-min/bbmcp-sub011/projstore"
	"github.com/sigee-min/bbmcp-sub011/session"
)

// DefaultCapacity bounds projects and blobs independently.
const DefaultCapacity = 256

type config struct {
	capacity int
	clock    clockwork.Clock
}

// Option configures the store.
type Option func(*config)

// WithCapacity bounds the number of retained entries per collection.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithClock substitutes the clock, for tests.
func WithClock(clk clockwork.Clock) Option {
	return func(c *config) { c.clock = clk }
}

// Store implements projstore.ProjectRepository and projstore.BlobStore in
// memory.
type Store struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	projects *lru.Cache[string, *projstore.StoredProject]
	blobs    *lru.Cache[string, []byte]
}

var (
	_ projstore.ProjectRepository = (*Store)(nil)
	_ projstore.BlobStore         = (*Store)(nil)
)

// New builds the store. Construction only fails on a non-positive capacity,
// which the options already reject, so New panics instead of returning error.
func New(opts ...Option) *Store {
	cfg := config{capacity: DefaultCapacity, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&cfg)
	}
	projects, err := lru.New[string, *projstore.StoredProject](cfg.capacity)
	if err != nil {
		panic(err)
	}
	blobs, err := lru.New[string, []byte](cfg.capacity)
	if err != nil {
		panic(err)
	}
	return &Store{clock: cfg.clock, projects: projects, blobs: blobs}
}

func (s *Store) Save(ctx context.Context, scope projstore.Scope, revision string, state *session.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects.Add(scope.Key(), &projstore.StoredProject{
		Scope:    scope,
		Revision: revision,
		State:    state,
		SavedAt:  s.clock.Now().UTC(),
	})
	return nil
}

func (s *Store) Load(ctx context.Context, scope projstore.Scope) (*projstore.StoredProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.projects.Get(scope.Key())
	if !ok {
		return nil, projstore.ErrNotFound
	}
	return stored, nil
}

func (s *Store) Remove(ctx context.Context, scope projstore.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects.Remove(scope.Key())
	return nil
}

func blobKey(bucket, key string) string { return bucket + "/" + key }

func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs.Add(blobKey(bucket, key), append([]byte(nil), data...))
	return nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs.Get(blobKey(bucket, key))
	if !ok {
		return nil, projstore.ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs.Remove(blobKey(bucket, key))
	return nil
}

// Len reports the number of retained projects, for readiness probes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projects.Len()
}

// SavedAtOf reports when a scope was last saved; zero when absent.
func (s *Store) SavedAtOf(scope projstore.Scope) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.projects.Peek(scope.Key()); ok {
		return stored.SavedAt
	}
	return time.Time{}
}
