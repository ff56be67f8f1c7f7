package mcpsession

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Gauge is the narrow metrics surface the store reports into. A nil gauge
// disables reporting.
type Gauge interface {
	SessionOpened()
	SessionClosed()
}

type memoryConfig struct {
	clock         clockwork.Clock
	ttl           time.Duration
	touchDebounce time.Duration
	queueCap      int
	gauge         Gauge
}

// Option tunes the in-memory store.
type Option func(*memoryConfig)

// WithClock substitutes the time source so tests advance a fake clock.
func WithClock(c clockwork.Clock) Option {
	return func(cfg *memoryConfig) { cfg.clock = c }
}

// WithTTL overrides the abandoned-session expiry.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *memoryConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithTouchDebounce overrides how often Load refreshes LastSeenAt.
func WithTouchDebounce(d time.Duration) Option {
	return func(cfg *memoryConfig) { cfg.touchDebounce = d }
}

// WithQueueCap overrides the per-session pending event capacity.
func WithQueueCap(n int) Option {
	return func(cfg *memoryConfig) {
		if n > 0 {
			cfg.queueCap = n
		}
	}
}

// WithGauge wires the active-sessions gauge.
func WithGauge(g Gauge) Option {
	return func(cfg *memoryConfig) { cfg.gauge = g }
}

type memorySession struct {
	sess    Session
	nextID  uint64
	pending []Event
}

// MemoryStore is the in-process Store. Expiry is judged lazily on access and
// by the sweeper loop in Run.
type MemoryStore struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	ttl      time.Duration
	debounce time.Duration
	queueCap int
	gauge    Gauge
	sessions map[string]*memorySession
}

// NewMemoryStore builds an empty store with the real clock unless overridden.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := memoryConfig{
		clock:         clockwork.NewRealClock(),
		ttl:           DefaultTTL,
		touchDebounce: DefaultTouchDebounce,
		queueCap:      DefaultQueueCap,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &MemoryStore{
		clock:    cfg.clock,
		ttl:      cfg.ttl,
		debounce: cfg.touchDebounce,
		queueCap: cfg.queueCap,
		gauge:    cfg.gauge,
		sessions: make(map[string]*memorySession),
	}
}

func (s *MemoryStore) Create(ctx context.Context, protocolVersion string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sess := Session{
		ID:              uuid.NewString(),
		ProtocolVersion: protocolVersion,
		CreatedAt:       now,
		LastSeenAt:      now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &memorySession{sess: sess}
	s.mu.Unlock()

	if s.gauge != nil {
		s.gauge.SessionOpened()
	}
	out := sess
	return &out, nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.live(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := s.clock.Now()
	if now.Sub(ms.sess.LastSeenAt) >= s.debounce {
		ms.sess.LastSeenAt = now
	}
	out := ms.sess
	return &out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok && s.gauge != nil {
		s.gauge.SessionClosed()
	}
	return nil
}

func (s *MemoryStore) PushEvent(ctx context.Context, id string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.live(id)
	if !ok {
		return ErrSessionNotFound
	}
	if len(ms.pending) >= s.queueCap {
		return ErrQueueFull
	}
	ms.nextID++
	ms.pending = append(ms.pending, Event{ID: ms.nextID, Payload: append(json.RawMessage(nil), payload...)})
	return nil
}

func (s *MemoryStore) DrainEvents(ctx context.Context, id string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.live(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := ms.pending
	ms.pending = nil
	return out, nil
}

// Run sweeps expired sessions until ctx is done. Optional: lazy expiry on
// access keeps the store correct without it, the sweeper just reclaims memory
// of sessions no one asks for again.
func (s *MemoryStore) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.clock.Now()
	var closed int

	s.mu.Lock()
	for id, ms := range s.sessions {
		if now.Sub(ms.sess.LastSeenAt) > s.ttl {
			delete(s.sessions, id)
			closed++
		}
	}
	s.mu.Unlock()

	if s.gauge != nil {
		for i := 0; i < closed; i++ {
			s.gauge.SessionClosed()
		}
	}
}

// live fetches a session and applies lazy expiry. Caller holds s.mu.
func (s *MemoryStore) live(id string) (*memorySession, bool) {
	ms, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.clock.Now().Sub(ms.sess.LastSeenAt) > s.ttl {
		delete(s.sessions, id)
		if s.gauge != nil {
			s.gauge.SessionClosed()
		}
		return nil, false
	}
	return ms, true
}

var _ Store = (*MemoryStore)(nil)
