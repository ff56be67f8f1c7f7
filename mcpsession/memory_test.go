package mcpsession

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess, err := s.Create(ctx, "2025-06-18")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected a generated session id")
	}

	loaded, err := s.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ProtocolVersion != "2025-06-18" {
		t.Fatalf("protocol version = %q", loaded.ProtocolVersion)
	}

	if err := s.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	// Second delete is idempotent.
	if err := s.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := NewMemoryStore(WithClock(clock), WithTTL(time.Minute))

	sess, err := s.Create(ctx, "2025-06-18")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := s.Load(ctx, sess.ID); err != nil {
		t.Fatalf("load before expiry: %v", err)
	}

	// Load refreshed LastSeenAt, so expiry counts from now.
	clock.Advance(time.Minute + time.Second)
	if _, err := s.Load(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryStoreEventQueue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithQueueCap(2))

	sess, err := s.Create(ctx, "2025-06-18")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.PushEvent(ctx, sess.ID, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if err := s.PushEvent(ctx, sess.ID, json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("push 2: %v", err)
	}
	if err := s.PushEvent(ctx, sess.ID, json.RawMessage(`{"n":3}`)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	events, err := s.DrainEvents(ctx, sess.ID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("drained %d events, want 2", len(events))
	}
	if events[0].ID != 1 || events[1].ID != 2 {
		t.Fatalf("event ids not monotonic: %d, %d", events[0].ID, events[1].ID)
	}

	// Drain leaves the queue empty.
	events, err = s.DrainEvents(ctx, sess.ID)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty drain, got %d events", len(events))
	}

	if err := s.PushEvent(ctx, "no-such-session", json.RawMessage(`{}`)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
