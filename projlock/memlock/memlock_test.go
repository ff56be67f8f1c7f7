package memlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sigee-min/bbmcp-sub011/projlock"
)

func TestAcquireConflictCarriesOwner(t *testing.T) {
	m := New()
	ctx := context.Background()

	first, err := m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "agent-a", OwnerSessionID: "sess-a"})
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if first.Token == "" || first.ExpiresAt.IsZero() {
		t.Fatalf("grant missing token or expiry: %+v", first)
	}

	_, err = m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "agent-b"})
	var conflict *projlock.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want ConflictError, got %v", err)
	}
	if conflict.OwnerAgentID != "agent-a" || conflict.OwnerSessionID != "sess-a" {
		t.Fatalf("conflict should name the holder, got %+v", conflict)
	}
	if !conflict.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("conflict expiry %v != grant expiry %v", conflict.ExpiresAt, first.ExpiresAt)
	}

	// A different project is unaffected.
	if _, err := m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p2", OwnerAgentID: "agent-b"}); err != nil {
		t.Fatalf("independent project acquire: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New()
	ctx := context.Background()
	req := projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "agent-a"}
	rel := projlock.ReleaseRequest{ProjectID: "p1", OwnerAgentID: "agent-a"}

	if _, err := m.Acquire(ctx, req); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	res, err := m.Release(ctx, rel)
	if err != nil || res != projlock.ReleaseReleased {
		t.Fatalf("first release = (%v, %v), want released", res, err)
	}
	res, err = m.Release(ctx, rel)
	if err != nil || res != projlock.ReleaseSkipped {
		t.Fatalf("second release = (%v, %v), want skipped", res, err)
	}
}

func TestReleaseForeignLockSkips(t *testing.T) {
	m := New()
	ctx := context.Background()
	if _, err := m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "agent-a"}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	res, err := m.Release(ctx, projlock.ReleaseRequest{ProjectID: "p1", OwnerAgentID: "agent-b"})
	if err != nil || res != projlock.ReleaseSkipped {
		t.Fatalf("foreign release = (%v, %v), want skipped", res, err)
	}
	// The real holder can still release.
	res, _ = m.Release(ctx, projlock.ReleaseRequest{ProjectID: "p1", OwnerAgentID: "agent-a"})
	if res != projlock.ReleaseReleased {
		t.Fatalf("holder release after foreign attempt = %v, want released", res)
	}
}

func TestExpiredLockCanBeReacquired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(WithClock(clock))
	ctx := context.Background()

	if _, err := m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "agent-a", TTL: 10 * time.Second}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "agent-b"}); err == nil {
		t.Fatal("live lock should conflict")
	}

	clock.Advance(11 * time.Second)

	lock, err := m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "agent-b"})
	if err != nil {
		t.Fatalf("acquire over expired lock: %v", err)
	}
	if lock.OwnerAgentID != "agent-b" {
		t.Fatalf("new grant owner = %q", lock.OwnerAgentID)
	}

	// The abandoned holder's release must not clobber the new grant.
	res, err := m.Release(ctx, projlock.ReleaseRequest{ProjectID: "p1", OwnerAgentID: "agent-a"})
	if err != nil || res != projlock.ReleaseSkipped {
		t.Fatalf("stale holder release = (%v, %v), want skipped", res, err)
	}
	if _, err := m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "agent-c"}); err == nil {
		t.Fatal("new grant should still be live")
	}
}

func TestTTLDefaultAndFloor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(WithClock(clock))
	ctx := context.Background()

	lock, err := m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "a"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := lock.ExpiresAt.Sub(clock.Now()); got != projlock.DefaultTTL {
		t.Fatalf("default TTL = %v, want %v", got, projlock.DefaultTTL)
	}

	lock, err = m.Acquire(ctx, projlock.AcquireRequest{ProjectID: "p2", OwnerAgentID: "a", TTL: time.Second})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := lock.ExpiresAt.Sub(clock.Now()); got != projlock.MinTTL {
		t.Fatalf("floor TTL = %v, want %v", got, projlock.MinTTL)
	}
}

func TestMutualExclusionUnderConcurrency(t *testing.T) {
	m := New()
	ctx := context.Background()

	const goroutines = 32
	var inCritical atomic.Int32
	var maxInCritical atomic.Int32
	var executed atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := projlock.With(ctx, m, projlock.AcquireRequest{ProjectID: "p1", OwnerAgentID: "agent"}, func(ctx context.Context) error {
					n := inCritical.Add(1)
					for {
						cur := maxInCritical.Load()
						if n <= cur || maxInCritical.CompareAndSwap(cur, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					inCritical.Add(-1)
					executed.Add(1)
					return nil
				})
				if err == nil {
					return
				}
				var conflict *projlock.ConflictError
				if !errors.As(err, &conflict) {
					t.Errorf("unexpected acquire error: %v", err)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := maxInCritical.Load(); got != 1 {
		t.Fatalf("critical section overlap: max concurrent = %d", got)
	}
	if got := executed.Load(); got != goroutines {
		t.Fatalf("executed = %d, want %d", got, goroutines)
	}
}
