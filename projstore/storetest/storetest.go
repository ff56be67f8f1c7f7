// Package storetest is the shared conformance suite for projstore backends.
// Each backend's test runs the same behavioral checks through its own
// factory, so memory, Redis, and SQLite cannot drift apart semantically.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sigee-min/bbmcp-sub011/projstore"
	"github.com/sigee-min/bbmcp-sub011/session"
)

// Store is the combined surface a backend under test must implement.
type Store interface {
	projstore.ProjectRepository
	projstore.BlobStore
}

// Run executes the conformance suite against stores built by factory.
func Run(t *testing.T, factory func(t *testing.T) Store) {
	t.Helper()

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		st := factory(t)
		ctx := context.Background()
		scope := projstore.Scope{TenantID: "t1", ProjectID: "p1"}
		snap := &session.Snapshot{
			ID:       "p1",
			Name:     "robot",
			Format:   "bedrock",
			Revision: "rev-1",
			Bones:    []session.Bone{{ID: "b1", Name: "root"}},
		}

		if err := st.Save(ctx, scope, "rev-1", snap); err != nil {
			t.Fatalf("save: %v", err)
		}
		stored, err := st.Load(ctx, scope)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if stored.Revision != "rev-1" {
			t.Fatalf("revision = %q", stored.Revision)
		}
		if stored.State == nil || stored.State.Name != "robot" || len(stored.State.Bones) != 1 {
			t.Fatalf("state = %+v", stored.State)
		}
		if stored.SavedAt.IsZero() {
			t.Fatalf("savedAt not stamped")
		}
	})

	t.Run("SaveOverwritesByScope", func(t *testing.T) {
		st := factory(t)
		ctx := context.Background()
		scope := projstore.Scope{TenantID: "t1", ProjectID: "p1"}

		if err := st.Save(ctx, scope, "rev-1", &session.Snapshot{ID: "p1", Revision: "rev-1"}); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := st.Save(ctx, scope, "rev-2", &session.Snapshot{ID: "p1", Revision: "rev-2"}); err != nil {
			t.Fatalf("resave: %v", err)
		}
		stored, err := st.Load(ctx, scope)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if stored.Revision != "rev-2" {
			t.Fatalf("revision = %q, want rev-2", stored.Revision)
		}
	})

	t.Run("ScopesIsolate", func(t *testing.T) {
		st := factory(t)
		ctx := context.Background()
		a := projstore.Scope{TenantID: "t1", ProjectID: "p1"}
		b := projstore.Scope{TenantID: "t2", ProjectID: "p1"}

		if err := st.Save(ctx, a, "rev-a", &session.Snapshot{ID: "p1", Name: "alpha"}); err != nil {
			t.Fatalf("save a: %v", err)
		}
		if _, err := st.Load(ctx, b); !errors.Is(err, projstore.ErrNotFound) {
			t.Fatalf("foreign tenant load: %v", err)
		}
	})

	t.Run("LoadMissing", func(t *testing.T) {
		st := factory(t)
		_, err := st.Load(context.Background(), projstore.Scope{TenantID: "t1", ProjectID: "nope"})
		if !errors.Is(err, projstore.ErrNotFound) {
			t.Fatalf("missing load: %v", err)
		}
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		st := factory(t)
		ctx := context.Background()
		scope := projstore.Scope{TenantID: "t1", ProjectID: "p1"}

		if err := st.Save(ctx, scope, "rev-1", &session.Snapshot{ID: "p1"}); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := st.Remove(ctx, scope); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if _, err := st.Load(ctx, scope); !errors.Is(err, projstore.ErrNotFound) {
			t.Fatalf("load after remove: %v", err)
		}
		if err := st.Remove(ctx, scope); err != nil {
			t.Fatalf("re-remove: %v", err)
		}
	})

	t.Run("BlobRoundTrip", func(t *testing.T) {
		st := factory(t)
		ctx := context.Background()
		payload := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}

		if err := st.Put(ctx, "textures", "skin.png", payload); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, err := st.Get(ctx, "textures", "skin.png")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("blob mismatch: %v", got)
		}

		if _, err := st.Get(ctx, "textures", "missing.png"); !errors.Is(err, projstore.ErrBlobNotFound) {
			t.Fatalf("missing blob: %v", err)
		}
		if err := st.Delete(ctx, "textures", "skin.png"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := st.Get(ctx, "textures", "skin.png"); !errors.Is(err, projstore.ErrBlobNotFound) {
			t.Fatalf("get after delete: %v", err)
		}
	})

	t.Run("BlobBucketsIsolate", func(t *testing.T) {
		st := factory(t)
		ctx := context.Background()

		if err := st.Put(ctx, "textures", "k", []byte("tex")); err != nil {
			t.Fatalf("put: %v", err)
		}
		if _, err := st.Get(ctx, "exports", "k"); !errors.Is(err, projstore.ErrBlobNotFound) {
			t.Fatalf("cross-bucket get: %v", err)
		}
	})
}
