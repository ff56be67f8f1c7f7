package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sigee-min/bbmcp-sub011/projstore"
	"github.com/sigee-min/bbmcp-sub011/projstore/storetest"
	"github.com/sigee-min/bbmcp-sub011/session"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		st, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		return st
	})
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")
	scope := projstore.Scope{TenantID: "t1", ProjectID: "p1"}

	st, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Save(ctx, scope, "rev-9", &session.Snapshot{ID: "p1", Name: "robot", Revision: "rev-9"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Put(ctx, "textures", "skin", []byte("img")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	stored, err := st.Load(ctx, scope)
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if stored.Revision != "rev-9" || stored.State.Name != "robot" {
		t.Fatalf("stored = %+v", stored)
	}
	blob, err := st.Get(ctx, "textures", "skin")
	if err != nil || string(blob) != "img" {
		t.Fatalf("blob after reopen: %q, %v", blob, err)
	}
}
