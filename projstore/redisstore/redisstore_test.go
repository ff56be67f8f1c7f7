package redisstore

import (
	"testing"

	"github.com/google/uuid"

	"github.com/sigee-min/bbmcp-sub011/projstore/storetest"
)

func TestConformance(t *testing.T) {
	// Availability check for a graceful skip in environments without Redis.
	probe, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis project store tests: %v", err)
		return
	}
	_ = probe.Close()

	storetest.Run(t, func(t *testing.T) storetest.Store {
		st, err := New(Config{KeyPrefix: "bbmcp:test:" + uuid.NewString() + ":"})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		return st
	})
}
