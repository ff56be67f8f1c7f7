// Package mcpsession stores the protocol-level conversation state of MCP
// clients: the server-assigned session id, the negotiated protocol version,
// and a bounded queue of server events waiting for the client's next GET.
// Stores are pluggable; an in-memory store serves single-process deployments
// and a Redis store serves horizontal scale.
package mcpsession

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrSessionNotFound is returned for an unknown, expired, or torn-down id.
// A deleted session is indistinguishable from one that never existed, so a
// stale id can never resurrect state.
var ErrSessionNotFound = errors.New("mcpsession: session not found")

// ErrQueueFull is returned by PushEvent when the pending queue is at capacity.
var ErrQueueFull = errors.New("mcpsession: event queue full")

const (
	// DefaultTTL sweeps sessions abandoned without a DELETE.
	DefaultTTL = 30 * time.Minute
	// DefaultTouchDebounce bounds how often LastSeenAt writes hit the store.
	DefaultTouchDebounce = 5 * time.Second
	// DefaultQueueCap bounds the pending server-event queue per session.
	DefaultQueueCap = 64
)

// Session is one client's protocol conversation.
type Session struct {
	ID              string    `json:"id"`
	ProtocolVersion string    `json:"protocolVersion"`
	CreatedAt       time.Time `json:"createdAt"`
	LastSeenAt      time.Time `json:"lastSeenAt"`
}

// Event is one queued server notification. IDs increase monotonically within
// a session and become SSE event ids, so clients can spot gaps.
type Event struct {
	ID      uint64          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Store is the session persistence surface the router depends on.
type Store interface {
	// Create allocates a session with a fresh server-generated id.
	Create(ctx context.Context, protocolVersion string) (*Session, error)
	// Load fetches a live session and refreshes its last-seen time
	// (debounced). Unknown or expired ids fail with ErrSessionNotFound.
	Load(ctx context.Context, id string) (*Session, error)
	// Delete tears the session down. Idempotent: deleting an absent session
	// is not an error.
	Delete(ctx context.Context, id string) error
	// PushEvent queues one server event for the session's next GET.
	PushEvent(ctx context.Context, id string, payload json.RawMessage) error
	// DrainEvents removes and returns all queued events, oldest first.
	DrainEvents(ctx context.Context, id string) ([]Event, error)
}
