// Package redislock is the Redis-backed projlock.Manager for multi-process
// deployments. Leases are SET NX PX keys whose value carries the holder
// identity; Redis key expiry is the TTL backstop, and release is an atomic
// compare-owner-and-delete script.
package redislock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/sigee-min/bbmcp-sub011/projlock"
)

// Config for the Redis-backed lock manager. Defaults can be loaded via
// envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all lock keys. ENV: PROJLOCK_KEY_PREFIX
	KeyPrefix string `env:"PROJLOCK_KEY_PREFIX,default=bbmcp:projlock:"`
}

type lockRecord struct {
	Token          string `json:"token"`
	OwnerAgentID   string `json:"ownerAgentId"`
	OwnerSessionID string `json:"ownerSessionId,omitempty"`
	ExpiresAtMs    int64  `json:"expiresAtMs"`
}

// Manager implements projlock.Manager over one Redis client.
type Manager struct {
	client    *redis.Client
	keyPrefix string
}

// New connects and pings Redis.
func New(cfg Config) (*Manager, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "bbmcp:projlock:"
	}
	return &Manager{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Manager using envdecode to populate Config.
func NewFromEnv() (*Manager, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// NewWithClient wraps an existing client; the caller owns its lifecycle.
func NewWithClient(client *redis.Client, keyPrefix string) *Manager {
	if keyPrefix == "" {
		keyPrefix = "bbmcp:projlock:"
	}
	return &Manager{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis client.
func (m *Manager) Close() error { return m.client.Close() }

func (m *Manager) lockKey(projectID string) string { return m.keyPrefix + projectID }

func (m *Manager) Acquire(ctx context.Context, req projlock.AcquireRequest) (*projlock.Lock, error) {
	ttl := projlock.ResolveTTL(req.TTL)
	key := m.lockKey(req.ProjectID)

	// The conflict read races against key expiry, so a failed SET NX whose
	// holder vanished in between gets a bounded number of fresh attempts.
	for attempt := 0; attempt < 3; attempt++ {
		expiresAt := time.Now().Add(ttl)
		rec := lockRecord{
			Token:          uuid.NewString(),
			OwnerAgentID:   req.OwnerAgentID,
			OwnerSessionID: req.OwnerSessionID,
			ExpiresAtMs:    expiresAt.UnixMilli(),
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode lock record: %w", err)
		}

		ok, err := m.client.SetNX(ctx, key, payload, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock acquire: %w", err)
		}
		if ok {
			return &projlock.Lock{
				ProjectID:      req.ProjectID,
				OwnerAgentID:   req.OwnerAgentID,
				OwnerSessionID: req.OwnerSessionID,
				Token:          rec.Token,
				ExpiresAt:      expiresAt,
			}, nil
		}

		raw, err := m.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // holder expired between SETNX and GET
		}
		if err != nil {
			return nil, fmt.Errorf("lock conflict read: %w", err)
		}
		var held lockRecord
		if err := json.Unmarshal(raw, &held); err != nil {
			return nil, fmt.Errorf("decode held lock: %w", err)
		}
		return nil, &projlock.ConflictError{
			ProjectID:      req.ProjectID,
			OwnerAgentID:   held.OwnerAgentID,
			OwnerSessionID: held.OwnerSessionID,
			ExpiresAt:      time.UnixMilli(held.ExpiresAtMs),
		}
	}
	return nil, fmt.Errorf("lock acquire: contention on %q did not settle", req.ProjectID)
}

var releaseScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local held = cjson.decode(raw)
local sess = held.ownerSessionId
if sess == nil then sess = '' end
if held.ownerAgentId == ARGV[1] and sess == ARGV[2] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

func (m *Manager) Release(ctx context.Context, req projlock.ReleaseRequest) (projlock.ReleaseResult, error) {
	res, err := releaseScript.Run(ctx, m.client, []string{m.lockKey(req.ProjectID)}, req.OwnerAgentID, req.OwnerSessionID).Int()
	if err != nil {
		return projlock.ReleaseSkipped, fmt.Errorf("lock release: %w", err)
	}
	if res == 1 {
		return projlock.ReleaseReleased, nil
	}
	return projlock.ReleaseSkipped, nil
}

var _ projlock.Manager = (*Manager)(nil)
