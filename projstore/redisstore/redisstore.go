// Package redisstore is the Redis projstore backend for deployments where
// several server processes share project state. Snapshots live in hashes
// keyed by scope; blobs in plain string values. Neither carries a TTL:
// project state outlives sessions by design.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/sigee-min/bbmcp-sub011/projstore"
	"github.com/sigee-min/bbmcp-sub011/session"
)

// Config for the Redis-backed project store. Defaults load via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: BBMCP_STORE_REDIS_ADDR
	RedisAddr string `env:"BBMCP_STORE_REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: BBMCP_STORE_KEY_PREFIX
	KeyPrefix string `env:"BBMCP_STORE_KEY_PREFIX,default=bbmcp:projects:"`
}

// Store implements projstore.ProjectRepository and projstore.BlobStore over
// Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

var (
	_ projstore.ProjectRepository = (*Store)(nil)
	_ projstore.BlobStore         = (*Store)(nil)
)

// New builds a store and verifies connectivity with a ping.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg.KeyPrefix), nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// NewWithClient wraps an existing client, for callers that pool connections.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "bbmcp:projects:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

// Ping probes connectivity, for readiness gauges.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) projectKey(scope projstore.Scope) string {
	return s.keyPrefix + "snap:" + scope.Key()
}

func (s *Store) blobKey(bucket, key string) string {
	return s.keyPrefix + "blob:" + bucket + ":" + key
}

func (s *Store) Save(ctx context.Context, scope projstore.Scope, revision string, state *session.Snapshot) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	err = s.client.HSet(ctx, s.projectKey(scope), map[string]any{
		"tenantId":  scope.TenantID,
		"projectId": scope.ProjectID,
		"revision":  revision,
		"state":     raw,
		"savedAt":   time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, scope projstore.Scope) (*projstore.StoredProject, error) {
	fields, err := s.client.HGetAll(ctx, s.projectKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if len(fields) == 0 {
		return nil, projstore.ErrNotFound
	}
	var state session.Snapshot
	if err := json.Unmarshal([]byte(fields["state"]), &state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	savedAt, _ := time.Parse(time.RFC3339Nano, fields["savedAt"])
	return &projstore.StoredProject{
		Scope:    scope,
		Revision: fields["revision"],
		State:    &state,
		SavedAt:  savedAt,
	}, nil
}

func (s *Store) Remove(ctx context.Context, scope projstore.Scope) error {
	if err := s.client.Del(ctx, s.projectKey(scope)).Err(); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	if err := s.client.Set(ctx, s.blobKey(bucket, key), data, 0).Err(); err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.blobKey(bucket, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, projstore.ErrBlobNotFound
		}
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := s.client.Del(ctx, s.blobKey(bucket, key)).Err(); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
