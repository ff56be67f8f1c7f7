// Package redisstore is the Redis-backed mcpsession.Store for deployments
// where multiple server processes must resolve the same session ids. Session
// metadata lives in a JSON value with a TTL; pending events live in a list
// next to it.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/sigee-min/bbmcp-sub011/mcpsession"
)

// Config for the Redis-backed session store. Defaults load via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: BBMCP_SESSIONS_REDIS_ADDR
	RedisAddr string `env:"BBMCP_SESSIONS_REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: BBMCP_SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"BBMCP_SESSIONS_KEY_PREFIX,default=bbmcp:sessions:"`
	// TTL for abandoned sessions. ENV: BBMCP_SESSIONS_TTL
	TTL time.Duration `env:"BBMCP_SESSIONS_TTL,default=30m"`
}

// Store implements mcpsession.Store over Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

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
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "bbmcp:sessions:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = mcpsession.DefaultTTL
	}
	return &Store{client: cl, keyPrefix: prefix, ttl: ttl}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// NewWithClient wraps an existing client, for callers that pool connections.
func NewWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *Store {
	if keyPrefix == "" {
		keyPrefix = "bbmcp:sessions:"
	}
	if ttl <= 0 {
		ttl = mcpsession.DefaultTTL
	}
	return &Store{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) metaKey(id string) string   { return s.keyPrefix + "meta:" + id }
func (s *Store) eventsKey(id string) string { return s.keyPrefix + "events:" + id }
func (s *Store) seqKey(id string) string    { return s.keyPrefix + "seq:" + id }

func (s *Store) Create(ctx context.Context, protocolVersion string) (*mcpsession.Session, error) {
	now := time.Now().UTC()
	sess := mcpsession.Session{
		ID:              uuid.NewString(),
		ProtocolVersion: protocolVersion,
		CreatedAt:       now,
		LastSeenAt:      now,
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.metaKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &sess, nil
}

func (s *Store) Load(ctx context.Context, id string) (*mcpsession.Session, error) {
	raw, err := s.client.Get(ctx, s.metaKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, mcpsession.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess mcpsession.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	// Touch: sliding expiry on the metadata and event keys. The TTL itself is
	// the debounce; a refresh per load is one cheap round-trip.
	now := time.Now().UTC()
	if now.Sub(sess.LastSeenAt) >= mcpsession.DefaultTouchDebounce {
		sess.LastSeenAt = now
		if updated, err := json.Marshal(sess); err == nil {
			_ = s.client.Set(context.WithoutCancel(ctx), s.metaKey(id), updated, s.ttl).Err()
		}
	} else {
		_ = s.client.Expire(context.WithoutCancel(ctx), s.metaKey(id), s.ttl).Err()
	}
	return &sess, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	c := context.WithoutCancel(ctx)
	if err := s.client.Del(c, s.metaKey(id), s.eventsKey(id), s.seqKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// pushScript queues one event only while the session metadata still exists,
// enforcing the queue capacity atomically.
var pushScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('LLEN', KEYS[2]) >= tonumber(ARGV[2]) then
  return -2
end
local seq = redis.call('INCR', KEYS[3])
redis.call('RPUSH', KEYS[2], cjson.encode({id=seq, payload=ARGV[1]}))
redis.call('EXPIRE', KEYS[2], ARGV[3])
redis.call('EXPIRE', KEYS[3], ARGV[3])
return seq
`)

func (s *Store) PushEvent(ctx context.Context, id string, payload json.RawMessage) error {
	keys := []string{s.metaKey(id), s.eventsKey(id), s.seqKey(id)}
	res, err := pushScript.Run(ctx, s.client, keys, string(payload), mcpsession.DefaultQueueCap, int(s.ttl.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	switch res {
	case -1:
		return mcpsession.ErrSessionNotFound
	case -2:
		return mcpsession.ErrQueueFull
	}
	return nil
}

// drainScript atomically reads and clears the pending list.
var drainScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local items = redis.call('LRANGE', KEYS[2], 0, -1)
redis.call('DEL', KEYS[2])
return items
`)

func (s *Store) DrainEvents(ctx context.Context, id string) ([]mcpsession.Event, error) {
	keys := []string{s.metaKey(id), s.eventsKey(id)}
	res, err := drainScript.Run(ctx, s.client, keys).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, mcpsession.ErrSessionNotFound
		}
		return nil, fmt.Errorf("drain events: %w", err)
	}
	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("drain events: unexpected reply %T", res)
	}
	events := make([]mcpsession.Event, 0, len(items))
	for _, it := range items {
		str, ok := it.(string)
		if !ok {
			continue
		}
		var rec struct {
			ID      uint64 `json:"id"`
			Payload string `json:"payload"`
		}
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			continue
		}
		events = append(events, mcpsession.Event{ID: rec.ID, Payload: json.RawMessage(rec.Payload)})
	}
	return events, nil
}

var _ mcpsession.Store = (*Store)(nil)
