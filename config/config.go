// Package config loads server configuration env-first via envdecode struct
// tags, applies an optional YAML overlay file on top, and hot-reloads the
// mutable subset (log level, lock TTL, payload limits) when that file
// changes.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Mutable is the subset of configuration that may change at runtime. The
// watcher swaps the whole struct atomically, so readers always see one
// consistent generation.
type Mutable struct {
	// LogLevel: debug, info, warning, or error. ENV: BBMCP_LOG_LEVEL
	LogLevel string `env:"BBMCP_LOG_LEVEL,default=info" yaml:"logLevel"`
	// LockTTL is the default project lock lease. ENV: BBMCP_LOCK_TTL
	LockTTL time.Duration `env:"BBMCP_LOCK_TTL,default=30s" yaml:"lockTTL"`
	// MaxBodyBytes bounds one POST body. ENV: BBMCP_MAX_BODY_BYTES
	MaxBodyBytes int64 `env:"BBMCP_MAX_BODY_BYTES,default=4194304" yaml:"maxBodyBytes"`
	// MaxNameLength bounds entity names in tool payloads. ENV: BBMCP_MAX_NAME_LENGTH
	MaxNameLength int `env:"BBMCP_MAX_NAME_LENGTH,default=120" yaml:"maxNameLength"`
	// MaxKeyframesPerCall bounds one set_keyframes payload. ENV: BBMCP_MAX_KEYFRAMES
	MaxKeyframesPerCall int `env:"BBMCP_MAX_KEYFRAMES,default=1024" yaml:"maxKeyframesPerCall"`
	// MaxTextureBytes bounds one texture payload. ENV: BBMCP_MAX_TEXTURE_BYTES
	MaxTextureBytes int `env:"BBMCP_MAX_TEXTURE_BYTES,default=4194304" yaml:"maxTextureBytes"`
}

// Config is the full server configuration. Everything outside Mutable is
// fixed for the process lifetime.
type Config struct {
	// Listen address of the MCP endpoint. ENV: BBMCP_LISTEN
	Listen string `env:"BBMCP_LISTEN,default=:8080" yaml:"listen"`
	// Path of the MCP endpoint. ENV: BBMCP_MCP_PATH
	Path string `env:"BBMCP_MCP_PATH,default=/mcp" yaml:"path"`
	// MetricsListen address for /metrics and /healthz; empty disables the
	// second listener. ENV: BBMCP_METRICS_LISTEN
	MetricsListen string `env:"BBMCP_METRICS_LISTEN,default=" yaml:"metricsListen"`

	// AuthMode: none, static, or oidc. ENV: BBMCP_AUTH_MODE
	AuthMode string `env:"BBMCP_AUTH_MODE,default=none" yaml:"authMode"`
	// BearerToken for static auth. ENV: BBMCP_BEARER_TOKEN
	BearerToken string `env:"BBMCP_BEARER_TOKEN,default=" yaml:"bearerToken"`
	// OIDCIssuer for oidc auth. ENV: BBMCP_OIDC_ISSUER
	OIDCIssuer string `env:"BBMCP_OIDC_ISSUER,default=" yaml:"oidcIssuer"`
	// OIDCAudience required in validated tokens. ENV: BBMCP_OIDC_AUDIENCE
	OIDCAudience string `env:"BBMCP_OIDC_AUDIENCE,default=" yaml:"oidcAudience"`
	// OIDCScopes space-separates scopes every token must grant. ENV: BBMCP_OIDC_SCOPES
	OIDCScopes string `env:"BBMCP_OIDC_SCOPES,default=" yaml:"oidcScopes"`
	// OIDCJWKSURI overrides discovery with an explicit key set URL. ENV: BBMCP_OIDC_JWKS_URI
	OIDCJWKSURI string `env:"BBMCP_OIDC_JWKS_URI,default=" yaml:"oidcJwksUri"`

	// SessionStore: memory or redis. ENV: BBMCP_SESSION_STORE
	SessionStore string `env:"BBMCP_SESSION_STORE,default=memory" yaml:"sessionStore"`
	// ProjectStore: memory, redis, or sqlite. ENV: BBMCP_PROJECT_STORE
	ProjectStore string `env:"BBMCP_PROJECT_STORE,default=memory" yaml:"projectStore"`
	// LockBackend: memory or redis. ENV: BBMCP_LOCK_BACKEND
	LockBackend string `env:"BBMCP_LOCK_BACKEND,default=memory" yaml:"lockBackend"`
	// SQLitePath of the project database. ENV: BBMCP_STORE_SQLITE_PATH
	SQLitePath string `env:"BBMCP_STORE_SQLITE_PATH,default=bbmcp.db" yaml:"sqlitePath"`
	// RedisAddr shared by redis-backed components. ENV: BBMCP_REDIS_ADDR
	RedisAddr string `env:"BBMCP_REDIS_ADDR,default=localhost:6379" yaml:"redisAddr"`

	Mutable Mutable `yaml:",inline"`
}

// Load builds the configuration: env first, then the YAML overlay at path
// when one is given. Fields absent from the file keep their env values.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode env: %w", err)
	}
	if path != "" {
		if err := overlay(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overlay(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.AuthMode {
	case "none", "static", "oidc":
	default:
		return fmt.Errorf("authMode %q: want none, static, or oidc", c.AuthMode)
	}
	if c.AuthMode == "static" && c.BearerToken == "" {
		return fmt.Errorf("static auth requires a bearer token")
	}
	if c.AuthMode == "oidc" && c.OIDCIssuer == "" {
		return fmt.Errorf("oidc auth requires an issuer")
	}
	switch c.SessionStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("sessionStore %q: want memory or redis", c.SessionStore)
	}
	switch c.ProjectStore {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("projectStore %q: want memory, redis, or sqlite", c.ProjectStore)
	}
	switch c.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("lockBackend %q: want memory or redis", c.LockBackend)
	}
	return nil
}

// ParseLevel maps a config log level keyword onto slog.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
