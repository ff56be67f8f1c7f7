// Package sqlitestore is the SQLite projstore backend: durable single-node
// persistence without a separate server process. The driver is cgo-free
// (modernc.org/sqlite) and the database runs in WAL mode so snapshot reads
// do not block saves.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	_ "modernc.org/sqlite"

	"github.com/sigee-min/bbmcp-sub011/projstore"
	"github.com/sigee-min/bbmcp-sub011/session"
)

// Config for the SQLite-backed project store.
type Config struct {
	// Path of the database file. ENV: BBMCP_STORE_SQLITE_PATH
	Path string `env:"BBMCP_STORE_SQLITE_PATH,default=bbmcp.db"`
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	tenant_id  TEXT NOT NULL,
	project_id TEXT NOT NULL,
	revision   TEXT NOT NULL,
	state      TEXT NOT NULL,
	saved_at   TEXT NOT NULL,
	PRIMARY KEY (tenant_id, project_id)
);
CREATE TABLE IF NOT EXISTS blobs (
	bucket TEXT NOT NULL,
	key    TEXT NOT NULL,
	data   BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
);`

// Store implements projstore.ProjectRepository and projstore.BlobStore over
// one SQLite database.
type Store struct {
	db *sql.DB
}

var (
	_ projstore.ProjectRepository = (*Store)(nil)
	_ projstore.BlobStore         = (*Store)(nil)
)

// Open opens (creating if needed) the database and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection sidesteps busy errors.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenFromEnv opens the database at the envdecode-configured path.
func OpenFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	if cfg.Path == "" {
		cfg.Path = "bbmcp.db"
	}
	return Open(ctx, cfg.Path)
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping probes the database, for readiness gauges.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Save(ctx context.Context, scope projstore.Scope, revision string, state *session.Snapshot) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (tenant_id, project_id, revision, state, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, project_id)
		DO UPDATE SET revision = excluded.revision, state = excluded.state, saved_at = excluded.saved_at`,
		scope.TenantID, scope.ProjectID, revision, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, scope projstore.Scope) (*projstore.StoredProject, error) {
	var (
		revision string
		raw      string
		savedAt  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT revision, state, saved_at FROM projects WHERE tenant_id = ? AND project_id = ?`,
		scope.TenantID, scope.ProjectID).Scan(&revision, &raw, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, projstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	var state session.Snapshot
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	ts, _ := time.Parse(time.RFC3339Nano, savedAt)
	return &projstore.StoredProject{
		Scope:    scope,
		Revision: revision,
		State:    &state,
		SavedAt:  ts,
	}, nil
}

func (s *Store) Remove(ctx context.Context, scope projstore.Scope) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM projects WHERE tenant_id = ? AND project_id = ?`,
		scope.TenantID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("remove project: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (bucket, key, data) VALUES (?, ?, ?)
		ON CONFLICT (bucket, key) DO UPDATE SET data = excluded.data`,
		bucket, key, data)
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blobs WHERE bucket = ? AND key = ?`, bucket, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, projstore.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blobs WHERE bucket = ? AND key = ?`, bucket, key)
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
