// Package replica provides the remote kv.Store: a libSQL database that is
// either an embedded replica of a Turso primary or, without a primary, a
// plain libSQL file (useful for local testing and air-gapped setups).
//
// Reads are served from the local replica file. Flush pushes local writes
// to the primary and pulls remote ones; Pull additionally reports which
// keys the pull changed.
package replica

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tursodatabase/go-libsql"

	"github.com/steveyegge/kvsync/internal/kv"
	"github.com/steveyegge/kvsync/internal/kv/sqlite"
)

// Config holds replica connection options.
type Config struct {
	// Path is the local replica file.
	Path string

	// PrimaryURL is the libsql:// or https:// URL of the primary. Empty
	// means no replication.
	PrimaryURL string

	// AuthToken authenticates against the primary.
	AuthToken string

	// SyncInterval enables libSQL's own background sync when positive.
	SyncInterval time.Duration
}

// Store is the remote store. It embeds the SQL store for reads and writes.
type Store struct {
	*sqlite.Store

	conn      *sql.DB
	connector *libsql.Connector
}

var _ kv.Store = (*Store)(nil)

// Open opens the replica described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("replica path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create replica directory: %w", err)
	}

	s := &Store{}

	if cfg.PrimaryURL != "" {
		opts := []libsql.Option{libsql.WithAuthToken(cfg.AuthToken)}
		if cfg.SyncInterval > 0 {
			opts = append(opts, libsql.WithSyncInterval(cfg.SyncInterval))
		}
		connector, err := libsql.NewEmbeddedReplicaConnector(cfg.Path, cfg.PrimaryURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create replica connector: %w", err)
		}
		s.connector = connector
		s.conn = sql.OpenDB(connector)

		// Start from the primary's current state.
		if _, err := connector.Sync(); err != nil {
			_ = s.closeConn()
			return nil, fmt.Errorf("failed initial sync from primary: %w", err)
		}
	} else {
		conn, err := sql.Open("libsql", fmt.Sprintf("file:%s", cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to open replica: %w", err)
		}
		s.conn = conn
	}

	if err := s.conn.Ping(); err != nil {
		_ = s.closeConn()
		return nil, fmt.Errorf("failed to ping replica: %w", err)
	}

	store, err := sqlite.New(s.conn, sqlite.WithPath(cfg.Path))
	if err != nil {
		_ = s.closeConn()
		return nil, err
	}
	s.Store = store
	return s, nil
}

// Replicated reports whether the store is attached to a primary.
func (s *Store) Replicated() bool {
	return s.connector != nil
}

// Flush pushes pending writes to the primary and pulls new ones. Without
// a primary it checkpoints the WAL.
func (s *Store) Flush(ctx context.Context) error {
	if s.connector == nil {
		return s.Store.Flush(ctx)
	}
	if _, err := s.connector.Sync(); err != nil {
		return fmt.Errorf("failed to sync replica: %w", err)
	}
	return nil
}

// Pull syncs with the primary and returns the keys changed by other
// writers since the previous Pull.
func (s *Store) Pull(ctx context.Context) ([]string, error) {
	if s.connector != nil {
		if _, err := s.connector.Sync(); err != nil {
			return nil, fmt.Errorf("failed to sync replica: %w", err)
		}
	}
	return s.Changes(ctx)
}

// Close closes the database and the replica connector.
func (s *Store) Close() error {
	return s.closeConn()
}

func (s *Store) closeConn() error {
	var firstErr error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close replica: %w", err)
		}
		s.conn = nil
	}
	if s.connector != nil {
		if err := s.connector.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close replica connector: %w", err)
		}
		s.connector = nil
	}
	return firstErr
}
