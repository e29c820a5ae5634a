// Package sqlite provides a kv.Store backed by an embedded SQLite database.
//
// The database runs in WAL mode so other processes (another kvs command,
// the user's own tools) can read and write the same file while a daemon
// holds it open.
//
// Schema:
//
//	kv(key TEXT PRIMARY KEY, value BLOB, kind TEXT, version INTEGER, updated_at TEXT)
//
// Values are stored with kv.Encode. Every write bumps the row version,
// which is how Changes tells writes made through this Store apart from
// writes made by anyone else.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/kvsync/internal/kv"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	kind TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);
`

// rowStamp identifies one revision of a row.
type rowStamp struct {
	version   int64
	updatedAt string
}

// Store is a kv.Store over a SQL database with the kv table.
type Store struct {
	conn     *sql.DB
	path     string
	owned    bool
	notifier *kv.Notifier

	// mu serializes writes with Changes so a write made through this
	// Store is always recorded before it can be observed.
	mu   sync.Mutex
	seen map[string]rowStamp
}

var _ kv.Store = (*Store)(nil)

// Option configures a Store created with New.
type Option func(*Store)

// WithPath records the file the connection points at, for display.
func WithPath(path string) Option {
	return func(s *Store) {
		s.path = path
	}
}

// Open opens (creating if needed) the SQLite database at path.
//
// The caller MUST call Close() when done to ensure the WAL is
// checkpointed.
//
// Example:
//
//	store, err := sqlite.Open(".kvsync/local.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s, err := New(conn, WithPath(path))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an already open connection. The kv table is created if it
// does not exist. Close on a Store created by New leaves conn open.
func New(conn *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		conn:     conn,
		notifier: kv.NewNotifier(),
		seen:     make(map[string]rowStamp),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	current, err := s.stamps(ctx)
	if err != nil {
		return nil, err
	}
	s.seen = current
	return s, nil
}

// Path returns the database file path, if known.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying connection.
func (s *Store) DB() *sql.DB {
	return s.conn
}

// Notifier implements kv.Store.
func (s *Store) Notifier() *kv.Notifier {
	return s.notifier
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) (kv.Value, bool, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	v, err := kv.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements kv.Store. A nil value deletes the key.
func (s *Store) Set(ctx context.Context, key string, value kv.Value) error {
	if value == nil {
		return s.Delete(ctx, key)
	}

	n, err := kv.Normalize(value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	kind, err := kv.KindOf(n)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	data, err := kv.Encode(n)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	query := `
	INSERT INTO kv (key, value, kind, version, updated_at)
	VALUES (?, ?, ?, 1, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		kind = excluded.kind,
		version = kv.version + 1,
		updated_at = excluded.updated_at
	RETURNING version, updated_at
	`

	s.mu.Lock()
	var st rowStamp
	err = s.conn.QueryRowContext(ctx, query, key, data, string(kind), now()).Scan(&st.version, &st.updatedAt)
	if err == nil {
		s.seen[key] = st
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	s.notifier.Publish([]string{key})
	return nil
}

// Delete implements kv.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	_, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err == nil {
		delete(s.seen, key)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	s.notifier.Publish([]string{key})
	return nil
}

// Snapshot implements kv.Store.
func (s *Store) Snapshot(ctx context.Context) (map[string]kv.Value, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]kv.Value)
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		v, err := kv.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot: %w", err)
	}
	return out, nil
}

// Flush implements kv.Store by checkpointing the WAL into the main
// database file.
func (s *Store) Flush(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// Changes returns the keys written, added or removed by other writers
// since the Store was opened or Changes was last called. Writes made
// through this Store are never reported.
func (s *Store) Changes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.stamps(ctx)
	if err != nil {
		return nil, err
	}

	var changed []string
	for key, st := range current {
		if prev, ok := s.seen[key]; !ok || prev != st {
			changed = append(changed, key)
		}
	}
	for key := range s.seen {
		if _, ok := current[key]; !ok {
			changed = append(changed, key)
		}
	}
	s.seen = current

	sort.Strings(changed)
	return changed, nil
}

// Count returns the number of keys in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the connection if the Store
// opened it.
func (s *Store) Close() error {
	if !s.owned || s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *Store) stamps(ctx context.Context) (map[string]rowStamp, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, version, updated_at FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]rowStamp)
	for rows.Next() {
		var (
			key string
			st  rowStamp
		)
		if err := rows.Scan(&key, &st.version, &st.updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out[key] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return out, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
