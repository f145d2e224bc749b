// Package sqlitestore implements [store.Store] on an embedded SQLite
// database: a nodes table keyed by path, with the same in-process event
// fanout and replay-on-subscribe semantics as [store.Memory].
//
// It is a local durable backend for the CLI and long-lived processes, not a
// client for any remote database service. Subscriptions only observe writes
// made through the same Store instance.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mlund/listmirror/model"
	"github.com/mlund/listmirror/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
    path   TEXT PRIMARY KEY,
    parent TEXT NOT NULL,
    key    TEXT NOT NULL,
    value  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes (parent);
`

// Store is the SQLite-backed realtime store.
type Store struct {
	db  *sql.DB
	hub *store.Hub

	// mu serialises read-modify-write in Set and Remove so the emitted
	// event order matches the committed write order.
	mu sync.Mutex
}

// DefaultDBPath returns the default database location:
// ~/.local/share/listmirror/store.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "listmirror", "store.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, hub: store.NewHub()}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SubscribeAdded registers fn for child-added events under path. Existing
// children are replayed in key order before the subscription returns.
func (s *Store) SubscribeAdded(ctx context.Context, path string, fn store.AddedFunc) (store.Subscription, error) {
	sub := s.hub.OnAdded(path, fn)

	const q = `SELECT key, value FROM nodes WHERE parent = ? ORDER BY key`
	rows, err := s.db.QueryContext(ctx, q, path)
	if err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("listing children of %q: %w", path, err)
	}
	defer func() { _ = rows.Close() }()

	type child struct {
		key   string
		value any
	}
	var existing []child
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			sub.Cancel()
			return nil, fmt.Errorf("scanning child of %q: %w", path, err)
		}
		existing = append(existing, child{key, decodeValue(raw)})
	}
	if err := rows.Err(); err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("listing children of %q: %w", path, err)
	}

	for _, c := range existing {
		fn(c.key, c.value)
	}
	return sub, nil
}

// SubscribeRemoved registers fn for child-removed events under path.
func (s *Store) SubscribeRemoved(_ context.Context, path string, fn store.RemovedFunc) (store.Subscription, error) {
	return s.hub.OnRemoved(path, fn), nil
}

// SubscribeChanged registers fn for field-level changes on the record node
// at path.
func (s *Store) SubscribeChanged(_ context.Context, path string, fn store.ChangedFunc) (store.Subscription, error) {
	return s.hub.OnChanged(path, fn), nil
}

// Get returns the record body at path.
func (s *Store) Get(ctx context.Context, path string) (model.Fields, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = ?`, path).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get %q: %w", path, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", path, err)
	}
	fields, ok := store.AsFields(decodeValue(raw))
	if !ok {
		return nil, fmt.Errorf("get %q: node is not a record body", path)
	}
	return fields, nil
}

// Set writes value at path. A new node emits child-added to the parent's
// subscribers; overwriting a record body emits one child-changed per
// differing field.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	parent, key := store.Split(path)
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", path, err)
	}

	s.mu.Lock()
	var oldRaw string
	scanErr := s.db.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = ?`, path).Scan(&oldRaw)
	existed := scanErr == nil
	if scanErr != nil && scanErr != sql.ErrNoRows {
		s.mu.Unlock()
		return fmt.Errorf("set %q: %w", path, scanErr)
	}

	const q = `
		INSERT INTO nodes (path, parent, key, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, path, parent, key, raw); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set %q: %w", path, err)
	}
	s.mu.Unlock()

	if !existed {
		s.hub.EmitAdded(parent, key, decodeValue(raw))
		return nil
	}
	oldF, okOld := store.AsFields(decodeValue(oldRaw))
	newF, okNew := store.AsFields(decodeValue(raw))
	if okOld && okNew {
		for _, d := range store.DiffFields(oldF, newF) {
			s.hub.EmitChanged(path, d.Field, d.Value)
		}
	}
	return nil
}

// Remove deletes the node at path, emitting child-removed to the parent's
// subscribers. Removing a missing node is a no-op.
func (s *Store) Remove(ctx context.Context, path string) error {
	parent, key := store.Split(path)

	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE path = ?`, path)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("remove %q: %w", path, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.hub.EmitRemoved(parent, key)
	}
	return nil
}

// --- value encoding ----------------------------------------------------------

// encodeValue serialises a node value to its JSON column representation.
// Record bodies become objects, index markers plain scalars.
func encodeValue(v any) (string, error) {
	if f, ok := store.AsFields(v); ok {
		v = map[string]any(f)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding value: %w", err)
	}
	return string(b), nil
}

func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	if m, ok := v.(map[string]any); ok {
		return model.Fields(m)
	}
	return v
}
