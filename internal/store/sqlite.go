package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the durable document-store backend. Documents live in a
// single path-keyed table; subscriptions are in-process (exactly one
// writer per deployment, so cross-process change feeds are not needed).
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		subs:   make(map[int]*subscription),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite document store initialized")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.logger.Debug().Msg("Document store schema migrated")
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Read loads the value at path into dest.
func (s *SQLiteStore) Read(ctx context.Context, path string, dest any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM documents WHERE path = ?", path).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, fmt.Errorf("failed to decode value at %s: %w", path, err)
	}
	return true, nil
}

// Write replaces the value at path and notifies listeners.
func (s *SQLiteStore) Write(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", path, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, path, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.notify(path, raw)
	return nil
}

// Update merges fields into the object at path.
func (s *SQLiteStore) Update(ctx context.Context, path string, fields map[string]any) error {
	merged := make(map[string]any)
	if _, err := s.Read(ctx, path, &merged); err != nil {
		// Non-object existing values are replaced wholesale.
		merged = make(map[string]any)
	}
	for k, v := range fields {
		merged[k] = v
	}
	return s.Write(ctx, path, merged)
}

// Delete removes path and every descendant.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path FROM documents WHERE path = ? OR path LIKE ? || '/%'", path, path)
	if err != nil {
		return fmt.Errorf("failed to list %s for delete: %w", path, err)
	}
	var removed []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan path: %w", err)
		}
		removed = append(removed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating paths: %w", err)
	}

	if len(removed) == 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE path = ? OR path LIKE ? || '/%'", path, path)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	sort.Strings(removed)
	for _, p := range removed {
		s.notify(p, nil)
	}
	return nil
}

// Subscribe attaches fn to path. The initial callback fires before
// Subscribe returns.
func (s *SQLiteStore) Subscribe(path string, fn SubscribeFunc) (Unsubscribe, error) {
	var raw json.RawMessage
	var value string
	err := s.db.QueryRow("SELECT value FROM documents WHERE path = ?", path).Scan(&value)
	if err == nil {
		raw = json.RawMessage(value)
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read %s for subscribe: %w", path, err)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = &subscription{path: path, fn: fn}
	s.mu.Unlock()

	fn(path, raw)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

// RangeQuery returns direct children of collection keyed within
// [startKey, endKey], endKey prefix-inclusive.
func (s *SQLiteStore) RangeQuery(ctx context.Context, collection, startKey, endKey string) (map[string]json.RawMessage, error) {
	prefix := collection + "/"

	rows, err := s.db.QueryContext(ctx,
		"SELECT path, value FROM documents WHERE path LIKE ? || '%'", prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to range query %s: %w", collection, err)
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var p, value string
		if err := rows.Scan(&p, &value); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		key := strings.TrimPrefix(p, prefix)
		if strings.Contains(key, "/") {
			continue // grandchildren are not part of the collection
		}
		if keyInRange(key, startKey, endKey) {
			result[key] = json.RawMessage(value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return result, nil
}

// notify fans a change out to listeners at path or any ancestor.
func (s *SQLiteStore) notify(path string, raw json.RawMessage) {
	s.mu.Lock()
	var fns []SubscribeFunc
	for _, sub := range s.subs {
		if sub.path == path || strings.HasPrefix(path, sub.path+"/") {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(path, raw)
	}
}
