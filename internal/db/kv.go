package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/phasekit/internal/memory"
)

// KVStore implements memory.Store on the memory table. Values are stored as
// JSON, so reads return the decoded generic form (maps, slices, float64).
type KVStore struct {
	db *sql.DB
}

var _ memory.Store = (*KVStore)(nil)

// NewKVStore returns a memory store backed by db.
func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

// Read implements memory.Store.
func (s *KVStore) Read(ctx context.Context, key string) (any, bool, error) {
	if prefix, ok := memory.IsWildcard(key); ok {
		return s.readPrefix(ctx, prefix)
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value_json FROM memory WHERE key=?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read memory %s: %w", key, err)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("decode memory %s: %w", key, err)
	}
	return v, true, nil
}

func (s *KVStore) readPrefix(ctx context.Context, prefix string) (any, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value_json FROM memory WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, false, fmt.Errorf("read memory %s*: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, false, fmt.Errorf("scan memory: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, false, fmt.Errorf("decode memory %s: %w", key, err)
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate memory: %w", err)
	}
	return out, true, nil
}

// Write implements memory.Store.
func (s *KVStore) Write(ctx context.Context, key string, value any) error {
	if _, wildcard := memory.IsWildcard(key); wildcard {
		return fmt.Errorf("write memory %s: wildcard keys are read-only", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode memory %s: %w", key, err)
	}
	updatedAt := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO memory(key, value_json, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		key, string(raw), updatedAt); err != nil {
		return fmt.Errorf("write memory %s: %w", key, err)
	}
	return nil
}

// Clear removes every entry under namespace.
func (s *KVStore) Clear(ctx context.Context, namespace string) (int64, error) {
	prefix, _ := memory.IsWildcard(memory.Wildcard(namespace))
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("clear memory %s: %w", namespace, err)
	}
	return res.RowsAffected()
}
